package feed

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/rustyeddy/afts/internal/logger"
	"github.com/rustyeddy/afts/market"
)

// Candle is a venue bar with its completion flag.
type Candle struct {
	market.Bar
	Complete bool
}

// CandleSource returns the most recent count candles for a symbol.
type CandleSource interface {
	RecentCandles(ctx context.Context, symbol, granularity string, count int) ([]Candle, error)
}

// PollerConfig tunes a Poller.
type PollerConfig struct {
	Symbol      string
	Granularity string
	Interval    time.Duration
	Count       int
	RatePerSec  float64
}

// Poller turns a REST candle endpoint into a live bar feed. Only complete
// candles newer than the last delivered one are emitted, so re-polling the
// same window never repeats a bar.
type Poller struct {
	src     CandleSource
	cfg     PollerConfig
	limiter *rate.Limiter
	log     logrus.FieldLogger

	last   time.Time
	queue  []market.Bar
	polled bool
	after  func(d time.Duration) <-chan time.Time
}

func NewPoller(src CandleSource, cfg PollerConfig, log logrus.FieldLogger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Count <= 0 {
		cfg.Count = 5
	}
	if cfg.Granularity == "" {
		cfg.Granularity = "M1"
	}
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	return &Poller{
		src:     src,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		log:     logger.OrDiscard(log).WithFields(logrus.Fields{"component": "poller", "symbol": cfg.Symbol}),
		after:   time.After,
	}
}

func (p *Poller) Close() error { return nil }

// Next blocks until a new complete candle arrives or ctx is done.
func (p *Poller) Next(ctx context.Context) (market.Bar, bool, error) {
	for len(p.queue) == 0 {
		if p.polled {
			select {
			case <-ctx.Done():
				return market.Bar{}, false, ctx.Err()
			case <-p.after(p.cfg.Interval):
			}
		}
		if err := p.poll(ctx); err != nil {
			return market.Bar{}, false, err
		}
	}
	b := p.queue[0]
	p.queue = p.queue[1:]
	return b, true, nil
}

func (p *Poller) poll(ctx context.Context) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	p.polled = true
	candles, err := p.src.RecentCandles(ctx, p.cfg.Symbol, p.cfg.Granularity, p.cfg.Count)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.log.WithError(err).Warn("candle poll failed")
		return nil
	}
	for _, c := range candles {
		if !c.Complete || !c.Time.After(p.last) {
			continue
		}
		b := c.Bar
		if b.Symbol == "" {
			b.Symbol = p.cfg.Symbol
		}
		p.queue = append(p.queue, b)
		p.last = b.Time
	}
	return nil
}
