package feed

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/afts/internal/logger"
	"github.com/rustyeddy/afts/market"
)

// TickStreamer pushes live quotes for a symbol to fn until ctx is done or
// fn returns an error.
type TickStreamer interface {
	StreamTicks(ctx context.Context, symbol string, fn func(Tick) error) error
}

// TickFeed aggregates a live tick stream into bars. A bar is delivered once
// the first tick of the next bucket arrives.
type TickFeed struct {
	ticks  chan Tick
	errs   chan error
	agg    *Aggregator
	cancel context.CancelFunc
	log    logrus.FieldLogger
}

// StartTicks starts streaming in the background.
func StartTicks(ctx context.Context, src TickStreamer, symbol string, tf time.Duration, log logrus.FieldLogger) *TickFeed {
	sctx, cancel := context.WithCancel(ctx)
	f := &TickFeed{
		ticks:  make(chan Tick, 1024),
		errs:   make(chan error, 1),
		agg:    NewAggregator(symbol, tf),
		cancel: cancel,
		log:    logger.OrDiscard(log).WithFields(logrus.Fields{"component": "tick_feed", "symbol": symbol}),
	}
	go func() {
		defer close(f.ticks)
		err := src.StreamTicks(sctx, symbol, func(t Tick) error {
			select {
			case f.ticks <- t:
				return nil
			case <-sctx.Done():
				return sctx.Err()
			}
		})
		if err != nil && sctx.Err() == nil {
			f.log.WithError(err).Warn("tick stream ended")
			f.errs <- err
		}
	}()
	return f
}

func (f *TickFeed) Next(ctx context.Context) (market.Bar, bool, error) {
	for {
		select {
		case <-ctx.Done():
			return market.Bar{}, false, ctx.Err()
		case t, ok := <-f.ticks:
			if !ok {
				select {
				case err := <-f.errs:
					return market.Bar{}, false, err
				default:
				}
				b, ok := f.agg.Flush()
				return b, ok, nil
			}
			if b, done := f.agg.Add(t); done {
				return b, true, nil
			}
		}
	}
}

func (f *TickFeed) Close() error {
	f.cancel()
	return nil
}
