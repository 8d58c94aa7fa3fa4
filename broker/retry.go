package broker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// RetryConfig holds configuration for retrying transient broker failures.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay" mapstructure:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay" mapstructure:"max_delay"`
	Multiplier  float64       `yaml:"multiplier" mapstructure:"multiplier"`
	JitterRange float64       `yaml:"jitter_range" mapstructure:"jitter_range"`
	RatePerSec  float64       `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst       int           `yaml:"burst" mapstructure:"burst"`
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 5,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Multiplier:  2.0,
		JitterRange: 0.1,
		RatePerSec:  2,
		Burst:       4,
	}
}

// RetryingClient wraps a Client, pacing calls with a token bucket and
// retrying only errors wrapping ErrTransient with exponential backoff.
type RetryingClient struct {
	next    Client
	cfg     RetryConfig
	limiter *rate.Limiter
	log     logrus.FieldLogger
	rng     *rand.Rand
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewRetryingClient(next Client, cfg RetryConfig, log logrus.FieldLogger) *RetryingClient {
	def := DefaultRetryConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.Multiplier <= 1.0 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.JitterRange < 0 || cfg.JitterRange > 1.0 {
		cfg.JitterRange = def.JitterRange
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		log = l
	}
	return &RetryingClient{
		next:    next,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		log:     log.WithField("component", "broker-retry"),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *RetryingClient) do(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			if attempt > 1 {
				c.log.WithFields(logrus.Fields{"op": op, "attempt": attempt}).Info("broker call recovered")
			}
			return nil
		}
		lastErr = err

		if !errors.Is(err, ErrTransient) {
			return err
		}
		if attempt == c.cfg.MaxAttempts {
			break
		}

		delay := c.delay(attempt)
		c.log.WithFields(logrus.Fields{"op": op, "attempt": attempt, "delay": delay}).
			WithError(err).Warn("transient broker failure, retrying")
		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return fmt.Errorf("%s: max retry attempts (%d) exceeded: %w", op, c.cfg.MaxAttempts, lastErr)
}

func (c *RetryingClient) delay(attempt int) time.Duration {
	d := float64(c.cfg.BaseDelay) * math.Pow(c.cfg.Multiplier, float64(attempt-1))
	if d > float64(c.cfg.MaxDelay) {
		d = float64(c.cfg.MaxDelay)
	}
	if c.cfg.JitterRange > 0 {
		jitter := d * c.cfg.JitterRange
		d += (c.rng.Float64()*2 - 1) * jitter
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

func (c *RetryingClient) GetPrice(ctx context.Context, symbol string) (q Quote, err error) {
	err = c.do(ctx, "get_price", func() error {
		q, err = c.next.GetPrice(ctx, symbol)
		return err
	})
	return q, err
}

func (c *RetryingClient) GetPosition(ctx context.Context, symbol string) (p *Position, err error) {
	err = c.do(ctx, "get_position", func() error {
		p, err = c.next.GetPosition(ctx, symbol)
		return err
	})
	return p, err
}

func (c *RetryingClient) SendEntryOrder(ctx context.Context, req EntryRequest) (ack OrderAck, err error) {
	err = c.do(ctx, "send_entry_order", func() error {
		ack, err = c.next.SendEntryOrder(ctx, req)
		return err
	})
	return ack, err
}

func (c *RetryingClient) SendExitOrder(ctx context.Context, symbol string, size float64) (ack OrderAck, err error) {
	err = c.do(ctx, "send_exit_order", func() error {
		ack, err = c.next.SendExitOrder(ctx, symbol, size)
		return err
	})
	return ack, err
}

func (c *RetryingClient) ModifySLTP(ctx context.Context, symbol string, sl, tp *float64) (ack OrderAck, err error) {
	err = c.do(ctx, "modify_sl_tp", func() error {
		ack, err = c.next.ModifySLTP(ctx, symbol, sl, tp)
		return err
	})
	return ack, err
}

// Reader returns an AccountReader retrying through c, or nil when the
// wrapped client cannot read the account.
func (c *RetryingClient) Reader() AccountReader {
	r, ok := c.next.(AccountReader)
	if !ok {
		return nil
	}
	return retryingReader{c: c, next: r}
}

type retryingReader struct {
	c    *RetryingClient
	next AccountReader
}

func (r retryingReader) ReadAccount(ctx context.Context) (a Account, err error) {
	err = r.c.do(ctx, "read_account", func() error {
		a, err = r.next.ReadAccount(ctx)
		return err
	})
	return a, err
}
