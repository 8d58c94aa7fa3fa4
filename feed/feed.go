// Package feed produces ordered bars for one symbol from files, REST polling
// or a websocket stream.
package feed

import (
	"context"
	"time"

	"github.com/rustyeddy/afts/market"
)

// Feed is a finite or live sequence of bars. Next returns ok=false once the
// feed is exhausted.
type Feed interface {
	Next(ctx context.Context) (market.Bar, bool, error)
	Close() error
}

// Slice replays bars held in memory.
type Slice struct {
	bars []market.Bar
	pos  int
}

func NewSlice(bars []market.Bar) *Slice {
	return &Slice{bars: bars}
}

func (s *Slice) Next(ctx context.Context) (market.Bar, bool, error) {
	if err := ctx.Err(); err != nil {
		return market.Bar{}, false, err
	}
	if s.pos >= len(s.bars) {
		return market.Bar{}, false, nil
	}
	b := s.bars[s.pos]
	s.pos++
	return b, true, nil
}

func (s *Slice) Close() error { return nil }

// Collect drains f into a slice.
func Collect(ctx context.Context, f Feed) ([]market.Bar, error) {
	var out []market.Bar
	for {
		b, ok, err := f.Next(ctx)
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, b)
	}
}

func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && !t.Before(to) {
		return false
	}
	return true
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err == nil {
		return t, nil
	}
	if t2, err2 := time.Parse(time.RFC3339Nano, s); err2 == nil {
		return t2, nil
	}
	return time.Time{}, err
}
