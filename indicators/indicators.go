// Package indicators provides streaming technical indicators over bars.
package indicators

import (
	"math"

	"github.com/rustyeddy/afts/market"
)

// Indicator computes a single streaming value from bars.
// It is deterministic and safe to use in live, replay, and backtests.
type Indicator interface {
	// Name returns a stable identifier like "EMA(20)" or "RSI(14)".
	Name() string

	// Warmup returns how many updates are needed before Ready() can be true.
	Warmup() int

	// Reset clears all internal state.
	Reset()

	// Update consumes the next *closed* bar and updates internal state.
	Update(b market.Bar)

	// Ready reports whether Value() is meaningful (warmup completed).
	Ready() bool

	// Value returns the current value, or 0 while !Ready().
	Value() float64
}

// Current returns the indicator value, or nil during warm-up.
func Current(ind Indicator) *float64 {
	if !ind.Ready() {
		return nil
	}
	v := ind.Value()
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func trueRange(c market.Bar, prev *market.Bar) float64 {
	hl := c.High - c.Low
	if prev == nil {
		return hl
	}
	return math.Max(hl, math.Max(math.Abs(c.High-prev.Close), math.Abs(c.Low-prev.Close)))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
