// Package market holds the bar, instrument and timeframe primitives shared by
// every stage of the execution core.
package market

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Bar is a single OHLCV observation for one symbol. Bars are immutable once
// delivered by a feed.
type Bar struct {
	Time   time.Time
	Symbol string
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Range returns High - Low.
func (b Bar) Range() float64 {
	return b.High - b.Low
}

// Mid returns the midpoint of the bar's range.
func (b Bar) Mid() float64 {
	return (b.High + b.Low) / 2
}

// Contains reports whether price lies inside [Low, High].
func (b Bar) Contains(price float64) bool {
	return b.Low <= price+Epsilon && price <= b.High+Epsilon
}

// Valid reports whether the OHLC values are finite and consistent.
func (b Bar) Valid() error {
	for _, v := range []float64{b.Open, b.High, b.Low, b.Close} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("bar %s %s: non-finite price", b.Symbol, b.Time.Format(time.RFC3339))
		}
	}
	if b.High < b.Low {
		return fmt.Errorf("bar %s %s: high %.6f below low %.6f", b.Symbol, b.Time.Format(time.RFC3339), b.High, b.Low)
	}
	return nil
}

// Epsilon is the absolute tolerance used for price and quantity comparisons.
const Epsilon = 1e-9

var (
	ErrOutOfOrder         = errors.New("bar out of order")
	ErrDuplicateTimestamp = errors.New("duplicate bar timestamp")
	ErrSymbolMismatch     = errors.New("bar symbol mismatch")
)

// Validator rejects bars that regress or repeat in time. A zero Validator is
// ready to use.
type Validator struct {
	last   time.Time
	symbol string
	seen   bool
}

// Check validates b against the previously accepted bar and records it.
func (v *Validator) Check(b Bar) error {
	if err := b.Valid(); err != nil {
		return err
	}
	if !v.seen {
		v.last = b.Time
		v.symbol = b.Symbol
		v.seen = true
		return nil
	}
	if v.symbol != "" && b.Symbol != "" && b.Symbol != v.symbol {
		return fmt.Errorf("%w: got %s, feed is %s", ErrSymbolMismatch, b.Symbol, v.symbol)
	}
	switch {
	case b.Time.Equal(v.last):
		return fmt.Errorf("%w: %s", ErrDuplicateTimestamp, b.Time.Format(time.RFC3339))
	case b.Time.Before(v.last):
		return fmt.Errorf("%w: %s after %s", ErrOutOfOrder,
			b.Time.Format(time.RFC3339), v.last.Format(time.RFC3339))
	}
	v.last = b.Time
	return nil
}

// Last returns the timestamp of the last accepted bar.
func (v *Validator) Last() (time.Time, bool) {
	return v.last, v.seen
}
