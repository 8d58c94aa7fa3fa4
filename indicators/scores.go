package indicators

import (
	"fmt"

	"github.com/rustyeddy/afts/market"
)

// VolatilityScore is ATR / last close.
type VolatilityScore struct {
	atr       *ATR
	lastClose float64
}

func NewVolatilityScore(period int) *VolatilityScore {
	return &VolatilityScore{atr: NewATR(period)}
}

func (v *VolatilityScore) Name() string {
	return fmt.Sprintf("VOLSCORE(%d)", v.atr.period)
}

func (v *VolatilityScore) Warmup() int {
	return v.atr.Warmup()
}

func (v *VolatilityScore) Reset() {
	v.atr.Reset()
	v.lastClose = 0
}

func (v *VolatilityScore) Update(b market.Bar) {
	v.atr.Update(b)
	v.lastClose = b.Close
}

func (v *VolatilityScore) Ready() bool {
	return v.atr.Ready() && v.lastClose != 0
}

func (v *VolatilityScore) Value() float64 {
	if !v.Ready() {
		return 0
	}
	return v.atr.Value() / v.lastClose
}

// TrendScore measures the fast/slow EMA spread in ATR units, clamped to
// [-1, 1]. Scale is the number of ATRs that maps to a full score.
type TrendScore struct {
	fast  *ExponentialMA
	slow  *ExponentialMA
	atr   *ATR
	scale float64
}

func NewTrendScore(fast, slow, atrPeriod int, scale float64) *TrendScore {
	if scale <= 0 {
		scale = 1
	}
	return &TrendScore{
		fast:  NewEMA(fast),
		slow:  NewEMA(slow),
		atr:   NewATR(atrPeriod),
		scale: scale,
	}
}

func (t *TrendScore) Name() string {
	return fmt.Sprintf("TREND(%d,%d)", t.fast.period, t.slow.period)
}

func (t *TrendScore) Warmup() int {
	w := t.slow.Warmup()
	if t.fast.Warmup() > w {
		w = t.fast.Warmup()
	}
	if t.atr.Warmup() > w {
		w = t.atr.Warmup()
	}
	return w
}

func (t *TrendScore) Reset() {
	t.fast.Reset()
	t.slow.Reset()
	t.atr.Reset()
}

func (t *TrendScore) Update(b market.Bar) {
	t.fast.Update(b)
	t.slow.Update(b)
	t.atr.Update(b)
}

func (t *TrendScore) Ready() bool {
	return t.fast.Ready() && t.slow.Ready() && t.atr.Ready()
}

func (t *TrendScore) Value() float64 {
	if !t.Ready() {
		return 0
	}
	atr := t.atr.Value()
	if atr == 0 {
		return 0
	}
	return clamp((t.fast.Value()-t.slow.Value())/(atr*t.scale), -1, 1)
}

// RangePct is (High - Low) / Close of the latest bar.
type RangePct struct {
	last  market.Bar
	ready bool
}

func NewRangePct() *RangePct {
	return &RangePct{}
}

func (r *RangePct) Name() string { return "RANGE_PCT" }
func (r *RangePct) Warmup() int  { return 1 }
func (r *RangePct) Reset()       { r.ready = false }
func (r *RangePct) Ready() bool  { return r.ready && r.last.Close != 0 }
func (r *RangePct) Update(b market.Bar) {
	r.last = b
	r.ready = true
}

func (r *RangePct) Value() float64 {
	if !r.Ready() {
		return 0
	}
	return (r.last.High - r.last.Low) / r.last.Close
}
