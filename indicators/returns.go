package indicators

import (
	"fmt"
	"math"

	"github.com/rustyeddy/afts/market"
)

// CloseReturn is close_t / close_{t-k} - 1.
type CloseReturn struct {
	lookback int
	closes   []float64
}

func NewCloseReturn(lookback int) *CloseReturn {
	if lookback < 1 {
		lookback = 1
	}
	return &CloseReturn{lookback: lookback}
}

func (r *CloseReturn) Name() string {
	return fmt.Sprintf("RET(%d)", r.lookback)
}

func (r *CloseReturn) Warmup() int {
	return r.lookback + 1
}

func (r *CloseReturn) Reset() {
	r.closes = r.closes[:0]
}

func (r *CloseReturn) Update(b market.Bar) {
	r.closes = append(r.closes, b.Close)
	if len(r.closes) > r.lookback+1 {
		r.closes = r.closes[1:]
	}
}

func (r *CloseReturn) Ready() bool {
	return len(r.closes) > r.lookback && r.closes[0] != 0
}

func (r *CloseReturn) Value() float64 {
	if !r.Ready() {
		return 0
	}
	return r.closes[len(r.closes)-1]/r.closes[0] - 1
}

// Volatility is the sample standard deviation of the last n log returns.
type Volatility struct {
	window    int
	rets      []float64
	prevClose float64
	havePrev  bool
}

func NewVolatility(window int) *Volatility {
	if window < 2 {
		window = 2
	}
	return &Volatility{window: window}
}

func (v *Volatility) Name() string {
	return fmt.Sprintf("VOL(%d)", v.window)
}

func (v *Volatility) Warmup() int {
	return v.window + 1
}

func (v *Volatility) Reset() {
	v.rets = v.rets[:0]
	v.havePrev = false
}

func (v *Volatility) Update(b market.Bar) {
	if v.havePrev && v.prevClose > 0 && b.Close > 0 {
		v.rets = append(v.rets, math.Log(b.Close/v.prevClose))
		if len(v.rets) > v.window {
			v.rets = v.rets[1:]
		}
	}
	v.prevClose = b.Close
	v.havePrev = true
}

func (v *Volatility) Ready() bool {
	return len(v.rets) >= v.window
}

func (v *Volatility) Value() float64 {
	if !v.Ready() {
		return 0
	}
	return stdev(v.rets)
}

func stdev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var ss float64
	for _, x := range xs {
		ss += (x - mean) * (x - mean)
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}
