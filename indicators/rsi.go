package indicators

import (
	"fmt"

	"github.com/rustyeddy/afts/market"
)

// RSI uses Wilder smoothing (alpha = 1/n) seeded with the simple average of
// the first n gains and losses.
type RSI struct {
	period    int
	prevClose float64
	havePrev  bool
	count     int
	avgGain   float64
	avgLoss   float64
}

func NewRSI(period int) *RSI {
	if period < 1 {
		period = 1
	}
	return &RSI{period: period}
}

func (r *RSI) Name() string {
	return fmt.Sprintf("RSI(%d)", r.period)
}

func (r *RSI) Warmup() int {
	return r.period + 1
}

func (r *RSI) Reset() {
	*r = RSI{period: r.period}
}

func (r *RSI) Update(b market.Bar) {
	if !r.havePrev {
		r.prevClose = b.Close
		r.havePrev = true
		return
	}
	ch := b.Close - r.prevClose
	r.prevClose = b.Close

	var gain, loss float64
	if ch > 0 {
		gain = ch
	} else {
		loss = -ch
	}

	n := float64(r.period)
	r.count++
	if r.count <= r.period {
		r.avgGain += gain / n
		r.avgLoss += loss / n
		return
	}
	r.avgGain += (gain - r.avgGain) / n
	r.avgLoss += (loss - r.avgLoss) / n
}

func (r *RSI) Ready() bool {
	return r.count >= r.period
}

func (r *RSI) Value() float64 {
	if !r.Ready() {
		return 0
	}
	if r.avgLoss == 0 {
		if r.avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := r.avgGain / r.avgLoss
	return 100 - 100/(1+rs)
}
