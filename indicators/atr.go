package indicators

import (
	"fmt"

	"github.com/rustyeddy/afts/market"
)

// ATR is the rolling mean of the true range over period bars. The first bar
// has no previous close, so its TR is High-Low.
type ATR struct {
	period int
	trs    []float64
	sum    float64
	prev   market.Bar
	has    bool
}

func NewATR(period int) *ATR {
	if period < 1 {
		period = 1
	}
	return &ATR{period: period, trs: make([]float64, 0, period)}
}

func (a *ATR) Name() string {
	return fmt.Sprintf("ATR(%d)", a.period)
}

func (a *ATR) Warmup() int {
	return a.period
}

func (a *ATR) Reset() {
	a.trs = a.trs[:0]
	a.sum = 0
	a.has = false
}

func (a *ATR) Update(b market.Bar) {
	var prev *market.Bar
	if a.has {
		prev = &a.prev
	}
	tr := trueRange(b, prev)
	a.prev = b
	a.has = true

	a.trs = append(a.trs, tr)
	a.sum += tr
	if len(a.trs) > a.period {
		a.sum -= a.trs[0]
		a.trs = a.trs[1:]
	}
}

func (a *ATR) Ready() bool {
	return len(a.trs) >= a.period
}

func (a *ATR) Value() float64 {
	if !a.Ready() {
		return 0
	}
	return a.sum / float64(len(a.trs))
}
