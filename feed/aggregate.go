package feed

import (
	"time"

	"github.com/rustyeddy/afts/market"
)

// Tick is one top-of-book quote.
type Tick struct {
	Time   time.Time
	Bid    float64
	Ask    float64
	BidVol float64
	AskVol float64
}

func (t Tick) Mid() float64 {
	return (t.Bid + t.Ask) / 2
}

// Aggregator folds mid-price ticks into bars of a fixed timeframe. Bars are
// stamped with the start of their bucket.
type Aggregator struct {
	symbol string
	tf     time.Duration
	cur    market.Bar
	open   bool
}

func NewAggregator(symbol string, tf time.Duration) *Aggregator {
	if tf <= 0 {
		tf = time.Minute
	}
	return &Aggregator{symbol: symbol, tf: tf}
}

// Add consumes t and returns the previous bar once t starts a new bucket.
func (a *Aggregator) Add(t Tick) (market.Bar, bool) {
	bucket := t.Time.UTC().Truncate(a.tf)
	px := t.Mid()
	vol := t.BidVol + t.AskVol

	if a.open && bucket.Equal(a.cur.Time) {
		a.cur.High = max(a.cur.High, px)
		a.cur.Low = min(a.cur.Low, px)
		a.cur.Close = px
		a.cur.Volume += vol
		return market.Bar{}, false
	}

	done, had := a.cur, a.open
	a.cur = market.Bar{Time: bucket, Symbol: a.symbol, Open: px, High: px, Low: px, Close: px, Volume: vol}
	a.open = true
	return done, had
}

// Flush returns the bar in progress, if any.
func (a *Aggregator) Flush() (market.Bar, bool) {
	if !a.open {
		return market.Bar{}, false
	}
	a.open = false
	return a.cur, true
}
