// Package orders turns strategy decisions into broker orders, quantised to
// each symbol's lot and tick size.
package orders

import (
	"maps"
	"slices"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/afts/broker"
	"github.com/rustyeddy/afts/internal/id"
	"github.com/rustyeddy/afts/internal/logger"
	"github.com/rustyeddy/afts/market"
	"github.com/rustyeddy/afts/strategy"
)

// Order reasons.
const (
	ReasonEntry        = "Entry"
	ReasonStopLoss     = "StopLoss"
	ReasonTakeProfit   = "TakeProfit"
	ReasonPartialClose = "PartialClose"
	ReasonExit         = "Exit"
	ReasonFlatten      = "ForceFlatten"
)

// TrailToBreakEven is the Update.TrailSLTo value that moves the stop to
// the entry price.
const TrailToBreakEven = "BE"

type Builder struct {
	assets market.Assets
	ids    *id.Generator
	log    logrus.FieldLogger
}

func NewBuilder(assets market.Assets, ids *id.Generator, log logrus.FieldLogger) *Builder {
	if ids == nil {
		ids = id.NewGenerator(1)
	}
	return &Builder{
		assets: assets,
		ids:    ids,
		log:    logger.OrDiscard(log).WithField("component", "orders"),
	}
}

// Build emits the orders for d on bar. Sizes are taken against the
// account's current position on the bar's symbol.
func (b *Builder) Build(d strategy.Decision, bar market.Bar, acct *broker.Account) []*broker.Order {
	pos := acct.Position(bar.Symbol)
	switch d.Action {
	case strategy.ActionEntry:
		return b.entry(d, bar, pos)
	case strategy.ActionManage:
		return b.manage(d, bar, pos)
	case strategy.ActionExit:
		return b.exit(d, bar, pos)
	}
	return nil
}

func (b *Builder) entry(d strategy.Decision, bar market.Bar, pos *broker.Position) []*broker.Order {
	side := d.Side.OrderSide()
	if d.Side == strategy.NoSide {
		b.log.WithField("symbol", bar.Symbol).Warn("entry without side ignored")
		return nil
	}
	if pos != nil && pos.Side.ClosingSide() == side {
		b.log.WithFields(logrus.Fields{"symbol": bar.Symbol, "position": pos.Side}).Info("entry against open position skipped")
		return nil
	}

	spec := b.assets.Get(bar.Symbol)
	qty := spec.DefaultQty
	if d.Update.PositionSize != nil {
		qty = *d.Update.PositionSize
	}
	qty = RoundQty(qty, spec.MinQty)
	if qty <= 0 {
		b.log.WithField("symbol", bar.Symbol).Debug("entry size rounds to zero")
		return nil
	}

	entry := b.order(bar, side, broker.Market, qty, ReasonEntry)
	entry.Price = bar.Close
	out := []*broker.Order{entry}
	if d.Update.SLPrice != nil {
		out = append(out, b.stop(bar, side.Opposite(), *d.Update.SLPrice))
	}
	if d.Update.TPPrice != nil {
		out = append(out, b.target(bar, side.Opposite(), *d.Update.TPPrice))
	}
	return out
}

func (b *Builder) manage(d strategy.Decision, bar market.Bar, pos *broker.Position) []*broker.Order {
	if pos == nil {
		return nil
	}
	closing := pos.Side.ClosingSide()
	var out []*broker.Order

	if sl, ok := stopFor(d.Update, pos); ok {
		out = append(out, b.stop(bar, closing, sl))
	}
	if d.Update.TPPrice != nil {
		out = append(out, b.target(bar, closing, *d.Update.TPPrice))
	}

	if d.FullClose {
		return append(out, b.closeOrder(bar, pos, 1, ReasonExit))
	}
	frac := d.Update.ClosePct
	if frac == nil {
		frac = d.PartialCloseFraction
	}
	if frac != nil {
		if o := b.closeOrder(bar, pos, *frac, ReasonPartialClose); o != nil {
			out = append(out, o)
		}
	}
	return out
}

func (b *Builder) exit(d strategy.Decision, bar market.Bar, pos *broker.Position) []*broker.Order {
	if pos == nil {
		return nil
	}
	frac := 1.0
	if !d.FullClose && d.PartialCloseFraction != nil {
		frac = *d.PartialCloseFraction
	}
	if o := b.closeOrder(bar, pos, frac, ReasonExit); o != nil {
		return []*broker.Order{o}
	}
	return nil
}

// Flatten returns one market reduce-only order per open position.
func (b *Builder) Flatten(bar market.Bar, acct *broker.Account) []*broker.Order {
	var out []*broker.Order
	for _, sym := range slices.Sorted(maps.Keys(acct.Positions)) {
		pos := acct.Positions[sym]
		o := b.order(market.Bar{Symbol: sym, Time: bar.Time, Close: bar.Close}, pos.Side.ClosingSide(), broker.Market, 0, ReasonFlatten)
		o.ReduceOnly = true
		out = append(out, o)
	}
	return out
}

// stopFor picks the stop price by precedence: an explicit price, then a
// move to break-even, then a percentage off the entry.
func stopFor(u strategy.Update, pos *broker.Position) (float64, bool) {
	switch {
	case u.SLPrice != nil:
		return *u.SLPrice, true
	case u.TrailSLTo == TrailToBreakEven:
		return pos.EntryPrice, true
	case u.TrailSLPct != nil:
		if pos.Side == broker.Short {
			return pos.EntryPrice * (1 + *u.TrailSLPct), true
		}
		return pos.EntryPrice * (1 - *u.TrailSLPct), true
	}
	return 0, false
}

// closeOrder closes frac of the position. A whole close uses the qty=0
// full-position sentinel so it tracks fills that land first.
func (b *Builder) closeOrder(bar market.Bar, pos *broker.Position, frac float64, reason string) *broker.Order {
	if frac <= 0 {
		return nil
	}
	qty := 0.0
	if frac < 1 {
		qty = RoundQty(pos.Qty*frac, b.assets.Get(bar.Symbol).MinQty)
		if qty <= 0 {
			b.log.WithFields(logrus.Fields{"symbol": bar.Symbol, "fraction": frac}).Debug("partial close rounds to zero")
			return nil
		}
	}
	o := b.order(bar, pos.Side.ClosingSide(), broker.Market, qty, reason)
	o.ReduceOnly = true
	return o
}

func (b *Builder) stop(bar market.Bar, side broker.Side, price float64) *broker.Order {
	o := b.order(bar, side, broker.StopMarket, 0, ReasonStopLoss)
	o.StopPrice = RoundPrice(price, b.assets.Get(bar.Symbol).TickSize)
	o.ReduceOnly, o.IsSL = true, true
	return o
}

func (b *Builder) target(bar market.Bar, side broker.Side, price float64) *broker.Order {
	o := b.order(bar, side, broker.Limit, 0, ReasonTakeProfit)
	o.Price = RoundPrice(price, b.assets.Get(bar.Symbol).TickSize)
	o.ReduceOnly, o.IsTP = true, true
	return o
}

func (b *Builder) order(bar market.Bar, side broker.Side, typ broker.OrderType, qty float64, reason string) *broker.Order {
	return &broker.Order{
		ID:          b.ids.At(bar.Time),
		Symbol:      bar.Symbol,
		Side:        side,
		Type:        typ,
		Qty:         qty,
		TimeInForce: broker.GTC,
		Status:      broker.StatusNew,
		CreatedAt:   bar.Time,
		UpdatedAt:   bar.Time,
		Reason:      reason,
	}
}

// RoundQty floors qty to a whole number of step lots.
func RoundQty(qty, step float64) float64 {
	if qty <= 0 {
		return 0
	}
	if step <= 0 {
		return qty
	}
	s := decimal.NewFromFloat(step)
	v, _ := decimal.NewFromFloat(qty).Div(s).Floor().Mul(s).Float64()
	return v
}

// RoundPrice rounds price to the nearest tick.
func RoundPrice(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	t := decimal.NewFromFloat(tick)
	v, _ := decimal.NewFromFloat(price).Div(t).Round(0).Mul(t).Float64()
	return v
}
