// Package sim is the bar-driven fill simulator, the position manager and a
// simulated broker client built on both.
package sim

import (
	"errors"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/afts/broker"
	"github.com/rustyeddy/afts/internal/id"
	"github.com/rustyeddy/afts/internal/logger"
	"github.com/rustyeddy/afts/market"
)

// Config holds execution costs. Rates are fractions (0.0002 = 2 bps).
type Config struct {
	FeeRate       float64
	SlippagePct   float64
	SlippageTicks float64
	FeeAsset      string
}

// Outcome is one order's result on a bar: a fill with its position event,
// a rejection, or a cancellation (Fill.Qty == 0).
type Outcome struct {
	Order    *broker.Order
	Fill     broker.Fill
	Event    broker.PositionEvent
	Err      error
	Canceled bool
}

// Filled reports whether the outcome booked a fill.
func (o Outcome) Filled() bool {
	return o.Err == nil && !o.Canceled
}

// Simulator fills open orders against bars. When an SL and a TP on the same
// symbol would both trigger within one bar the SL wins and the TP is left
// resting, which is the pessimistic reading of an OHLC bar.
type Simulator struct {
	cfg    Config
	assets market.Assets
	ids    *id.Generator
	log    logrus.FieldLogger
}

func NewSimulator(cfg Config, assets market.Assets, ids *id.Generator, log logrus.FieldLogger) *Simulator {
	if ids == nil {
		ids = id.NewGenerator(1)
	}
	return &Simulator{
		cfg:    cfg,
		assets: assets,
		ids:    ids,
		log:    logger.OrDiscard(log).WithField("component", "fills"),
	}
}

func (s *Simulator) slippage(symbol string, price float64) float64 {
	if s.cfg.SlippagePct > 0 {
		return s.cfg.SlippagePct * price
	}
	if s.cfg.SlippageTicks > 0 {
		return s.cfg.SlippageTicks * s.assets.Get(symbol).TickSize
	}
	return 0
}

// adverse moves px against the order side.
func (s *Simulator) adverse(o *broker.Order, px float64) (float64, float64) {
	slip := s.slippage(o.Symbol, px)
	if o.Side == broker.Buy {
		return px + slip, slip
	}
	return px - slip, slip
}

func stopTriggered(o *broker.Order, bar market.Bar) bool {
	if o.Side == broker.Buy {
		return bar.High >= o.StopPrice-market.Epsilon
	}
	return bar.Low <= o.StopPrice+market.Epsilon
}

// price returns the raw fill price of o on bar, or false if it does not
// transact. STOP_LIMIT orders that trigger are marked Triggered.
func (s *Simulator) price(o *broker.Order, bar market.Bar) (float64, bool) {
	switch o.Type {
	case broker.Market:
		return bar.Open, true
	case broker.Limit:
		if bar.Contains(o.Price) {
			return o.Price, true
		}
	case broker.StopMarket:
		if stopTriggered(o, bar) {
			if o.Side == broker.Buy {
				return math.Max(o.StopPrice, bar.Open), true
			}
			return math.Min(o.StopPrice, bar.Open), true
		}
	case broker.StopLimit:
		if !o.Triggered && stopTriggered(o, bar) {
			o.Triggered = true
		}
		if o.Triggered && bar.Contains(o.Price) {
			return o.Price, true
		}
	}
	return 0, false
}

// slSuppressesTP finds TP orders that must not fill this bar because an SL
// on the same symbol triggers too.
func (s *Simulator) slSuppressesTP(orders []*broker.Order, bar market.Bar) map[string]bool {
	slHit := map[string]bool{}
	for _, o := range orders {
		if o.IsSL && o.Symbol == bar.Symbol {
			if _, ok := s.price(copyOrder(o), bar); ok {
				slHit[o.Symbol] = true
			}
		}
	}
	out := map[string]bool{}
	for _, o := range orders {
		if o.IsTP && slHit[o.Symbol] {
			out[o.ID] = true
		}
	}
	return out
}

func copyOrder(o *broker.Order) *broker.Order {
	cp := *o
	return &cp
}

// Step processes bar against the account's open orders in book order. prev
// is the bar the orders were activated on. Each fill is applied through pm
// immediately, so reduce-only orders later in the book see the live
// position.
func (s *Simulator) Step(prev *market.Bar, bar market.Bar, pm *Manager) []Outcome {
	acct := pm.Account()
	book := acct.OpenOrders
	orders := book.ForSymbol(bar.Symbol)
	suppressed := s.slSuppressesTP(orders, bar)

	var out []Outcome
	for _, o := range orders {
		if !o.CreatedAt.IsZero() && !bar.Time.After(o.CreatedAt) {
			continue
		}
		if prev != nil && o.CreatedAt.After(prev.Time) {
			continue
		}
		if suppressed[o.ID] {
			s.log.WithFields(logrus.Fields{"order_id": o.ID, "symbol": o.Symbol}).Debug("tp suppressed: sl wins")
			continue
		}

		raw, ok := s.price(o, bar)
		if !ok {
			if o.TimeInForce == broker.IOC || o.TimeInForce == broker.FOK {
				out = append(out, s.cancel(book, o, bar.Time, "unfilled "+string(o.TimeInForce)))
			}
			continue
		}

		qty := o.Qty
		if o.ReduceOnly {
			pos := acct.Positions[o.Symbol]
			if pos == nil || pos.Side.ClosingSide() != o.Side {
				out = append(out, s.cancel(book, o, bar.Time, "reduce-only without exposure"))
				continue
			}
			if qty <= 0 || qty > pos.Qty {
				if qty > pos.Qty && o.TimeInForce == broker.FOK {
					out = append(out, s.cancel(book, o, bar.Time, "fok qty exceeds exposure"))
					continue
				}
				qty = pos.Qty
			}
		}
		if qty <= 0 {
			out = append(out, s.cancel(book, o, bar.Time, "zero quantity"))
			continue
		}

		px, slip := s.adverse(o, raw)
		f := broker.Fill{
			OrderID:    o.ID,
			TradeID:    s.ids.At(bar.Time),
			Symbol:     o.Symbol,
			Side:       o.Side,
			Qty:        qty,
			Price:      px,
			Fee:        math.Abs(qty*px) * s.cfg.FeeRate,
			FeeAsset:   s.cfg.FeeAsset,
			Time:       bar.Time,
			OrderType:  o.Type,
			ReduceOnly: o.ReduceOnly,
			IsSL:       o.IsSL,
			IsTP:       o.IsTP,
			Slippage:   slip,
			Reason:     o.Reason,
		}

		ev, err := pm.Apply(f)
		book.Remove(o.ID)
		o.UpdatedAt = bar.Time
		if err != nil {
			o.Status = broker.StatusCanceled
			var rej *RejectedFillError
			if errors.As(err, &rej) {
				s.log.WithError(err).WithField("order_id", o.ID).Warn("fill rejected")
			}
			out = append(out, Outcome{Order: o, Fill: f, Err: err})
			continue
		}
		o.Status = broker.StatusFilled
		out = append(out, Outcome{Order: o, Fill: f, Event: ev})
	}
	return out
}

func (s *Simulator) cancel(book *broker.OrderBook, o *broker.Order, ts time.Time, reason string) Outcome {
	book.Remove(o.ID)
	o.Status = broker.StatusCanceled
	o.UpdatedAt = ts
	s.log.WithFields(logrus.Fields{"order_id": o.ID, "symbol": o.Symbol, "reason": reason}).Debug("order canceled")
	return Outcome{Order: o, Canceled: true, Fill: broker.Fill{OrderID: o.ID, Symbol: o.Symbol, Reason: reason}}
}
