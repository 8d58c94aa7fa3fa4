package sim

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/afts/broker"
	"github.com/rustyeddy/afts/internal/logger"
	"github.com/rustyeddy/afts/market"
)

// ErrRejectedFill marks a fill the position manager refused: an opposing
// fill larger than the open position (no atomic flips) or a reduce-only
// order with nothing to reduce.
var ErrRejectedFill = errors.New("rejected fill")

type RejectedFillError struct {
	Symbol string
	Reason string
}

func (e *RejectedFillError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrRejectedFill, e.Symbol, e.Reason)
}

func (e *RejectedFillError) Unwrap() error {
	return ErrRejectedFill
}

// Manager applies fills to an account and keeps the position invariants:
// a position exists only while Qty > 0, sides never flip atomically and
// realised PnL moves only on reducing fills.
type Manager struct {
	acct   *broker.Account
	assets market.Assets
	log    logrus.FieldLogger
}

func NewManager(acct *broker.Account, assets market.Assets, log logrus.FieldLogger) *Manager {
	return &Manager{
		acct:   acct,
		assets: assets,
		log:    logger.OrDiscard(log).WithField("component", "positions"),
	}
}

func (m *Manager) Account() *broker.Account {
	return m.acct
}

// Apply books f. Entry-side fees reduce the balance; fees of reducing fills
// are netted into the realised PnL. Both accumulate into FeesTotal.
func (m *Manager) Apply(f broker.Fill) (broker.PositionEvent, error) {
	if f.Qty <= 0 {
		return broker.PositionEvent{}, &RejectedFillError{Symbol: f.Symbol, Reason: "non-positive quantity"}
	}
	mult := m.assets.Get(f.Symbol).Multiplier()
	ev := broker.PositionEvent{Symbol: f.Symbol, Price: f.Price, Time: f.Time, OrderID: f.OrderID}
	pos := m.acct.Positions[f.Symbol]

	switch {
	case pos == nil:
		if f.ReduceOnly {
			return ev, &RejectedFillError{Symbol: f.Symbol, Reason: "reduce-only fill without a position"}
		}
		pos = &broker.Position{
			Symbol:       f.Symbol,
			Side:         broker.SideFor(f.Side),
			Qty:          f.Qty,
			EntryPrice:   f.Price,
			AvgEntryFees: f.Fee / f.Qty,
			OpenedAt:     f.Time,
		}
		m.acct.Positions[f.Symbol] = pos
		m.acct.Balance -= f.Fee
		ev.Type = broker.Opened

	case broker.SideFor(f.Side) == pos.Side:
		if f.ReduceOnly {
			return ev, &RejectedFillError{Symbol: f.Symbol, Reason: "reduce-only fill on the position side"}
		}
		newQty := pos.Qty + f.Qty
		pos.EntryPrice = (pos.EntryPrice*pos.Qty + f.Price*f.Qty) / newQty
		pos.AvgEntryFees = (pos.AvgEntryFees*pos.Qty + f.Fee) / newQty
		pos.Qty = newQty
		m.acct.Balance -= f.Fee
		ev.Type = broker.Increased

	default:
		if f.Qty > pos.Qty+market.Epsilon {
			m.log.WithFields(logrus.Fields{
				"symbol":   f.Symbol,
				"fill_qty": f.Qty,
				"pos_qty":  pos.Qty,
			}).Warn("rejected fill: would flip position")
			return ev, &RejectedFillError{
				Symbol: f.Symbol,
				Reason: fmt.Sprintf("opposing fill qty %.6f exceeds position qty %.6f", f.Qty, pos.Qty),
			}
		}
		realized := pos.Side.Sign()*(f.Price-pos.EntryPrice)*f.Qty*mult - f.Fee
		pos.RealizedPnL += realized
		m.acct.RealizedPnL += realized
		pos.Qty -= f.Qty
		ev.RealizedDelta = realized
		if pos.Qty <= market.Epsilon {
			ev.Type = broker.Closed
			ev.Qty = 0
			ev.EntryPrice = pos.EntryPrice
			ev.Side = pos.Side
			delete(m.acct.Positions, f.Symbol)
		} else {
			ev.Type = broker.Reduced
		}
	}

	m.acct.FeesTotal += f.Fee
	if ev.Type != broker.Closed {
		ev.Qty = pos.Qty
		ev.EntryPrice = pos.EntryPrice
		ev.Side = pos.Side
	}
	m.MarkToMarket(f.Symbol, f.Price)
	return ev, nil
}

// MarkToMarket revalues the position on symbol at mark and recomputes equity.
func (m *Manager) MarkToMarket(symbol string, mark float64) {
	if pos := m.acct.Positions[symbol]; pos != nil {
		pos.UnrealizedPnL = pos.Mark(mark, m.assets.Get(symbol).Multiplier())
	}
	m.acct.Recompute()
}

// MarkAll revalues every open position at the given marks.
func (m *Manager) MarkAll(marks map[string]float64) {
	for sym, pos := range m.acct.Positions {
		if px, ok := marks[sym]; ok {
			pos.UnrealizedPnL = pos.Mark(px, m.assets.Get(sym).Multiplier())
		}
	}
	m.acct.Recompute()
}

// CloseAt realises the whole position on symbol at price without going
// through the fill simulator, used for end-of-data settlement.
func (m *Manager) CloseAt(symbol string, price float64, ts time.Time, reason string) (broker.Fill, broker.PositionEvent, bool) {
	pos := m.acct.Positions[symbol]
	if pos == nil {
		return broker.Fill{}, broker.PositionEvent{}, false
	}
	f := broker.Fill{
		OrderID:    reason,
		Symbol:     symbol,
		Side:       pos.Side.ClosingSide(),
		Qty:        pos.Qty,
		Price:      price,
		Time:       ts,
		OrderType:  broker.Market,
		ReduceOnly: true,
		Reason:     reason,
	}
	ev, err := m.Apply(f)
	if err != nil {
		return f, ev, false
	}
	return f, ev, true
}

// CheckInvariants verifies the equity identity and the position/qty
// relationship. It is cheap enough to run after every bar.
func (m *Manager) CheckInvariants() error {
	a := m.acct
	if d := math.Abs(a.Equity - (a.Balance + a.RealizedPnL + a.UnrealizedPnL)); d > 1e-6 {
		return fmt.Errorf("equity identity off by %.9f", d)
	}
	for sym, p := range a.Positions {
		if p.Qty <= market.Epsilon {
			return fmt.Errorf("position %s present with qty %.9f", sym, p.Qty)
		}
	}
	return nil
}
