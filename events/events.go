// Package events carries the per-bar records of a run (decisions, orders,
// fills, position changes, blocks, equity) to one or more sinks.
package events

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/afts/broker"
	"github.com/rustyeddy/afts/internal/logger"
)

type Kind string

const (
	KindDecision Kind = "decision"
	KindOrder    Kind = "order"
	KindFill     Kind = "fill"
	KindRejected Kind = "rejected"
	KindCanceled Kind = "canceled"
	KindPosition Kind = "position"
	KindBlock    Kind = "block"
	KindFlatten  Kind = "force_flatten"
	KindHardStop Kind = "hard_stop"
	KindEquity   Kind = "equity"
)

// DecisionRecord is the loggable part of a strategy decision.
type DecisionRecord struct {
	Action     string   `json:"action"`
	Side       string   `json:"side,omitempty"`
	Confidence float64  `json:"confidence"`
	Size       *float64 `json:"size,omitempty"`
	SLPrice    *float64 `json:"sl_price,omitempty"`
	TPPrice    *float64 `json:"tp_price,omitempty"`
	RiskPct    *float64 `json:"risk_pct,omitempty"`
	ExitAction string   `json:"exit_action,omitempty"`
}

type EquityPoint struct {
	Balance       float64 `json:"balance"`
	Equity        float64 `json:"equity"`
	RealizedPnL   float64 `json:"realized_pnl"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	FeesTotal     float64 `json:"fees_total"`
	OpenPositions int     `json:"open_positions"`
}

// Event is one record. Exactly the field matching Kind is set.
type Event struct {
	Kind     Kind                  `json:"kind"`
	Time     time.Time             `json:"time"`
	Symbol   string                `json:"symbol,omitempty"`
	Reason   string                `json:"reason,omitempty"`
	Decision *DecisionRecord       `json:"decision,omitempty"`
	Order    *broker.Order         `json:"order,omitempty"`
	Fill     *broker.Fill          `json:"fill,omitempty"`
	Position *broker.PositionEvent `json:"position,omitempty"`
	Equity   *EquityPoint          `json:"equity,omitempty"`
	Meta     map[string]any        `json:"meta,omitempty"`
}

// Sink receives events. Emit never fails the run; sinks report their own
// delivery errors.
type Sink interface {
	Emit(e Event)
	Close() error
}

// Discard drops everything.
type Discard struct{}

func (Discard) Emit(Event)   {}
func (Discard) Close() error { return nil }

// Multi fans out to every sink in order.
type Multi []Sink

func (m Multi) Emit(e Event) {
	for _, s := range m {
		s.Emit(e)
	}
}

// Close closes every sink and returns the first error.
func (m Multi) Close() error {
	var first error
	for _, s := range m {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// LogSink writes events as structured log records. Equity points are
// logged at debug level.
type LogSink struct {
	log logrus.FieldLogger
}

func NewLogSink(log logrus.FieldLogger) *LogSink {
	return &LogSink{log: logger.OrDiscard(log).WithField("component", "events")}
}

func (s *LogSink) Emit(e Event) {
	f := logrus.Fields{"kind": e.Kind, "time": e.Time}
	if e.Symbol != "" {
		f["symbol"] = e.Symbol
	}
	if e.Reason != "" {
		f["reason"] = e.Reason
	}
	entry := s.log.WithFields(f)
	switch e.Kind {
	case KindDecision:
		d := e.Decision
		entry.WithFields(logrus.Fields{"action": d.Action, "side": d.Side, "confidence": d.Confidence}).Info("decision")
	case KindOrder:
		o := e.Order
		entry.WithFields(logrus.Fields{"order_id": o.ID, "type": o.Type, "side": o.Side, "qty": o.Qty, "reduce_only": o.ReduceOnly}).Info("order")
	case KindFill:
		fl := e.Fill
		entry.WithFields(logrus.Fields{"order_id": fl.OrderID, "side": fl.Side, "qty": fl.Qty, "price": fl.Price, "fee": fl.Fee}).Info("fill")
	case KindPosition:
		p := e.Position
		entry.WithFields(logrus.Fields{"event": p.Type, "qty": p.Qty, "realized_delta": p.RealizedDelta}).Info("position")
	case KindRejected:
		entry.Warn("fill rejected")
	case KindHardStop:
		entry.WithField("meta", e.Meta).Error("hard stop")
	case KindEquity:
		entry.WithField("equity", e.Equity.Equity).Debug("equity")
	default:
		entry.WithField("meta", e.Meta).Info(string(e.Kind))
	}
}

func (s *LogSink) Close() error { return nil }

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *Recorder) Close() error { return nil }

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfKind returns the recorded events of kind k.
func (r *Recorder) OfKind(k Kind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}
