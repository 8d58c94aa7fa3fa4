// Package strategy defines per-bar trading decisions, the strategies that
// produce them and the bridge that merges several strategies into one.
package strategy

import (
	"fmt"

	"github.com/rustyeddy/afts/broker"
	"github.com/rustyeddy/afts/features"
	"github.com/rustyeddy/afts/market"
)

type Action string

const (
	ActionNone   Action = "none"
	ActionEntry  Action = "entry"
	ActionManage Action = "manage"
	ActionExit   Action = "exit"
)

type Side string

const (
	NoSide Side = ""
	Long   Side = "long"
	Short  Side = "short"
)

// OrderSide maps a decision side to the order side that opens it.
func (s Side) OrderSide() broker.Side {
	if s == Short {
		return broker.Sell
	}
	return broker.Buy
}

// ExitAction is the discrete action space of the exit agent.
type ExitAction int

const (
	ExitNone ExitAction = iota
	ExitTightenSL
	ExitMoveSLToBE
	ExitTrailSL
	ExitPartialClose
	ExitFullClose
)

// NumExitActions is the size of the exit action space.
const NumExitActions = 6

func (a ExitAction) String() string {
	switch a {
	case ExitNone:
		return "NONE"
	case ExitTightenSL:
		return "TIGHTEN_SL"
	case ExitMoveSLToBE:
		return "MOVE_SL_TO_BE"
	case ExitTrailSL:
		return "TRAIL_SL"
	case ExitPartialClose:
		return "PARTIAL_CLOSE"
	case ExitFullClose:
		return "FULL_CLOSE"
	}
	return fmt.Sprintf("ExitAction(%d)", int(a))
}

// Update carries the optional order-shaping values of a decision. A nil
// pointer means "not set".
type Update struct {
	SLPrice      *float64
	TPPrice      *float64
	TrailSLPct   *float64
	TrailSLTo    string // "BE" moves the stop to the entry price
	ClosePct     *float64
	PositionSize *float64
	RiskPct      *float64
}

// Decision is the per-bar output of the strategy layer. It is only mutated
// within the bar that produced it.
type Decision struct {
	Action     Action
	Side       Side
	Confidence float64
	Update     Update

	// Fields downstream components read. Meta only carries diagnostics.
	ExitAction           *ExitAction
	CurrentSL            *float64
	PartialCloseFraction *float64
	FullClose            bool

	Meta map[string]any
}

// None returns an empty decision.
func None() Decision {
	return Decision{Action: ActionNone, Meta: map[string]any{}}
}

// Entry returns an entry decision.
func Entry(side Side, confidence float64) Decision {
	return Decision{Action: ActionEntry, Side: side, Confidence: confidence, Meta: map[string]any{}}
}

// SetMeta writes a diagnostic value, allocating Meta if needed.
func (d *Decision) SetMeta(key string, v any) {
	if d.Meta == nil {
		d.Meta = map[string]any{}
	}
	d.Meta[key] = v
}

// Ptr returns a pointer to v.
func Ptr(v float64) *float64 {
	return &v
}

// MarketState is the read-only per-bar input to strategies.
type MarketState struct {
	Bar      market.Bar
	Features *features.Bundle
	Regime   string
	Position *broker.Position
}

// Feature returns a raw feature value from the bundle.
func (m *MarketState) Feature(name string) (float64, bool) {
	return m.Features.Get(name)
}

// Strategy produces one decision per bar.
type Strategy interface {
	Name() string
	OnBar(ms *MarketState) Decision
}

// PriorDecisionsAware strategies see the decisions of strategies that ran
// before them on the same bar.
type PriorDecisionsAware interface {
	SetPriorDecisions(prior []Decision)
}

// Refiner strategies adjust the merged entry with their own decision for
// the bar instead of competing with it in the merge.
type Refiner interface {
	Refine(entry *Decision, own Decision)
}

// EntryListener strategies are told when one of their entries produced
// orders. Entries suppressed by the risk or behaviour layers are not
// reported.
type EntryListener interface {
	OnEntryPlaced(d Decision)
}
