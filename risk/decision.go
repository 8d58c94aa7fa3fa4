// Package risk holds the drawdown policies (FTMO, Apex, equity DD), the
// FTMO-plus guard engine layered on top of them, and the position sizer.
package risk

import (
	"fmt"
)

type Violation struct {
	Code string
	Msg  string
}

// Decision is the outcome of a risk evaluation for one bar.
type Decision struct {
	AllowNewOrders  bool
	HardStopTrading bool
	ForceFlatten    bool
	Reason          string
	Meta            map[string]any
	Violations      []Violation

	// Stage scaling published by the FTMO-plus engine. StageCap is a
	// max risk pct; 0 means no cap.
	Stage           int
	StageMultiplier float64
	StageCap        float64
}

// Allow returns a permissive decision.
func Allow() Decision {
	return Decision{AllowNewOrders: true, StageMultiplier: 1, Meta: map[string]any{}}
}

func (d *Decision) setMeta(key string, v any) {
	if d.Meta == nil {
		d.Meta = map[string]any{}
	}
	d.Meta[key] = v
}

func (d *Decision) add(code, msg string) {
	d.Violations = append(d.Violations, Violation{Code: code, Msg: msg})
	if d.Reason == "" {
		d.Reason = code
	}
}

// block refuses new orders for this bar.
func (d *Decision) block(code, format string, args ...any) {
	d.add(code, fmt.Sprintf(format, args...))
	d.AllowNewOrders = false
}

// hardStop terminates the run. A hard stop reason always replaces a softer
// one already recorded.
func (d *Decision) hardStop(code, format string, args ...any) {
	d.Violations = append(d.Violations, Violation{Code: code, Msg: fmt.Sprintf(format, args...)})
	if !d.HardStopTrading {
		d.Reason = code
	}
	d.AllowNewOrders = false
	d.HardStopTrading = true
}

// Blocked reports whether new orders are refused.
func (d Decision) Blocked() bool {
	return !d.AllowNewOrders || d.HardStopTrading
}
