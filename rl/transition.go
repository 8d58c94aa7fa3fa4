package rl

import "time"

// Transition is one exploration step written out for offline training.
// RiskAction is -1 and ExitAction is -1 when that agent did not act.
type Transition struct {
	TimeMs     int64     `parquet:"ts"`
	Symbol     string    `parquet:"symbol"`
	Obs        []float64 `parquet:"obs,list"`
	RiskAction float64   `parquet:"risk_action"`
	ExitAction int32     `parquet:"exit_action"`
	Reward     float64   `parquet:"reward"`
}

// Rollout collects transitions. The reward of a step is the equity change
// until the next step, so it is filled in one bar late.
type Rollout struct {
	steps      []Transition
	lastEquity float64
}

// Record closes the previous step with the equity delta and opens a new one.
func (r *Rollout) Record(ts time.Time, symbol string, out Output, equity float64) {
	if n := len(r.steps); n > 0 {
		r.steps[n-1].Reward = equity - r.lastEquity
	}
	t := Transition{
		TimeMs:     ts.UnixMilli(),
		Symbol:     symbol,
		Obs:        append([]float64(nil), out.Obs...),
		RiskAction: -1,
		ExitAction: -1,
	}
	if out.RiskPct != nil {
		t.RiskAction = *out.RiskPct
	}
	if out.ExitAction != nil {
		t.ExitAction = int32(*out.ExitAction)
	}
	r.steps = append(r.steps, t)
	r.lastEquity = equity
}

// Finish settles the last step against the final equity.
func (r *Rollout) Finish(equity float64) []Transition {
	if n := len(r.steps); n > 0 {
		r.steps[n-1].Reward = equity - r.lastEquity
		r.lastEquity = equity
	}
	return r.steps
}

func (r *Rollout) Len() int { return len(r.steps) }
