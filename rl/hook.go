package rl

import (
	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/afts/internal/logger"
	"github.com/rustyeddy/afts/strategy"
)

// Output is what the hook injects into a decision.
type Output struct {
	RiskPct    *float64
	ExitAction *strategy.ExitAction
	Obs        []float64
}

// Hook queries the risk and exit agents independently. Either may be nil.
type Hook struct {
	obs  *ObservationBuilder
	risk RiskAgent
	exit ExitAgent
	log  logrus.FieldLogger
}

func NewHook(obs *ObservationBuilder, risk RiskAgent, exit ExitAgent, log logrus.FieldLogger) *Hook {
	return &Hook{obs: obs, risk: risk, exit: exit, log: logger.OrDiscard(log).WithField("component", "rl")}
}

// NewHookFromConfig builds the agents named in cfg. It returns nil when rl
// is disabled.
func NewHookFromConfig(cfg Config, log logrus.FieldLogger) (*Hook, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	h := NewHook(NewObservationBuilder(cfg.RawFeatures, cfg.Observation), nil, nil, log)
	if cfg.RiskAgent.Enabled {
		a, err := NewLinearRiskAgent(cfg.RiskAgent)
		if err != nil {
			return nil, err
		}
		h.risk = a
	}
	if cfg.ExitAgent.Enabled {
		a, err := NewLinearExitAgent(cfg.ExitAgent)
		if err != nil {
			return nil, err
		}
		h.exit = a
	}
	return h, nil
}

// Infer builds the observation and asks the agents. The exit agent is only
// consulted while a position is open.
func (h *Hook) Infer(in ObsInput) Output {
	obs := h.obs.Build(in)
	out := Output{Obs: obs}
	if h.risk != nil {
		r := h.risk.Act(Fit(obs, h.risk.ObsSize()))
		out.RiskPct = &r
	}
	if h.exit != nil && in.Position != nil {
		a := h.exit.Act(Fit(obs, h.exit.ObsSize()))
		out.ExitAction = &a
	}
	return out
}

// Inject writes out into d without touching its action or side.
func (h *Hook) Inject(d *strategy.Decision, out Output) {
	meta := map[string]any{}
	if out.RiskPct != nil {
		d.Update.RiskPct = out.RiskPct
		meta["risk_pct"] = *out.RiskPct
	}
	if out.ExitAction != nil {
		d.ExitAction = out.ExitAction
		d.SetMeta("exit_action", out.ExitAction.String())
		meta["exit_action"] = out.ExitAction.String()
	}
	if len(meta) > 0 {
		d.SetMeta("agent_meta", meta)
		h.log.WithFields(logrus.Fields(meta)).Debug("agent outputs injected")
	}
}
