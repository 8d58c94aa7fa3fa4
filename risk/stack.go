package risk

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/afts/internal/logger"
)

// Stack combines a base policy with an optional FTMO-plus engine. The base
// policy runs first; when it allows, the plus engine may downgrade to a
// block. A force-flatten from the plus engine always survives.
type Stack struct {
	base Policy
	plus *PlusEngine
	log  logrus.FieldLogger
}

func NewStack(base Policy, plus *PlusEngine, log logrus.FieldLogger) *Stack {
	return &Stack{
		base: base,
		plus: plus,
		log:  logger.OrDiscard(log).WithField("component", "risk"),
	}
}

// NewStackFromConfig builds the base policy and, when enabled, the plus
// engine.
func NewStackFromConfig(cfg Config, plusCfg PlusConfig, log logrus.FieldLogger) (*Stack, error) {
	base, err := NewPolicy(cfg)
	if err != nil {
		return nil, err
	}
	var plus *PlusEngine
	if plusCfg.Enabled {
		if err := plusCfg.Validate(); err != nil {
			return nil, err
		}
		plus = NewPlusEngine(plusCfg, cfg.InitialBalance)
	}
	return NewStack(base, plus, log), nil
}

func (s *Stack) Base() Policy {
	return s.base
}

func (s *Stack) Plus() *PlusEngine {
	return s.plus
}

// PlusState returns the plus engine snapshot, or a zero state without one.
func (s *Stack) PlusState() PlusState {
	if s.plus == nil {
		return PlusState{SessionIndex: -1}
	}
	return s.plus.State()
}

// OnTradeClosed forwards a realised trade to the plus engine.
func (s *Stack) OnTradeClosed(pnl float64, ts time.Time) {
	if s.plus != nil {
		s.plus.OnTradeClosed(pnl, ts)
	}
}

func (s *Stack) Evaluate(in Input) Decision {
	d := s.base.Evaluate(in.Account, in.Time)
	if d.StageMultiplier == 0 {
		d.StageMultiplier = 1
	}
	if d.HardStopTrading {
		s.log.WithFields(logrus.Fields{"reason": d.Reason, "time": in.Time}).Error("risk hard stop")
		return d
	}
	if s.plus == nil {
		s.logBlock(d, in.Time)
		return d
	}

	pd := s.plus.Evaluate(in)
	d.Stage = pd.Stage
	d.StageMultiplier = pd.StageMultiplier
	d.StageCap = pd.StageCap
	d.Violations = append(d.Violations, pd.Violations...)
	for k, v := range pd.Meta {
		d.setMeta(k, v)
	}
	if !pd.AllowNewOrders && d.AllowNewOrders {
		d.AllowNewOrders = false
		d.Reason = pd.Reason
	}
	if pd.ForceFlatten {
		d.ForceFlatten = true
	}
	s.logBlock(d, in.Time)
	return d
}

func (s *Stack) logBlock(d Decision, ts time.Time) {
	if d.AllowNewOrders && !d.ForceFlatten {
		return
	}
	s.log.WithFields(logrus.Fields{
		"reason":        d.Reason,
		"force_flatten": d.ForceFlatten,
		"time":          ts,
	}).Info("risk block")
}
