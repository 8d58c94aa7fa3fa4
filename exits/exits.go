// Package exits turns exit-agent actions into stop-loss moves and close
// requests on a strategy decision.
package exits

import (
	"github.com/rustyeddy/afts/broker"
	"github.com/rustyeddy/afts/internal/errs"
	"github.com/rustyeddy/afts/market"
	"github.com/rustyeddy/afts/strategy"
)

// Config is the exit_policy block of the rl config.
type Config struct {
	TightenATRK          float64 `yaml:"tighten_atr_k" mapstructure:"tighten_atr_k"`
	TrailFactorATR       float64 `yaml:"trail_factor_atr" mapstructure:"trail_factor_atr"`
	BEOffsetTicks        float64 `yaml:"be_offset_ticks" mapstructure:"be_offset_ticks"`
	PartialCloseFraction float64 `yaml:"partial_close_fraction" mapstructure:"partial_close_fraction"`
	AllowLooserSL        bool    `yaml:"allow_looser_sl" mapstructure:"allow_looser_sl"`
}

func DefaultConfig() Config {
	return Config{
		TightenATRK:          0.5,
		TrailFactorATR:       1.0,
		PartialCloseFraction: 0.5,
	}
}

func (c Config) Validate() error {
	if c.TightenATRK <= 0 || c.TrailFactorATR <= 0 {
		return errs.Configf("exit_policy: atr factors must be positive")
	}
	if c.PartialCloseFraction <= 0 || c.PartialCloseFraction > 1 {
		return errs.Configf("exit_policy: partial_close_fraction %v not in (0,1]", c.PartialCloseFraction)
	}
	if c.BEOffsetTicks < 0 {
		return errs.Configf("exit_policy: be_offset_ticks must be >= 0")
	}
	return nil
}

// Applier maps exit actions onto decisions. It holds no state.
type Applier struct {
	cfg Config
}

func NewApplier(cfg Config) *Applier {
	return &Applier{cfg: cfg}
}

func (a *Applier) Config() Config { return a.cfg }

// Input is everything Apply reads besides the decision.
type Input struct {
	Action   strategy.ExitAction
	Position *broker.Position
	Bar      market.Bar
	ATR      *float64
	TickSize float64
}

// Apply mutates d for in.Action and reports whether anything changed. It
// is a no-op without a position. A decision with no action of its own is
// promoted to manage (or exit for FULL_CLOSE) so the order builder acts on
// it; entries and exits keep their action.
func (a *Applier) Apply(in Input, d *strategy.Decision) bool {
	if in.Position == nil || in.Position.Qty <= 0 || in.Action == strategy.ExitNone {
		return false
	}
	act := in.Action
	d.ExitAction = &act
	d.SetMeta("exit_action", act.String())

	switch act {
	case strategy.ExitTightenSL:
		return a.moveStop(in, d, a.cfg.TightenATRK)
	case strategy.ExitTrailSL:
		return a.moveStop(in, d, a.cfg.TrailFactorATR)

	case strategy.ExitMoveSLToBE:
		off := a.cfg.BEOffsetTicks * in.TickSize
		sl := in.Position.EntryPrice + off
		if in.Position.Side == broker.Short {
			sl = in.Position.EntryPrice - off
		}
		if !a.allowed(in.Position.Side, d.CurrentSL, sl) {
			d.SetMeta("exit_sl_kept", *d.CurrentSL)
			return false
		}
		a.setStop(d, sl)
		return true

	case strategy.ExitPartialClose:
		f := a.cfg.PartialCloseFraction
		d.PartialCloseFraction = &f
		d.SetMeta("exit_partial_close_fraction", f)
		promote(d, strategy.ActionManage)
		return true

	case strategy.ExitFullClose:
		d.FullClose = true
		d.SetMeta("exit_full_close", true)
		promote(d, strategy.ActionExit)
		return true
	}
	return false
}

func (a *Applier) moveStop(in Input, d *strategy.Decision, k float64) bool {
	if in.ATR == nil || *in.ATR <= 0 {
		d.SetMeta("exit_skipped", "atr unavailable")
		return false
	}
	dist := k * *in.ATR
	sl := in.Bar.Close - dist
	if in.Position.Side == broker.Short {
		sl = in.Bar.Close + dist
	}
	if !a.allowed(in.Position.Side, d.CurrentSL, sl) {
		d.SetMeta("exit_sl_kept", *d.CurrentSL)
		return false
	}
	a.setStop(d, sl)
	return true
}

// allowed reports whether sl may replace prior. With looser stops
// disallowed a long stop only rises and a short stop only falls.
func (a *Applier) allowed(side broker.PositionSide, prior *float64, sl float64) bool {
	if prior == nil || a.cfg.AllowLooserSL {
		return true
	}
	if side == broker.Short {
		return sl < *prior-market.Epsilon
	}
	return sl > *prior+market.Epsilon
}

func (a *Applier) setStop(d *strategy.Decision, sl float64) {
	d.Update.SLPrice = strategy.Ptr(sl)
	d.CurrentSL = strategy.Ptr(sl)
	d.SetMeta("current_sl", sl)
	promote(d, strategy.ActionManage)
}

func promote(d *strategy.Decision, to strategy.Action) {
	if d.Action == strategy.ActionNone || (d.Action == strategy.ActionManage && to == strategy.ActionExit) {
		d.Action = to
	}
}
