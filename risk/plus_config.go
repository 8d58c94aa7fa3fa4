package risk

import (
	"time"

	"github.com/rustyeddy/afts/internal/errs"
	"github.com/rustyeddy/afts/market"
)

// Drawdown and loss thresholds below are fractions of the initial balance
// unless noted. Risk percentages (stage caps, total open risk) are percent of
// equity, matching the sizer.

type RollingDDConfig struct {
	Enabled       bool    `yaml:"enabled" mapstructure:"enabled"`
	WindowMinutes int     `yaml:"window_minutes" mapstructure:"window_minutes"`
	MaxDDPct      float64 `yaml:"max_dd_pct" mapstructure:"max_dd_pct"`
}

type VelocityConfig struct {
	Enabled       bool    `yaml:"enabled" mapstructure:"enabled"`
	WindowMinutes int     `yaml:"window_minutes" mapstructure:"window_minutes"`
	MaxPctPerHour float64 `yaml:"max_pct_per_hour" mapstructure:"max_pct_per_hour"`
}

type SessionLimit struct {
	Window   market.TimeWindow `yaml:"window" mapstructure:"window"`
	MaxDDPct float64           `yaml:"max_dd_pct" mapstructure:"max_dd_pct"`
}

type SessionConfig struct {
	Enabled  bool           `yaml:"enabled" mapstructure:"enabled"`
	Sessions []SessionLimit `yaml:"sessions" mapstructure:"sessions"`
}

type StageConfig struct {
	Enabled          bool       `yaml:"enabled" mapstructure:"enabled"`
	ReducedAtLossPct float64    `yaml:"reduced_at_loss_pct" mapstructure:"reduced_at_loss_pct"`
	FreezeAtLossPct  float64    `yaml:"freeze_at_loss_pct" mapstructure:"freeze_at_loss_pct"`
	Multipliers      [3]float64 `yaml:"multipliers" mapstructure:"multipliers"`
	Caps             [3]float64 `yaml:"caps" mapstructure:"caps"`
	MinTradesBetween int        `yaml:"min_trades_between" mapstructure:"min_trades_between"`
	CooldownMinutes  int        `yaml:"cooldown_minutes" mapstructure:"cooldown_minutes"`
}

type ExposureConfig struct {
	Enabled             bool    `yaml:"enabled" mapstructure:"enabled"`
	MaxConcurrentTrades int     `yaml:"max_concurrent_trades" mapstructure:"max_concurrent_trades"`
	MaxTotalRiskPct     float64 `yaml:"max_total_risk_pct" mapstructure:"max_total_risk_pct"`
}

type SpreadConfig struct {
	Enabled   bool    `yaml:"enabled" mapstructure:"enabled"`
	MaxSpread float64 `yaml:"max_spread" mapstructure:"max_spread"`
}

type NewsEvent struct {
	Time  time.Time `yaml:"time" mapstructure:"time"`
	Label string    `yaml:"label" mapstructure:"label"`
}

type NewsConfig struct {
	Enabled       bool        `yaml:"enabled" mapstructure:"enabled"`
	Events        []NewsEvent `yaml:"events" mapstructure:"events"`
	BeforeMinutes int         `yaml:"before_minutes" mapstructure:"before_minutes"`
	AfterMinutes  int         `yaml:"after_minutes" mapstructure:"after_minutes"`
}

type TimeFenceConfig struct {
	Enabled bool                `yaml:"enabled" mapstructure:"enabled"`
	Allow   []market.TimeWindow `yaml:"allow" mapstructure:"allow"`
	Block   []market.TimeWindow `yaml:"block" mapstructure:"block"`
}

type ProfitLockConfig struct {
	Enabled   bool    `yaml:"enabled" mapstructure:"enabled"`
	TargetPct float64 `yaml:"target_pct" mapstructure:"target_pct"`
	// SoftFraction of the target at which new entries stop.
	SoftFraction float64 `yaml:"soft_fraction" mapstructure:"soft_fraction"`
}

type StabilityConfig struct {
	Enabled      bool    `yaml:"enabled" mapstructure:"enabled"`
	Window       int     `yaml:"window" mapstructure:"window"`
	MinTrades    int     `yaml:"min_trades" mapstructure:"min_trades"`
	MinPF        float64 `yaml:"min_pf" mapstructure:"min_pf"`
	MinWinrate   float64 `yaml:"min_winrate" mapstructure:"min_winrate"`
	MaxPnLStdPct float64 `yaml:"max_pnl_std_pct" mapstructure:"max_pnl_std_pct"`
}

type CircuitConfig struct {
	Enabled        bool    `yaml:"enabled" mapstructure:"enabled"`
	InstantLossPct float64 `yaml:"instant_loss_pct" mapstructure:"instant_loss_pct"`
	MaxSlippagePct float64 `yaml:"max_slippage_pct" mapstructure:"max_slippage_pct"`
	FreezeMinutes  int     `yaml:"freeze_minutes" mapstructure:"freeze_minutes"`
}

// PlusConfig configures the FTMO-plus guard engine.
type PlusConfig struct {
	Enabled    bool             `yaml:"enabled" mapstructure:"enabled"`
	RollingDD  RollingDDConfig  `yaml:"rolling_dd" mapstructure:"rolling_dd"`
	Velocity   VelocityConfig   `yaml:"loss_velocity" mapstructure:"loss_velocity"`
	Session    SessionConfig    `yaml:"session" mapstructure:"session"`
	Stage      StageConfig      `yaml:"stage" mapstructure:"stage"`
	Exposure   ExposureConfig   `yaml:"exposure" mapstructure:"exposure"`
	Spread     SpreadConfig     `yaml:"spread" mapstructure:"spread"`
	News       NewsConfig       `yaml:"news" mapstructure:"news"`
	TimeFence  TimeFenceConfig  `yaml:"time_fence" mapstructure:"time_fence"`
	ProfitLock ProfitLockConfig `yaml:"profit_lock" mapstructure:"profit_lock"`
	Stability  StabilityConfig  `yaml:"stability" mapstructure:"stability"`
	Circuit    CircuitConfig    `yaml:"circuit_breaker" mapstructure:"circuit_breaker"`
}

// DefaultPlusConfig returns sensible limits with the engine disabled.
func DefaultPlusConfig() PlusConfig {
	return PlusConfig{
		RollingDD: RollingDDConfig{Enabled: true, WindowMinutes: 120, MaxDDPct: 0.02},
		Velocity:  VelocityConfig{Enabled: true, WindowMinutes: 60, MaxPctPerHour: 0.015},
		Stage: StageConfig{
			Enabled:          true,
			ReducedAtLossPct: 0.02,
			FreezeAtLossPct:  0.035,
			Multipliers:      [3]float64{1, 0.5, 0},
			Caps:             [3]float64{2.0, 1.0, 0},
			MinTradesBetween: 3,
			CooldownMinutes:  60,
		},
		Exposure:   ExposureConfig{Enabled: true, MaxConcurrentTrades: 3, MaxTotalRiskPct: 3.0},
		News:       NewsConfig{BeforeMinutes: 15, AfterMinutes: 15},
		ProfitLock: ProfitLockConfig{TargetPct: 0.10, SoftFraction: 0.9},
		Stability: StabilityConfig{
			Window:     20,
			MinTrades:  10,
			MinPF:      0.8,
			MinWinrate: 0.25,
		},
		Circuit: CircuitConfig{Enabled: true, InstantLossPct: 0.01, MaxSlippagePct: 0.002, FreezeMinutes: 60},
	}
}

// Validate reports malformed windows and stage settings as config errors.
func (c PlusConfig) Validate() error {
	for _, s := range c.Session.Sessions {
		if err := s.Window.Validate(); err != nil {
			return errs.Configf("ftmo_plus session %q: %v", s.Window.Name, err)
		}
	}
	for _, w := range append(append([]market.TimeWindow{}, c.TimeFence.Allow...), c.TimeFence.Block...) {
		if err := w.Validate(); err != nil {
			return errs.Configf("ftmo_plus time fence: %v", err)
		}
	}
	if c.Stage.Enabled && c.Stage.FreezeAtLossPct > 0 && c.Stage.FreezeAtLossPct < c.Stage.ReducedAtLossPct {
		return errs.Configf("ftmo_plus stage: freeze_at_loss_pct below reduced_at_loss_pct")
	}
	return nil
}
