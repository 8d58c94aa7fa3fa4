// Package behaviour holds the trader-discipline guards that run after the
// risk stack: trade counts, loss streaks, cooldowns, session hours and
// daily PnL limits.
package behaviour

import (
	"github.com/rustyeddy/afts/internal/errs"
	"github.com/rustyeddy/afts/market"
)

// GuardConfig is common to every guard. A hard guard ends the run when it
// refuses; a soft one only blocks new entries.
type GuardConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	Hard    bool `yaml:"hard" mapstructure:"hard"`
}

type MaxTradesConfig struct {
	GuardConfig `yaml:",inline" mapstructure:",squash"`
	Max         int `yaml:"max" mapstructure:"max"`
}

type CooldownConfig struct {
	GuardConfig `yaml:",inline" mapstructure:",squash"`
	Minutes     int `yaml:"minutes" mapstructure:"minutes"`
}

// DailyPnLConfig limits realised PnL for the day. Percentages are
// fractions of the initial balance.
type DailyPnLConfig struct {
	GuardConfig `yaml:",inline" mapstructure:",squash"`
	MaxLossPct  float64 `yaml:"max_loss_pct" mapstructure:"max_loss_pct"`
	// Once the day's realised profit reaches LockProfitPct, giving back more
	// than GivebackFraction of the peak blocks further entries.
	LockProfitPct    float64 `yaml:"lock_profit_pct" mapstructure:"lock_profit_pct"`
	GivebackFraction float64 `yaml:"giveback_fraction" mapstructure:"giveback_fraction"`
}

type ProfitTargetConfig struct {
	GuardConfig `yaml:",inline" mapstructure:",squash"`
	TargetPct   float64 `yaml:"target_pct" mapstructure:"target_pct"`
}

type SessionConfig struct {
	GuardConfig `yaml:",inline" mapstructure:",squash"`
	Windows     []market.TimeWindow `yaml:"windows" mapstructure:"windows"`
}

type BigLossConfig struct {
	GuardConfig `yaml:",inline" mapstructure:",squash"`
	LossPct     float64 `yaml:"loss_pct" mapstructure:"loss_pct"`
	Minutes     int     `yaml:"minutes" mapstructure:"minutes"`
}

type Config struct {
	InitialBalance    float64            `yaml:"initial_balance" mapstructure:"initial_balance"`
	MaxTradesPerDay   MaxTradesConfig    `yaml:"max_trades_per_day" mapstructure:"max_trades_per_day"`
	MaxConsecLosses   MaxTradesConfig    `yaml:"max_consecutive_losses" mapstructure:"max_consecutive_losses"`
	CooldownAfterLoss CooldownConfig     `yaml:"cooldown_after_loss" mapstructure:"cooldown_after_loss"`
	DailyPnL          DailyPnLConfig     `yaml:"daily_pnl" mapstructure:"daily_pnl"`
	DailyProfitTarget ProfitTargetConfig `yaml:"daily_profit_target" mapstructure:"daily_profit_target"`
	MaxOpenPositions  MaxTradesConfig    `yaml:"max_open_positions" mapstructure:"max_open_positions"`
	SessionWindows    SessionConfig      `yaml:"session_windows" mapstructure:"session_windows"`
	BigLossCooldown   BigLossConfig      `yaml:"big_loss_cooldown" mapstructure:"big_loss_cooldown"`
}

// DefaultConfig enables nothing.
func DefaultConfig() Config {
	return Config{
		MaxTradesPerDay:   MaxTradesConfig{Max: 10},
		MaxConsecLosses:   MaxTradesConfig{Max: 3},
		CooldownAfterLoss: CooldownConfig{Minutes: 30},
		DailyPnL:          DailyPnLConfig{MaxLossPct: 0.03, GivebackFraction: 0.5},
		DailyProfitTarget: ProfitTargetConfig{TargetPct: 0.02},
		MaxOpenPositions:  MaxTradesConfig{Max: 1},
		BigLossCooldown:   BigLossConfig{LossPct: 0.01, Minutes: 120},
	}
}

func (c Config) Validate() error {
	if c.MaxTradesPerDay.Enabled && c.MaxTradesPerDay.Max <= 0 {
		return errs.Configf("behaviour: max_trades_per_day.max must be positive")
	}
	if c.MaxConsecLosses.Enabled && c.MaxConsecLosses.Max <= 0 {
		return errs.Configf("behaviour: max_consecutive_losses.max must be positive")
	}
	if c.MaxOpenPositions.Enabled && c.MaxOpenPositions.Max <= 0 {
		return errs.Configf("behaviour: max_open_positions.max must be positive")
	}
	if c.CooldownAfterLoss.Enabled && c.CooldownAfterLoss.Minutes <= 0 {
		return errs.Configf("behaviour: cooldown_after_loss.minutes must be positive")
	}
	if c.BigLossCooldown.Enabled && (c.BigLossCooldown.LossPct <= 0 || c.BigLossCooldown.Minutes <= 0) {
		return errs.Configf("behaviour: big_loss_cooldown needs loss_pct and minutes")
	}
	if c.DailyProfitTarget.Enabled && c.DailyProfitTarget.TargetPct <= 0 {
		return errs.Configf("behaviour: daily_profit_target.target_pct must be positive")
	}
	if c.SessionWindows.Enabled {
		if len(c.SessionWindows.Windows) == 0 {
			return errs.Configf("behaviour: session_windows enabled without windows")
		}
		for _, w := range c.SessionWindows.Windows {
			if err := w.Validate(); err != nil {
				return errs.Configf("behaviour: session window %q: %v", w.Name, err)
			}
		}
	}
	return nil
}
