// Package execution runs the per-bar trading pipeline: fills against the
// simulator, risk and behaviour admission, features, strategies, agents,
// exits, sizing and order building.
package execution

import (
	"github.com/rustyeddy/afts/internal/errs"
	"github.com/rustyeddy/afts/sim"
)

// Config holds execution costs and end-of-run behaviour. TakerFeePct and
// MaxSlippagePct are fractions of notional (0.0002 = 2 bps).
type Config struct {
	TakerFeePct    float64 `yaml:"taker_fee_pct" mapstructure:"taker_fee_pct"`
	TickSize       float64 `yaml:"tick_size" mapstructure:"tick_size"`
	MaxSlippagePct float64 `yaml:"max_slippage_pct" mapstructure:"max_slippage_pct"`
	SlippageTicks  float64 `yaml:"slippage_ticks" mapstructure:"slippage_ticks"`
	CloseAtEnd     bool    `yaml:"close_at_end" mapstructure:"close_at_end"`
	// Spread in price units, fed to the spread guard.
	Spread     float64 `yaml:"spread" mapstructure:"spread"`
	ATRFeature string  `yaml:"atr_feature" mapstructure:"atr_feature"`
	Currency   string  `yaml:"currency" mapstructure:"currency"`
}

func DefaultConfig() Config {
	return Config{
		TickSize:   0.00001,
		CloseAtEnd: true,
		ATRFeature: "atr_14",
		Currency:   "USD",
	}
}

func (c Config) Validate() error {
	switch {
	case c.TakerFeePct < 0:
		return errs.Configf("execution: taker_fee_pct must be >= 0")
	case c.MaxSlippagePct < 0 || c.SlippageTicks < 0:
		return errs.Configf("execution: slippage must be >= 0")
	case c.TickSize < 0:
		return errs.Configf("execution: tick_size must be >= 0")
	case c.Spread < 0:
		return errs.Configf("execution: spread must be >= 0")
	}
	return nil
}

// SimConfig maps the execution costs onto the fill simulator.
func (c Config) SimConfig() sim.Config {
	return sim.Config{
		FeeRate:       c.TakerFeePct,
		SlippagePct:   c.MaxSlippagePct,
		SlippageTicks: c.SlippageTicks,
		FeeAsset:      c.Currency,
	}
}
