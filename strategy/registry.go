package strategy

import (
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/afts/internal/errs"
)

// Config selects and parameterises strategies.
type Config struct {
	EnabledStrategies []string                      `yaml:"enabled_strategies" mapstructure:"enabled_strategies"`
	StrategyParams    map[string]map[string]float64 `yaml:"strategy_params" mapstructure:"strategy_params"`
	// Weights for ml_second_opinion, in model feature order.
	ModelWeights []float64 `yaml:"model_weights" mapstructure:"model_weights"`
}

func DefaultConfig() Config {
	return Config{EnabledStrategies: []string{"orb"}}
}

// Factory builds a strategy from its parameters.
type Factory func(params map[string]float64, cfg Config) (Strategy, error)

// Catalog maps strategy keys to factories.
type Catalog map[string]Factory

func p(params map[string]float64, key string, def float64) float64 {
	if v, ok := params[key]; ok {
		return v
	}
	return def
}

func DefaultCatalog() Catalog {
	return Catalog{
		"orb": func(params map[string]float64, _ Config) (Strategy, error) {
			def := DefaultORBConfig()
			return NewORB(ORBConfig{
				RangeMinutes: int(p(params, "range_minutes", float64(def.RangeMinutes))),
				MinRangePips: p(params, "min_range_pips", def.MinRangePips),
				BufferPips:   p(params, "buffer", def.BufferPips),
				SLMult:       p(params, "sl_mult", def.SLMult),
				TPMult:       p(params, "tp_mult", def.TPMult),
				MaxTradesDay: int(p(params, "max_trades_per_day", float64(def.MaxTradesDay))),
				PipSize:      p(params, "pip_size", def.PipSize),
				Confidence:   p(params, "confidence", def.Confidence),
			}), nil
		},
		"ema_cross": func(params map[string]float64, _ Config) (Strategy, error) {
			fast, slow := int(p(params, "fast", 20)), int(p(params, "slow", 50))
			if fast <= 0 || slow <= fast {
				return nil, errs.Configf("ema_cross: need 0 < fast < slow, got %d/%d", fast, slow)
			}
			return NewEmaCross(fast, slow, int(p(params, "atr_period", 14)), p(params, "sl_atr", 1.5), p(params, "tp_atr", 3.0)), nil
		},
		"ml_second_opinion": func(params map[string]float64, cfg Config) (Strategy, error) {
			return NewSecondOpinion(cfg.ModelWeights, p(params, "bias", 0), p(params, "threshold", 0.5), p(params, "veto", 0) > 0), nil
		},
		"noop": func(map[string]float64, Config) (Strategy, error) {
			return Noop{}, nil
		},
	}
}

func (c Catalog) Names() []string {
	out := make([]string, 0, len(c))
	for k := range c {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Build constructs the enabled strategies in order. Unknown keys are config
// errors.
func (c Catalog) Build(cfg Config) ([]Strategy, error) {
	if len(cfg.EnabledStrategies) == 0 {
		return nil, errs.Configf("no strategies enabled")
	}
	out := make([]Strategy, 0, len(cfg.EnabledStrategies))
	for _, key := range cfg.EnabledStrategies {
		f, ok := c[key]
		if !ok {
			return nil, errs.Configf("unknown strategy %q (known: %v)", key, c.Names())
		}
		s, err := f(cfg.StrategyParams[key], cfg)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// NewBridgeFromConfig builds the strategies with catalog and wraps them.
func NewBridgeFromConfig(cfg Config, catalog Catalog, log logrus.FieldLogger) (*Bridge, error) {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	strats, err := catalog.Build(cfg)
	if err != nil {
		return nil, err
	}
	return NewBridge(strats, log), nil
}
