package features

import (
	"sort"

	"github.com/rustyeddy/afts/indicators"
	"github.com/rustyeddy/afts/internal/errs"
)

// Constructor builds a calculator from its parameters.
type Constructor func(params map[string]float64) (indicators.Indicator, error)

// Catalog maps calculator names to constructors. It is passed to NewEngine
// explicitly so tests and callers can register their own.
type Catalog map[string]Constructor

func param(params map[string]float64, key string, def int) int {
	if v, ok := params[key]; ok && v > 0 {
		return int(v)
	}
	return def
}

func fparam(params map[string]float64, key string, def float64) float64 {
	if v, ok := params[key]; ok && v > 0 {
		return v
	}
	return def
}

// DefaultCatalog returns the built-in calculators.
func DefaultCatalog() Catalog {
	return Catalog{
		"ema": func(p map[string]float64) (indicators.Indicator, error) {
			return indicators.NewEMA(param(p, "period", 20)), nil
		},
		"sma": func(p map[string]float64) (indicators.Indicator, error) {
			return indicators.NewSMA(param(p, "period", 20)), nil
		},
		"rsi": func(p map[string]float64) (indicators.Indicator, error) {
			return indicators.NewRSI(param(p, "period", 14)), nil
		},
		"atr": func(p map[string]float64) (indicators.Indicator, error) {
			return indicators.NewATR(param(p, "period", 14)), nil
		},
		"adx": func(p map[string]float64) (indicators.Indicator, error) {
			return indicators.NewADX(param(p, "period", 14)), nil
		},
		"close_return": func(p map[string]float64) (indicators.Indicator, error) {
			return indicators.NewCloseReturn(param(p, "lookback", 1)), nil
		},
		"volatility": func(p map[string]float64) (indicators.Indicator, error) {
			return indicators.NewVolatility(param(p, "window", 20)), nil
		},
		"volatility_score": func(p map[string]float64) (indicators.Indicator, error) {
			return indicators.NewVolatilityScore(param(p, "period", 14)), nil
		},
		"trend_score": func(p map[string]float64) (indicators.Indicator, error) {
			fast, slow := param(p, "fast", 20), param(p, "slow", 50)
			if fast >= slow {
				return nil, errs.Configf("trend_score: fast (%d) must be below slow (%d)", fast, slow)
			}
			return indicators.NewTrendScore(fast, slow, param(p, "atr_period", 14), fparam(p, "scale", 1)), nil
		},
		"range_pct": func(map[string]float64) (indicators.Indicator, error) {
			return indicators.NewRangePct(), nil
		},
	}
}

// Names lists the registered calculators in sorted order.
func (c Catalog) Names() []string {
	out := make([]string, 0, len(c))
	for k := range c {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Build constructs the calculator registered under name.
func (c Catalog) Build(name string, params map[string]float64) (indicators.Indicator, error) {
	ctor, ok := c[name]
	if !ok {
		return nil, errs.Configf("unknown calculator %q (known: %v)", name, c.Names())
	}
	return ctor(params)
}
