// Package features turns bars into per-bar feature bundles: raw calculator
// values plus an optional ordered, scaled model vector.
package features

import (
	"math"

	"github.com/rustyeddy/afts/indicators"
	"github.com/rustyeddy/afts/internal/errs"
	"github.com/rustyeddy/afts/market"
)

// Bundle is the feature output for one bar. A name missing from Raw means
// its calculator is still warming up.
type Bundle struct {
	Raw map[string]float64
	// Model is nil unless model features are enabled and all are ready.
	Model  []float64
	Extras map[string]map[string]float64
}

// Get returns a raw feature and whether it is ready.
func (b *Bundle) Get(name string) (float64, bool) {
	if b == nil {
		return 0, false
	}
	v, ok := b.Raw[name]
	return v, ok
}

type calc struct {
	name string
	ind  indicators.Indicator
}

type scaler func(name string, v float64) float64

// Engine owns one stateful calculator per configured feature.
type Engine struct {
	calcs []calc
	model ModelFeatures
	scale scaler
}

// NewEngine validates cfg against catalog. Unknown calculators, duplicate
// names, unknown model features and missing scaling parameters are config
// errors.
func NewEngine(cfg Config, catalog Catalog) (*Engine, error) {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	e := &Engine{model: cfg.ModelFeatures}

	seen := make(map[string]bool)
	for _, rf := range cfg.RawFeatures {
		if rf.Name == "" {
			rf.Name = rf.Calculator
		}
		if seen[rf.Name] {
			return nil, errs.Configf("duplicate feature %q", rf.Name)
		}
		seen[rf.Name] = true
		ind, err := catalog.Build(rf.Calculator, rf.Params)
		if err != nil {
			return nil, err
		}
		e.calcs = append(e.calcs, calc{name: rf.Name, ind: ind})
	}

	if !cfg.ModelFeatures.Enabled {
		return e, nil
	}
	if len(cfg.ModelFeatures.FeatureOrder) == 0 {
		return nil, errs.Configf("model_features enabled with empty feature_order")
	}
	for _, name := range cfg.ModelFeatures.FeatureOrder {
		if !seen[name] {
			return nil, errs.Configf("model feature %q is not a configured raw feature", name)
		}
	}
	sc, err := newScaler(cfg.ModelFeatures.Scaling, cfg.ModelFeatures.FeatureOrder)
	if err != nil {
		return nil, err
	}
	e.scale = sc
	return e, nil
}

func newScaler(s Scaling, order []string) (scaler, error) {
	switch s.Type {
	case "", "none":
		return func(_ string, v float64) float64 { return v }, nil
	case "zscore":
		for _, name := range order {
			p, ok := s.Params[name]
			if !ok {
				return nil, errs.Configf("zscore: missing params for %q", name)
			}
			if p.Std <= 0 {
				return nil, errs.Configf("zscore: std for %q must be > 0", name)
			}
		}
		return func(name string, v float64) float64 {
			p := s.Params[name]
			return (v - p.Mean) / p.Std
		}, nil
	case "minmax":
		for _, name := range order {
			p, ok := s.Params[name]
			if !ok {
				return nil, errs.Configf("minmax: missing params for %q", name)
			}
			if p.Max <= p.Min {
				return nil, errs.Configf("minmax: max must exceed min for %q", name)
			}
		}
		return func(name string, v float64) float64 {
			p := s.Params[name]
			x := (v - p.Min) / (p.Max - p.Min)
			return math.Max(0, math.Min(1, x))
		}, nil
	default:
		return nil, errs.Configf("unknown scaling type %q", s.Type)
	}
}

// Names returns the configured feature names in order.
func (e *Engine) Names() []string {
	out := make([]string, len(e.calcs))
	for i, c := range e.calcs {
		out[i] = c.name
	}
	return out
}

// Update feeds b to every calculator and assembles the bundle.
func (e *Engine) Update(b market.Bar) *Bundle {
	bundle := &Bundle{Raw: make(map[string]float64, len(e.calcs))}
	for _, c := range e.calcs {
		c.ind.Update(b)
		if v := indicators.Current(c.ind); v != nil {
			bundle.Raw[c.name] = *v
		}
	}

	if !e.model.Enabled {
		return bundle
	}
	vec := make([]float64, 0, len(e.model.FeatureOrder))
	for _, name := range e.model.FeatureOrder {
		v, ok := bundle.Raw[name]
		if !ok {
			return bundle
		}
		vec = append(vec, e.scale(name, v))
	}
	bundle.Model = vec
	return bundle
}

// Reset clears all calculator state.
func (e *Engine) Reset() {
	for _, c := range e.calcs {
		c.ind.Reset()
	}
}
