package rl

import (
	"math"
	"math/rand"

	"github.com/rustyeddy/afts/internal/errs"
	"github.com/rustyeddy/afts/strategy"
)

// RiskAgent proposes a risk percentage for the next entry.
type RiskAgent interface {
	ObsSize() int
	Act(obs []float64) float64
}

// ExitAgent picks one of the discrete exit actions.
type ExitAgent interface {
	ObsSize() int
	Act(obs []float64) strategy.ExitAction
}

// LinearRiskAgent maps σ(w·obs + b) onto [MinRiskPct, MaxRiskPct].
type LinearRiskAgent struct {
	W          []float64
	B          float64
	MinRiskPct float64
	MaxRiskPct float64
	Epsilon    float64
	rng        *rand.Rand
}

func NewLinearRiskAgent(cfg RiskAgentConfig) (*LinearRiskAgent, error) {
	w, b := cfg.Weights, cfg.Bias
	if cfg.WeightsFile != "" {
		var f riskWeights
		if err := readYAML(cfg.WeightsFile, &f); err != nil {
			return nil, err
		}
		w, b = f.Weights, f.Bias
	}
	if len(w) == 0 {
		return nil, errs.Configf("rl: risk agent has no weights")
	}
	return &LinearRiskAgent{
		W:          w,
		B:          b,
		MinRiskPct: cfg.MinRiskPct,
		MaxRiskPct: cfg.MaxRiskPct,
		Epsilon:    cfg.Epsilon,
		rng:        rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

func (a *LinearRiskAgent) ObsSize() int { return len(a.W) }

func (a *LinearRiskAgent) Act(obs []float64) float64 {
	lo, hi := a.MinRiskPct, a.MaxRiskPct
	if a.Epsilon > 0 && a.rng.Float64() < a.Epsilon {
		return lo + a.rng.Float64()*(hi-lo)
	}
	v := lo + sigmoid(dot(a.W, obs)+a.B)*(hi-lo)
	return math.Max(lo, math.Min(hi, v))
}

// LinearExitAgent scores every action with one row of W.
type LinearExitAgent struct {
	W       [][]float64
	B       []float64
	Epsilon float64
	rng     *rand.Rand
}

func NewLinearExitAgent(cfg ExitAgentConfig) (*LinearExitAgent, error) {
	w, b := cfg.Weights, cfg.Bias
	if cfg.WeightsFile != "" {
		var f exitWeights
		if err := readYAML(cfg.WeightsFile, &f); err != nil {
			return nil, err
		}
		w, b = f.Weights, f.Bias
	}
	if len(w) != strategy.NumExitActions {
		return nil, errs.Configf("rl: exit agent needs %d weight rows, got %d", strategy.NumExitActions, len(w))
	}
	for i := 1; i < len(w); i++ {
		if len(w[i]) != len(w[0]) {
			return nil, errs.Configf("rl: exit agent weight rows differ in length")
		}
	}
	if len(b) == 0 {
		b = make([]float64, strategy.NumExitActions)
	}
	if len(b) != strategy.NumExitActions {
		return nil, errs.Configf("rl: exit agent needs %d biases, got %d", strategy.NumExitActions, len(b))
	}
	return &LinearExitAgent{W: w, B: b, Epsilon: cfg.Epsilon, rng: rand.New(rand.NewSource(cfg.Seed))}, nil
}

func (a *LinearExitAgent) ObsSize() int { return len(a.W[0]) }

// Logits returns W·obs + b.
func (a *LinearExitAgent) Logits(obs []float64) []float64 {
	out := make([]float64, len(a.W))
	for i, row := range a.W {
		out[i] = dot(row, obs) + a.B[i]
	}
	return out
}

func (a *LinearExitAgent) Act(obs []float64) strategy.ExitAction {
	if a.Epsilon > 0 && a.rng.Float64() < a.Epsilon {
		return strategy.ExitAction(a.rng.Intn(strategy.NumExitActions))
	}
	best := 0
	logits := a.Logits(obs)
	for i, v := range logits {
		if v > logits[best] {
			best = i
		}
	}
	return strategy.ExitAction(best)
}

func dot(w, x []float64) float64 {
	s := 0.0
	for i := range w {
		if i < len(x) {
			s += w[i] * x[i]
		}
	}
	return s
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
