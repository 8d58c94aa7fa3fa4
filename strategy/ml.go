package strategy

import (
	"math"
)

// SecondOpinion scores the scaled model-feature vector with a linear model.
// It only acts when an earlier strategy emitted an entry on the same bar.
// Its score never opens a trade: the bridge folds it into the merged entry,
// capping the entry confidence at the score. With veto set an entry scoring
// below threshold is dropped.
type SecondOpinion struct {
	weights   []float64
	bias      float64
	threshold float64
	veto      bool

	prior []Decision
}

func NewSecondOpinion(weights []float64, bias, threshold float64, veto bool) *SecondOpinion {
	if threshold <= 0 || threshold >= 1 {
		threshold = 0.5
	}
	return &SecondOpinion{weights: weights, bias: bias, threshold: threshold, veto: veto}
}

func (s *SecondOpinion) Name() string {
	return "ml_second_opinion"
}

func (s *SecondOpinion) SetPriorDecisions(prior []Decision) {
	s.prior = prior
}

func (s *SecondOpinion) OnBar(ms *MarketState) Decision {
	var entry *Decision
	for i := range s.prior {
		if s.prior[i].Action == ActionEntry {
			entry = &s.prior[i]
			break
		}
	}
	if entry == nil || ms.Features == nil || ms.Features.Model == nil {
		return None()
	}

	z := s.bias
	for i, x := range ms.Features.Model {
		if i < len(s.weights) {
			z += s.weights[i] * x
		}
	}
	score := 1 / (1 + math.Exp(-z))
	if entry.Side == Short {
		score = 1 - score
	}

	d := Decision{Action: ActionManage, Side: entry.Side, Confidence: score, Meta: map[string]any{}}
	d.SetMeta("ml_score", score)
	d.SetMeta("ml_agrees", score >= s.threshold)
	return d
}

// Refine caps the entry confidence at the score for the entry's side and
// records the score in the entry meta.
func (s *SecondOpinion) Refine(entry *Decision, own Decision) {
	score := own.Confidence
	if own.Side != entry.Side {
		score = 1 - score
	}
	agrees := score >= s.threshold
	entry.Confidence = math.Min(entry.Confidence, score)
	entry.SetMeta("ml_score", score)
	entry.SetMeta("ml_agrees", agrees)
	if agrees || !s.veto {
		return
	}

	out := None()
	for k, v := range entry.Meta {
		out.Meta[k] = v
	}
	out.SetMeta("ml_veto", true)
	*entry = out
}

// Noop never trades.
type Noop struct{}

func (Noop) Name() string { return "noop" }

func (Noop) OnBar(*MarketState) Decision { return None() }
