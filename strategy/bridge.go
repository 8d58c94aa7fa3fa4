package strategy

import (
	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/afts/internal/logger"
)

var priority = map[Action]int{
	ActionEntry:  0,
	ActionManage: 1,
	ActionExit:   2,
	ActionNone:   3,
}

// Trace is one strategy's vote, recorded under Meta["strategies"].
type Trace struct {
	Name       string  `json:"name"`
	Action     Action  `json:"action"`
	Side       Side    `json:"side,omitempty"`
	Confidence float64 `json:"confidence"`
}

// Bridge runs strategies in configured order and merges their decisions.
type Bridge struct {
	strategies []Strategy
	log        logrus.FieldLogger
}

func NewBridge(strategies []Strategy, log logrus.FieldLogger) *Bridge {
	return &Bridge{
		strategies: strategies,
		log:        logger.OrDiscard(log).WithField("component", "strategy-bridge"),
	}
}

func (b *Bridge) Strategies() []Strategy {
	return b.strategies
}

// Decide runs every strategy for ms and returns the merged decision.
func (b *Bridge) Decide(ms *MarketState) Decision {
	decisions := make([]Decision, 0, len(b.strategies))
	trace := make([]Trace, 0, len(b.strategies))
	type refinement struct {
		r Refiner
		d Decision
	}
	var refiners []refinement
	for _, s := range b.strategies {
		if pa, ok := s.(PriorDecisionsAware); ok {
			pa.SetPriorDecisions(decisions)
		}
		d := s.OnBar(ms)
		if d.Action == "" {
			d.Action = ActionNone
		}
		d.SetMeta("strategy", s.Name())
		trace = append(trace, Trace{Name: s.Name(), Action: d.Action, Side: d.Side, Confidence: d.Confidence})
		if r, ok := s.(Refiner); ok {
			refiners = append(refiners, refinement{r, d})
			continue
		}
		decisions = append(decisions, d)
	}

	merged := Merge(decisions)
	for _, rf := range refiners {
		if merged.Action != ActionEntry {
			break
		}
		if rf.d.Action != ActionNone {
			rf.r.Refine(&merged, rf.d)
		}
	}
	merged.SetMeta("strategies", trace)
	if merged.Action != ActionNone {
		b.log.WithFields(logrus.Fields{
			"time":       ms.Bar.Time,
			"action":     merged.Action,
			"side":       merged.Side,
			"confidence": merged.Confidence,
		}).Debug("strategy decision")
	}
	return merged
}

// Placed reports an entry that produced orders to the strategy that
// emitted it.
func (b *Bridge) Placed(d Decision) {
	name, _ := d.Meta["strategy"].(string)
	for _, s := range b.strategies {
		if s.Name() != name {
			continue
		}
		if l, ok := s.(EntryListener); ok {
			l.OnEntryPlaced(d)
		}
		return
	}
}

// Merge picks the highest-priority action (entry, manage, exit, none) and,
// among those, the highest confidence; ties keep the earlier strategy. When
// nothing acts a fresh none is returned carrying the merged meta.
func Merge(decisions []Decision) Decision {
	if len(decisions) == 0 {
		return None()
	}

	best := -1
	for i, d := range decisions {
		if best < 0 {
			best = i
			continue
		}
		pb, pd := priority[decisions[best].Action], priority[d.Action]
		if pd < pb || (pd == pb && d.Confidence > decisions[best].Confidence) {
			best = i
		}
	}

	if decisions[best].Action == ActionNone {
		out := None()
		for _, d := range decisions {
			for k, v := range d.Meta {
				out.Meta[k] = v
			}
		}
		return out
	}

	out := decisions[best]
	meta := make(map[string]any, len(out.Meta))
	for k, v := range out.Meta {
		meta[k] = v
	}
	out.Meta = meta
	return out
}
