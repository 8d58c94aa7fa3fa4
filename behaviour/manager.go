package behaviour

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/afts/broker"
	"github.com/rustyeddy/afts/internal/logger"
	"github.com/rustyeddy/afts/market"
)

const (
	ReasonHardBlock = "BEHAVIOUR_HARD_BLOCK"
	ReasonSoftBlock = "BEHAVIOUR_SOFT_BLOCK"
)

// Manager runs the enabled guards over shared daily stats. Stats reset
// when the bar date (UTC) changes.
type Manager struct {
	guards []Guard
	stats  TradeStats
	log    logrus.FieldLogger
}

func NewManager(cfg Config, log logrus.FieldLogger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return NewManagerWith(build(cfg), log), nil
}

// NewManagerWith runs the given guards.
func NewManagerWith(guards []Guard, log logrus.FieldLogger) *Manager {
	return &Manager{guards: guards, log: logger.OrDiscard(log).WithField("component", "behaviour")}
}

func (m *Manager) Stats() TradeStats { return m.stats }

func (m *Manager) Guards() []string {
	names := make([]string, len(m.guards))
	for i, g := range m.guards {
		names[i] = g.Name()
	}
	return names
}

func (m *Manager) roll(ts time.Time) {
	day := market.DayKey(ts)
	if m.stats.Day != day {
		if m.stats.Day != "" {
			m.log.WithFields(logrus.Fields{"from": m.stats.Day, "to": day}).Debug("daily stats reset")
		}
		m.stats = TradeStats{Day: day}
	}
}

// OnTradeClosed records a realised trade result.
func (m *Manager) OnTradeClosed(pnl float64, ts time.Time, acct *broker.Account) {
	m.roll(ts)
	s := &m.stats
	s.TradesClosedToday++
	s.RealizedPnLToday += pnl
	if s.RealizedPnLToday > s.PeakPnLToday {
		s.PeakPnLToday = s.RealizedPnLToday
	}
	s.LastTradePnL = pnl
	if pnl < 0 {
		s.LossesToday++
		s.ConsecutiveLosses++
	} else {
		s.WinsToday++
		s.ConsecutiveLosses = 0
	}
	for _, g := range m.guards {
		g.OnTradeClosed(pnl, ts, s, acct)
	}
}

// BeforeNewOrders aggregates the guards: any hard refusal is a hard block,
// otherwise any refusal is a soft block naming the guards.
func (m *Manager) BeforeNewOrders(ts time.Time, acct *broker.Account) Decision {
	m.roll(ts)
	var hard bool
	var offending []string
	reasons := map[string]any{}
	for _, g := range m.guards {
		d := g.BeforeNewOrders(ts, &m.stats, acct)
		if d.Allow {
			continue
		}
		offending = append(offending, g.Name())
		reasons[g.Name()] = d.Reason
		hard = hard || d.HardBlock
	}
	if len(offending) == 0 {
		return allow()
	}
	out := Decision{
		HardBlock: hard,
		Reason:    ReasonSoftBlock,
		Meta:      map[string]any{"guards": offending, "reasons": reasons},
	}
	if hard {
		out.Reason = ReasonHardBlock
	}
	m.log.WithFields(logrus.Fields{"reason": out.Reason, "guards": offending}).Info("behaviour block")
	return out
}
