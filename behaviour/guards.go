package behaviour

import (
	"fmt"
	"math"
	"time"

	"github.com/rustyeddy/afts/broker"
	"github.com/rustyeddy/afts/market"
)

// TradeStats is the daily tally shared by every guard.
type TradeStats struct {
	Day               string
	TradesClosedToday int
	ConsecutiveLosses int
	RealizedPnLToday  float64
	PeakPnLToday      float64
	WinsToday         int
	LossesToday       int
	LastTradePnL      float64
}

// Decision is one guard's verdict.
type Decision struct {
	Allow     bool
	HardBlock bool
	Reason    string
	Meta      map[string]any
}

func allow() Decision { return Decision{Allow: true} }

func refuse(cfg GuardConfig, format string, args ...any) Decision {
	return Decision{HardBlock: cfg.Hard, Reason: fmt.Sprintf(format, args...)}
}

type Guard interface {
	Name() string
	OnTradeClosed(pnl float64, ts time.Time, stats *TradeStats, acct *broker.Account)
	BeforeNewOrders(ts time.Time, stats *TradeStats, acct *broker.Account) Decision
}

type statsOnly struct{}

func (statsOnly) OnTradeClosed(float64, time.Time, *TradeStats, *broker.Account) {}

type maxTrades struct {
	statsOnly
	cfg MaxTradesConfig
}

func (g *maxTrades) Name() string { return "max_trades_per_day" }

func (g *maxTrades) BeforeNewOrders(_ time.Time, s *TradeStats, _ *broker.Account) Decision {
	if s.TradesClosedToday >= g.cfg.Max {
		return refuse(g.cfg.GuardConfig, "%d trades closed today, max %d", s.TradesClosedToday, g.cfg.Max)
	}
	return allow()
}

type consecLosses struct {
	statsOnly
	cfg MaxTradesConfig
}

func (g *consecLosses) Name() string { return "max_consecutive_losses" }

func (g *consecLosses) BeforeNewOrders(_ time.Time, s *TradeStats, _ *broker.Account) Decision {
	if s.ConsecutiveLosses >= g.cfg.Max {
		return refuse(g.cfg.GuardConfig, "%d consecutive losses, max %d", s.ConsecutiveLosses, g.cfg.Max)
	}
	return allow()
}

// cooldown blocks for a fixed time after a losing trade. bigLoss reuses it
// with a size threshold.
type cooldown struct {
	name     string
	cfg      GuardConfig
	minutes  int
	minLoss  float64
	until    time.Time
	lastLoss float64
}

func (g *cooldown) Name() string { return g.name }

func (g *cooldown) OnTradeClosed(pnl float64, ts time.Time, _ *TradeStats, _ *broker.Account) {
	if pnl >= 0 || -pnl < g.minLoss {
		return
	}
	g.lastLoss = pnl
	g.until = ts.Add(time.Duration(g.minutes) * time.Minute)
}

func (g *cooldown) BeforeNewOrders(ts time.Time, _ *TradeStats, _ *broker.Account) Decision {
	if ts.Before(g.until) {
		d := refuse(g.cfg, "cooling down until %s after loss %.2f", g.until.Format(time.RFC3339), g.lastLoss)
		d.Meta = map[string]any{"until": g.until}
		return d
	}
	return allow()
}

type dailyPnL struct {
	statsOnly
	cfg     DailyPnLConfig
	initial float64
}

func (g *dailyPnL) Name() string { return "daily_pnl" }

func (g *dailyPnL) BeforeNewOrders(_ time.Time, s *TradeStats, _ *broker.Account) Decision {
	if g.cfg.MaxLossPct > 0 && s.RealizedPnLToday <= -g.cfg.MaxLossPct*g.initial {
		return refuse(g.cfg.GuardConfig, "daily realised loss %.2f beyond %.2f", s.RealizedPnLToday, g.cfg.MaxLossPct*g.initial)
	}
	if g.cfg.LockProfitPct > 0 && s.PeakPnLToday >= g.cfg.LockProfitPct*g.initial {
		floor := s.PeakPnLToday * (1 - g.cfg.GivebackFraction)
		if s.RealizedPnLToday < floor {
			return refuse(g.cfg.GuardConfig, "profit lock: %.2f below floor %.2f", s.RealizedPnLToday, floor)
		}
	}
	return allow()
}

type profitTarget struct {
	statsOnly
	cfg     ProfitTargetConfig
	initial float64
}

func (g *profitTarget) Name() string { return "daily_profit_target" }

func (g *profitTarget) BeforeNewOrders(_ time.Time, s *TradeStats, _ *broker.Account) Decision {
	if target := g.cfg.TargetPct * g.initial; s.RealizedPnLToday >= target {
		return refuse(g.cfg.GuardConfig, "daily target %.2f reached (%.2f)", target, s.RealizedPnLToday)
	}
	return allow()
}

type maxOpen struct {
	statsOnly
	cfg MaxTradesConfig
}

func (g *maxOpen) Name() string { return "max_open_positions" }

func (g *maxOpen) BeforeNewOrders(_ time.Time, _ *TradeStats, acct *broker.Account) Decision {
	if n := len(acct.Positions); n >= g.cfg.Max {
		return refuse(g.cfg.GuardConfig, "%d positions open, max %d", n, g.cfg.Max)
	}
	return allow()
}

type sessions struct {
	statsOnly
	cfg SessionConfig
}

func (g *sessions) Name() string { return "session_windows" }

func (g *sessions) BeforeNewOrders(ts time.Time, _ *TradeStats, _ *broker.Account) Decision {
	if _, ok := market.AnyContains(g.cfg.Windows, ts); !ok {
		return refuse(g.cfg.GuardConfig, "%s outside trading sessions", ts.UTC().Format("Mon 15:04"))
	}
	return allow()
}

// build returns the enabled guards in a fixed order.
func build(cfg Config) []Guard {
	var gs []Guard
	if cfg.MaxTradesPerDay.Enabled {
		gs = append(gs, &maxTrades{cfg: cfg.MaxTradesPerDay})
	}
	if cfg.MaxConsecLosses.Enabled {
		gs = append(gs, &consecLosses{cfg: cfg.MaxConsecLosses})
	}
	if c := cfg.CooldownAfterLoss; c.Enabled {
		gs = append(gs, &cooldown{name: "cooldown_after_loss", cfg: c.GuardConfig, minutes: c.Minutes})
	}
	if cfg.DailyPnL.Enabled {
		gs = append(gs, &dailyPnL{cfg: cfg.DailyPnL, initial: cfg.InitialBalance})
	}
	if cfg.DailyProfitTarget.Enabled {
		gs = append(gs, &profitTarget{cfg: cfg.DailyProfitTarget, initial: cfg.InitialBalance})
	}
	if cfg.MaxOpenPositions.Enabled {
		gs = append(gs, &maxOpen{cfg: cfg.MaxOpenPositions})
	}
	if cfg.SessionWindows.Enabled {
		gs = append(gs, &sessions{cfg: cfg.SessionWindows})
	}
	if c := cfg.BigLossCooldown; c.Enabled {
		gs = append(gs, &cooldown{
			name:    "big_loss_cooldown",
			cfg:     c.GuardConfig,
			minutes: c.Minutes,
			minLoss: math.Max(c.LossPct*cfg.InitialBalance, 0),
		})
	}
	return gs
}
