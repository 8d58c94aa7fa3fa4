package risk

import (
	"strings"
	"time"

	"github.com/rustyeddy/afts/broker"
	"github.com/rustyeddy/afts/internal/errs"
	"github.com/rustyeddy/afts/market"
)

const (
	ReasonFTMOTotalDD   = "FTMO_TOTAL_DD_HARD_STOP"
	ReasonFTMODailyHard = "FTMO_DAILY_HARD_STOP"
	ReasonFTMODailySoft = "FTMO_DAILY_SOFT_STOP"
	ReasonApexTrailing  = "APEX_TRAILING_DD_HARD_STOP"
	ReasonEquityMaxDD   = "EQUITY_MAX_DD_HARD_STOP"
	ReasonInvalidEquity = "RISK_INVALID_EQUITY"
	PolicyFTMO          = "ftmo"
	PolicyApex          = "apex"
	PolicyEquity        = "equity"
)

// Config is the base policy surface. Percentages are fractions (0.05 = 5%).
type Config struct {
	Type               string  `yaml:"type" mapstructure:"type"`
	InitialBalance     float64 `yaml:"initial_balance" mapstructure:"initial_balance"`
	TotalDDHardStopPct float64 `yaml:"total_dd_hard_stop_pct" mapstructure:"total_dd_hard_stop_pct"`
	DailySoftDDPct     float64 `yaml:"daily_soft_dd_pct" mapstructure:"daily_soft_dd_pct"`
	DailyHardDDPct     float64 `yaml:"daily_hard_dd_pct" mapstructure:"daily_hard_dd_pct"`
	TrailingDDPct      float64 `yaml:"trailing_dd_pct" mapstructure:"trailing_dd_pct"`
	MaxDDPct           float64 `yaml:"max_dd_pct" mapstructure:"max_dd_pct"`
	UseHWM             bool    `yaml:"use_hwm" mapstructure:"use_hwm"`
	IncludeUnrealized  bool    `yaml:"include_unrealized" mapstructure:"include_unrealized"`
}

func DefaultConfig() Config {
	return Config{
		Type:               PolicyFTMO,
		InitialBalance:     100000,
		TotalDDHardStopPct: 0.10,
		DailySoftDDPct:     0.03,
		DailyHardDDPct:     0.05,
		TrailingDDPct:      0.06,
		MaxDDPct:           0.10,
		UseHWM:             true,
		IncludeUnrealized:  true,
	}
}

// Policy is a base drawdown policy.
type Policy interface {
	Name() string
	Evaluate(acct *broker.Account, ts time.Time) Decision
}

// NewPolicy returns the policy selected by cfg.Type.
func NewPolicy(cfg Config) (Policy, error) {
	if cfg.InitialBalance <= 0 {
		return nil, errs.Configf("risk: initial_balance must be > 0")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "", PolicyFTMO:
		return NewFTMO(cfg), nil
	case PolicyApex:
		if cfg.TrailingDDPct <= 0 || cfg.TrailingDDPct >= 1 {
			return nil, errs.Configf("risk: apex trailing_dd_pct must be in (0,1)")
		}
		return NewApex(cfg), nil
	case PolicyEquity:
		if cfg.MaxDDPct <= 0 || cfg.MaxDDPct >= 1 {
			return nil, errs.Configf("risk: equity max_dd_pct must be in (0,1)")
		}
		return NewEquityDD(cfg), nil
	default:
		return nil, errs.Configf("risk: unknown policy type %q", cfg.Type)
	}
}

func equityOf(acct *broker.Account, includeUnrealized bool) float64 {
	if includeUnrealized {
		return acct.Equity
	}
	return acct.Balance + acct.RealizedPnL
}

// FTMO enforces total and daily drawdown caps. Daily start equity resets on
// the first evaluation of each UTC calendar day.
type FTMO struct {
	cfg        Config
	day        string
	dailyStart float64
}

func NewFTMO(cfg Config) *FTMO {
	return &FTMO{cfg: cfg}
}

func (p *FTMO) Name() string { return PolicyFTMO }

// DailyStart returns the equity the current day started with.
func (p *FTMO) DailyStart() float64 { return p.dailyStart }

func (p *FTMO) Evaluate(acct *broker.Account, ts time.Time) Decision {
	d := Allow()
	eq := equityOf(acct, p.cfg.IncludeUnrealized)
	initial := p.cfg.InitialBalance

	if day := market.DayKey(ts); day != p.day {
		p.day = day
		p.dailyStart = eq
	}

	totalDD := (initial - eq) / initial
	softLimit := p.dailyStart - initial*p.cfg.DailySoftDDPct
	hardLimit := p.dailyStart - initial*p.cfg.DailyHardDDPct

	d.setMeta("equity", eq)
	d.setMeta("daily_start_equity", p.dailyStart)
	d.setMeta("total_dd", totalDD)
	d.setMeta("daily_soft_limit", softLimit)
	d.setMeta("daily_hard_limit", hardLimit)

	switch {
	case p.cfg.TotalDDHardStopPct > 0 && totalDD >= p.cfg.TotalDDHardStopPct-market.Epsilon:
		d.hardStop(ReasonFTMOTotalDD, "total drawdown %.4f >= %.4f", totalDD, p.cfg.TotalDDHardStopPct)
	case p.cfg.DailyHardDDPct > 0 && eq <= hardLimit+market.Epsilon:
		d.hardStop(ReasonFTMODailyHard, "equity %.2f <= daily hard limit %.2f", eq, hardLimit)
	case p.cfg.DailySoftDDPct > 0 && eq <= softLimit+market.Epsilon:
		d.block(ReasonFTMODailySoft, "equity %.2f <= daily soft limit %.2f", eq, softLimit)
	}
	return d
}

// Apex hard-stops when equity falls below its trailing all-time high by
// TrailingDDPct.
type Apex struct {
	cfg Config
	ath float64
}

func NewApex(cfg Config) *Apex {
	return &Apex{cfg: cfg, ath: cfg.InitialBalance}
}

func (p *Apex) Name() string { return PolicyApex }

func (p *Apex) Evaluate(acct *broker.Account, _ time.Time) Decision {
	d := Allow()
	eq := equityOf(acct, p.cfg.IncludeUnrealized)
	if eq > p.ath {
		p.ath = eq
	}
	floor := p.ath * (1 - p.cfg.TrailingDDPct)
	d.setMeta("ath", p.ath)
	d.setMeta("floor", floor)
	if eq < floor {
		d.hardStop(ReasonApexTrailing, "equity %.2f < trailing floor %.2f", eq, floor)
	}
	return d
}

// EquityDD hard-stops when drawdown from the high-water mark (or the
// initial balance) reaches MaxDDPct.
type EquityDD struct {
	cfg Config
	hwm float64
}

func NewEquityDD(cfg Config) *EquityDD {
	return &EquityDD{cfg: cfg, hwm: cfg.InitialBalance}
}

func (p *EquityDD) Name() string { return PolicyEquity }

func (p *EquityDD) Evaluate(acct *broker.Account, _ time.Time) Decision {
	d := Allow()
	eq := equityOf(acct, p.cfg.IncludeUnrealized)
	if eq > p.hwm {
		p.hwm = eq
	}
	ref := p.cfg.InitialBalance
	if p.cfg.UseHWM {
		ref = p.hwm
	}
	if ref <= 0 {
		d.hardStop(ReasonInvalidEquity, "reference equity %.2f", ref)
		return d
	}
	dd := (ref - eq) / ref
	d.setMeta("dd", dd)
	d.setMeta("ref_equity", ref)
	if dd >= p.cfg.MaxDDPct-market.Epsilon {
		d.hardStop(ReasonEquityMaxDD, "drawdown %.4f >= %.4f", dd, p.cfg.MaxDDPct)
	}
	return d
}
