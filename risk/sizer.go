package risk

import (
	"math"

	"github.com/rustyeddy/afts/internal/errs"
)

const (
	SizerAgent  = "agent"
	SizerFixed  = "fixed"
	SizerHybrid = "hybrid"

	CapMinRisk       = "min_risk_pct"
	CapMaxRisk       = "max_risk_pct"
	CapStageMult     = "stage_multiplier"
	CapStageCap      = "stage_cap"
	CapDefaultSLATR  = "default_sl_atr"
	CapNoRiskDist    = "no_risk_distance"
	CapPerTrade      = "per_trade_cap"
	CapDailyCap      = "daily_cap"
	CapAgentFallback = "agent_missing"
)

// SizerConfig percentages are percent of equity (0.5 = 0.5%).
type SizerConfig struct {
	Mode               string  `yaml:"mode" mapstructure:"mode"`
	FixedRiskPct       float64 `yaml:"fixed_risk_pct" mapstructure:"fixed_risk_pct"`
	MinRiskPct         float64 `yaml:"min_risk_pct" mapstructure:"min_risk_pct"`
	MaxRiskPct         float64 `yaml:"max_risk_pct" mapstructure:"max_risk_pct"`
	DefaultSLATRFactor float64 `yaml:"default_sl_atr_factor" mapstructure:"default_sl_atr_factor"`
	PerTradeCapPct     float64 `yaml:"per_trade_cap_pct" mapstructure:"per_trade_cap_pct"`
	DailyRiskCapPct    float64 `yaml:"daily_risk_cap_pct" mapstructure:"daily_risk_cap_pct"`
}

func DefaultSizerConfig() SizerConfig {
	return SizerConfig{
		Mode:               SizerFixed,
		FixedRiskPct:       0.5,
		MinRiskPct:         0.1,
		MaxRiskPct:         2.0,
		DefaultSLATRFactor: 1.5,
		PerTradeCapPct:     2.0,
	}
}

// Validate rejects unknown modes and inverted bounds.
func (c SizerConfig) Validate() error {
	switch c.Mode {
	case SizerAgent, SizerFixed, SizerHybrid:
	default:
		return errs.Configf("sizer: unknown mode %q", c.Mode)
	}
	if c.MaxRiskPct > 0 && c.MinRiskPct > c.MaxRiskPct {
		return errs.Configf("sizer: min_risk_pct %.2f > max_risk_pct %.2f", c.MinRiskPct, c.MaxRiskPct)
	}
	return nil
}

// SizeRequest carries everything the sizer needs for one entry.
type SizeRequest struct {
	EntryPrice  float64
	SLPrice     *float64
	ATR         *float64
	Equity      float64
	AgentRisk   *float64
	DailyPnL    float64
	CostPerUnit float64

	// From the risk decision. A nil multiplier means 1; zero is a freeze.
	StageMultiplier *float64
	StageCap        float64
}

type SizeResult struct {
	Size             float64
	EffectiveRiskPct float64
	RiskDistance     float64
	RiskAmount       float64
	CappedBy         []string
}

// Sizer converts a risk budget and stop distance into a quantity.
type Sizer struct {
	cfg SizerConfig
}

func NewSizer(cfg SizerConfig) *Sizer {
	def := DefaultSizerConfig()
	if cfg.Mode == "" {
		cfg.Mode = def.Mode
	}
	if cfg.DefaultSLATRFactor <= 0 {
		cfg.DefaultSLATRFactor = def.DefaultSLATRFactor
	}
	return &Sizer{cfg: cfg}
}

func (s *Sizer) Config() SizerConfig {
	return s.cfg
}

// Size follows four steps: base risk pct (agent, fixed or hybrid) clamped to
// [min, max] and scaled by the stage; a risk distance from the SL or from
// ATR; a risk amount capped per trade and per day; and a size from the
// per-unit risk. Every rule that tightened the result is listed in CappedBy.
func (s *Sizer) Size(req SizeRequest) SizeResult {
	var res SizeResult
	capBy := func(r string) { res.CappedBy = append(res.CappedBy, r) }

	pct := s.cfg.FixedRiskPct
	switch s.cfg.Mode {
	case SizerAgent:
		if req.AgentRisk != nil {
			pct = *req.AgentRisk
		} else {
			capBy(CapAgentFallback)
		}
	case SizerHybrid:
		if req.AgentRisk != nil {
			pct = (*req.AgentRisk + s.cfg.FixedRiskPct) / 2
		} else {
			capBy(CapAgentFallback)
		}
	}

	if s.cfg.MinRiskPct > 0 && pct < s.cfg.MinRiskPct {
		pct = s.cfg.MinRiskPct
		capBy(CapMinRisk)
	}
	if s.cfg.MaxRiskPct > 0 && pct > s.cfg.MaxRiskPct {
		pct = s.cfg.MaxRiskPct
		capBy(CapMaxRisk)
	}
	if m := req.StageMultiplier; m != nil && *m >= 0 && *m < 1 {
		pct *= *m
		capBy(CapStageMult)
	}
	if req.StageCap > 0 && pct > req.StageCap {
		pct = req.StageCap
		capBy(CapStageCap)
	}

	dist := 0.0
	if req.SLPrice != nil {
		dist = math.Abs(req.EntryPrice - *req.SLPrice)
	}
	if dist <= 0 && req.ATR != nil && *req.ATR > 0 {
		dist = *req.ATR * s.cfg.DefaultSLATRFactor
		capBy(CapDefaultSLATR)
	}
	res.RiskDistance = dist
	if dist <= 0 {
		capBy(CapNoRiskDist)
		return res
	}

	amount := req.Equity * pct / 100
	if s.cfg.PerTradeCapPct > 0 {
		if cap := req.Equity * s.cfg.PerTradeCapPct / 100; amount > cap {
			amount = cap
			capBy(CapPerTrade)
		}
	}
	if s.cfg.DailyRiskCapPct > 0 {
		remaining := req.Equity*s.cfg.DailyRiskCapPct/100 + math.Min(req.DailyPnL, 0)
		if remaining < 0 {
			remaining = 0
		}
		if amount > remaining {
			amount = remaining
			capBy(CapDailyCap)
		}
	}

	cpu := req.CostPerUnit
	if cpu <= 0 {
		cpu = 1
	}
	size := amount / (dist * cpu)
	if size < 0 || math.IsNaN(size) || math.IsInf(size, 0) {
		size = 0
	}
	res.Size = size
	res.RiskAmount = amount
	if req.Equity > 0 {
		res.EffectiveRiskPct = amount / req.Equity * 100
	}
	return res
}
