package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func f(v float64) *float64 { return &v }

func TestSizerAgentRiskScalesSize(t *testing.T) {
	s := NewSizer(SizerConfig{Mode: SizerAgent, MinRiskPct: 0.1, MaxRiskPct: 2.0, PerTradeCapPct: 2.0})
	req := SizeRequest{EntryPrice: 100, SLPrice: f(99), Equity: 10000, CostPerUnit: 1}

	req.AgentRisk = f(2.0)
	hi := s.Size(req)
	req.AgentRisk = f(1.0)
	lo := s.Size(req)

	assert.InDelta(t, 200, hi.Size, 1e-9)
	assert.InDelta(t, 100, lo.Size, 1e-9)
	assert.InDelta(t, 2*lo.Size, hi.Size, 1e-9)
	capUnits := 10000 * 2.0 / 100 / 1
	assert.LessOrEqual(t, hi.Size, capUnits)
	assert.Empty(t, hi.CappedBy)
	assert.InDelta(t, 2.0, hi.EffectiveRiskPct, 1e-9)
}

func TestSizerCaps(t *testing.T) {
	base := SizeRequest{EntryPrice: 100, SLPrice: f(99), Equity: 10000, CostPerUnit: 1}

	cases := []struct {
		name     string
		cfg      SizerConfig
		mutate   func(r *SizeRequest)
		wantSize float64
		wantCaps []string
	}{
		{
			name:     "fixed",
			cfg:      DefaultSizerConfig(),
			wantSize: 50,
		},
		{
			name:     "agent clamped to max",
			cfg:      SizerConfig{Mode: SizerAgent, MinRiskPct: 0.1, MaxRiskPct: 1.0},
			mutate:   func(r *SizeRequest) { r.AgentRisk = f(5) },
			wantSize: 100,
			wantCaps: []string{CapMaxRisk},
		},
		{
			name:     "agent clamped to min",
			cfg:      SizerConfig{Mode: SizerAgent, MinRiskPct: 0.5, MaxRiskPct: 1.0},
			mutate:   func(r *SizeRequest) { r.AgentRisk = f(0.01) },
			wantSize: 50,
			wantCaps: []string{CapMinRisk},
		},
		{
			name:     "agent missing falls back to fixed",
			cfg:      SizerConfig{Mode: SizerAgent, FixedRiskPct: 0.5},
			wantSize: 50,
			wantCaps: []string{CapAgentFallback},
		},
		{
			name:     "hybrid averages",
			cfg:      SizerConfig{Mode: SizerHybrid, FixedRiskPct: 0.5},
			mutate:   func(r *SizeRequest) { r.AgentRisk = f(1.5) },
			wantSize: 100,
		},
		{
			name:     "stage multiplier and cap",
			cfg:      SizerConfig{Mode: SizerFixed, FixedRiskPct: 2.0},
			mutate:   func(r *SizeRequest) { r.StageMultiplier = f(0.5); r.StageCap = 0.75 },
			wantSize: 75,
			wantCaps: []string{CapStageMult, CapStageCap},
		},
		{
			name:     "freeze stage",
			cfg:      SizerConfig{Mode: SizerFixed, FixedRiskPct: 1.0},
			mutate:   func(r *SizeRequest) { r.StageMultiplier = f(0) },
			wantSize: 0,
			wantCaps: []string{CapStageMult},
		},
		{
			name:     "atr fallback distance",
			cfg:      SizerConfig{Mode: SizerFixed, FixedRiskPct: 1.0, DefaultSLATRFactor: 2},
			mutate:   func(r *SizeRequest) { r.SLPrice = nil; r.ATR = f(0.5) },
			wantSize: 100,
			wantCaps: []string{CapDefaultSLATR},
		},
		{
			name:     "no distance",
			cfg:      SizerConfig{Mode: SizerFixed, FixedRiskPct: 1.0},
			mutate:   func(r *SizeRequest) { r.SLPrice = nil },
			wantSize: 0,
			wantCaps: []string{CapNoRiskDist},
		},
		{
			name:     "per trade cap",
			cfg:      SizerConfig{Mode: SizerFixed, FixedRiskPct: 3.0, PerTradeCapPct: 1.0},
			wantSize: 100,
			wantCaps: []string{CapPerTrade},
		},
		{
			name:     "daily cap consumed by losses",
			cfg:      SizerConfig{Mode: SizerFixed, FixedRiskPct: 1.0, DailyRiskCapPct: 2.0},
			mutate:   func(r *SizeRequest) { r.DailyPnL = -150 },
			wantSize: 50,
			wantCaps: []string{CapDailyCap},
		},
		{
			name:     "cost per unit",
			cfg:      SizerConfig{Mode: SizerFixed, FixedRiskPct: 1.0},
			mutate:   func(r *SizeRequest) { r.CostPerUnit = 10 },
			wantSize: 10,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := base
			if tc.mutate != nil {
				tc.mutate(&req)
			}
			got := NewSizer(tc.cfg).Size(req)
			assert.InDelta(t, tc.wantSize, got.Size, 1e-9)
			assert.Equal(t, tc.wantCaps, got.CappedBy)
		})
	}
}

func TestSizerConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultSizerConfig().Validate())
	assert.Error(t, SizerConfig{Mode: "kelly"}.Validate())
	assert.Error(t, SizerConfig{Mode: SizerFixed, MinRiskPct: 3, MaxRiskPct: 1}.Validate())
}
