package rl

import (
	"math"

	"github.com/rustyeddy/afts/broker"
	"github.com/rustyeddy/afts/features"
	"github.com/rustyeddy/afts/risk"
)

// ObsInput is the per-bar state an observation is built from.
type ObsInput struct {
	Features       *features.Bundle
	Position       *broker.Position
	Equity         float64
	InitialBalance float64
	PeakEquity     float64
	Plus           risk.PlusState
}

// ObservationBuilder concatenates raw features, a position block, a PnL
// block and the FTMO-plus block into one vector.
type ObservationBuilder struct {
	raw []string
	cfg ObsConfig
}

func NewObservationBuilder(raw []string, cfg ObsConfig) *ObservationBuilder {
	return &ObservationBuilder{raw: raw, cfg: cfg}
}

// Size is the length of the unpadded vector.
func (b *ObservationBuilder) Size() int {
	return len(b.raw) + 3 + 2 + 9 + b.cfg.NumSessions + 7
}

// Build returns the observation vector. Missing raw features are 0.
func (b *ObservationBuilder) Build(in ObsInput) []float64 {
	out := make([]float64, 0, b.Size())
	for _, name := range b.raw {
		v, _ := in.Features.Get(name)
		out = append(out, v)
	}

	side, qty, upnl := 0.0, 0.0, 0.0
	if p := in.Position; p != nil {
		side = p.Side.Sign()
		qty = scaled(p.Qty, b.cfg.QtyScale)
		upnl = scaled(p.UnrealizedPnL, in.Equity*b.cfg.LossScale)
	}
	out = append(out, side, qty, upnl)

	eq, dd := 0.0, 0.0
	if in.InitialBalance > 0 {
		eq = clip(in.Equity/in.InitialBalance - 1)
	}
	if in.PeakEquity > 0 {
		dd = scaled((in.PeakEquity-in.Equity)/in.PeakEquity, b.cfg.LossScale)
	}
	out = append(out, eq, dd)

	st := in.Plus
	out = append(out,
		scaled(st.DailyLossPct, b.cfg.LossScale),
		scaled(st.OverallLossPct, b.cfg.LossScale),
		clip(float64(st.Stage)/2),
	)
	for i := 0; i < 3; i++ {
		out = append(out, flag(st.Stage == i))
	}
	out = append(out,
		scaled(st.RollingLossPct, b.cfg.LossScale),
		scaled(st.LossVelocity, b.cfg.VelocityScale),
		clip(st.ProfitProgress),
	)
	for i := 0; i < b.cfg.NumSessions; i++ {
		out = append(out, flag(st.SessionIndex == i))
	}
	out = append(out,
		flag(st.NewsFlag),
		flag(st.TimeFenceFlag),
		scaled(st.Spread, b.cfg.SpreadScale),
		clip((st.PF-1)/2),
		clip(2*st.Winrate-1),
		scaled(st.PnLStd, in.Equity*b.cfg.LossScale),
		flag(st.CircuitFlag),
	)
	return sanitize(out)
}

// Fit zero-pads or truncates obs to n.
func Fit(obs []float64, n int) []float64 {
	out := make([]float64, n)
	copy(out, obs)
	return out
}

func sanitize(v []float64) []float64 {
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			v[i] = 0
		}
	}
	return v
}

func scaled(v, scale float64) float64 {
	if scale <= 0 {
		return 0
	}
	return clip(v / scale)
}

func clip(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}

func flag(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
