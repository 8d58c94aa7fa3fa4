package risk

import (
	"testing"
	"time"

	"github.com/rustyeddy/afts/broker"
	"github.com/rustyeddy/afts/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bare() PlusConfig {
	return PlusConfig{Enabled: true}
}

func in(eq float64, ts time.Time) Input {
	return Input{Account: acctAt(eq), Time: ts}
}

func TestPlusRollingDrawdown(t *testing.T) {
	cfg := bare()
	cfg.RollingDD = RollingDDConfig{Enabled: true, WindowMinutes: 60, MaxDDPct: 0.01}
	e := NewPlusEngine(cfg, 100000)

	assert.True(t, e.Evaluate(in(101000, day1)).AllowNewOrders)
	d := e.Evaluate(in(99900, day1.Add(30*time.Minute)))
	assert.False(t, d.AllowNewOrders)
	assert.Equal(t, ReasonRollingDD, d.Reason)
	assert.Contains(t, d.Meta, "rolling_dd")

	// the peak has left the window
	d = e.Evaluate(in(99900, day1.Add(2*time.Hour)))
	assert.True(t, d.AllowNewOrders)
}

func TestPlusLossVelocity(t *testing.T) {
	cfg := bare()
	cfg.Velocity = VelocityConfig{Enabled: true, WindowMinutes: 60, MaxPctPerHour: 0.01}
	e := NewPlusEngine(cfg, 100000)

	e.Evaluate(in(100000, day1))
	d := e.Evaluate(in(99500, day1.Add(30*time.Minute)))
	assert.True(t, d.AllowNewOrders, "0.5%% over a 1h window")
	d = e.Evaluate(in(98900, day1.Add(60*time.Minute)))
	assert.Equal(t, ReasonLossVelocity, d.Reason)
	assert.InDelta(t, 0.011, e.State().LossVelocity, 1e-9)
}

func TestPlusStageHysteresis(t *testing.T) {
	cfg := bare()
	cfg.Stage = StageConfig{
		Enabled:          true,
		ReducedAtLossPct: 0.02,
		FreezeAtLossPct:  0.04,
		MinTradesBetween: 2,
		CooldownMinutes:  30,
	}
	e := NewPlusEngine(cfg, 100000)

	d := e.Evaluate(in(100000, day1))
	assert.Equal(t, 0, d.Stage)
	assert.Equal(t, 1.0, d.StageMultiplier)

	// escalation is immediate and may skip a stage
	d = e.Evaluate(in(95500, day1.Add(time.Minute)))
	assert.Equal(t, 2, d.Stage)
	assert.Equal(t, 0.0, d.StageMultiplier)
	assert.Equal(t, ReasonStageFreeze, d.Reason)

	// recovery alone does not de-escalate
	d = e.Evaluate(in(99000, day1.Add(2*time.Hour)))
	assert.Equal(t, 2, d.Stage)

	e.OnTradeClosed(10, day1)
	e.OnTradeClosed(10, day1)
	d = e.Evaluate(in(99000, day1.Add(3*time.Hour)))
	assert.Equal(t, 1, d.Stage, "one step down per change")
	assert.Equal(t, 0.5, d.StageMultiplier)
	assert.Equal(t, 1.0, d.StageCap)
	assert.True(t, d.AllowNewOrders)

	// counter resets after a change
	d = e.Evaluate(in(99500, day1.Add(4*time.Hour)))
	assert.Equal(t, 1, d.Stage)
}

func TestPlusCircuitBreaker(t *testing.T) {
	cfg := bare()
	cfg.Circuit = CircuitConfig{Enabled: true, InstantLossPct: 0.01, MaxSlippagePct: 0.002, FreezeMinutes: 30}
	e := NewPlusEngine(cfg, 100000)

	e.Evaluate(in(100000, day1))
	d := e.Evaluate(in(98500, day1.Add(time.Minute)))
	assert.True(t, d.ForceFlatten)
	assert.Equal(t, true, d.Meta["force_flatten"])
	assert.False(t, d.AllowNewOrders)
	assert.False(t, d.HardStopTrading)
	assert.Equal(t, day1.Add(31*time.Minute), e.FreezeUntil())

	d = e.Evaluate(in(98500, day1.Add(10*time.Minute)))
	assert.False(t, d.ForceFlatten)
	assert.Equal(t, ReasonCircuitBreaker, d.Reason)
	assert.True(t, e.State().CircuitFlag)

	d = e.Evaluate(in(98500, day1.Add(31*time.Minute)))
	assert.True(t, d.AllowNewOrders)

	slip := in(98500, day1.Add(40*time.Minute))
	slip.SlippagePct = 0.003
	d = e.Evaluate(slip)
	assert.True(t, d.ForceFlatten)
}

func TestPlusWindowsAndLimits(t *testing.T) {
	t.Run("news", func(t *testing.T) {
		cfg := bare()
		cfg.News = NewsConfig{Enabled: true, BeforeMinutes: 10, AfterMinutes: 5,
			Events: []NewsEvent{{Time: day1.Add(time.Hour), Label: "NFP"}}}
		e := NewPlusEngine(cfg, 100000)
		assert.True(t, e.Evaluate(in(100000, day1.Add(49*time.Minute))).AllowNewOrders)
		d := e.Evaluate(in(100000, day1.Add(50*time.Minute)))
		assert.Equal(t, ReasonNews, d.Reason)
		assert.True(t, e.State().NewsFlag)
		assert.True(t, e.Evaluate(in(100000, day1.Add(66*time.Minute))).AllowNewOrders)
	})

	t.Run("time fence", func(t *testing.T) {
		cfg := bare()
		cfg.TimeFence = TimeFenceConfig{Enabled: true,
			Allow: []market.TimeWindow{{Start: "07:00", End: "17:00"}},
			Block: []market.TimeWindow{{Name: "lunch", Start: "12:00", End: "13:00"}},
		}
		e := NewPlusEngine(cfg, 100000)
		assert.True(t, e.Evaluate(in(100000, day1)).AllowNewOrders)
		assert.Equal(t, ReasonTimeFence, e.Evaluate(in(100000, day1.Add(3*time.Hour))).Reason)
		assert.Equal(t, ReasonTimeFence, e.Evaluate(in(100000, day1.Add(10*time.Hour))).Reason)
	})

	t.Run("exposure and spread", func(t *testing.T) {
		cfg := bare()
		cfg.Exposure = ExposureConfig{Enabled: true, MaxConcurrentTrades: 1, MaxTotalRiskPct: 2}
		cfg.Spread = SpreadConfig{Enabled: true, MaxSpread: 0.0003}
		e := NewPlusEngine(cfg, 100000)

		x := in(100000, day1)
		x.Spread = 0.0005
		assert.Equal(t, ReasonSpread, e.Evaluate(x).Reason)

		x = in(100000, day1)
		x.OpenRiskPct = 2.5
		assert.Equal(t, ReasonExposure, e.Evaluate(x).Reason)

		x = in(100000, day1)
		x.Account.Positions["EUR_USD"] = &broker.Position{Symbol: "EUR_USD", Side: broker.Long, Qty: 1}
		assert.Equal(t, ReasonExposure, e.Evaluate(x).Reason)
	})

	t.Run("session drawdown", func(t *testing.T) {
		cfg := bare()
		cfg.Session = SessionConfig{Enabled: true, Sessions: []SessionLimit{
			{Window: market.TimeWindow{Name: "london", Start: "08:00", End: "12:00"}, MaxDDPct: 0.01},
		}}
		e := NewPlusEngine(cfg, 100000)
		e.Evaluate(in(100000, day1))
		assert.Equal(t, 0, e.State().SessionIndex)
		d := e.Evaluate(in(98900, day1.Add(time.Hour)))
		assert.Equal(t, ReasonSessionDD, d.Reason)
		e.Evaluate(in(98900, day1.Add(4*time.Hour)))
		assert.Equal(t, -1, e.State().SessionIndex)
	})
}

func TestPlusProfitLock(t *testing.T) {
	cfg := bare()
	cfg.ProfitLock = ProfitLockConfig{Enabled: true, TargetPct: 0.10, SoftFraction: 0.8}
	e := NewPlusEngine(cfg, 100000)

	assert.True(t, e.Evaluate(in(105000, day1)).AllowNewOrders)
	d := e.Evaluate(in(108500, day1))
	assert.Equal(t, ReasonProfitSoftLock, d.Reason)
	assert.False(t, d.ForceFlatten)

	x := in(110000, day1)
	x.Account.Positions["EUR_USD"] = &broker.Position{Symbol: "EUR_USD", Side: broker.Long, Qty: 1}
	d = e.Evaluate(x)
	assert.Equal(t, ReasonProfitHardLock, d.Reason)
	assert.True(t, d.ForceFlatten)

	// the hard lock is sticky
	d = e.Evaluate(in(104000, day1))
	assert.Equal(t, ReasonProfitHardLock, d.Reason)
	assert.False(t, d.ForceFlatten, "nothing left to flatten")
}

func TestPlusStability(t *testing.T) {
	cfg := bare()
	cfg.Stability = StabilityConfig{Enabled: true, Window: 10, MinTrades: 4, MinPF: 1.0, MinWinrate: 0.3}
	e := NewPlusEngine(cfg, 100000)
	for _, p := range []float64{-10, -10, 5} {
		e.OnTradeClosed(p, day1)
	}
	assert.True(t, e.Evaluate(in(100000, day1)).AllowNewOrders, "not enough trades")

	e.OnTradeClosed(-10, day1)
	d := e.Evaluate(in(100000, day1))
	assert.Equal(t, ReasonStability, d.Reason)
	require.Contains(t, d.Meta, "stability")
	assert.InDelta(t, 5.0/30, e.State().PF, 1e-9)
	assert.InDelta(t, 0.25, e.State().Winrate, 1e-9)
}

func TestTradeKPIs(t *testing.T) {
	pf, wr, std := tradeKPIs(nil)
	assert.Zero(t, pf+wr+std)
	pf, wr, _ = tradeKPIs([]float64{10, 20})
	assert.Equal(t, 10.0, pf)
	assert.Equal(t, 1.0, wr)
}

func TestPlusConfigValidate(t *testing.T) {
	cfg := DefaultPlusConfig()
	assert.NoError(t, cfg.Validate())
	cfg.TimeFence.Block = []market.TimeWindow{{Start: "x", End: "10:00"}}
	assert.Error(t, cfg.Validate())
}
