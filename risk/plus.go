package risk

import (
	"math"
	"time"

	"github.com/rustyeddy/afts/broker"
	"github.com/rustyeddy/afts/market"
)

const (
	ReasonRollingDD      = "FTMO_PLUS_ROLLING_DD"
	ReasonLossVelocity   = "FTMO_PLUS_LOSS_VELOCITY"
	ReasonSessionDD      = "FTMO_PLUS_SESSION_DD"
	ReasonStageFreeze    = "FTMO_PLUS_STAGE_FREEZE"
	ReasonExposure       = "FTMO_PLUS_EXPOSURE"
	ReasonSpread         = "FTMO_PLUS_SPREAD"
	ReasonNews           = "FTMO_PLUS_NEWS"
	ReasonTimeFence      = "FTMO_PLUS_TIME_FENCE"
	ReasonProfitSoftLock = "FTMO_PLUS_PROFIT_SOFT_LOCK"
	ReasonProfitHardLock = "FTMO_PLUS_PROFIT_HARD_LOCK"
	ReasonStability      = "FTMO_PLUS_STABILITY"
	ReasonCircuitBreaker = "FTMO_PLUS_CIRCUIT_BREAKER"
)

// Input is everything a risk evaluation looks at for one bar.
type Input struct {
	Account *broker.Account
	Time    time.Time
	// Spread is the current bid/ask spread in price units, if known.
	Spread float64
	// OpenRiskPct is the summed stop risk of open positions, percent of equity.
	OpenRiskPct float64
	// SlippagePct is the worst fill slippage of this bar as a fraction of price.
	SlippagePct float64
}

// PlusState is a snapshot of the engine, read by the RL observation builder.
type PlusState struct {
	DailyLossPct   float64
	OverallLossPct float64
	Stage          int
	RollingLossPct float64
	LossVelocity   float64
	ProfitProgress float64
	SessionIndex   int // -1 outside every session
	NewsFlag       bool
	TimeFenceFlag  bool
	Spread         float64
	PF             float64
	Winrate        float64
	PnLStd         float64
	CircuitFlag    bool
}

type equityPoint struct {
	t  time.Time
	eq float64
}

// PlusEngine layers the FTMO-plus guards on top of a base policy.
type PlusEngine struct {
	cfg     PlusConfig
	initial float64

	history []equityPoint

	day        string
	dailyStart float64

	session      int
	sessionStart float64

	stage         int
	stageChanged  time.Time
	tradesInStage int

	pnls []float64

	lastEquity  float64
	haveLast    bool
	freezeUntil time.Time

	hardLocked bool

	state PlusState
}

func NewPlusEngine(cfg PlusConfig, initialBalance float64) *PlusEngine {
	def := DefaultPlusConfig()
	if cfg.Stage.Multipliers == [3]float64{} {
		cfg.Stage.Multipliers = def.Stage.Multipliers
	}
	if cfg.Stage.Caps == [3]float64{} {
		cfg.Stage.Caps = def.Stage.Caps
	}
	if cfg.Stability.Window <= 0 {
		cfg.Stability.Window = def.Stability.Window
	}
	return &PlusEngine{cfg: cfg, initial: initialBalance, session: -1}
}

// State returns the snapshot computed by the last Evaluate.
func (e *PlusEngine) State() PlusState {
	return e.state
}

// Stage returns the current stage: 0 normal, 1 reduced, 2 freeze.
func (e *PlusEngine) Stage() int {
	return e.stage
}

// FreezeUntil returns the circuit-breaker freeze deadline (zero if none).
func (e *PlusEngine) FreezeUntil() time.Time {
	return e.freezeUntil
}

// OnTradeClosed feeds a realised trade outcome to the stability gate and the
// stage hysteresis counter.
func (e *PlusEngine) OnTradeClosed(pnl float64, _ time.Time) {
	e.pnls = append(e.pnls, pnl)
	if len(e.pnls) > e.cfg.Stability.Window {
		e.pnls = e.pnls[len(e.pnls)-e.cfg.Stability.Window:]
	}
	e.tradesInStage++
}

// Evaluate runs every enabled sub-guard. Each engaged guard writes its entry
// into the decision meta.
func (e *PlusEngine) Evaluate(in Input) Decision {
	d := Allow()
	acct := in.Account
	eq := acct.Equity
	ts := in.Time
	st := PlusState{SessionIndex: -1, Spread: in.Spread}

	if day := market.DayKey(ts); day != e.day {
		e.day = day
		e.dailyStart = eq
	}
	st.DailyLossPct = math.Max(0, (e.dailyStart-eq)/e.initial)
	st.OverallLossPct = math.Max(0, (e.initial-eq)/e.initial)

	e.record(ts, eq)

	e.circuit(&d, &st, in)
	e.rollingDD(&d, &st, ts, eq)
	e.velocity(&d, &st, ts, eq)
	e.sessionDD(&d, &st, ts, eq)
	e.stageMachine(&d, &st, ts)
	e.exposure(&d, in)
	e.spread(&d, in)
	e.news(&d, &st, ts)
	e.timeFence(&d, &st, ts)
	e.profitLock(&d, &st, eq, len(acct.Positions) > 0)
	e.stability(&d, &st)

	e.lastEquity = eq
	e.haveLast = true
	e.state = st
	return d
}

func (e *PlusEngine) record(ts time.Time, eq float64) {
	e.history = append(e.history, equityPoint{t: ts, eq: eq})
	keep := e.cfg.RollingDD.WindowMinutes
	if e.cfg.Velocity.WindowMinutes > keep {
		keep = e.cfg.Velocity.WindowMinutes
	}
	cutoff := ts.Add(-time.Duration(keep) * time.Minute)
	i := 0
	for i < len(e.history)-1 && e.history[i].t.Before(cutoff) {
		i++
	}
	e.history = e.history[i:]
}

func (e *PlusEngine) window(ts time.Time, minutes int) []equityPoint {
	cutoff := ts.Add(-time.Duration(minutes) * time.Minute)
	for i, p := range e.history {
		if !p.t.Before(cutoff) {
			return e.history[i:]
		}
	}
	return nil
}

func (e *PlusEngine) circuit(d *Decision, st *PlusState, in Input) {
	c := e.cfg.Circuit
	if !c.Enabled {
		return
	}
	eq := in.Account.Equity
	tripped := ""
	if e.haveLast && c.InstantLossPct > 0 && (e.lastEquity-eq)/e.initial >= c.InstantLossPct {
		tripped = "instant_loss"
	}
	if c.MaxSlippagePct > 0 && in.SlippagePct >= c.MaxSlippagePct {
		tripped = "slippage"
	}
	if tripped != "" {
		e.freezeUntil = in.Time.Add(time.Duration(c.FreezeMinutes) * time.Minute)
		d.ForceFlatten = true
		d.setMeta("force_flatten", true)
		d.setMeta("circuit_breaker", map[string]any{"trigger": tripped, "freeze_until": e.freezeUntil})
	}
	if in.Time.Before(e.freezeUntil) {
		st.CircuitFlag = true
		d.block(ReasonCircuitBreaker, "frozen until %s", e.freezeUntil.Format(time.RFC3339))
		if tripped == "" {
			d.setMeta("circuit_breaker", map[string]any{"freeze_until": e.freezeUntil})
		}
	}
}

func (e *PlusEngine) rollingDD(d *Decision, st *PlusState, ts time.Time, eq float64) {
	c := e.cfg.RollingDD
	if !c.Enabled || c.WindowMinutes <= 0 {
		return
	}
	peak := eq
	for _, p := range e.window(ts, c.WindowMinutes) {
		peak = math.Max(peak, p.eq)
	}
	dd := (peak - eq) / e.initial
	st.RollingLossPct = dd
	if c.MaxDDPct > 0 && dd >= c.MaxDDPct {
		d.block(ReasonRollingDD, "rolling drawdown %.4f >= %.4f over %dm", dd, c.MaxDDPct, c.WindowMinutes)
		d.setMeta("rolling_dd", dd)
	}
}

func (e *PlusEngine) velocity(d *Decision, st *PlusState, ts time.Time, eq float64) {
	c := e.cfg.Velocity
	if !c.Enabled || c.WindowMinutes <= 0 {
		return
	}
	w := e.window(ts, c.WindowMinutes)
	if len(w) < 2 {
		return
	}
	hours := ts.Sub(w[0].t).Hours()
	if hours <= 0 {
		return
	}
	// Normalise to a full window so a single sharp bar is not amplified.
	if minHours := float64(c.WindowMinutes) / 60; hours < minHours {
		hours = minHours
	}
	v := math.Max(0, (w[0].eq-eq)/e.initial) / hours
	st.LossVelocity = v
	if c.MaxPctPerHour > 0 && v >= c.MaxPctPerHour {
		d.block(ReasonLossVelocity, "loss velocity %.4f/h >= %.4f/h", v, c.MaxPctPerHour)
		d.setMeta("loss_velocity", v)
	}
}

func (e *PlusEngine) sessionDD(d *Decision, st *PlusState, ts time.Time, eq float64) {
	c := e.cfg.Session
	if !c.Enabled {
		return
	}
	idx := -1
	for i, s := range c.Sessions {
		if s.Window.Contains(ts) {
			idx = i
			break
		}
	}
	if idx != e.session {
		e.session = idx
		e.sessionStart = eq
	}
	st.SessionIndex = idx
	if idx < 0 {
		return
	}
	limit := c.Sessions[idx].MaxDDPct
	dd := (e.sessionStart - eq) / e.initial
	if limit > 0 && dd >= limit {
		d.block(ReasonSessionDD, "session %q drawdown %.4f >= %.4f", c.Sessions[idx].Window.Name, dd, limit)
		d.setMeta("session_dd", map[string]any{"session": c.Sessions[idx].Window.Name, "dd": dd})
	}
}

func (e *PlusEngine) stageMachine(d *Decision, st *PlusState, ts time.Time) {
	c := e.cfg.Stage
	if !c.Enabled {
		d.StageMultiplier = 1
		return
	}
	target := 0
	if c.ReducedAtLossPct > 0 && st.DailyLossPct >= c.ReducedAtLossPct {
		target = 1
	}
	if c.FreezeAtLossPct > 0 && st.DailyLossPct >= c.FreezeAtLossPct {
		target = 2
	}

	switch {
	case target > e.stage:
		e.setStage(target, ts)
	case target < e.stage:
		cooled := ts.Sub(e.stageChanged) >= time.Duration(c.CooldownMinutes)*time.Minute
		if e.tradesInStage >= c.MinTradesBetween && cooled {
			e.setStage(e.stage-1, ts)
		}
	}

	st.Stage = e.stage
	d.Stage = e.stage
	d.StageMultiplier = c.Multipliers[e.stage]
	d.StageCap = c.Caps[e.stage]
	if e.stage > 0 {
		d.setMeta("stage", e.stage)
	}
	if e.stage == 2 {
		d.block(ReasonStageFreeze, "stage freeze at daily loss %.4f", st.DailyLossPct)
	}
}

func (e *PlusEngine) setStage(stage int, ts time.Time) {
	e.stage = stage
	e.stageChanged = ts
	e.tradesInStage = 0
}

func (e *PlusEngine) exposure(d *Decision, in Input) {
	c := e.cfg.Exposure
	if !c.Enabled {
		return
	}
	open := len(in.Account.Positions)
	if c.MaxConcurrentTrades > 0 && open >= c.MaxConcurrentTrades {
		d.block(ReasonExposure, "open positions %d >= %d", open, c.MaxConcurrentTrades)
		d.setMeta("exposure_trades", open)
	}
	if c.MaxTotalRiskPct > 0 && in.OpenRiskPct >= c.MaxTotalRiskPct {
		d.block(ReasonExposure, "open risk %.2f%% >= %.2f%%", in.OpenRiskPct, c.MaxTotalRiskPct)
		d.setMeta("exposure_risk_pct", in.OpenRiskPct)
	}
}

func (e *PlusEngine) spread(d *Decision, in Input) {
	c := e.cfg.Spread
	if !c.Enabled || c.MaxSpread <= 0 {
		return
	}
	if in.Spread > c.MaxSpread {
		d.block(ReasonSpread, "spread %.6f > %.6f", in.Spread, c.MaxSpread)
		d.setMeta("spread", in.Spread)
	}
}

func (e *PlusEngine) news(d *Decision, st *PlusState, ts time.Time) {
	c := e.cfg.News
	if !c.Enabled {
		return
	}
	before := time.Duration(c.BeforeMinutes) * time.Minute
	after := time.Duration(c.AfterMinutes) * time.Minute
	for _, ev := range c.Events {
		if !ts.Before(ev.Time.Add(-before)) && !ts.After(ev.Time.Add(after)) {
			st.NewsFlag = true
			d.block(ReasonNews, "inside news window %q", ev.Label)
			d.setMeta("news", ev.Label)
			return
		}
	}
}

func (e *PlusEngine) timeFence(d *Decision, st *PlusState, ts time.Time) {
	c := e.cfg.TimeFence
	if !c.Enabled {
		return
	}
	if len(c.Allow) > 0 {
		if _, ok := market.AnyContains(c.Allow, ts); !ok {
			st.TimeFenceFlag = true
			d.block(ReasonTimeFence, "outside allowed trading windows")
			d.setMeta("time_fence", "outside_allow")
			return
		}
	}
	if i, ok := market.AnyContains(c.Block, ts); ok {
		st.TimeFenceFlag = true
		d.block(ReasonTimeFence, "inside blocked window %q", c.Block[i].Name)
		d.setMeta("time_fence", "blocked")
	}
}

func (e *PlusEngine) profitLock(d *Decision, st *PlusState, eq float64, hasPositions bool) {
	c := e.cfg.ProfitLock
	if !c.Enabled || c.TargetPct <= 0 {
		return
	}
	progress := (eq - e.initial) / e.initial / c.TargetPct
	st.ProfitProgress = progress
	if progress >= 1 {
		e.hardLocked = true
	}
	switch {
	case e.hardLocked:
		d.block(ReasonProfitHardLock, "profit target reached (progress %.2f)", progress)
		d.setMeta("profit_lock", "hard")
		if hasPositions {
			d.ForceFlatten = true
			d.setMeta("force_flatten", true)
		}
	case c.SoftFraction > 0 && progress >= c.SoftFraction:
		d.block(ReasonProfitSoftLock, "profit progress %.2f >= %.2f", progress, c.SoftFraction)
		d.setMeta("profit_lock", "soft")
	}
}

func (e *PlusEngine) stability(d *Decision, st *PlusState) {
	pf, wr, std := tradeKPIs(e.pnls)
	st.PF, st.Winrate, st.PnLStd = pf, wr, std

	c := e.cfg.Stability
	if !c.Enabled || len(e.pnls) < c.MinTrades {
		return
	}
	unstable := ""
	switch {
	case c.MinPF > 0 && pf < c.MinPF:
		unstable = "profit_factor"
	case c.MinWinrate > 0 && wr < c.MinWinrate:
		unstable = "winrate"
	case c.MaxPnLStdPct > 0 && std/e.initial > c.MaxPnLStdPct:
		unstable = "pnl_std"
	}
	if unstable != "" {
		d.block(ReasonStability, "performance unstable: %s (pf=%.2f wr=%.2f std=%.2f)", unstable, pf, wr, std)
		d.setMeta("stability", unstable)
	}
}

// tradeKPIs returns profit factor (capped at 10 when there are no losses),
// winrate and the sample stdev of trade PnL.
func tradeKPIs(pnls []float64) (pf, winrate, std float64) {
	if len(pnls) == 0 {
		return 0, 0, 0
	}
	var wins, losses, mean float64
	nw := 0
	for _, p := range pnls {
		if p > 0 {
			wins += p
			nw++
		} else {
			losses += -p
		}
		mean += p
	}
	mean /= float64(len(pnls))
	switch {
	case losses > 0:
		pf = wins / losses
	case wins > 0:
		pf = 10
	}
	winrate = float64(nw) / float64(len(pnls))
	if len(pnls) > 1 {
		var ss float64
		for _, p := range pnls {
			ss += (p - mean) * (p - mean)
		}
		std = math.Sqrt(ss / float64(len(pnls)-1))
	}
	return pf, winrate, std
}
