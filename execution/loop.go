package execution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/afts/behaviour"
	"github.com/rustyeddy/afts/broker"
	"github.com/rustyeddy/afts/events"
	"github.com/rustyeddy/afts/exits"
	"github.com/rustyeddy/afts/features"
	"github.com/rustyeddy/afts/internal/errs"
	"github.com/rustyeddy/afts/internal/id"
	"github.com/rustyeddy/afts/internal/logger"
	"github.com/rustyeddy/afts/journal"
	"github.com/rustyeddy/afts/market"
	"github.com/rustyeddy/afts/orders"
	"github.com/rustyeddy/afts/risk"
	"github.com/rustyeddy/afts/rl"
	"github.com/rustyeddy/afts/sim"
	"github.com/rustyeddy/afts/strategy"
)

// ReasonEndOfData is the run reason when the feed is exhausted.
const ReasonEndOfData = "EndOfData"

// BarSource yields bars in order. ok is false at the end of data.
type BarSource interface {
	Next(ctx context.Context) (bar market.Bar, ok bool, err error)
}

// Components are the collaborators of a loop. Hook, Exits, Sizer, Events
// and Rollout are optional.
type Components struct {
	Features  *features.Engine
	Bridge    *strategy.Bridge
	Risk      *risk.Stack
	Behaviour *behaviour.Manager
	Hook      *rl.Hook
	Exits     *exits.Applier
	Sizer     *risk.Sizer
	Orders    *orders.Builder
	Assets    market.Assets
	Events    events.Sink
	Rollout   *rl.Rollout
	IDs       *id.Generator
}

// Result summarises a run.
type Result struct {
	Reason       string
	HardStop     bool
	Bars         int
	Fills        int
	Trades       int
	Start, End   time.Time
	Metrics      journal.Metrics
	FinalAccount broker.Account
}

// Loop is the single-threaded bar pipeline. Orders built on bar t wait in
// pendingNext and become active, and fillable, on bar t+1.
type Loop struct {
	cfg  Config
	c    Components
	acct *broker.Account
	sim  *sim.Simulator
	pm   *sim.Manager
	val  market.Validator
	log  logrus.FieldLogger

	last        *market.Bar
	pendingNext []*broker.Order
	activeNow   []*broker.Order

	peakEquity float64
	initial    float64
	bars       int
	fills      int
	start      time.Time
	pnls       []float64
	equity     []float64
	done       bool
	reason     string
	hardStop   bool
	synced     bool
}

// NewLoop wires c around acct. Features, Bridge, Risk, Behaviour and Orders
// are required.
func NewLoop(cfg Config, c Components, acct *broker.Account, log logrus.FieldLogger) (*Loop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch {
	case c.Features == nil:
		return nil, errs.Configf("execution: feature engine is required")
	case c.Bridge == nil:
		return nil, errs.Configf("execution: strategy bridge is required")
	case c.Risk == nil:
		return nil, errs.Configf("execution: risk stack is required")
	case c.Behaviour == nil:
		return nil, errs.Configf("execution: behaviour manager is required")
	case c.Orders == nil:
		return nil, errs.Configf("execution: order builder is required")
	case acct == nil:
		return nil, errs.Configf("execution: account is required")
	}
	if c.Events == nil {
		c.Events = events.Discard{}
	}
	if c.IDs == nil {
		c.IDs = id.NewGenerator(1)
	}
	log = logger.OrDiscard(log)
	acct.Recompute()
	return &Loop{
		cfg:        cfg,
		c:          c,
		acct:       acct,
		sim:        sim.NewSimulator(cfg.SimConfig(), c.Assets, c.IDs, log),
		pm:         sim.NewManager(acct, c.Assets, log),
		log:        log.WithField("component", "execution"),
		peakEquity: acct.Equity,
		initial:    acct.Equity,
	}, nil
}

// Account returns the live account the loop mutates.
func (l *Loop) Account() *broker.Account {
	return l.acct
}

// Pending returns the orders waiting for the next bar.
func (l *Loop) Pending() []*broker.Order {
	return slices.Clone(l.pendingNext)
}

// Run steps every bar of src and settles the end of data. A hard stop
// returns the partial result together with a *HardStopError.
func (l *Loop) Run(ctx context.Context, src BarSource) (Result, error) {
	for {
		if err := ctx.Err(); err != nil {
			return l.Result(), err
		}
		bar, ok, err := src.Next(ctx)
		if err != nil {
			return l.Result(), fmt.Errorf("feed: %w", err)
		}
		if !ok {
			break
		}
		if err := l.Step(bar); err != nil {
			return l.Result(), err
		}
	}
	l.Finish()
	return l.Result(), nil
}

// Step processes one bar to completion.
func (l *Loop) Step(bar market.Bar) error {
	if l.done {
		return fmt.Errorf("execution: loop already stopped: %s", l.reason)
	}
	if err := l.val.Check(bar); err != nil {
		return fmt.Errorf("bar validation: %w", err)
	}
	if l.start.IsZero() {
		l.start = bar.Time
	}

	l.activate()
	slip := l.fill(bar)
	l.pm.MarkToMarket(bar.Symbol, bar.Close)
	if err := l.pm.CheckInvariants(); err != nil {
		return fmt.Errorf("account invariant: %w", err)
	}
	if l.acct.Equity > l.peakEquity {
		l.peakEquity = l.acct.Equity
	}
	return l.decide(bar, slip)
}

// Observe runs the decision half of a bar for an account kept in sync by
// the caller, who also owns the fills. The orders built on bar are returned
// instead of being queued for the simulator.
func (l *Loop) Observe(bar market.Bar) ([]*broker.Order, error) {
	if l.done {
		return nil, fmt.Errorf("execution: loop already stopped: %s", l.reason)
	}
	if err := l.val.Check(bar); err != nil {
		return nil, fmt.Errorf("bar validation: %w", err)
	}
	if l.start.IsZero() {
		l.start = bar.Time
	}
	l.acct.Recompute()
	if l.acct.Equity > l.peakEquity {
		l.peakEquity = l.acct.Equity
	}
	err := l.decide(bar, 0)
	out := l.pendingNext
	l.pendingNext = nil
	return out, err
}

// Sync replaces the account with a venue snapshot. Realised PnL booked
// since the previous sync is reported to the guards as one closed trade.
func (l *Loop) Sync(acct broker.Account, ts time.Time) {
	delta := acct.RealizedPnL - l.acct.RealizedPnL
	first := !l.synced
	l.synced = true
	if acct.Positions == nil {
		acct.Positions = make(map[string]*broker.Position)
	}
	if acct.OpenOrders == nil {
		acct.OpenOrders = broker.NewOrderBook()
	}
	*l.acct = acct
	l.acct.Recompute()
	if first || math.Abs(delta) <= market.Epsilon {
		return
	}
	l.pnls = append(l.pnls, delta)
	l.c.Behaviour.OnTradeClosed(delta, ts, l.acct)
	l.c.Risk.OnTradeClosed(delta, ts)
}

// Halt ends the run without settling positions.
func (l *Loop) Halt(reason string) {
	if !l.done {
		l.done, l.reason = true, reason
	}
}

// activate moves last bar's orders into the book. A new SL or TP replaces
// the one resting on the same symbol.
func (l *Loop) activate() {
	l.activeNow = l.pendingNext
	l.pendingNext = nil
	if len(l.activeNow) == 0 {
		return
	}
	ts := l.last.Time
	for _, o := range l.activeNow {
		if !o.IsSL && !o.IsTP {
			continue
		}
		replaced := l.acct.OpenOrders.CancelWhere(func(r *broker.Order) bool {
			return r.Symbol == o.Symbol && ((o.IsSL && r.IsSL) || (o.IsTP && r.IsTP))
		}, ts)
		l.canceled(replaced, "replaced")
	}
	for _, o := range l.activeNow {
		o.CreatedAt = ts
		o.UpdatedAt = ts
		l.acct.OpenOrders.Add(o)
	}
}

// fill runs the simulator on bar and returns the worst slippage of the
// bar as a fraction of price.
func (l *Loop) fill(bar market.Bar) float64 {
	var worst float64
	for _, out := range l.sim.Step(l.last, bar, l.pm) {
		switch {
		case out.Canceled:
			l.emit(events.Event{Kind: events.KindCanceled, Time: bar.Time, Symbol: out.Order.Symbol, Reason: out.Fill.Reason, Order: out.Order})
		case out.Err != nil:
			l.emit(events.Event{
				Kind:   events.KindRejected,
				Time:   bar.Time,
				Symbol: out.Order.Symbol,
				Reason: out.Err.Error(),
				Order:  out.Order,
				Fill:   &out.Fill,
			})
		default:
			l.booked(out.Fill, out.Event)
			if out.Fill.Price > 0 {
				worst = math.Max(worst, out.Fill.Slippage/out.Fill.Price)
			}
		}
	}
	l.canceled(sim.CancelOrphans(l.acct, bar.Symbol, bar.Time), "position closed")
	return worst
}

// booked records a fill and notifies the guards of realised trades.
func (l *Loop) booked(f broker.Fill, ev broker.PositionEvent) {
	l.fills++
	l.emit(events.Event{Kind: events.KindFill, Time: f.Time, Symbol: f.Symbol, Reason: f.Reason, Fill: &f})
	l.emit(events.Event{Kind: events.KindPosition, Time: f.Time, Symbol: f.Symbol, Position: &ev})
	l.log.WithFields(logrus.Fields{
		"symbol":   f.Symbol,
		"order_id": f.OrderID,
		"side":     f.Side,
		"qty":      f.Qty,
		"price":    f.Price,
		"event":    ev.Type,
	}).Info("fill")
	if !ev.Realizing() {
		return
	}
	l.pnls = append(l.pnls, ev.RealizedDelta)
	l.c.Behaviour.OnTradeClosed(ev.RealizedDelta, f.Time, l.acct)
	l.c.Risk.OnTradeClosed(ev.RealizedDelta, f.Time)
}

func (l *Loop) canceled(os []*broker.Order, reason string) {
	for _, o := range os {
		l.emit(events.Event{Kind: events.KindCanceled, Time: o.UpdatedAt, Symbol: o.Symbol, Reason: reason, Order: o})
	}
}

// decide runs the admission and decision half of a bar: risk, behaviour,
// features, strategies, agents, exits, sizing and order building.
func (l *Loop) decide(bar market.Bar, slip float64) error {
	defer l.advance(bar)

	rd := l.c.Risk.Evaluate(risk.Input{
		Account:     l.acct,
		Time:        bar.Time,
		Spread:      l.cfg.Spread,
		OpenRiskPct: l.openRiskPct(),
		SlippagePct: slip,
	})
	if rd.HardStopTrading {
		return l.stop(bar, rd.Reason, SourceRisk, rd.Meta)
	}
	if rd.ForceFlatten {
		l.flatten(bar, rd)
	}

	blocked, blockReason := !rd.AllowNewOrders, rd.Reason
	if blocked {
		l.emit(events.Event{Kind: events.KindBlock, Time: bar.Time, Symbol: bar.Symbol, Reason: rd.Reason, Meta: rd.Meta})
	} else {
		bd := l.c.Behaviour.BeforeNewOrders(bar.Time, l.acct)
		if bd.HardBlock {
			return l.stop(bar, bd.Reason, SourceBehaviour, bd.Meta)
		}
		if !bd.Allow {
			blocked, blockReason = true, bd.Reason
			l.emit(events.Event{Kind: events.KindBlock, Time: bar.Time, Symbol: bar.Symbol, Reason: bd.Reason, Meta: bd.Meta})
		}
	}

	bundle := l.c.Features.Update(bar)
	pos := l.acct.Position(bar.Symbol)
	d := l.c.Bridge.Decide(&strategy.MarketState{Bar: bar, Features: bundle, Position: pos})
	if d.CurrentSL == nil {
		d.CurrentSL = l.restingSL(bar.Symbol)
	}
	atr := l.atr(bundle)
	spec := l.c.Assets.Get(bar.Symbol)

	if l.c.Hook != nil {
		out := l.c.Hook.Infer(rl.ObsInput{
			Features:       bundle,
			Position:       pos,
			Equity:         l.acct.Equity,
			InitialBalance: l.initial,
			PeakEquity:     l.peakEquity,
			Plus:           l.c.Risk.PlusState(),
		})
		l.c.Hook.Inject(&d, out)
		if l.c.Rollout != nil {
			l.c.Rollout.Record(bar.Time, bar.Symbol, out, l.acct.Equity)
		}
	}
	if l.c.Exits != nil && d.ExitAction != nil {
		l.c.Exits.Apply(exits.Input{Action: *d.ExitAction, Position: pos, Bar: bar, ATR: atr, TickSize: spec.TickSize}, &d)
	}
	if d.Action == strategy.ActionEntry && l.c.Sizer != nil && d.Update.PositionSize == nil {
		mult := rd.StageMultiplier
		res := l.c.Sizer.Size(risk.SizeRequest{
			EntryPrice:      bar.Close,
			SLPrice:         d.Update.SLPrice,
			ATR:             atr,
			Equity:          l.acct.Equity,
			AgentRisk:       d.Update.RiskPct,
			DailyPnL:        l.c.Behaviour.Stats().RealizedPnLToday,
			CostPerUnit:     spec.CostPerUnit,
			StageMultiplier: &mult,
			StageCap:        rd.StageCap,
		})
		d.Update.PositionSize = &res.Size
		d.SetMeta("sizer", res)
	}

	switch {
	case rd.ForceFlatten:
		d.SetMeta("suppressed", rd.Reason)
	case blocked && d.Action == strategy.ActionEntry:
		d.SetMeta("suppressed", blockReason)
	default:
		os := l.c.Orders.Build(d, bar, l.acct)
		if d.Action == strategy.ActionEntry && opens(os) {
			l.c.Bridge.Placed(d)
		}
		l.queue(bar, os)
	}

	l.emit(events.Event{Kind: events.KindDecision, Time: bar.Time, Symbol: bar.Symbol, Decision: record(d), Meta: d.Meta})
	l.log.WithFields(logrus.Fields{
		"symbol":     bar.Symbol,
		"action":     d.Action,
		"side":       d.Side,
		"confidence": d.Confidence,
	}).Debug("decision")
	return nil
}

// advance closes the bar: equity is recorded and the bar becomes last.
func (l *Loop) advance(bar market.Bar) {
	l.bars++
	l.equity = append(l.equity, l.acct.Equity)
	l.emit(events.Event{Kind: events.KindEquity, Time: bar.Time, Symbol: bar.Symbol, Equity: l.point()})
	b := bar
	l.last = &b
}

func (l *Loop) stop(bar market.Bar, reason, source string, meta map[string]any) error {
	l.done, l.hardStop, l.reason = true, true, reason
	l.emit(events.Event{Kind: events.KindHardStop, Time: bar.Time, Symbol: bar.Symbol, Reason: reason, Meta: meta})
	l.log.WithFields(logrus.Fields{"reason": reason, "source": source, "time": bar.Time}).Error("hard stop")
	return &HardStopError{Reason: reason, Source: source}
}

// flatten cancels resting orders on every open symbol and queues MARKET
// reduce-only closes for the next bar.
func (l *Loop) flatten(bar market.Bar, rd risk.Decision) {
	for sym := range l.acct.Positions {
		l.canceled(l.acct.OpenOrders.CancelWhere(func(o *broker.Order) bool {
			return o.Symbol == sym && o.ReduceOnly
		}, bar.Time), orders.ReasonFlatten)
	}
	os := l.c.Orders.Flatten(bar, l.acct)
	l.queue(bar, os)
	l.emit(events.Event{Kind: events.KindFlatten, Time: bar.Time, Symbol: bar.Symbol, Reason: rd.Reason, Meta: rd.Meta})
	l.log.WithFields(logrus.Fields{"reason": rd.Reason, "orders": len(os)}).Warn("force flatten")
}

// opens reports whether os holds an order that can open exposure.
func opens(os []*broker.Order) bool {
	for _, o := range os {
		if !o.ReduceOnly {
			return true
		}
	}
	return false
}

func (l *Loop) queue(bar market.Bar, os []*broker.Order) {
	for _, o := range os {
		l.pendingNext = append(l.pendingNext, o)
		l.emit(events.Event{Kind: events.KindOrder, Time: bar.Time, Symbol: o.Symbol, Reason: o.Reason, Order: o})
	}
}

// restingSL returns the stop price of the newest SL for symbol, pending
// orders first.
func (l *Loop) restingSL(symbol string) *float64 {
	for _, o := range slices.Backward(l.pendingNext) {
		if o.Symbol == symbol && o.IsSL {
			return strategy.Ptr(o.StopPrice)
		}
	}
	book := l.acct.OpenOrders.ForSymbol(symbol)
	for _, o := range slices.Backward(book) {
		if o.IsSL {
			return strategy.Ptr(o.StopPrice)
		}
	}
	return nil
}

// openRiskPct sums the loss to each position's resting stop, in percent of
// equity.
func (l *Loop) openRiskPct() float64 {
	if l.acct.Equity <= 0 {
		return 0
	}
	var total float64
	for sym, p := range l.acct.Positions {
		sl := l.restingSL(sym)
		if sl == nil {
			continue
		}
		total += math.Abs(p.EntryPrice-*sl) * p.Qty * l.c.Assets.Get(sym).Multiplier()
	}
	return total / l.acct.Equity * 100
}

func (l *Loop) atr(b *features.Bundle) *float64 {
	if l.cfg.ATRFeature == "" {
		return nil
	}
	if v, ok := b.Get(l.cfg.ATRFeature); ok {
		return &v
	}
	return nil
}

func (l *Loop) point() *events.EquityPoint {
	return &events.EquityPoint{
		Balance:       l.acct.Balance,
		Equity:        l.acct.Equity,
		RealizedPnL:   l.acct.RealizedPnL,
		UnrealizedPnL: l.acct.UnrealizedPnL,
		FeesTotal:     l.acct.FeesTotal,
		OpenPositions: len(l.acct.Positions),
	}
}

func (l *Loop) emit(e events.Event) {
	l.c.Events.Emit(e)
}

// Finish settles the end of data: pending orders are dropped and, with
// CloseAtEnd, open positions are closed at the last close.
func (l *Loop) Finish() {
	if l.done {
		return
	}
	l.done = true
	l.reason = ReasonEndOfData
	l.pendingNext = nil
	if l.last == nil || !l.cfg.CloseAtEnd {
		return
	}
	bar := *l.last
	for _, sym := range sortedSymbols(l.acct) {
		f, ev, ok := l.pm.CloseAt(sym, bar.Close, bar.Time, ReasonEndOfData)
		if !ok {
			continue
		}
		f.TradeID = l.c.IDs.At(bar.Time)
		l.booked(f, ev)
		l.canceled(sim.CancelOrphans(l.acct, sym, bar.Time), ReasonEndOfData)
	}
	l.acct.Recompute()
	if n := len(l.equity); n > 0 {
		l.equity[n-1] = l.acct.Equity
	}
	l.emit(events.Event{Kind: events.KindEquity, Time: bar.Time, Symbol: bar.Symbol, Equity: l.point()})
}

// Result reports the run so far.
func (l *Loop) Result() Result {
	r := Result{
		Reason:       l.reason,
		HardStop:     l.hardStop,
		Bars:         l.bars,
		Fills:        l.fills,
		Trades:       len(l.pnls),
		Start:        l.start,
		Metrics:      journal.ComputeMetrics(l.pnls, l.equity),
		FinalAccount: l.acct.Snapshot(),
	}
	if l.last != nil {
		r.End = l.last.Time
	}
	return r
}

// IsHardStop reports whether err ended a run through a hard stop.
func IsHardStop(err error) bool {
	var hs *HardStopError
	return errors.As(err, &hs)
}

func sortedSymbols(acct *broker.Account) []string {
	out := make([]string, 0, len(acct.Positions))
	for s := range acct.Positions {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}

func record(d strategy.Decision) *events.DecisionRecord {
	r := &events.DecisionRecord{
		Action:     string(d.Action),
		Side:       string(d.Side),
		Confidence: d.Confidence,
		Size:       d.Update.PositionSize,
		SLPrice:    d.Update.SLPrice,
		TPPrice:    d.Update.TPPrice,
		RiskPct:    d.Update.RiskPct,
	}
	if d.ExitAction != nil {
		r.ExitAction = d.ExitAction.String()
	}
	return r
}
