package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/afts/broker"
	"github.com/rustyeddy/afts/internal/id"
	"github.com/rustyeddy/afts/internal/logger"
	"github.com/rustyeddy/afts/market"
)

// Broker is a simulated broker.Client. Orders sent to it wait in a pending
// slot and only become fillable on the next bar passed to Advance.
type Broker struct {
	mu      sync.Mutex
	sim     *Simulator
	pm      *Manager
	acct    *broker.Account
	ids     *id.Generator
	spread  float64
	last    map[string]market.Bar
	pending []*broker.Order
	log     logrus.FieldLogger
}

var (
	_ broker.Client        = (*Broker)(nil)
	_ broker.AccountReader = (*Broker)(nil)
)

func NewBroker(acct *broker.Account, assets market.Assets, cfg Config, spread float64, ids *id.Generator, log logrus.FieldLogger) *Broker {
	if ids == nil {
		ids = id.NewGenerator(1)
	}
	log = logger.OrDiscard(log)
	return &Broker{
		sim:    NewSimulator(cfg, assets, ids, log),
		pm:     NewManager(acct, assets, log),
		acct:   acct,
		ids:    ids,
		spread: spread,
		last:   make(map[string]market.Bar),
		log:    log.WithField("component", "sim-broker"),
	}
}

// Account returns a snapshot of the simulated account.
func (b *Broker) Account() broker.Account {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.acct.Snapshot()
}

func (b *Broker) ReadAccount(context.Context) (broker.Account, error) {
	return b.Account(), nil
}

// Advance activates pending orders, fills them against bar and marks the
// account to the bar close.
func (b *Broker) Advance(bar market.Bar) []Outcome {
	b.mu.Lock()
	defer b.mu.Unlock()

	prev, hasPrev := b.last[bar.Symbol]
	var prevPtr *market.Bar
	if hasPrev {
		prevPtr = &prev
	}
	for _, o := range b.pending {
		if hasPrev {
			o.CreatedAt = prev.Time
		}
		b.acct.OpenOrders.Add(o)
	}
	b.pending = b.pending[:0]

	outs := b.sim.Step(prevPtr, bar, b.pm)
	CancelOrphans(b.acct, bar.Symbol, bar.Time)
	b.pm.MarkToMarket(bar.Symbol, bar.Close)
	b.last[bar.Symbol] = bar
	return outs
}

func (b *Broker) GetPrice(_ context.Context, symbol string) (broker.Quote, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bar, ok := b.last[symbol]
	if !ok {
		return broker.Quote{}, fmt.Errorf("sim: no price for %q", symbol)
	}
	half := b.spread / 2
	return broker.Quote{Symbol: symbol, Bid: bar.Close - half, Ask: bar.Close + half, Time: bar.Time}, nil
}

func (b *Broker) GetPosition(_ context.Context, symbol string) (*broker.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := b.acct.Positions[symbol]
	if p == nil {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (b *Broker) newOrder(symbol string, side broker.Side, typ broker.OrderType, qty float64) *broker.Order {
	bar := b.last[symbol]
	return &broker.Order{
		ID:          b.ids.At(bar.Time),
		Symbol:      symbol,
		Side:        side,
		Type:        typ,
		Qty:         qty,
		Price:       bar.Close,
		TimeInForce: broker.GTC,
		Status:      broker.StatusNew,
		CreatedAt:   bar.Time,
		UpdatedAt:   bar.Time,
	}
}

func (b *Broker) protective(symbol string, closing broker.Side, sl, tp *float64) []*broker.Order {
	var out []*broker.Order
	if sl != nil {
		o := b.newOrder(symbol, closing, broker.StopMarket, 0)
		o.StopPrice = *sl
		o.ReduceOnly, o.IsSL, o.Reason = true, true, "StopLoss"
		out = append(out, o)
	}
	if tp != nil {
		o := b.newOrder(symbol, closing, broker.Limit, 0)
		o.Price = *tp
		o.ReduceOnly, o.IsTP, o.Reason = true, true, "TakeProfit"
		out = append(out, o)
	}
	return out
}

func (b *Broker) SendEntryOrder(_ context.Context, req broker.EntryRequest) (broker.OrderAck, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if req.Size <= 0 {
		return broker.OrderAck{Status: broker.Rejected, Reason: "size must be positive"}, nil
	}
	if _, ok := b.last[req.Symbol]; !ok {
		return broker.OrderAck{Status: broker.Rejected, Reason: "no market data"}, nil
	}
	entry := b.newOrder(req.Symbol, req.Side, broker.Market, req.Size)
	entry.Reason = "Entry"
	b.pending = append(b.pending, entry)
	b.pending = append(b.pending, b.protective(req.Symbol, req.Side.Opposite(), req.StopLoss, req.TakeProfit)...)
	b.log.WithFields(logrus.Fields{"order_id": entry.ID, "symbol": req.Symbol, "side": req.Side, "size": req.Size}).Info("entry order accepted")
	return broker.OrderAck{OrderID: entry.ID, Status: broker.Accepted}, nil
}

func (b *Broker) SendExitOrder(_ context.Context, symbol string, size float64) (broker.OrderAck, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := b.acct.Positions[symbol]
	if p == nil {
		return broker.OrderAck{Status: broker.Rejected, Reason: "no open position"}, nil
	}
	o := b.newOrder(symbol, p.Side.ClosingSide(), broker.Market, size)
	o.ReduceOnly, o.Reason = true, "Exit"
	b.pending = append(b.pending, o)
	return broker.OrderAck{OrderID: o.ID, Status: broker.Accepted}, nil
}

// ModifySLTP replaces the resting SL and/or TP of symbol.
func (b *Broker) ModifySLTP(_ context.Context, symbol string, sl, tp *float64) (broker.OrderAck, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := b.acct.Positions[symbol]
	if p == nil {
		return broker.OrderAck{Status: broker.Rejected, Reason: "no open position"}, nil
	}
	ts := b.last[symbol].Time
	replaced := func(o *broker.Order) bool {
		return o.Symbol == symbol && ((sl != nil && o.IsSL) || (tp != nil && o.IsTP))
	}
	b.acct.OpenOrders.CancelWhere(replaced, ts)
	kept := b.pending[:0]
	for _, o := range b.pending {
		if !replaced(o) {
			kept = append(kept, o)
		}
	}
	b.pending = kept

	orders := b.protective(symbol, p.Side.ClosingSide(), sl, tp)
	b.pending = append(b.pending, orders...)
	if len(orders) == 0 {
		return broker.OrderAck{Status: broker.Rejected, Reason: "nothing to modify"}, nil
	}
	return broker.OrderAck{OrderID: orders[0].ID, Status: broker.Accepted}, nil
}

// CancelOrphans cancels the reduce-only orders left on symbol once it has no
// position, so a filled SL takes its TP with it.
func CancelOrphans(acct *broker.Account, symbol string, ts time.Time) []*broker.Order {
	if acct.Positions[symbol] != nil {
		return nil
	}
	return acct.OpenOrders.CancelWhere(func(o *broker.Order) bool {
		return o.Symbol == symbol && o.ReduceOnly
	}, ts)
}
