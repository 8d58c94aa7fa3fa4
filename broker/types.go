package broker

import (
	"fmt"
	"math"
	"time"
)

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the side that nets against s.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

type OrderType string

const (
	Market     OrderType = "MARKET"
	Limit      OrderType = "LIMIT"
	StopMarket OrderType = "STOP_MARKET"
	StopLimit  OrderType = "STOP_LIMIT"
)

type TimeInForce string

const (
	GTC TimeInForce = "GTC"
	IOC TimeInForce = "IOC"
	FOK TimeInForce = "FOK"
)

type OrderStatus string

const (
	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
)

// Order is an instruction produced by the order builder. A reduce-only order
// with Qty == 0 means "the entire current position".
type Order struct {
	ID          string      `json:"id"`
	Symbol      string      `json:"symbol"`
	Side        Side        `json:"side"`
	Type        OrderType   `json:"type"`
	Qty         float64     `json:"qty"`
	Price       float64     `json:"price"`      // LIMIT / STOP_LIMIT limit price; reference price for MARKET
	StopPrice   float64     `json:"stop_price"` // STOP_* trigger price
	ReduceOnly  bool        `json:"reduce_only"`
	IsSL        bool        `json:"is_sl"`
	IsTP        bool        `json:"is_tp"`
	TimeInForce TimeInForce `json:"time_in_force"`
	Status      OrderStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	Reason      string      `json:"reason"`

	// Triggered is set once a STOP_LIMIT has crossed its stop and now rests
	// as a limit order.
	Triggered bool `json:"triggered"`
}

func (o *Order) String() string {
	return fmt.Sprintf("%s %s %s %s qty=%.4f px=%.5f stop=%.5f ro=%t",
		o.ID, o.Symbol, o.Side, o.Type, o.Qty, o.Price, o.StopPrice, o.ReduceOnly)
}

// Fill records an order transacting against a bar (or a broker report).
type Fill struct {
	OrderID    string    `json:"order_id"`
	TradeID    string    `json:"trade_id"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Qty        float64   `json:"qty"`
	Price      float64   `json:"price"`
	Fee        float64   `json:"fee"`
	FeeAsset   string    `json:"fee_asset"`
	Time       time.Time `json:"time"`
	OrderType  OrderType `json:"order_type"`
	ReduceOnly bool      `json:"reduce_only"`
	IsSL       bool      `json:"is_sl"`
	IsTP       bool      `json:"is_tp"`
	Slippage   float64   `json:"slippage"`
	Reason     string    `json:"reason"`
}

type PositionSide string

const (
	Long  PositionSide = "LONG"
	Short PositionSide = "SHORT"
)

// SideFor maps an order side to the position side it opens.
func SideFor(s Side) PositionSide {
	if s == Buy {
		return Long
	}
	return Short
}

// Sign returns +1 for LONG, -1 for SHORT.
func (p PositionSide) Sign() float64 {
	if p == Long {
		return 1
	}
	return -1
}

// ClosingSide returns the order side that reduces a position of side p.
func (p PositionSide) ClosingSide() Side {
	if p == Long {
		return Sell
	}
	return Buy
}

// Position is the open exposure on one symbol. It only exists while Qty > 0.
type Position struct {
	Symbol        string       `json:"symbol"`
	Side          PositionSide `json:"side"`
	Qty           float64      `json:"qty"`
	EntryPrice    float64      `json:"entry_price"`
	RealizedPnL   float64      `json:"realized_pnl"`
	UnrealizedPnL float64      `json:"unrealized_pnl"`
	AvgEntryFees  float64      `json:"avg_entry_fees"`
	OpenedAt      time.Time    `json:"opened_at"`
}

// Mark returns the unrealized PnL of p at mark price, scaled by multiplier.
func (p *Position) Mark(mark, multiplier float64) float64 {
	return p.Side.Sign() * (mark - p.EntryPrice) * p.Qty * multiplier
}

type EventType string

const (
	Opened    EventType = "OPENED"
	Increased EventType = "INCREASED"
	Reduced   EventType = "REDUCED"
	Closed    EventType = "CLOSED"
)

// PositionEvent describes the transition a fill caused.
type PositionEvent struct {
	Symbol        string       `json:"symbol"`
	Type          EventType    `json:"type"`
	RealizedDelta float64      `json:"realized_delta"`
	Qty           float64      `json:"qty"` // position qty after the fill
	Price         float64      `json:"price"`
	EntryPrice    float64      `json:"entry_price"`
	Side          PositionSide `json:"side"`
	Time          time.Time    `json:"time"`
	OrderID       string       `json:"order_id"`
}

// Realizing reports whether the event realised PnL (a trade outcome).
func (e PositionEvent) Realizing() bool {
	return e.Type == Closed || (e.Type == Reduced && math.Abs(e.RealizedDelta) > 0)
}

// Account is the simulated account. Equity is always
// Balance + RealizedPnL + UnrealizedPnL.
type Account struct {
	Currency      string
	Balance       float64
	Equity        float64
	RealizedPnL   float64
	UnrealizedPnL float64
	FeesTotal     float64
	Positions     map[string]*Position
	OpenOrders    *OrderBook
}

func NewAccount(currency string, balance float64) *Account {
	return &Account{
		Currency:   currency,
		Balance:    balance,
		Equity:     balance,
		Positions:  make(map[string]*Position),
		OpenOrders: NewOrderBook(),
	}
}

// Recompute refreshes UnrealizedPnL from the positions and re-derives Equity.
func (a *Account) Recompute() {
	var u float64
	for _, p := range a.Positions {
		u += p.UnrealizedPnL
	}
	a.UnrealizedPnL = u
	a.Equity = a.Balance + a.RealizedPnL + a.UnrealizedPnL
}

// Position returns the open position for symbol or nil.
func (a *Account) Position(symbol string) *Position {
	p, ok := a.Positions[symbol]
	if !ok {
		return nil
	}
	return p
}

// Snapshot returns a copy of the account without positions or orders aliasing
// the live maps.
func (a *Account) Snapshot() Account {
	cp := *a
	cp.Positions = make(map[string]*Position, len(a.Positions))
	for k, p := range a.Positions {
		pp := *p
		cp.Positions[k] = &pp
	}
	cp.OpenOrders = a.OpenOrders.Clone()
	return cp
}

// OrderBook keeps open orders keyed by id while preserving insertion order,
// which is the order fills are evaluated in.
type OrderBook struct {
	ids  []string
	byID map[string]*Order
}

func NewOrderBook() *OrderBook {
	return &OrderBook{byID: make(map[string]*Order)}
}

func (b *OrderBook) Add(o *Order) {
	if _, ok := b.byID[o.ID]; ok {
		return
	}
	b.ids = append(b.ids, o.ID)
	b.byID[o.ID] = o
}

func (b *OrderBook) Get(id string) (*Order, bool) {
	o, ok := b.byID[id]
	return o, ok
}

func (b *OrderBook) Remove(id string) {
	if _, ok := b.byID[id]; !ok {
		return
	}
	delete(b.byID, id)
	for i, v := range b.ids {
		if v == id {
			b.ids = append(b.ids[:i:i], b.ids[i+1:]...)
			break
		}
	}
}

func (b *OrderBook) Len() int {
	return len(b.ids)
}

// List returns the open orders in insertion order.
func (b *OrderBook) List() []*Order {
	out := make([]*Order, 0, len(b.ids))
	for _, id := range b.ids {
		out = append(out, b.byID[id])
	}
	return out
}

// ForSymbol returns the open orders for symbol in insertion order.
func (b *OrderBook) ForSymbol(symbol string) []*Order {
	var out []*Order
	for _, id := range b.ids {
		if o := b.byID[id]; o.Symbol == symbol {
			out = append(out, o)
		}
	}
	return out
}

func (b *OrderBook) Clone() *OrderBook {
	cp := NewOrderBook()
	if b == nil {
		return cp
	}
	for _, o := range b.List() {
		oo := *o
		cp.Add(&oo)
	}
	return cp
}

// CancelWhere removes every open order matching pred, marks it CANCELED and
// returns the removed orders in book order.
func (b *OrderBook) CancelWhere(pred func(*Order) bool, ts time.Time) []*Order {
	var out []*Order
	for _, o := range b.List() {
		if pred(o) {
			b.Remove(o.ID)
			o.Status = StatusCanceled
			o.UpdatedAt = ts
			out = append(out, o)
		}
	}
	return out
}
