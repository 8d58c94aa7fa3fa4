package sim

import (
	"testing"
	"time"

	"github.com/rustyeddy/afts/broker"
	"github.com/rustyeddy/afts/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkBar(i int, o, h, l, c float64) market.Bar {
	return market.Bar{Symbol: "X", Time: t0.Add(time.Duration(i) * time.Minute), Open: o, High: h, Low: l, Close: c}
}

type harness struct {
	sim  *Simulator
	pm   *Manager
	prev market.Bar
}

func newHarness(cfg Config) *harness {
	return &harness{
		sim: NewSimulator(cfg, market.Assets{"X": {TickSize: 0.01, CostPerUnit: 1}}, nil, nil),
		pm:  newManager(10000),
	}
}

func (h *harness) add(o *broker.Order) *broker.Order {
	o.Symbol = "X"
	o.CreatedAt = h.prev.Time
	if o.ID == "" {
		o.ID = string(o.Type) + "-" + string(o.Side)
	}
	if o.TimeInForce == "" {
		o.TimeInForce = broker.GTC
	}
	h.pm.Account().OpenOrders.Add(o)
	return o
}

func (h *harness) step(bar market.Bar) []Outcome {
	prev := h.prev
	out := h.sim.Step(&prev, bar, h.pm)
	h.prev = bar
	return out
}

func TestMarketFillsAtOpenWithSlippageAndFee(t *testing.T) {
	h := newHarness(Config{FeeRate: 0.001, SlippageTicks: 2})
	h.prev = mkBar(0, 100, 101, 99, 100)
	h.add(&broker.Order{Side: broker.Buy, Type: broker.Market, Qty: 10})

	out := h.step(mkBar(1, 100.5, 102, 100, 101))
	require.Len(t, out, 1)
	f := out[0].Fill
	assert.InDelta(t, 100.52, f.Price, 1e-9)
	assert.InDelta(t, 10*100.52*0.001, f.Fee, 1e-9)
	assert.InDelta(t, 0.02, f.Slippage, 1e-9)
	assert.Equal(t, broker.StatusFilled, out[0].Order.Status)
	assert.Equal(t, 0, h.pm.Account().OpenOrders.Len())
}

func TestOrdersNeverFillOnCreationBar(t *testing.T) {
	h := newHarness(Config{})
	bar := mkBar(1, 100, 101, 99, 100)
	h.prev = mkBar(0, 100, 101, 99, 100)
	o := h.add(&broker.Order{Side: broker.Buy, Type: broker.Market, Qty: 1})
	o.CreatedAt = bar.Time

	out := h.step(bar)
	assert.Empty(t, out)
	assert.Equal(t, 1, h.pm.Account().OpenOrders.Len())

	out = h.step(mkBar(2, 100, 101, 99, 100))
	require.Len(t, out, 1)
	assert.True(t, out[0].Fill.Time.After(o.CreatedAt))
}

func TestLimitOrder(t *testing.T) {
	h := newHarness(Config{SlippagePct: 0.001})
	h.prev = mkBar(0, 100, 101, 99, 100)
	h.add(&broker.Order{Side: broker.Buy, Type: broker.Limit, Qty: 1, Price: 98})

	assert.Empty(t, h.step(mkBar(1, 100, 101, 99, 100)))
	out := h.step(mkBar(2, 99, 99.5, 97.5, 98))
	require.Len(t, out, 1)
	assert.InDelta(t, 98*1.001, out[0].Fill.Price, 1e-9)
}

func TestStopMarketGapFill(t *testing.T) {
	h := newHarness(Config{})
	h.prev = mkBar(0, 100, 101, 99, 100)
	_, err := h.pm.Apply(broker.Fill{Symbol: "X", Side: broker.Buy, Qty: 1, Price: 100, Time: t0})
	require.NoError(t, err)
	h.add(&broker.Order{Side: broker.Sell, Type: broker.StopMarket, StopPrice: 98, ReduceOnly: true, IsSL: true})

	// gap down through the stop fills at the open
	out := h.step(mkBar(1, 96, 97, 95, 96))
	require.Len(t, out, 1)
	assert.InDelta(t, 96, out[0].Fill.Price, 1e-9)
	assert.Equal(t, broker.Closed, out[0].Event.Type)
}

func TestReduceOnlyCappedToPosition(t *testing.T) {
	h := newHarness(Config{})
	h.prev = mkBar(0, 100, 101, 99, 100)
	_, err := h.pm.Apply(broker.Fill{Symbol: "X", Side: broker.Buy, Qty: 1, Price: 100, Time: t0})
	require.NoError(t, err)
	h.add(&broker.Order{Side: broker.Sell, Type: broker.StopMarket, Qty: 2, StopPrice: 99.5, ReduceOnly: true, IsSL: true})

	out := h.step(mkBar(1, 100, 100.5, 99, 99.2))
	require.Len(t, out, 1)
	assert.Equal(t, 1.0, out[0].Fill.Qty)
	assert.InDelta(t, 99.5, out[0].Fill.Price, 1e-9)
	assert.Equal(t, broker.Closed, out[0].Event.Type)
	assert.Nil(t, h.pm.Account().Position("X"))
}

func TestReduceOnlyWithoutExposureIsDropped(t *testing.T) {
	h := newHarness(Config{})
	h.prev = mkBar(0, 100, 101, 99, 100)
	h.add(&broker.Order{Side: broker.Sell, Type: broker.Market, Qty: 1, ReduceOnly: true})

	out := h.step(mkBar(1, 100, 101, 99, 100))
	require.Len(t, out, 1)
	assert.True(t, out[0].Canceled)
	assert.Equal(t, broker.StatusCanceled, out[0].Order.Status)
	assert.Equal(t, 0, h.pm.Account().OpenOrders.Len())
	assert.Empty(t, h.pm.Account().Positions)
}

func TestSLWinsOverTP(t *testing.T) {
	h := newHarness(Config{})
	h.prev = mkBar(0, 100, 101, 99, 100)
	_, err := h.pm.Apply(broker.Fill{Symbol: "X", Side: broker.Buy, Qty: 1, Price: 100, Time: t0})
	require.NoError(t, err)
	// TP sits first in book order
	h.add(&broker.Order{ID: "tp", Side: broker.Sell, Type: broker.Limit, Price: 102, ReduceOnly: true, IsTP: true})
	h.add(&broker.Order{ID: "sl", Side: broker.Sell, Type: broker.StopMarket, StopPrice: 98, ReduceOnly: true, IsSL: true})

	out := h.step(mkBar(1, 100, 103, 97, 100))
	require.Len(t, out, 1)
	assert.Equal(t, "sl", out[0].Order.ID)
	assert.InDelta(t, -2, out[0].Event.RealizedDelta, 1e-9)
	_, stillResting := h.pm.Account().OpenOrders.Get("tp")
	assert.True(t, stillResting)
}

func TestEntryThenAttachedStopSameBar(t *testing.T) {
	h := newHarness(Config{})
	h.prev = mkBar(0, 100, 101, 99, 100)
	h.add(&broker.Order{ID: "entry", Side: broker.Buy, Type: broker.Market, Qty: 3})
	h.add(&broker.Order{ID: "sl", Side: broker.Sell, Type: broker.StopMarket, StopPrice: 99, ReduceOnly: true, IsSL: true})

	out := h.step(mkBar(1, 100, 100.5, 98.5, 99))
	require.Len(t, out, 2)
	assert.Equal(t, broker.Opened, out[0].Event.Type)
	assert.Equal(t, 3.0, out[1].Fill.Qty, "qty 0 means the whole position")
	assert.Equal(t, broker.Closed, out[1].Event.Type)
}

func TestStopLimitAndTIF(t *testing.T) {
	h := newHarness(Config{})
	h.prev = mkBar(0, 100, 101, 99, 100)
	h.add(&broker.Order{ID: "sl", Side: broker.Buy, Type: broker.StopLimit, Qty: 1, StopPrice: 102, Price: 102.5})
	h.add(&broker.Order{ID: "ioc", Side: broker.Buy, Type: broker.Limit, Qty: 1, Price: 90, TimeInForce: broker.IOC})

	out := h.step(mkBar(1, 100, 102.2, 99.5, 102))
	require.Len(t, out, 1)
	assert.Equal(t, "ioc", out[0].Order.ID)
	assert.True(t, out[0].Canceled)

	o, ok := h.pm.Account().OpenOrders.Get("sl")
	require.True(t, ok)
	assert.True(t, o.Triggered)

	out = h.step(mkBar(2, 102.8, 103, 102.4, 102.6))
	require.Len(t, out, 1)
	assert.InDelta(t, 102.5, out[0].Fill.Price, 1e-9)
}

func TestOpposingNonReduceOnlyFlipRejected(t *testing.T) {
	h := newHarness(Config{})
	h.prev = mkBar(0, 100, 101, 99, 100)
	_, err := h.pm.Apply(broker.Fill{Symbol: "X", Side: broker.Buy, Qty: 1, Price: 100, Time: t0})
	require.NoError(t, err)
	h.add(&broker.Order{Side: broker.Sell, Type: broker.Market, Qty: 1.5})

	out := h.step(mkBar(1, 100, 101, 99, 100))
	require.Len(t, out, 1)
	assert.ErrorIs(t, out[0].Err, ErrRejectedFill)
	assert.Equal(t, 1.0, h.pm.Account().Position("X").Qty)
	assert.Equal(t, 0, h.pm.Account().OpenOrders.Len())
}
