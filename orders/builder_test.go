package orders

import (
	"testing"
	"time"

	"github.com/rustyeddy/afts/broker"
	"github.com/rustyeddy/afts/market"
	"github.com/rustyeddy/afts/strategy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	ts     = time.Date(2024, 4, 2, 9, 0, 0, 0, time.UTC)
	assets = market.Assets{"X": {MinQty: 10, TickSize: 0.01, CostPerUnit: 1, DefaultQty: 100}}
)

func xbar(c float64) market.Bar {
	return market.Bar{Symbol: "X", Time: ts, Open: c, High: c, Low: c, Close: c}
}

func acctWith(side broker.PositionSide, qty, entry float64) *broker.Account {
	a := broker.NewAccount("USD", 10000)
	if qty > 0 {
		a.Positions["X"] = &broker.Position{Symbol: "X", Side: side, Qty: qty, EntryPrice: entry}
	}
	return a
}

func TestEntryWithProtectiveOrders(t *testing.T) {
	b := NewBuilder(assets, nil, nil)
	d := strategy.Entry(strategy.Long, 0.8)
	d.Update.PositionSize = strategy.Ptr(257)
	d.Update.SLPrice = strategy.Ptr(98.004)
	d.Update.TPPrice = strategy.Ptr(104.006)

	out := b.Build(d, xbar(100), acctWith("", 0, 0))
	require.Len(t, out, 3)

	e := out[0]
	assert.Equal(t, broker.Market, e.Type)
	assert.Equal(t, broker.Buy, e.Side)
	assert.Equal(t, 250.0, e.Qty)
	assert.False(t, e.ReduceOnly)
	assert.Equal(t, ts, e.CreatedAt)
	assert.Equal(t, broker.StatusNew, e.Status)

	sl, tp := out[1], out[2]
	assert.Equal(t, broker.StopMarket, sl.Type)
	assert.Equal(t, broker.Sell, sl.Side)
	assert.True(t, sl.ReduceOnly && sl.IsSL)
	assert.Zero(t, sl.Qty)
	assert.InDelta(t, 98.0, sl.StopPrice, 1e-12)
	assert.Equal(t, broker.Limit, tp.Type)
	assert.True(t, tp.ReduceOnly && tp.IsTP)
	assert.InDelta(t, 104.01, tp.Price, 1e-12)

	ids := map[string]bool{}
	for _, o := range out {
		ids[o.ID] = true
	}
	assert.Len(t, ids, 3)
}

func TestEntryDefaultsAndGuards(t *testing.T) {
	b := NewBuilder(assets, nil, nil)

	out := b.Build(strategy.Entry(strategy.Short, 1), xbar(100), acctWith("", 0, 0))
	require.Len(t, out, 1)
	assert.Equal(t, 100.0, out[0].Qty)
	assert.Equal(t, broker.Sell, out[0].Side)

	// opposite exposure never flips
	assert.Empty(t, b.Build(strategy.Entry(strategy.Short, 1), xbar(100), acctWith(broker.Long, 50, 99)))

	d := strategy.Entry(strategy.Long, 1)
	d.Update.PositionSize = strategy.Ptr(4)
	assert.Empty(t, b.Build(d, xbar(100), acctWith("", 0, 0)), "below min qty")
}

func TestManageStopPrecedence(t *testing.T) {
	b := NewBuilder(assets, nil, nil)
	acct := acctWith(broker.Long, 100, 100)

	tests := []struct {
		name string
		upd  strategy.Update
		want float64
	}{
		{"explicit", strategy.Update{SLPrice: strategy.Ptr(99.5), TrailSLTo: TrailToBreakEven}, 99.5},
		{"break even", strategy.Update{TrailSLTo: TrailToBreakEven, TrailSLPct: strategy.Ptr(0.01)}, 100},
		{"pct", strategy.Update{TrailSLPct: strategy.Ptr(0.01)}, 99},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := strategy.Decision{Action: strategy.ActionManage, Update: tt.upd}
			out := b.Build(d, xbar(101), acct)
			require.Len(t, out, 1)
			assert.Equal(t, broker.Sell, out[0].Side)
			assert.True(t, out[0].IsSL)
			assert.InDelta(t, tt.want, out[0].StopPrice, 1e-9)
		})
	}

	short := acctWith(broker.Short, 100, 100)
	d := strategy.Decision{Action: strategy.ActionManage, Update: strategy.Update{TrailSLPct: strategy.Ptr(0.01)}}
	out := b.Build(d, xbar(99), short)
	require.Len(t, out, 1)
	assert.Equal(t, broker.Buy, out[0].Side)
	assert.InDelta(t, 101, out[0].StopPrice, 1e-9)
}

func TestManageTargetsAndPartials(t *testing.T) {
	b := NewBuilder(assets, nil, nil)
	acct := acctWith(broker.Long, 100, 100)

	d := strategy.Decision{Action: strategy.ActionManage}
	d.Update.TPPrice = strategy.Ptr(105)
	d.PartialCloseFraction = strategy.Ptr(0.5)
	out := b.Build(d, xbar(101), acct)
	require.Len(t, out, 2)
	assert.True(t, out[0].IsTP)
	assert.Equal(t, broker.Market, out[1].Type)
	assert.True(t, out[1].ReduceOnly)
	assert.Equal(t, 50.0, out[1].Qty)

	// close_pct wins over the agent fraction
	d.Update.ClosePct = strategy.Ptr(0.25)
	out = b.Build(d, xbar(101), acct)
	require.Len(t, out, 2)
	assert.Equal(t, 20.0, out[1].Qty)

	assert.Empty(t, b.Build(strategy.Decision{Action: strategy.ActionManage, Update: strategy.Update{SLPrice: strategy.Ptr(1)}}, xbar(1), acctWith("", 0, 0)))
}

func TestExit(t *testing.T) {
	b := NewBuilder(assets, nil, nil)
	acct := acctWith(broker.Short, 100, 100)

	out := b.Build(strategy.Decision{Action: strategy.ActionExit}, xbar(101), acct)
	require.Len(t, out, 1)
	assert.Equal(t, broker.Buy, out[0].Side)
	assert.True(t, out[0].ReduceOnly)
	assert.Zero(t, out[0].Qty, "whole position")

	d := strategy.Decision{Action: strategy.ActionExit, PartialCloseFraction: strategy.Ptr(0.3)}
	out = b.Build(d, xbar(101), acct)
	require.Len(t, out, 1)
	assert.Equal(t, 30.0, out[0].Qty)

	assert.Empty(t, b.Build(strategy.Decision{Action: strategy.ActionExit}, xbar(101), acctWith("", 0, 0)))
}

func TestFlatten(t *testing.T) {
	b := NewBuilder(assets, nil, nil)
	acct := acctWith(broker.Long, 100, 100)
	acct.Positions["Y"] = &broker.Position{Symbol: "Y", Side: broker.Short, Qty: 3}
	out := b.Flatten(xbar(100), acct)
	require.Len(t, out, 2)
	assert.Equal(t, "X", out[0].Symbol)
	assert.Equal(t, broker.Sell, out[0].Side)
	assert.Equal(t, "Y", out[1].Symbol)
	assert.Equal(t, broker.Buy, out[1].Side)
	assert.Equal(t, ReasonFlatten, out[1].Reason)
}

func TestRounding(t *testing.T) {
	assert.Equal(t, 0.3, RoundQty(0.35, 0.1))
	assert.Equal(t, 1.23, RoundPrice(1.2349, 0.01))
	assert.Equal(t, 1.10015, RoundPrice(1.100149, 0.00005))
	assert.Equal(t, 7.0, RoundQty(7, 0))
	assert.Zero(t, RoundQty(-1, 1))
}
