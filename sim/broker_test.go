package sim

import (
	"context"
	"testing"

	"github.com/rustyeddy/afts/broker"
	"github.com/rustyeddy/afts/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSimBroker() *Broker {
	return NewBroker(broker.NewAccount("USD", 10000), market.Assets{"X": {TickSize: 0.01, CostPerUnit: 1}}, Config{}, 0.2, nil, nil)
}

func TestBrokerRejectsWithoutData(t *testing.T) {
	b := newSimBroker()
	ack, err := b.SendEntryOrder(context.Background(), broker.EntryRequest{Symbol: "X", Side: broker.Buy, Size: 1})
	require.NoError(t, err)
	assert.Equal(t, broker.Rejected, ack.Status)

	_, err = b.GetPrice(context.Background(), "X")
	assert.Error(t, err)
}

func TestBrokerEntryFillsNextBarAndOCO(t *testing.T) {
	ctx := context.Background()
	b := newSimBroker()
	b.Advance(mkBar(0, 100, 101, 99, 100))

	q, err := b.GetPrice(ctx, "X")
	require.NoError(t, err)
	assert.InDelta(t, 99.9, q.Bid, 1e-9)
	assert.InDelta(t, 100.1, q.Ask, 1e-9)

	ack, err := b.SendEntryOrder(ctx, broker.EntryRequest{
		Symbol: "X", Side: broker.Buy, Size: 2,
		StopLoss: ptr(98.0), TakeProfit: ptr(104.0),
	})
	require.NoError(t, err)
	require.Equal(t, broker.Accepted, ack.Status)
	assert.NotEmpty(t, ack.OrderID)

	out := b.Advance(mkBar(1, 100.5, 101, 100, 100.8))
	require.Len(t, out, 1)
	assert.Equal(t, ack.OrderID, out[0].Order.ID)
	assert.InDelta(t, 100.5, out[0].Fill.Price, 1e-9)

	pos, err := b.GetPosition(ctx, "X")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, 2.0, pos.Qty)
	assert.Equal(t, 2, b.Account().OpenOrders.Len())

	out = b.Advance(mkBar(2, 101, 104.5, 100.9, 104))
	require.Len(t, out, 1)
	assert.True(t, out[0].Order.IsTP)
	assert.Equal(t, broker.Closed, out[0].Event.Type)
	assert.InDelta(t, 7, out[0].Event.RealizedDelta, 1e-9)
	assert.Equal(t, 0, b.Account().OpenOrders.Len(), "sl canceled with the tp")

	pos, err = b.GetPosition(ctx, "X")
	require.NoError(t, err)
	assert.Nil(t, pos)
}

func TestBrokerModifyAndExit(t *testing.T) {
	ctx := context.Background()
	b := newSimBroker()
	b.Advance(mkBar(0, 100, 101, 99, 100))
	_, err := b.SendEntryOrder(ctx, broker.EntryRequest{Symbol: "X", Side: broker.Sell, Size: 1, StopLoss: ptr(103.0)})
	require.NoError(t, err)

	ack, err := b.ModifySLTP(ctx, "X", ptr(102.0), nil)
	require.NoError(t, err)
	assert.Equal(t, broker.Rejected, ack.Status, "no position yet")

	b.Advance(mkBar(1, 100, 100.5, 99.5, 100))
	ack, err = b.ModifySLTP(ctx, "X", ptr(101.0), nil)
	require.NoError(t, err)
	assert.Equal(t, broker.Accepted, ack.Status)

	b.Advance(mkBar(2, 100, 100.5, 99.5, 100))
	acct := b.Account()
	require.Equal(t, 1, acct.OpenOrders.Len())
	assert.InDelta(t, 101, acct.OpenOrders.List()[0].StopPrice, 1e-9)

	ack, err = b.SendExitOrder(ctx, "X", 0)
	require.NoError(t, err)
	assert.Equal(t, broker.Accepted, ack.Status)
	out := b.Advance(mkBar(3, 99, 99.5, 98.5, 99))
	require.Len(t, out, 1)
	assert.Equal(t, broker.Closed, out[0].Event.Type)
	assert.InDelta(t, 1, out[0].Event.RealizedDelta, 1e-9)
	assert.Equal(t, 0, b.Account().OpenOrders.Len())
}

func ptr(v float64) *float64 { return &v }
