package journal

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/afts/broker"
	"github.com/rustyeddy/afts/events"
)

type memJournal struct {
	trades []TradeRecord
	equity []EquitySnapshot
	closed bool
}

func (m *memJournal) RecordTrade(t TradeRecord) error     { m.trades = append(m.trades, t); return nil }
func (m *memJournal) RecordEquity(e EquitySnapshot) error { m.equity = append(m.equity, e); return nil }
func (m *memJournal) Close() error                        { m.closed = true; return nil }

func TestSinkRecordsTrades(t *testing.T) {
	mem := &memJournal{}
	s := NewSink(mem, "r1", nil)

	open := t0
	s.Emit(events.Event{Kind: events.KindFill, Time: open, Fill: &broker.Fill{OrderID: "o1", TradeID: "t1", Qty: 10, Fee: 0.1, Reason: "Entry"}})
	s.Emit(events.Event{Kind: events.KindPosition, Time: open, Position: &broker.PositionEvent{
		Symbol: "X", Type: broker.Opened, Qty: 10, Price: 100, EntryPrice: 100, Side: broker.Long, Time: open, OrderID: "o1",
	}})
	assert.Empty(t, mem.trades)

	closed := t0.Add(time.Hour)
	s.Emit(events.Event{Kind: events.KindFill, Time: closed, Fill: &broker.Fill{OrderID: "o2", TradeID: "t2", Qty: 4, Fee: 0.05, Reason: "PartialClose"}})
	s.Emit(events.Event{Kind: events.KindPosition, Time: closed, Position: &broker.PositionEvent{
		Symbol: "X", Type: broker.Reduced, RealizedDelta: 8, Qty: 6, Price: 102, EntryPrice: 100, Side: broker.Long, Time: closed, OrderID: "o2",
	}})
	s.Emit(events.Event{Kind: events.KindPosition, Time: closed, Position: &broker.PositionEvent{
		Symbol: "X", Type: broker.Closed, RealizedDelta: -3, Qty: 0, Price: 99.5, EntryPrice: 100, Side: broker.Long, Time: closed, OrderID: "EndOfData",
	}})

	require.Len(t, mem.trades, 2)
	p := mem.trades[0]
	assert.Equal(t, "t2", p.TradeID)
	assert.Equal(t, 4.0, p.Qty)
	assert.Equal(t, 8.0, p.RealizedPnL)
	assert.Equal(t, "PartialClose", p.Reason)
	assert.True(t, p.OpenTime.Equal(open))
	assert.Equal(t, "LONG", p.Side)

	c := mem.trades[1]
	assert.Equal(t, "EndOfData-"+closedMs(closed), c.TradeID)
	assert.Equal(t, -3.0, c.RealizedPnL)

	require.NoError(t, s.Close())
	assert.True(t, mem.closed)
}

func TestSinkRecordsEquity(t *testing.T) {
	mem := &memJournal{}
	s := NewSink(mem, "r1", nil)
	s.Emit(events.Event{Kind: events.KindEquity, Time: t0, Equity: &events.EquityPoint{Balance: 1000, Equity: 1010, UnrealizedPnL: 10}})
	s.Emit(events.Event{Kind: events.KindDecision, Time: t0})

	require.Len(t, mem.equity, 1)
	assert.Equal(t, "r1", mem.equity[0].RunID)
	assert.Equal(t, 1010.0, mem.equity[0].Equity)
}

func closedMs(ts time.Time) string {
	return strconv.FormatInt(ts.UnixMilli(), 10)
}
