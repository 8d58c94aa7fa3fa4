package exits

import (
	"testing"
	"time"

	"github.com/rustyeddy/afts/broker"
	"github.com/rustyeddy/afts/market"
	"github.com/rustyeddy/afts/strategy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bar(close float64) market.Bar {
	return market.Bar{Symbol: "X", Time: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), Open: close, High: close, Low: close, Close: close}
}

func long(entry float64) *broker.Position {
	return &broker.Position{Symbol: "X", Side: broker.Long, Qty: 1, EntryPrice: entry}
}

func short(entry float64) *broker.Position {
	return &broker.Position{Symbol: "X", Side: broker.Short, Qty: 1, EntryPrice: entry}
}

func atr(v float64) *float64 { return &v }

func TestTightenMonotonic(t *testing.T) {
	a := NewApplier(DefaultConfig())
	d := strategy.None()
	d.CurrentSL = strategy.Ptr(95)

	changed := a.Apply(Input{Action: strategy.ExitTightenSL, Position: long(100), Bar: bar(110), ATR: atr(2)}, &d)
	require.True(t, changed)
	require.NotNil(t, d.Update.SLPrice)
	assert.InDelta(t, 109, *d.Update.SLPrice, 1e-9)
	assert.InDelta(t, 109, *d.CurrentSL, 1e-9)
	assert.Equal(t, strategy.ActionManage, d.Action)
	assert.Equal(t, strategy.ExitTightenSL, *d.ExitAction)

	next := strategy.None()
	next.CurrentSL = d.CurrentSL
	changed = a.Apply(Input{Action: strategy.ExitTightenSL, Position: long(100), Bar: bar(108), ATR: atr(2)}, &next)
	assert.False(t, changed)
	assert.Nil(t, next.Update.SLPrice)
	assert.InDelta(t, 109, *next.CurrentSL, 1e-9)
	assert.Equal(t, strategy.ActionNone, next.Action)
}

func TestShortMirrorsLong(t *testing.T) {
	a := NewApplier(DefaultConfig())
	d := strategy.None()
	d.CurrentSL = strategy.Ptr(105)
	require.True(t, a.Apply(Input{Action: strategy.ExitTrailSL, Position: short(100), Bar: bar(90), ATR: atr(2)}, &d))
	assert.InDelta(t, 92, *d.Update.SLPrice, 1e-9)

	next := strategy.None()
	next.CurrentSL = d.CurrentSL
	assert.False(t, a.Apply(Input{Action: strategy.ExitTrailSL, Position: short(100), Bar: bar(93), ATR: atr(2)}, &next))
	assert.InDelta(t, 92, *next.CurrentSL, 1e-9)
}

func TestLooserAllowed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowLooserSL = true
	a := NewApplier(cfg)
	d := strategy.None()
	d.CurrentSL = strategy.Ptr(109)
	require.True(t, a.Apply(Input{Action: strategy.ExitTightenSL, Position: long(100), Bar: bar(108), ATR: atr(2)}, &d))
	assert.InDelta(t, 107, *d.Update.SLPrice, 1e-9)
}

func TestBreakEven(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BEOffsetTicks = 2
	a := NewApplier(cfg)

	d := strategy.None()
	require.True(t, a.Apply(Input{Action: strategy.ExitMoveSLToBE, Position: long(100), Bar: bar(104), TickSize: 0.5}, &d))
	assert.InDelta(t, 101, *d.Update.SLPrice, 1e-9)

	d = strategy.None()
	require.True(t, a.Apply(Input{Action: strategy.ExitMoveSLToBE, Position: short(100), Bar: bar(96), TickSize: 0.5}, &d))
	assert.InDelta(t, 99, *d.Update.SLPrice, 1e-9)

	// already tighter than break-even
	d = strategy.None()
	d.CurrentSL = strategy.Ptr(102)
	assert.False(t, a.Apply(Input{Action: strategy.ExitMoveSLToBE, Position: long(100), Bar: bar(104), TickSize: 0.5}, &d))
}

func TestCloseActions(t *testing.T) {
	a := NewApplier(DefaultConfig())

	d := strategy.None()
	require.True(t, a.Apply(Input{Action: strategy.ExitPartialClose, Position: long(100), Bar: bar(101)}, &d))
	assert.InDelta(t, 0.5, *d.PartialCloseFraction, 1e-12)
	assert.Equal(t, 0.5, d.Meta["exit_partial_close_fraction"])
	assert.Equal(t, strategy.ActionManage, d.Action)

	d = strategy.None()
	require.True(t, a.Apply(Input{Action: strategy.ExitFullClose, Position: long(100), Bar: bar(101)}, &d))
	assert.True(t, d.FullClose)
	assert.Equal(t, strategy.ActionExit, d.Action)
}

func TestNoPositionIsNoop(t *testing.T) {
	a := NewApplier(DefaultConfig())
	d := strategy.Entry(strategy.Long, 0.7)
	assert.False(t, a.Apply(Input{Action: strategy.ExitFullClose, Bar: bar(101)}, &d))
	assert.False(t, d.FullClose)
	assert.Nil(t, d.ExitAction)
	assert.Equal(t, strategy.ActionEntry, d.Action)
}

func TestMissingATRSkips(t *testing.T) {
	a := NewApplier(DefaultConfig())
	d := strategy.None()
	assert.False(t, a.Apply(Input{Action: strategy.ExitTightenSL, Position: long(100), Bar: bar(101)}, &d))
	assert.Equal(t, "atr unavailable", d.Meta["exit_skipped"])
}

func TestValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	cfg := DefaultConfig()
	cfg.PartialCloseFraction = 1.5
	assert.Error(t, cfg.Validate())
}
