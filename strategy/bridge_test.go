package strategy

import (
	"errors"
	"testing"

	"github.com/rustyeddy/afts/features"
	"github.com/rustyeddy/afts/internal/errs"
	"github.com/rustyeddy/afts/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixed struct {
	name string
	d    Decision
}

func (f fixed) Name() string                { return f.name }
func (f fixed) OnBar(*MarketState) Decision { return f.d }

func dec(a Action, conf float64) Decision {
	return Decision{Action: a, Confidence: conf, Meta: map[string]any{}}
}

func TestMergePriority(t *testing.T) {
	cases := []struct {
		name     string
		in       []Decision
		want     Action
		wantConf float64
	}{
		{"entry beats exit", []Decision{dec(ActionExit, 1), dec(ActionEntry, 0.1)}, ActionEntry, 0.1},
		{"manage beats exit", []Decision{dec(ActionExit, 0.9), dec(ActionManage, 0.2)}, ActionManage, 0.2},
		{"exit beats none", []Decision{dec(ActionNone, 1), dec(ActionExit, 0.3)}, ActionExit, 0.3},
		{"max confidence within action", []Decision{dec(ActionEntry, 0.4), dec(ActionEntry, 0.8), dec(ActionEntry, 0.6)}, ActionEntry, 0.8},
		{"tie keeps first", []Decision{dec(ActionManage, 0.5), dec(ActionManage, 0.5)}, ActionManage, 0.5},
		{"empty", nil, ActionNone, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Merge(tc.in)
			assert.Equal(t, tc.want, got.Action)
			assert.Equal(t, tc.wantConf, got.Confidence)
		})
	}
}

func TestMergeNonePreservesMeta(t *testing.T) {
	a := dec(ActionNone, 0.7)
	a.Side = Long
	a.Meta["orb"] = "range_open"
	b := dec(ActionNone, 0)
	b.Meta["other"] = 1

	got := Merge([]Decision{a, b})
	assert.Equal(t, ActionNone, got.Action)
	assert.Equal(t, NoSide, got.Side)
	assert.Equal(t, 0.0, got.Confidence)
	assert.Equal(t, "range_open", got.Meta["orb"])
	assert.Equal(t, 1, got.Meta["other"])
}

func TestBridgeTraceAndPriors(t *testing.T) {
	entry := Entry(Long, 0.9)
	so := NewSecondOpinion([]float64{1, -1}, 0, 0.5, false)
	br := NewBridge([]Strategy{fixed{"a", entry}, so}, nil)

	ms := &MarketState{
		Bar:      market.Bar{Close: 1},
		Features: &features.Bundle{Raw: map[string]float64{}, Model: []float64{2, 0}},
	}
	got := br.Decide(ms)
	require.Equal(t, ActionEntry, got.Action)
	trace, ok := got.Meta["strategies"].([]Trace)
	require.True(t, ok)
	require.Len(t, trace, 2)
	assert.Equal(t, ActionManage, trace[1].Action)
	assert.Greater(t, trace[1].Confidence, 0.5)

	// without an earlier entry the second opinion stays silent
	br = NewBridge([]Strategy{fixed{"a", None()}, so}, nil)
	got = br.Decide(ms)
	assert.Equal(t, ActionNone, got.Action)
	assert.Len(t, got.Meta["strategies"], 2)
}

func TestSecondOpinionRefinesEntry(t *testing.T) {
	ms := &MarketState{
		Bar:      market.Bar{Close: 1},
		Features: &features.Bundle{Raw: map[string]float64{}, Model: []float64{1}},
	}

	t.Run("disagreeing score caps confidence", func(t *testing.T) {
		br := NewBridge([]Strategy{fixed{"a", Entry(Long, 1)}, NewSecondOpinion([]float64{-10}, -10, 0.5, false)}, nil)
		got := br.Decide(ms)
		require.Equal(t, ActionEntry, got.Action)
		assert.Equal(t, Long, got.Side)
		assert.Less(t, got.Confidence, 1e-6)
		assert.Equal(t, false, got.Meta["ml_agrees"])
		score, ok := got.Meta["ml_score"].(float64)
		require.True(t, ok)
		assert.InDelta(t, got.Confidence, score, 1e-12)
		assert.Equal(t, "a", got.Meta["strategy"])
	})

	t.Run("agreeing score keeps lower entry confidence", func(t *testing.T) {
		br := NewBridge([]Strategy{fixed{"a", Entry(Long, 0.6)}, NewSecondOpinion([]float64{10}, 0, 0.5, true)}, nil)
		got := br.Decide(ms)
		require.Equal(t, ActionEntry, got.Action)
		assert.Equal(t, 0.6, got.Confidence)
		assert.Equal(t, true, got.Meta["ml_agrees"])
	})

	t.Run("short entry flips the score", func(t *testing.T) {
		br := NewBridge([]Strategy{fixed{"a", Entry(Short, 1)}, NewSecondOpinion([]float64{10}, 0, 0.5, false)}, nil)
		got := br.Decide(ms)
		require.Equal(t, ActionEntry, got.Action)
		assert.Less(t, got.Confidence, 1e-3)
		assert.Equal(t, false, got.Meta["ml_agrees"])
	})

	t.Run("veto drops the entry", func(t *testing.T) {
		br := NewBridge([]Strategy{fixed{"a", Entry(Long, 1)}, NewSecondOpinion([]float64{-10}, -10, 0.5, true)}, nil)
		got := br.Decide(ms)
		assert.Equal(t, ActionNone, got.Action)
		assert.Equal(t, true, got.Meta["ml_veto"])
		assert.Len(t, got.Meta["strategies"], 2)
	})

	t.Run("manage from another strategy is not refined", func(t *testing.T) {
		br := NewBridge([]Strategy{fixed{"a", dec(ActionManage, 0.8)}, NewSecondOpinion([]float64{-10}, -10, 0.5, true)}, nil)
		got := br.Decide(ms)
		assert.Equal(t, ActionManage, got.Action)
		assert.Equal(t, 0.8, got.Confidence)
		assert.NotContains(t, got.Meta, "ml_score")
	})
}

type listener struct {
	fixed
	placed []Decision
}

func (l *listener) OnEntryPlaced(d Decision) { l.placed = append(l.placed, d) }

func TestBridgePlacedReachesEmitter(t *testing.T) {
	a := &listener{fixed: fixed{"a", Entry(Long, 0.4)}}
	b := &listener{fixed: fixed{"b", Entry(Long, 0.9)}}
	br := NewBridge([]Strategy{a, b}, nil)

	got := br.Decide(&MarketState{Bar: market.Bar{Close: 1}})
	br.Placed(got)
	assert.Empty(t, a.placed)
	require.Len(t, b.placed, 1)
	assert.Equal(t, 0.9, b.placed[0].Confidence)

	br.Placed(None())
	assert.Len(t, b.placed, 1)
}

func TestCatalogBuild(t *testing.T) {
	strats, err := DefaultCatalog().Build(Config{
		EnabledStrategies: []string{"orb", "ema_cross", "ml_second_opinion", "noop"},
		StrategyParams:    map[string]map[string]float64{"ema_cross": {"fast": 5, "slow": 10}},
	})
	require.NoError(t, err)
	require.Len(t, strats, 4)
	assert.Equal(t, "orb", strats[0].Name())

	_, err = DefaultCatalog().Build(Config{EnabledStrategies: []string{"martingale"}})
	assert.True(t, errors.Is(err, errs.ErrConfig))

	_, err = DefaultCatalog().Build(Config{
		EnabledStrategies: []string{"ema_cross"},
		StrategyParams:    map[string]map[string]float64{"ema_cross": {"fast": 10, "slow": 5}},
	})
	assert.True(t, errors.Is(err, errs.ErrConfig))

	_, err = NewBridgeFromConfig(Config{}, nil, nil)
	assert.True(t, errors.Is(err, errs.ErrConfig))
}
