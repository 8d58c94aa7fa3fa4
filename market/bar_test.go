package market

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bar(t time.Time, o, h, l, c float64) Bar {
	return Bar{Time: t, Symbol: "EUR_USD", Open: o, High: h, Low: l, Close: c}
}

func TestValidatorAcceptsIncreasingBars(t *testing.T) {
	var v Validator
	t0 := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, v.Check(bar(t0.Add(time.Duration(i)*time.Minute), 1, 1.1, 0.9, 1)))
	}
	last, ok := v.Last()
	assert.True(t, ok)
	assert.Equal(t, t0.Add(4*time.Minute), last)
}

func TestValidatorRejects(t *testing.T) {
	t0 := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		next Bar
		want error
	}{
		{"duplicate", bar(t0, 1, 1.1, 0.9, 1), ErrDuplicateTimestamp},
		{"regression", bar(t0.Add(-time.Minute), 1, 1.1, 0.9, 1), ErrOutOfOrder},
		{"symbol", Bar{Time: t0.Add(time.Minute), Symbol: "USD_JPY", Open: 1, High: 1, Low: 1, Close: 1}, ErrSymbolMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v Validator
			require.NoError(t, v.Check(bar(t0, 1, 1.1, 0.9, 1)))
			err := v.Check(tt.next)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestBarValid(t *testing.T) {
	t0 := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)

	assert.NoError(t, bar(t0, 1, 1.2, 0.8, 1.1).Valid())
	assert.Error(t, bar(t0, 1, 0.8, 1.2, 1.1).Valid())
	assert.Error(t, bar(t0, math.NaN(), 1.2, 0.8, 1.1).Valid())
}

func TestBarContains(t *testing.T) {
	b := bar(time.Time{}, 1.1, 1.2, 1.0, 1.15)
	assert.True(t, b.Contains(1.0))
	assert.True(t, b.Contains(1.2))
	assert.False(t, b.Contains(1.21))
	assert.InDelta(t, 0.2, b.Range(), 1e-12)
	assert.InDelta(t, 1.1, b.Mid(), 1e-12)
}

func TestAssetsGetDefaults(t *testing.T) {
	assets := Assets{"XAU_USD": {MinQty: 0.01, TickSize: 0.01, CostPerUnit: 100}}

	gold := assets.Get("XAU_USD")
	assert.Equal(t, "XAU_USD", gold.Symbol)
	assert.Equal(t, 0.01, gold.MinQty)
	assert.Equal(t, 100.0, gold.Multiplier())
	assert.Equal(t, 1000.0, gold.DefaultQty)

	eur := assets.Get("EUR_USD")
	assert.Equal(t, 10000.0, eur.DefaultQty)
	assert.InDelta(t, 0.0001, eur.PipSize(), 1e-12)

	unknown := assets.Get("FOO")
	assert.Equal(t, 1.0, unknown.MinQty)
}

func TestTimeframe(t *testing.T) {
	d, err := Timeframe("M15")
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, d)

	_, err = Timeframe("M7")
	assert.Error(t, err)

	d, err = Timeframe("D")
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, d)
}

func TestSameDay(t *testing.T) {
	a := time.Date(2024, 3, 4, 23, 59, 0, 0, time.UTC)
	assert.True(t, SameDay(a, a.Add(-time.Hour)))
	assert.False(t, SameDay(a, a.Add(2*time.Minute)))
	assert.Equal(t, "2024-03-04", DayKey(a))
}
