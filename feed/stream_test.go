package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedTicks struct {
	ticks []Tick
	err   error
}

func (f fixedTicks) StreamTicks(ctx context.Context, _ string, fn func(Tick) error) error {
	for _, t := range f.ticks {
		if err := fn(t); err != nil {
			return err
		}
	}
	return f.err
}

func TestTickFeedAggregates(t *testing.T) {
	t0 := time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC)
	src := fixedTicks{ticks: []Tick{
		{Time: t0, Bid: 1, Ask: 1},
		{Time: t0.Add(30 * time.Second), Bid: 3, Ask: 3},
		{Time: t0.Add(70 * time.Second), Bid: 2, Ask: 2},
	}}
	f := StartTicks(context.Background(), src, "EUR_USD", time.Minute, nil)
	defer f.Close()

	bars, err := Collect(context.Background(), f)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 3.0, bars[0].High)
	assert.Equal(t, 3.0, bars[0].Close)
	assert.Equal(t, t0.Add(time.Minute), bars[1].Time)
}

func TestTickFeedSurfacesStreamError(t *testing.T) {
	f := StartTicks(context.Background(), fixedTicks{err: errors.New("stream reset")}, "X", time.Minute, nil)
	defer f.Close()
	_, _, err := f.Next(context.Background())
	assert.EqualError(t, err, "stream reset")
}
