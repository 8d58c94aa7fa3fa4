package feed

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const barsCSV = `time,open,high,low,close,volume
2024-01-02T08:00:00Z,1.1000,1.1010,1.0995,1.1005,120

2024-01-02T08:01:00Z,1.1005,1.1012,1.1001,1.1010
2024-01-02T08:02:00.500Z,1.1010,1.1015,1.1008,1.1013,90
short,row
`

func TestCSVFeedReadsBars(t *testing.T) {
	f := NewCSV(strings.NewReader(barsCSV), "EUR_USD", time.Time{}, time.Time{})
	bars, err := Collect(context.Background(), f)
	require.NoError(t, err)
	require.Len(t, bars, 3)

	assert.Equal(t, "EUR_USD", bars[0].Symbol)
	assert.Equal(t, time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC), bars[0].Time)
	assert.Equal(t, 1.1010, bars[0].High)
	assert.Equal(t, 120.0, bars[0].Volume)
	assert.Zero(t, bars[1].Volume)
	assert.Equal(t, 500*time.Millisecond, bars[2].Time.Sub(bars[2].Time.Truncate(time.Second)))
}

func TestCSVFeedRange(t *testing.T) {
	from := time.Date(2024, 1, 2, 8, 1, 0, 0, time.UTC)
	to := time.Date(2024, 1, 2, 8, 2, 0, 0, time.UTC)
	f := NewCSV(strings.NewReader(barsCSV), "EUR_USD", from, to)
	bars, err := Collect(context.Background(), f)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, from, bars[0].Time)
}

func TestCSVFeedNoHeader(t *testing.T) {
	f := NewCSV(strings.NewReader("2024-01-02T08:00:00Z,1,2,0.5,1.5\n"), "X", time.Time{}, time.Time{})
	bars, err := Collect(context.Background(), f)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, 1.5, bars[0].Close)
}

func TestCSVFeedBadValue(t *testing.T) {
	f := NewCSV(strings.NewReader("2024-01-02T08:00:00Z,1,x,0.5,1.5\n"), "X", time.Time{}, time.Time{})
	_, _, err := f.Next(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")
}

func TestOpenCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bars.csv")
	require.NoError(t, os.WriteFile(path, []byte(barsCSV), 0o644))

	f, err := OpenCSV(path, "EUR_USD", time.Time{}, time.Time{})
	require.NoError(t, err)
	defer f.Close()

	b, ok, err := f.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1.1005, b.Close)

	_, err = OpenCSV(filepath.Join(t.TempDir(), "missing.csv"), "X", time.Time{}, time.Time{})
	assert.Error(t, err)
}

func TestSliceHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewSlice(nil)
	_, _, err := s.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWriteCSVIsReadable(t *testing.T) {
	src := NewCSV(strings.NewReader(barsCSV), "EUR_USD", time.Time{}, time.Time{})
	var buf strings.Builder
	n, err := WriteCSV(context.Background(), &buf, src)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.True(t, strings.HasPrefix(buf.String(), "time,open,high,low,close,volume\n"))

	bars, err := Collect(context.Background(), NewCSV(strings.NewReader(buf.String()), "EUR_USD", time.Time{}, time.Time{}))
	require.NoError(t, err)
	require.Len(t, bars, 3)
	assert.Equal(t, 1.1013, bars[2].Close)
	assert.Equal(t, 90.0, bars[2].Volume)
}
