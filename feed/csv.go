package feed

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rustyeddy/afts/market"
)

// CSVFeed reads bar rows:
//
//	time,open,high,low,close[,volume]
//
// where time is RFC3339 or RFC3339Nano. A single header row is allowed,
// empty or short rows are skipped and bars outside [From, To) are dropped.
type CSVFeed struct {
	closer io.Closer
	r      *csv.Reader
	symbol string
	from   time.Time
	to     time.Time

	sawFirst bool
	line     int
}

// OpenCSV opens path as a bar feed for symbol.
func OpenCSV(path, symbol string, from, to time.Time) (*CSVFeed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	feed := NewCSV(f, symbol, from, to)
	feed.closer = f
	return feed, nil
}

// NewCSV reads bars from r. The caller owns r.
func NewCSV(r io.Reader, symbol string, from, to time.Time) *CSVFeed {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	return &CSVFeed{r: cr, symbol: symbol, from: from, to: to}
}

func (f *CSVFeed) Close() error {
	if f.closer != nil {
		return f.closer.Close()
	}
	return nil
}

func (f *CSVFeed) Next(ctx context.Context) (market.Bar, bool, error) {
	for {
		if err := ctx.Err(); err != nil {
			return market.Bar{}, false, err
		}
		row, err := f.r.Read()
		if err == io.EOF {
			return market.Bar{}, false, nil
		}
		if err != nil {
			return market.Bar{}, false, err
		}
		f.line++
		if len(row) == 0 {
			continue
		}

		if !f.sawFirst {
			f.sawFirst = true
			if strings.EqualFold(strings.TrimSpace(row[0]), "time") {
				continue
			}
		}

		b, ok, err := f.parseRow(row)
		if err != nil {
			return market.Bar{}, false, fmt.Errorf("csv line %d: %w", f.line, err)
		}
		if !ok || !inRange(b.Time, f.from, f.to) {
			continue
		}
		return b, true, nil
	}
}

func (f *CSVFeed) parseRow(row []string) (market.Bar, bool, error) {
	if len(row) < 5 {
		return market.Bar{}, false, nil
	}
	ts := strings.TrimSpace(row[0])
	if ts == "" {
		return market.Bar{}, false, nil
	}
	t, err := parseTime(ts)
	if err != nil {
		return market.Bar{}, false, fmt.Errorf("bad time %q: %w", ts, err)
	}

	var vals [5]float64
	n := 4
	if len(row) > 5 && strings.TrimSpace(row[5]) != "" {
		n = 5
	}
	for i := 0; i < n; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(row[i+1]), 64)
		if err != nil {
			return market.Bar{}, false, fmt.Errorf("bad value %q: %w", row[i+1], err)
		}
		vals[i] = v
	}
	return market.Bar{
		Time:   t.UTC(),
		Symbol: f.symbol,
		Open:   vals[0],
		High:   vals[1],
		Low:    vals[2],
		Close:  vals[3],
		Volume: vals[4],
	}, true, nil
}

// WriteCSV drains f into w in the format CSVFeed reads, header included,
// and returns the number of bars written.
func WriteCSV(ctx context.Context, w io.Writer, f Feed) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"time", "open", "high", "low", "close", "volume"}); err != nil {
		return 0, err
	}
	n := 0
	for {
		b, ok, err := f.Next(ctx)
		if err != nil {
			return n, err
		}
		if !ok {
			break
		}
		row := []string{b.Time.UTC().Format(time.RFC3339Nano), num(b.Open), num(b.High), num(b.Low), num(b.Close), num(b.Volume)}
		if err := cw.Write(row); err != nil {
			return n, err
		}
		n++
	}
	cw.Flush()
	return n, cw.Error()
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
