package oanda

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rustyeddy/afts/feed"
	"github.com/rustyeddy/afts/market"
)

// CandlesOptions selects candles. Count wins over From/To when set.
type CandlesOptions struct {
	Instrument  string
	Granularity string // e.g. M1, H1, D
	Price       string // M, B or A

	From  time.Time
	To    time.Time
	Count int
}

type ohlc struct {
	O string `json:"o"`
	H string `json:"h"`
	L string `json:"l"`
	C string `json:"c"`
}

type candlesResp struct {
	Instrument  string `json:"instrument"`
	Granularity string `json:"granularity"`
	Candles     []struct {
		Complete bool      `json:"complete"`
		Time     time.Time `json:"time"`
		Volume   int       `json:"volume"`
		Mid      *ohlc     `json:"mid,omitempty"`
		Bid      *ohlc     `json:"bid,omitempty"`
		Ask      *ohlc     `json:"ask,omitempty"`
	} `json:"candles"`
}

// Candles fetches candles for one instrument, including the forming one.
func (c *Client) Candles(ctx context.Context, opts CandlesOptions) ([]feed.Candle, error) {
	if opts.Instrument == "" {
		return nil, fmt.Errorf("oanda: missing instrument")
	}
	if opts.Granularity == "" {
		return nil, fmt.Errorf("oanda: missing granularity")
	}
	price := strings.ToUpper(strings.TrimSpace(opts.Price))
	if price == "" {
		price = "M"
	}
	if price != "M" && price != "B" && price != "A" {
		return nil, fmt.Errorf("oanda: price %q not supported (want M, B or A)", opts.Price)
	}
	if opts.Count > 5000 {
		return nil, fmt.Errorf("oanda: count cannot exceed 5000")
	}

	q := url.Values{}
	q.Set("granularity", opts.Granularity)
	q.Set("price", price)
	if opts.Count > 0 {
		q.Set("count", strconv.Itoa(opts.Count))
		if !opts.From.IsZero() {
			q.Set("from", opts.From.UTC().Format(time.RFC3339Nano))
		}
	} else {
		if !opts.From.IsZero() {
			q.Set("from", opts.From.UTC().Format(time.RFC3339Nano))
		}
		if !opts.To.IsZero() {
			q.Set("to", opts.To.UTC().Format(time.RFC3339Nano))
		}
	}

	var cr candlesResp
	path := fmt.Sprintf("/v3/instruments/%s/candles", url.PathEscape(opts.Instrument))
	if err := c.do(ctx, http.MethodGet, path, q, nil, &cr); err != nil {
		return nil, err
	}

	out := make([]feed.Candle, 0, len(cr.Candles))
	for _, cd := range cr.Candles {
		set := cd.Mid
		switch price {
		case "B":
			set = cd.Bid
		case "A":
			set = cd.Ask
		}
		if set == nil {
			continue
		}
		var v [4]float64
		for i, s := range []string{set.O, set.H, set.L, set.C} {
			f, err := num(s)
			if err != nil {
				return nil, fmt.Errorf("candle %s: %w", cd.Time.Format(time.RFC3339), err)
			}
			v[i] = f
		}
		out = append(out, feed.Candle{
			Bar: market.Bar{
				Time:   cd.Time.UTC(),
				Symbol: opts.Instrument,
				Open:   v[0],
				High:   v[1],
				Low:    v[2],
				Close:  v[3],
				Volume: float64(cd.Volume),
			},
			Complete: cd.Complete,
		})
	}
	return out, nil
}

// maxCandles is the largest page the candles endpoint serves.
const maxCandles = 5000

// History pages through [from, to) and returns the complete bars.
func (c *Client) History(ctx context.Context, symbol, granularity string, from, to time.Time) ([]market.Bar, error) {
	if from.IsZero() || to.IsZero() || !from.Before(to) {
		return nil, fmt.Errorf("oanda: history needs from < to")
	}
	var out []market.Bar
	next := from
	for next.Before(to) {
		page, err := c.Candles(ctx, CandlesOptions{
			Instrument:  symbol,
			Granularity: granularity,
			From:        next,
			Count:       maxCandles,
		})
		if err != nil {
			return out, err
		}
		advanced := false
		for _, cd := range page {
			if !cd.Time.Before(to) {
				return out, nil
			}
			if cd.Time.Before(next) {
				continue
			}
			if cd.Complete {
				out = append(out, cd.Bar)
			}
			next = cd.Time.Add(time.Nanosecond)
			advanced = true
		}
		if !advanced || len(page) < maxCandles {
			break
		}
	}
	c.log.WithField("symbol", symbol).WithField("bars", len(out)).Debug("history loaded")
	return out, nil
}

// RecentCandles implements feed.CandleSource.
func (c *Client) RecentCandles(ctx context.Context, symbol, granularity string, count int) ([]feed.Candle, error) {
	return c.Candles(ctx, CandlesOptions{Instrument: symbol, Granularity: granularity, Count: count})
}
