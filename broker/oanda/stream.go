package oanda

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rustyeddy/afts/feed"
)

type pricingStreamMsg struct {
	Type string `json:"type"`
	clientPrice
}

// StreamTicks follows the pricing stream for symbol and calls fn per price
// message. Heartbeats are skipped. It implements feed.TickStreamer.
func (c *Client) StreamTicks(ctx context.Context, symbol string, fn func(feed.Tick) error) error {
	q := url.Values{"instruments": {symbol}}
	body, err := c.open(ctx, c.StreamURL, http.MethodGet, c.accountPath("/pricing/stream"), q, nil)
	if err != nil {
		return err
	}
	defer body.Close()

	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var msg pricingStreamMsg
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			return fmt.Errorf("oanda: bad stream json: %w (line=%q)", err, trimForErr(line))
		}
		if !strings.EqualFold(msg.Type, "PRICE") || msg.Instrument != symbol {
			continue
		}
		q, err := msg.quote()
		if err != nil {
			c.log.WithError(err).Debug("skipping price")
			continue
		}
		if err := fn(feed.Tick{Time: q.Time, Bid: q.Bid, Ask: q.Ask}); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func trimForErr(s string) string {
	const n = 200
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
