package oanda

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/afts/broker"
	"github.com/rustyeddy/afts/feed"
)

type call struct {
	Method string
	Path   string
	Body   map[string]any
}

// fakeOANDA serves canned JSON per "METHOD path" and records requests.
type fakeOANDA struct {
	t      *testing.T
	routes map[string]func(w http.ResponseWriter, r *http.Request)
	calls  []call
}

func newFake(t *testing.T) (*fakeOANDA, *Client) {
	f := &fakeOANDA{t: t, routes: map[string]func(http.ResponseWriter, *http.Request){}}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	c, err := New(Config{Token: "tok", AccountID: "101-001", Practice: true, BaseURL: srv.URL, StreamURL: srv.URL}, nil)
	require.NoError(t, err)
	return f, c
}

func (f *fakeOANDA) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	assert.Equal(f.t, "Bearer tok", r.Header.Get("Authorization"))
	c := call{Method: r.Method, Path: r.URL.Path}
	if b, _ := io.ReadAll(r.Body); len(b) > 0 {
		assert.NoError(f.t, json.Unmarshal(b, &c.Body))
	}
	f.calls = append(f.calls, c)
	h, ok := f.routes[r.Method+" "+r.URL.Path]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"errorMessage":"not found"}`))
		return
	}
	h(w, r)
}

func (f *fakeOANDA) json(route string, status int, body string) {
	f.routes[route] = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	}
}

func TestNewRequiresPracticeOrAllowLive(t *testing.T) {
	_, err := New(Config{Token: "t", AccountID: "a"}, nil)
	assert.ErrorIs(t, err, ErrLiveDisabled)

	c, err := New(Config{Token: "t", AccountID: "a", AllowLive: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, LiveURL, c.BaseURL)

	c, err = New(Config{Token: "t", AccountID: "a", Practice: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, PracticeURL, c.BaseURL)
	assert.Equal(t, PracticeStreamURL, c.StreamURL)

	_, err = New(Config{AccountID: "a", Practice: true}, nil)
	assert.Error(t, err)

	_, _, err = BaseURL("moon")
	assert.Error(t, err)
}

func TestGetPrice(t *testing.T) {
	f, c := newFake(t)
	f.json("GET /v3/accounts/101-001/pricing", 200, `{"prices":[{"instrument":"EUR_USD","time":"2024-01-02T08:00:00Z",
		"bids":[{"price":"1.10010"}],"asks":[{"price":"1.10030"}]}]}`)

	q, err := c.GetPrice(context.Background(), "EUR_USD")
	require.NoError(t, err)
	assert.Equal(t, 1.1001, q.Bid)
	assert.Equal(t, 1.1003, q.Ask)
	assert.InDelta(t, 0.0002, q.Spread(), 1e-12)
}

func TestServerErrorsAreTransient(t *testing.T) {
	f, c := newFake(t)
	f.json("GET /v3/accounts/101-001/pricing", 503, `{"errorMessage":"busy"}`)
	_, err := c.GetPrice(context.Background(), "EUR_USD")
	assert.ErrorIs(t, err, broker.ErrTransient)
	assert.Contains(t, err.Error(), "busy")

	f.json("GET /v3/accounts/101-001/pricing", 401, `{"errorMessage":"bad token"}`)
	_, err = c.GetPrice(context.Background(), "EUR_USD")
	require.Error(t, err)
	assert.NotErrorIs(t, err, broker.ErrTransient)
}

func TestGetPosition(t *testing.T) {
	f, c := newFake(t)
	f.json("GET /v3/accounts/101-001/positions/EUR_USD", 200, `{"position":{"instrument":"EUR_USD",
		"long":{"units":"0"},"short":{"units":"-2500","averagePrice":"1.1","unrealizedPL":"-3.5"}}}`)

	p, err := c.GetPosition(context.Background(), "EUR_USD")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, broker.Short, p.Side)
	assert.Equal(t, 2500.0, p.Qty)
	assert.Equal(t, 1.1, p.EntryPrice)
	assert.Equal(t, -3.5, p.UnrealizedPnL)

	p, err = c.GetPosition(context.Background(), "GBP_USD")
	require.NoError(t, err, "unknown instrument is flat")
	assert.Nil(t, p)
}

func TestSendEntryOrder(t *testing.T) {
	f, c := newFake(t)
	f.json("POST /v3/accounts/101-001/orders", 201, `{"orderCreateTransaction":{"id":"10"},"orderFillTransaction":{"id":"11"}}`)

	ack, err := c.SendEntryOrder(context.Background(), broker.EntryRequest{
		Symbol: "EUR_USD", Side: broker.Sell, Size: 1000.7,
		StopLoss: ptr(1.105), TakeProfit: ptr(1.09),
	})
	require.NoError(t, err)
	assert.Equal(t, broker.OrderAck{OrderID: "11", Status: broker.Accepted}, ack)

	order := f.calls[0].Body["order"].(map[string]any)
	assert.Equal(t, "MARKET", order["type"])
	assert.Equal(t, "-1000", order["units"])
	assert.Equal(t, "FOK", order["timeInForce"])
	assert.Equal(t, map[string]any{"price": "1.105"}, order["stopLossOnFill"])
	assert.Equal(t, map[string]any{"price": "1.09"}, order["takeProfitOnFill"])
}

func TestSendEntryOrderRejected(t *testing.T) {
	f, c := newFake(t)
	f.json("POST /v3/accounts/101-001/orders", 400,
		`{"orderRejectTransaction":{"id":"12","rejectReason":"INSUFFICIENT_MARGIN"},"errorMessage":"margin"}`)

	ack, err := c.SendEntryOrder(context.Background(), broker.EntryRequest{Symbol: "EUR_USD", Side: broker.Buy, Size: 1})
	require.NoError(t, err)
	assert.Equal(t, broker.Rejected, ack.Status)
	assert.Equal(t, "INSUFFICIENT_MARGIN", ack.Reason)

	f.json("POST /v3/accounts/101-001/orders", 201, `{"orderCreateTransaction":{"id":"13"},"orderCancelTransaction":{"id":"14","reason":"MARKET_HALTED"}}`)
	ack, err = c.SendEntryOrder(context.Background(), broker.EntryRequest{Symbol: "EUR_USD", Side: broker.Buy, Size: 1})
	require.NoError(t, err)
	assert.Equal(t, broker.Rejected, ack.Status)
	assert.Equal(t, "MARKET_HALTED", ack.Reason)
}

func TestSendExitOrder(t *testing.T) {
	f, c := newFake(t)
	f.json("GET /v3/accounts/101-001/positions/EUR_USD", 200, `{"position":{"instrument":"EUR_USD",
		"long":{"units":"300","averagePrice":"1.1"},"short":{"units":"0"}}}`)
	f.json("PUT /v3/accounts/101-001/positions/EUR_USD/close", 200, `{"longOrderFillTransaction":{"id":"20"}}`)

	ack, err := c.SendExitOrder(context.Background(), "EUR_USD", 0)
	require.NoError(t, err)
	assert.Equal(t, "20", ack.OrderID)
	assert.Equal(t, map[string]any{"longUnits": "ALL"}, f.calls[1].Body)

	_, err = c.SendExitOrder(context.Background(), "EUR_USD", 100)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"longUnits": "100"}, f.calls[3].Body)

	ack, err = c.SendExitOrder(context.Background(), "GBP_USD", 0)
	require.NoError(t, err)
	assert.Equal(t, broker.Rejected, ack.Status)
}

func TestModifySLTP(t *testing.T) {
	f, c := newFake(t)
	f.json("GET /v3/accounts/101-001/openTrades", 200, `{"trades":[
		{"id":"7","instrument":"EUR_USD","currentUnits":"100"},
		{"id":"8","instrument":"GBP_USD","currentUnits":"100"}]}`)
	f.json("PUT /v3/accounts/101-001/trades/7/orders", 200, `{"stopLossOrderTransaction":{"id":"30"}}`)

	ack, err := c.ModifySLTP(context.Background(), "EUR_USD", ptr(1.095), nil)
	require.NoError(t, err)
	assert.Equal(t, broker.OrderAck{OrderID: "30", Status: broker.Accepted}, ack)
	require.Len(t, f.calls, 2)
	assert.Equal(t, map[string]any{"stopLoss": map[string]any{"price": "1.095"}}, f.calls[1].Body)

	ack, err = c.ModifySLTP(context.Background(), "USD_JPY", ptr(150), nil)
	require.NoError(t, err)
	assert.Equal(t, broker.Rejected, ack.Status)
}

func TestReadAccount(t *testing.T) {
	f, c := newFake(t)
	f.json("GET /v3/accounts/101-001/summary", 200, `{"account":{"currency":"USD","balance":"100250.0",
		"pl":"250.0","unrealizedPL":"12.5","commission":"1.5"}}`)
	f.json("GET /v3/accounts/101-001/openPositions", 200, `{"positions":[{"instrument":"EUR_USD",
		"long":{"units":"1000","averagePrice":"1.1","unrealizedPL":"12.5"},"short":{"units":"0"}}]}`)
	f.json("GET /v3/accounts/101-001/openTrades", 200, `{"trades":[{"id":"7","instrument":"EUR_USD",
		"currentUnits":"1000","openTime":"2024-01-02T08:00:00Z",
		"stopLossOrder":{"price":"1.095"},"takeProfitOrder":{"price":"1.11"}}]}`)

	acct, err := c.ReadAccount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "USD", acct.Currency)
	assert.Equal(t, 100000.0, acct.Balance)
	assert.Equal(t, 250.0, acct.RealizedPnL)
	assert.Equal(t, 12.5, acct.UnrealizedPnL)
	assert.Equal(t, 100262.5, acct.Equity)
	assert.Equal(t, 1.5, acct.FeesTotal)

	p := acct.Position("EUR_USD")
	require.NotNil(t, p)
	assert.Equal(t, broker.Long, p.Side)
	assert.Equal(t, time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC), p.OpenedAt.UTC())

	orders := acct.OpenOrders.ForSymbol("EUR_USD")
	require.Len(t, orders, 2)
	assert.True(t, orders[0].IsSL)
	assert.Equal(t, 1.095, orders[0].StopPrice)
	assert.Equal(t, broker.Sell, orders[0].Side)
	assert.True(t, orders[1].IsTP)
	assert.Equal(t, 1.11, orders[1].Price)
}

func TestCandles(t *testing.T) {
	f, c := newFake(t)
	f.routes["GET /v3/instruments/EUR_USD/candles"] = func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "M1", r.URL.Query().Get("granularity"))
		assert.Equal(t, "3", r.URL.Query().Get("count"))
		assert.Equal(t, "M", r.URL.Query().Get("price"))
		w.Write([]byte(`{"instrument":"EUR_USD","granularity":"M1","candles":[
			{"complete":true,"time":"2024-01-02T08:00:00.000000000Z","volume":12,"mid":{"o":"1.1","h":"1.2","l":"1.0","c":"1.15"}},
			{"complete":false,"time":"2024-01-02T08:01:00.000000000Z","volume":3,"mid":{"o":"1.15","h":"1.16","l":"1.14","c":"1.155"}}]}`))
	}

	cs, err := c.RecentCandles(context.Background(), "EUR_USD", "M1", 3)
	require.NoError(t, err)
	require.Len(t, cs, 2)
	assert.True(t, cs[0].Complete)
	assert.False(t, cs[1].Complete)
	assert.Equal(t, 1.15, cs[0].Close)
	assert.Equal(t, 12.0, cs[0].Volume)
	assert.Equal(t, "EUR_USD", cs[0].Symbol)

	_, err = c.Candles(context.Background(), CandlesOptions{Instrument: "EUR_USD", Granularity: "M1", Price: "BA"})
	assert.Error(t, err)
}

func TestHistoryPages(t *testing.T) {
	f, c := newFake(t)
	var froms []string
	f.routes["GET /v3/instruments/EUR_USD/candles"] = func(w http.ResponseWriter, r *http.Request) {
		froms = append(froms, r.URL.Query().Get("from"))
		assert.Equal(t, "5000", r.URL.Query().Get("count"))
		w.Write([]byte(`{"candles":[
			{"complete":true,"time":"2024-01-02T08:00:00Z","volume":1,"mid":{"o":"1","h":"1","l":"1","c":"1"}},
			{"complete":true,"time":"2024-01-02T08:01:00Z","volume":1,"mid":{"o":"2","h":"2","l":"2","c":"2"}},
			{"complete":true,"time":"2024-01-02T08:02:00Z","volume":1,"mid":{"o":"3","h":"3","l":"3","c":"3"}}]}`))
	}

	from := time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC)
	bars, err := c.History(context.Background(), "EUR_USD", "M1", from, from.Add(2*time.Minute))
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 2.0, bars[1].Close)
	assert.Equal(t, []string{"2024-01-02T08:00:00Z"}, froms)

	_, err = c.History(context.Background(), "EUR_USD", "M1", from, from)
	assert.Error(t, err)
}

func TestPollerOverCandles(t *testing.T) {
	f, c := newFake(t)
	f.json("GET /v3/instruments/EUR_USD/candles", 200, `{"candles":[
		{"complete":true,"time":"2024-01-02T08:00:00Z","volume":1,"mid":{"o":"1","h":"1","l":"1","c":"1"}},
		{"complete":false,"time":"2024-01-02T08:01:00Z","volume":1,"mid":{"o":"2","h":"2","l":"2","c":"2"}}]}`)

	p := feed.NewPoller(c, feed.PollerConfig{Symbol: "EUR_USD", Granularity: "M1"}, nil)
	b, ok, err := p.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1.0, b.Close)
}

func TestStreamTicks(t *testing.T) {
	f, c := newFake(t)
	f.json("GET /v3/accounts/101-001/pricing/stream", 200,
		`{"type":"HEARTBEAT","time":"2024-01-02T08:00:00Z"}
{"type":"PRICE","instrument":"EUR_USD","time":"2024-01-02T08:00:01Z","bids":[{"price":"1.1"}],"asks":[{"price":"1.1002"}]}
{"type":"PRICE","instrument":"EUR_USD","time":"2024-01-02T08:01:05Z","bids":[{"price":"1.2"}],"asks":[{"price":"1.2002"}]}
`)

	var ticks []feed.Tick
	err := c.StreamTicks(context.Background(), "EUR_USD", func(tk feed.Tick) error {
		ticks = append(ticks, tk)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, ticks, 2)
	assert.Equal(t, 1.1, ticks[0].Bid)
	assert.Equal(t, 1.2002, ticks[1].Ask)

	tf := feed.StartTicks(context.Background(), c, "EUR_USD", time.Minute, nil)
	defer tf.Close()
	bars, err := feed.Collect(context.Background(), tf)
	require.NoError(t, err)
	assert.Len(t, bars, 2)
}

func ptr(v float64) *float64 { return &v }
