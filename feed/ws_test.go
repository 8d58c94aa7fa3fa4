package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wsServer(t *testing.T, msgs []string) (*httptest.Server, chan map[string]string) {
	t.Helper()
	subs := make(chan map[string]string, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var sub map[string]string
		if err := conn.ReadJSON(&sub); err == nil {
			subs <- sub
		}
		for _, m := range msgs {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		time.Sleep(50 * time.Millisecond)
	}))
	return srv, subs
}

func TestWSFeedStreamsBars(t *testing.T) {
	srv, subs := wsServer(t, []string{
		`{"time":"2024-01-02T08:00:00Z","symbol":"EUR_USD","open":1.1,"high":1.2,"low":1.0,"close":1.15,"volume":10}`,
		`not json`,
		`{"time":"2024-01-02T08:01:00Z","symbol":"EUR_USD","open":1.15,"high":1.2,"low":1.1,"close":1.18,"complete":false}`,
		`{"time":"2024-01-02T08:01:00Z","symbol":"GBP_USD","open":1,"high":1,"low":1,"close":1}`,
		`{"time":"2024-01-02T08:01:00Z","open":1.15,"high":1.2,"low":1.1,"close":1.19,"complete":true}`,
	})
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	f, err := DialWS(ctx, WSConfig{
		URL:       "ws" + strings.TrimPrefix(srv.URL, "http"),
		Symbol:    "EUR_USD",
		Subscribe: map[string]string{"subscribe": "EUR_USD"},
	}, nil)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, map[string]string{"subscribe": "EUR_USD"}, <-subs)

	bars, err := Collect(ctx, f)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 1.15, bars[0].Close)
	assert.Equal(t, 10.0, bars[0].Volume)
	assert.Equal(t, "EUR_USD", bars[1].Symbol)
	assert.Equal(t, 1.19, bars[1].Close)
}

func TestDialWSFails(t *testing.T) {
	_, err := DialWS(context.Background(), WSConfig{URL: "ws://127.0.0.1:1/none"}, nil)
	assert.Error(t, err)
}
