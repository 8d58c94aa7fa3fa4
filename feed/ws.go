package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/afts/internal/logger"
	"github.com/rustyeddy/afts/market"
)

// WSBar is the JSON shape of one bar message on a websocket stream.
// Messages with complete=false are skipped.
type WSBar struct {
	Time     time.Time `json:"time"`
	Symbol   string    `json:"symbol"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
	Complete *bool     `json:"complete,omitempty"`
}

// WSConfig configures a WSFeed.
type WSConfig struct {
	URL    string
	Symbol string
	// Subscribe, when set, is sent as JSON right after connecting.
	Subscribe   any
	Header      http.Header
	ReadTimeout time.Duration
}

// WSFeed reads bars pushed over a websocket. A reader goroutine owns the
// connection; Next consumes what it delivers.
type WSFeed struct {
	conn   *websocket.Conn
	cfg    WSConfig
	log    logrus.FieldLogger
	msgs   chan []byte
	errs   chan error
	cancel context.CancelFunc
}

// DialWS connects and starts reading.
func DialWS(ctx context.Context, cfg WSConfig, log logrus.FieldLogger) (*WSFeed, error) {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 2 * time.Minute
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, cfg.URL, cfg.Header)
	if err != nil {
		return nil, fmt.Errorf("ws dial %s: %w", cfg.URL, err)
	}
	conn.SetReadLimit(1 << 20)

	if cfg.Subscribe != nil {
		if err := conn.WriteJSON(cfg.Subscribe); err != nil {
			conn.Close()
			return nil, fmt.Errorf("ws subscribe: %w", err)
		}
	}

	rctx, cancel := context.WithCancel(context.Background())
	f := &WSFeed{
		conn:   conn,
		cfg:    cfg,
		log:    logger.OrDiscard(log).WithFields(logrus.Fields{"component": "ws_feed", "symbol": cfg.Symbol}),
		msgs:   make(chan []byte, 100),
		errs:   make(chan error, 1),
		cancel: cancel,
	}
	conn.SetPingHandler(func(msg string) error {
		return conn.WriteControl(websocket.PongMessage, []byte(msg), time.Now().Add(5*time.Second))
	})
	go f.readLoop(rctx)
	f.log.WithField("url", cfg.URL).Info("connected")
	return f, nil
}

func (f *WSFeed) readLoop(ctx context.Context) {
	defer close(f.msgs)
	for {
		f.conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))
		_, msg, err := f.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				f.errs <- fmt.Errorf("ws read: %w", err)
			}
			return
		}
		select {
		case f.msgs <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// Next returns ok=false once the server closes the stream normally.
func (f *WSFeed) Next(ctx context.Context) (market.Bar, bool, error) {
	for {
		select {
		case <-ctx.Done():
			return market.Bar{}, false, ctx.Err()
		case err := <-f.errs:
			return market.Bar{}, false, err
		case msg, ok := <-f.msgs:
			if !ok {
				select {
				case err := <-f.errs:
					return market.Bar{}, false, err
				default:
				}
				return market.Bar{}, false, nil
			}
			var wb WSBar
			if err := json.Unmarshal(msg, &wb); err != nil {
				f.log.WithError(err).Warn("skipping malformed message")
				continue
			}
			if wb.Complete != nil && !*wb.Complete {
				continue
			}
			if wb.Time.IsZero() {
				continue
			}
			sym := wb.Symbol
			if sym == "" {
				sym = f.cfg.Symbol
			}
			if f.cfg.Symbol != "" && sym != f.cfg.Symbol {
				continue
			}
			return market.Bar{
				Time:   wb.Time.UTC(),
				Symbol: sym,
				Open:   wb.Open,
				High:   wb.High,
				Low:    wb.Low,
				Close:  wb.Close,
				Volume: wb.Volume,
			}, true, nil
		}
	}
}

func (f *WSFeed) Close() error {
	f.cancel()
	_ = f.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return f.conn.Close()
}
