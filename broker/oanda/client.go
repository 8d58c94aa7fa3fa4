// Package oanda implements the broker contract against the OANDA v20 REST
// API.
package oanda

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/afts/broker"
	"github.com/rustyeddy/afts/internal/logger"
)

const (
	PracticeURL       = "https://api-fxpractice.oanda.com"
	LiveURL           = "https://api-fxtrade.oanda.com"
	PracticeStreamURL = "https://stream-fxpractice.oanda.com"
	LiveStreamURL     = "https://stream-fxtrade.oanda.com"
)

// ErrLiveDisabled is returned when the live environment is requested
// without AllowLive.
var ErrLiveDisabled = errors.New("oanda: live trading not enabled")

// Config selects the account and environment. Token is usually supplied
// through OANDA_TOKEN.
type Config struct {
	Token     string        `yaml:"token" mapstructure:"token"`
	AccountID string        `yaml:"account_id" mapstructure:"account_id"`
	Practice  bool          `yaml:"practice" mapstructure:"practice"`
	AllowLive bool          `yaml:"allow_live" mapstructure:"allow_live"`
	BaseURL   string        `yaml:"base_url" mapstructure:"base_url"`
	StreamURL string        `yaml:"stream_url" mapstructure:"stream_url"`
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// BaseURL returns the REST and stream roots for env (practice or live).
func BaseURL(env string) (rest, stream string, err error) {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "practice", "demo":
		return PracticeURL, PracticeStreamURL, nil
	case "live":
		return LiveURL, LiveStreamURL, nil
	default:
		return "", "", fmt.Errorf("unknown OANDA env %q (want practice|live)", env)
	}
}

// Client talks to one OANDA account.
type Client struct {
	BaseURL   string
	StreamURL string
	Token     string
	AccountID string
	HTTP      *http.Client
	log       logrus.FieldLogger
}

var (
	_ broker.Client        = (*Client)(nil)
	_ broker.AccountReader = (*Client)(nil)
)

func New(cfg Config, log logrus.FieldLogger) (*Client, error) {
	if cfg.Token == "" {
		return nil, errors.New("oanda: missing token")
	}
	if cfg.AccountID == "" {
		return nil, errors.New("oanda: missing account id")
	}
	env := "practice"
	if !cfg.Practice {
		if !cfg.AllowLive {
			return nil, ErrLiveDisabled
		}
		env = "live"
	}
	rest, stream, err := BaseURL(env)
	if err != nil {
		return nil, err
	}
	if cfg.BaseURL != "" {
		rest = cfg.BaseURL
	}
	if cfg.StreamURL != "" {
		stream = cfg.StreamURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		BaseURL:   strings.TrimRight(rest, "/"),
		StreamURL: strings.TrimRight(stream, "/"),
		Token:     cfg.Token,
		AccountID: cfg.AccountID,
		HTTP:      &http.Client{Timeout: cfg.Timeout},
		log:       logger.OrDiscard(log).WithFields(logrus.Fields{"component": "oanda", "account": cfg.AccountID}),
	}, nil
}

// apiError carries the status and message of a failed call. 5xx and 429
// wrap broker.ErrTransient.
type apiError struct {
	Status  int
	Message string
	Body    []byte
}

func (e *apiError) Error() string {
	return fmt.Sprintf("oanda http %d: %s", e.Status, e.Message)
}

func (e *apiError) Unwrap() error {
	if e.Status >= 500 || e.Status == http.StatusTooManyRequests {
		return broker.ErrTransient
	}
	return nil
}

func (c *Client) accountPath(format string, args ...any) string {
	return "/v3/accounts/" + url.PathEscape(c.AccountID) + fmt.Sprintf(format, args...)
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

// open issues a request against base and returns the response body for a
// 2xx status.
func (c *Client) open(ctx context.Context, base, method, path string, query url.Values, body any) (io.ReadCloser, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, err
	}
	u.Path = path
	u.RawQuery = query.Encode()

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept-Datetime-Format", "RFC3339")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() && ctx.Err() == nil {
			return nil, fmt.Errorf("oanda %s %s: %w: %v", method, path, broker.ErrTransient, err)
		}
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		var msg struct {
			ErrorMessage string `json:"errorMessage"`
		}
		_ = json.Unmarshal(b, &msg)
		if msg.ErrorMessage == "" {
			msg.ErrorMessage = strings.TrimSpace(string(b))
		}
		return nil, &apiError{Status: resp.StatusCode, Message: msg.ErrorMessage, Body: b}
	}
	return resp.Body, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	rc, err := c.open(ctx, c.BaseURL, method, path, query, body)
	if err != nil {
		return err
	}
	defer rc.Close()
	if out == nil {
		_, _ = io.Copy(io.Discard, rc)
		return nil
	}
	if err := json.NewDecoder(rc).Decode(out); err != nil {
		return fmt.Errorf("oanda %s %s: decode: %w", method, path, err)
	}
	return nil
}

// num parses an OANDA decimal string. Empty means zero.
func num(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("bad number %q: %w", s, err)
	}
	f, _ := d.Float64()
	return f, nil
}

func priceString(p float64) string {
	return decimal.NewFromFloat(p).String()
}

func unitsString(qty float64, side broker.Side) string {
	u := decimal.NewFromFloat(qty).Truncate(0)
	if side == broker.Sell {
		u = u.Neg()
	}
	return u.String()
}
