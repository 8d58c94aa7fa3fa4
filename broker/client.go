package broker

import (
	"context"
	"errors"
	"time"
)

// ErrTransient marks a broker failure worth retrying (timeouts, 5xx, rate
// limits). Adapters wrap it with %w.
var ErrTransient = errors.New("broker: transient failure")

// Quote is a top-of-book price.
type Quote struct {
	Symbol string
	Bid    float64
	Ask    float64
	Time   time.Time
}

func (q Quote) Mid() float64 {
	return (q.Bid + q.Ask) / 2
}

func (q Quote) Spread() float64 {
	return q.Ask - q.Bid
}

type AckStatus string

const (
	Accepted AckStatus = "accepted"
	Rejected AckStatus = "rejected"
)

type OrderAck struct {
	OrderID string
	Status  AckStatus
	Reason  string
}

type EntryRequest struct {
	Symbol     string
	Side       Side
	Size       float64
	StopLoss   *float64
	TakeProfit *float64
}

// Client is the pluggable broker contract used by the live loop. The
// simulator implements it for offline runs. An exit size of 0 closes the
// whole position.
type Client interface {
	GetPrice(ctx context.Context, symbol string) (Quote, error)
	GetPosition(ctx context.Context, symbol string) (*Position, error)
	SendEntryOrder(ctx context.Context, req EntryRequest) (OrderAck, error)
	SendExitOrder(ctx context.Context, symbol string, size float64) (OrderAck, error)
	ModifySLTP(ctx context.Context, symbol string, sl, tp *float64) (OrderAck, error)
}

// AccountReader is implemented by clients that can report the whole
// account. The live loop uses it to keep its view in sync with the venue.
type AccountReader interface {
	ReadAccount(ctx context.Context) (Account, error)
}
