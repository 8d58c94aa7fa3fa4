package broker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyClient struct {
	failures int
	err      error
	calls    int
}

func (f *flakyClient) fail() error {
	f.calls++
	if f.calls <= f.failures {
		return f.err
	}
	return nil
}

func (f *flakyClient) GetPrice(ctx context.Context, symbol string) (Quote, error) {
	if err := f.fail(); err != nil {
		return Quote{}, err
	}
	return Quote{Symbol: symbol, Bid: 1.0, Ask: 1.2}, nil
}

func (f *flakyClient) GetPosition(ctx context.Context, symbol string) (*Position, error) {
	return nil, f.fail()
}

func (f *flakyClient) SendEntryOrder(ctx context.Context, req EntryRequest) (OrderAck, error) {
	if err := f.fail(); err != nil {
		return OrderAck{}, err
	}
	return OrderAck{OrderID: "1", Status: Accepted}, nil
}

func (f *flakyClient) SendExitOrder(ctx context.Context, symbol string, size float64) (OrderAck, error) {
	return OrderAck{Status: Accepted}, f.fail()
}

func (f *flakyClient) ModifySLTP(ctx context.Context, symbol string, sl, tp *float64) (OrderAck, error) {
	return OrderAck{Status: Accepted}, f.fail()
}

func newTestRetrying(next Client, attempts int) (*RetryingClient, *[]time.Duration) {
	var slept []time.Duration
	c := NewRetryingClient(next, RetryConfig{MaxAttempts: attempts, BaseDelay: time.Millisecond, JitterRange: 0}, nil)
	c.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return c, &slept
}

func TestRetryingClientRetriesTransient(t *testing.T) {
	f := &flakyClient{failures: 2, err: fmt.Errorf("http 503: %w", ErrTransient)}
	c, slept := newTestRetrying(f, 5)

	q, err := c.GetPrice(context.Background(), "EUR_USD")
	require.NoError(t, err)
	assert.InDelta(t, 1.1, q.Mid(), 1e-12)
	assert.InDelta(t, 0.2, q.Spread(), 1e-12)
	assert.Equal(t, 3, f.calls)
	require.Len(t, *slept, 2)
	assert.Equal(t, 2*(*slept)[0], (*slept)[1], "exponential backoff")
}

func TestRetryingClientStopsOnPermanent(t *testing.T) {
	perm := errors.New("insufficient margin")
	f := &flakyClient{failures: 10, err: perm}
	c, slept := newTestRetrying(f, 5)

	_, err := c.SendEntryOrder(context.Background(), EntryRequest{Symbol: "EUR_USD", Side: Buy, Size: 1})
	assert.ErrorIs(t, err, perm)
	assert.Equal(t, 1, f.calls)
	assert.Empty(t, *slept)
}

func TestRetryingClientGivesUp(t *testing.T) {
	f := &flakyClient{failures: 10, err: ErrTransient}
	c, _ := newTestRetrying(f, 3)

	_, err := c.SendExitOrder(context.Background(), "EUR_USD", 1)
	assert.ErrorIs(t, err, ErrTransient)
	assert.Contains(t, err.Error(), "max retry attempts (3)")
	assert.Equal(t, 3, f.calls)
}
