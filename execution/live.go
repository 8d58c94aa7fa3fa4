package execution

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/afts/broker"
	"github.com/rustyeddy/afts/events"
	"github.com/rustyeddy/afts/gate"
	"github.com/rustyeddy/afts/internal/logger"
	"github.com/rustyeddy/afts/market"
	"github.com/rustyeddy/afts/strategy"
)

// ReasonStopped is the run reason when a live run is canceled.
const ReasonStopped = "Stopped"

// ErrGateClosed is returned when an enforced pre-flight gate is not ready.
var ErrGateClosed = errors.New("pre-flight gate closed")

// LiveOptions tune a live run.
type LiveOptions struct {
	EnforceGate bool
	// OnBar runs before each bar is processed. Paper trading uses it to
	// advance a simulated broker.
	OnBar func(market.Bar)
}

// Live drives a Loop from a live feed and routes its orders to a broker.
// Fills happen at the venue; the account is re-read before every bar.
type Live struct {
	loop   *Loop
	client broker.Client
	reader broker.AccountReader
	feed   BarSource
	gate   gate.Gate
	opts   LiveOptions
	log    logrus.FieldLogger
}

// NewLive returns a live runner. reader may be nil when the client cannot
// report the account, in which case the loop trades on its own view.
func NewLive(loop *Loop, client broker.Client, reader broker.AccountReader, feed BarSource, g gate.Gate, opts LiveOptions, log logrus.FieldLogger) *Live {
	if g == nil {
		g = gate.Static{Ready: true}
	}
	return &Live{
		loop:   loop,
		client: client,
		reader: reader,
		feed:   feed,
		gate:   g,
		opts:   opts,
		log:    logger.OrDiscard(log).WithField("component", "live"),
	}
}

// Run checks the gate and then processes bars until the feed ends, the
// context is canceled or a hard stop fires.
func (lv *Live) Run(ctx context.Context) (Result, error) {
	if err := lv.preflight(ctx); err != nil {
		return lv.loop.Result(), err
	}
	for {
		bar, ok, err := lv.feed.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return lv.loop.Result(), fmt.Errorf("feed: %w", err)
		}
		if !ok {
			break
		}
		if err := lv.step(ctx, bar); err != nil {
			return lv.loop.Result(), err
		}
	}
	if ctx.Err() != nil {
		lv.loop.Halt(ReasonStopped)
	} else {
		lv.loop.Halt(ReasonEndOfData)
	}
	return lv.loop.Result(), nil
}

func (lv *Live) preflight(ctx context.Context) error {
	st, err := lv.gate.Check(ctx)
	switch {
	case err != nil && lv.opts.EnforceGate:
		return fmt.Errorf("%w: %v", ErrGateClosed, err)
	case err != nil:
		lv.log.WithError(err).Warn("gate unavailable, continuing")
	case !st.Ready && lv.opts.EnforceGate:
		return fmt.Errorf("%w: %s", ErrGateClosed, st.Reason)
	case !st.Ready:
		lv.log.WithField("reason", st.Reason).Warn("gate not ready, continuing")
	}
	return nil
}

func (lv *Live) step(ctx context.Context, bar market.Bar) error {
	if lv.opts.OnBar != nil {
		lv.opts.OnBar(bar)
	}
	if lv.reader != nil {
		acct, err := lv.reader.ReadAccount(ctx)
		if err != nil {
			return fmt.Errorf("read account: %w", err)
		}
		lv.loop.Sync(acct, bar.Time)
	}
	os, stopErr := lv.loop.Observe(bar)
	if err := lv.route(ctx, bar, os); err != nil {
		return err
	}
	return stopErr
}

// route sends the orders of one bar. Per symbol, exits go first, then an
// entry carrying any SL/TP built with it, or a modify for SL/TP alone.
func (lv *Live) route(ctx context.Context, bar market.Bar, os []*broker.Order) error {
	var symbols []string
	bySymbol := map[string][]*broker.Order{}
	for _, o := range os {
		if _, ok := bySymbol[o.Symbol]; !ok {
			symbols = append(symbols, o.Symbol)
		}
		bySymbol[o.Symbol] = append(bySymbol[o.Symbol], o)
	}

	for _, sym := range symbols {
		var entry *broker.Order
		var sl, tp *float64
		for _, o := range bySymbol[sym] {
			switch {
			case !o.ReduceOnly:
				entry = o
			case o.IsSL:
				sl = strategy.Ptr(o.StopPrice)
			case o.IsTP:
				tp = strategy.Ptr(o.Price)
			default:
				ack, err := lv.client.SendExitOrder(ctx, sym, o.Qty)
				if err := lv.acked(bar, o, ack, err); err != nil {
					return err
				}
			}
		}
		switch {
		case entry != nil:
			ack, err := lv.client.SendEntryOrder(ctx, broker.EntryRequest{
				Symbol:     sym,
				Side:       entry.Side,
				Size:       entry.Qty,
				StopLoss:   sl,
				TakeProfit: tp,
			})
			if err := lv.acked(bar, entry, ack, err); err != nil {
				return err
			}
		case sl != nil || tp != nil:
			ack, err := lv.client.ModifySLTP(ctx, sym, sl, tp)
			if err := lv.acked(bar, bySymbol[sym][0], ack, err); err != nil {
				return err
			}
		}
	}
	return nil
}

func (lv *Live) acked(bar market.Bar, o *broker.Order, ack broker.OrderAck, err error) error {
	if err != nil {
		return fmt.Errorf("route %s %s: %w", o.Reason, o.Symbol, err)
	}
	fields := logrus.Fields{"symbol": o.Symbol, "reason": o.Reason, "broker_order_id": ack.OrderID, "status": ack.Status}
	if ack.Status == broker.Rejected {
		lv.loop.emit(events.Event{
			Kind:   events.KindRejected,
			Time:   bar.Time,
			Symbol: o.Symbol,
			Reason: ack.Reason,
			Order:  o,
			Meta:   map[string]any{"broker_order_id": ack.OrderID},
		})
		lv.log.WithFields(fields).WithField("why", ack.Reason).Warn("order rejected by broker")
		return nil
	}
	lv.log.WithFields(fields).Info("order routed")
	return nil
}
