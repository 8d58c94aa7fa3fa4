package oanda

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/afts/broker"
)

type priceLevel struct {
	Price string `json:"price"`
}

type clientPrice struct {
	Instrument string       `json:"instrument"`
	Time       time.Time    `json:"time"`
	Bids       []priceLevel `json:"bids"`
	Asks       []priceLevel `json:"asks"`
}

func (p clientPrice) quote() (broker.Quote, error) {
	if len(p.Bids) == 0 || len(p.Asks) == 0 {
		return broker.Quote{}, fmt.Errorf("oanda: empty book for %s", p.Instrument)
	}
	bid, err := num(p.Bids[0].Price)
	if err != nil {
		return broker.Quote{}, err
	}
	ask, err := num(p.Asks[0].Price)
	if err != nil {
		return broker.Quote{}, err
	}
	return broker.Quote{Symbol: p.Instrument, Bid: bid, Ask: ask, Time: p.Time}, nil
}

func (c *Client) GetPrice(ctx context.Context, symbol string) (broker.Quote, error) {
	var resp struct {
		Prices []clientPrice `json:"prices"`
	}
	q := url.Values{"instruments": {symbol}}
	if err := c.do(ctx, http.MethodGet, c.accountPath("/pricing"), q, nil, &resp); err != nil {
		return broker.Quote{}, err
	}
	if len(resp.Prices) == 0 {
		return broker.Quote{}, fmt.Errorf("oanda: no price for %s", symbol)
	}
	return resp.Prices[0].quote()
}

type positionSide struct {
	Units        string `json:"units"`
	AveragePrice string `json:"averagePrice"`
	UnrealizedPL string `json:"unrealizedPL"`
	PL           string `json:"pl"`
}

type apiPosition struct {
	Instrument string       `json:"instrument"`
	Long       positionSide `json:"long"`
	Short      positionSide `json:"short"`
}

// position folds the hedged long/short legs into one netted position, or
// nil when flat.
func (p apiPosition) position() (*broker.Position, error) {
	long, err := num(p.Long.Units)
	if err != nil {
		return nil, err
	}
	short, err := num(p.Short.Units)
	if err != nil {
		return nil, err
	}
	leg, side, qty := p.Long, broker.Long, long
	if long == 0 {
		leg, side, qty = p.Short, broker.Short, -short
	}
	if qty <= 0 {
		return nil, nil
	}
	entry, err := num(leg.AveragePrice)
	if err != nil {
		return nil, err
	}
	upl, err := num(leg.UnrealizedPL)
	if err != nil {
		return nil, err
	}
	return &broker.Position{
		Symbol:        p.Instrument,
		Side:          side,
		Qty:           qty,
		EntryPrice:    entry,
		UnrealizedPnL: upl,
	}, nil
}

func (c *Client) GetPosition(ctx context.Context, symbol string) (*broker.Position, error) {
	var resp struct {
		Position apiPosition `json:"position"`
	}
	err := c.do(ctx, http.MethodGet, c.accountPath("/positions/%s", url.PathEscape(symbol)), nil, nil, &resp)
	var ae *apiError
	if errors.As(err, &ae) && ae.Status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return resp.Position.position()
}

type priceDetails struct {
	Price string `json:"price"`
}

type marketOrder struct {
	Type             string        `json:"type"`
	Instrument       string        `json:"instrument"`
	Units            string        `json:"units"`
	TimeInForce      string        `json:"timeInForce"`
	PositionFill     string        `json:"positionFill"`
	StopLossOnFill   *priceDetails `json:"stopLossOnFill,omitempty"`
	TakeProfitOnFill *priceDetails `json:"takeProfitOnFill,omitempty"`
}

type transaction struct {
	ID           string `json:"id"`
	Reason       string `json:"reason"`
	RejectReason string `json:"rejectReason"`
}

type orderResponse struct {
	OrderCreateTransaction *transaction `json:"orderCreateTransaction"`
	OrderFillTransaction   *transaction `json:"orderFillTransaction"`
	OrderCancelTransaction *transaction `json:"orderCancelTransaction"`
	OrderRejectTransaction *transaction `json:"orderRejectTransaction"`
	ErrorMessage           string       `json:"errorMessage"`
}

func (r orderResponse) ack() broker.OrderAck {
	switch {
	case r.OrderRejectTransaction != nil:
		return broker.OrderAck{OrderID: r.OrderRejectTransaction.ID, Status: broker.Rejected, Reason: firstNonEmpty(r.OrderRejectTransaction.RejectReason, r.ErrorMessage)}
	case r.OrderCancelTransaction != nil:
		return broker.OrderAck{OrderID: r.OrderCancelTransaction.ID, Status: broker.Rejected, Reason: r.OrderCancelTransaction.Reason}
	case r.OrderFillTransaction != nil:
		return broker.OrderAck{OrderID: r.OrderFillTransaction.ID, Status: broker.Accepted}
	case r.OrderCreateTransaction != nil:
		return broker.OrderAck{OrderID: r.OrderCreateTransaction.ID, Status: broker.Accepted}
	}
	return broker.OrderAck{Status: broker.Rejected, Reason: firstNonEmpty(r.ErrorMessage, "no transaction in response")}
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if s != "" {
			return s
		}
	}
	return ""
}

// rejected turns a 4xx order response into a rejected ack. Other errors
// pass through.
func rejected(err error) (broker.OrderAck, error) {
	var ae *apiError
	if !errors.As(err, &ae) || ae.Status >= 500 || ae.Status == http.StatusTooManyRequests {
		return broker.OrderAck{}, err
	}
	var r orderResponse
	if jerr := json.Unmarshal(ae.Body, &r); jerr == nil && (r.OrderRejectTransaction != nil || r.OrderCancelTransaction != nil) {
		a := r.ack()
		if a.Reason == "" {
			a.Reason = ae.Message
		}
		return a, nil
	}
	return broker.OrderAck{Status: broker.Rejected, Reason: ae.Message}, nil
}

func (c *Client) SendEntryOrder(ctx context.Context, req broker.EntryRequest) (broker.OrderAck, error) {
	if req.Size <= 0 {
		return broker.OrderAck{Status: broker.Rejected, Reason: "size must be positive"}, nil
	}
	o := marketOrder{
		Type:         "MARKET",
		Instrument:   req.Symbol,
		Units:        unitsString(req.Size, req.Side),
		TimeInForce:  "FOK",
		PositionFill: "DEFAULT",
	}
	if req.StopLoss != nil {
		o.StopLossOnFill = &priceDetails{Price: priceString(*req.StopLoss)}
	}
	if req.TakeProfit != nil {
		o.TakeProfitOnFill = &priceDetails{Price: priceString(*req.TakeProfit)}
	}

	var resp orderResponse
	if err := c.do(ctx, http.MethodPost, c.accountPath("/orders"), nil, map[string]any{"order": o}, &resp); err != nil {
		return rejected(err)
	}
	ack := resp.ack()
	c.log.WithFields(logrus.Fields{"symbol": req.Symbol, "side": req.Side, "units": o.Units, "status": ack.Status}).Info("entry order sent")
	return ack, nil
}

// SendExitOrder closes size units of the open position, or all of it when
// size is 0.
func (c *Client) SendExitOrder(ctx context.Context, symbol string, size float64) (broker.OrderAck, error) {
	pos, err := c.GetPosition(ctx, symbol)
	if err != nil {
		return broker.OrderAck{}, err
	}
	if pos == nil {
		return broker.OrderAck{Status: broker.Rejected, Reason: "no open position"}, nil
	}
	units := "ALL"
	if size > 0 && size < pos.Qty {
		units = unitsString(size, broker.Buy)
	}
	body := map[string]string{"longUnits": units}
	if pos.Side == broker.Short {
		body = map[string]string{"shortUnits": units}
	}

	var resp struct {
		LongOrderFillTransaction  *transaction `json:"longOrderFillTransaction"`
		ShortOrderFillTransaction *transaction `json:"shortOrderFillTransaction"`
		orderResponse
	}
	if err := c.do(ctx, http.MethodPut, c.accountPath("/positions/%s/close", url.PathEscape(symbol)), nil, body, &resp); err != nil {
		return rejected(err)
	}
	for _, tx := range []*transaction{resp.LongOrderFillTransaction, resp.ShortOrderFillTransaction} {
		if tx != nil {
			return broker.OrderAck{OrderID: tx.ID, Status: broker.Accepted}, nil
		}
	}
	return resp.ack(), nil
}

type apiTrade struct {
	ID              string        `json:"id"`
	Instrument      string        `json:"instrument"`
	CurrentUnits    string        `json:"currentUnits"`
	Price           string        `json:"price"`
	OpenTime        time.Time     `json:"openTime"`
	StopLossOrder   *priceDetails `json:"stopLossOrder"`
	TakeProfitOrder *priceDetails `json:"takeProfitOrder"`
}

func (c *Client) openTrades(ctx context.Context) ([]apiTrade, error) {
	var resp struct {
		Trades []apiTrade `json:"trades"`
	}
	if err := c.do(ctx, http.MethodGet, c.accountPath("/openTrades"), nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Trades, nil
}

// ModifySLTP replaces the dependent stop loss and take profit of every
// open trade on symbol. A nil price leaves that order untouched.
func (c *Client) ModifySLTP(ctx context.Context, symbol string, sl, tp *float64) (broker.OrderAck, error) {
	trades, err := c.openTrades(ctx)
	if err != nil {
		return broker.OrderAck{}, err
	}
	body := map[string]*priceDetails{}
	if sl != nil {
		body["stopLoss"] = &priceDetails{Price: priceString(*sl)}
	}
	if tp != nil {
		body["takeProfit"] = &priceDetails{Price: priceString(*tp)}
	}

	var ack broker.OrderAck
	for _, t := range trades {
		if t.Instrument != symbol {
			continue
		}
		var resp struct {
			StopLossOrderTransaction   *transaction `json:"stopLossOrderTransaction"`
			TakeProfitOrderTransaction *transaction `json:"takeProfitOrderTransaction"`
		}
		if err := c.do(ctx, http.MethodPut, c.accountPath("/trades/%s/orders", t.ID), nil, body, &resp); err != nil {
			return rejected(err)
		}
		ack = broker.OrderAck{OrderID: t.ID, Status: broker.Accepted}
		if resp.StopLossOrderTransaction != nil {
			ack.OrderID = resp.StopLossOrderTransaction.ID
		} else if resp.TakeProfitOrderTransaction != nil {
			ack.OrderID = resp.TakeProfitOrderTransaction.ID
		}
	}
	if ack.Status == "" {
		return broker.OrderAck{Status: broker.Rejected, Reason: "no open trade"}, nil
	}
	return ack, nil
}
