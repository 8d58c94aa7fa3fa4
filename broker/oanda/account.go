package oanda

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rustyeddy/afts/broker"
)

type accountSummary struct {
	Currency     string `json:"currency"`
	Balance      string `json:"balance"`
	PL           string `json:"pl"`
	UnrealizedPL string `json:"unrealizedPL"`
	Commission   string `json:"commission"`
}

// ReadAccount maps the OANDA account onto broker.Account. OANDA's balance
// already contains realised PnL, so Balance here is the balance net of pl
// and Equity keeps Balance + RealizedPnL + UnrealizedPnL. Dependent stop
// loss and take profit orders of open trades appear as resting reduce-only
// orders.
func (c *Client) ReadAccount(ctx context.Context) (broker.Account, error) {
	var sum struct {
		Account accountSummary `json:"account"`
	}
	if err := c.do(ctx, http.MethodGet, c.accountPath("/summary"), nil, nil, &sum); err != nil {
		return broker.Account{}, err
	}
	var pos struct {
		Positions []apiPosition `json:"positions"`
	}
	if err := c.do(ctx, http.MethodGet, c.accountPath("/openPositions"), nil, nil, &pos); err != nil {
		return broker.Account{}, err
	}
	trades, err := c.openTrades(ctx)
	if err != nil {
		return broker.Account{}, err
	}

	a := sum.Account
	balance, err := num(a.Balance)
	if err != nil {
		return broker.Account{}, err
	}
	pl, err := num(a.PL)
	if err != nil {
		return broker.Account{}, err
	}
	commission, err := num(a.Commission)
	if err != nil {
		return broker.Account{}, err
	}

	acct := broker.NewAccount(a.Currency, balance-pl)
	acct.RealizedPnL = pl
	acct.FeesTotal = commission
	for _, p := range pos.Positions {
		bp, err := p.position()
		if err != nil {
			return broker.Account{}, fmt.Errorf("position %s: %w", p.Instrument, err)
		}
		if bp != nil {
			acct.Positions[bp.Symbol] = bp
		}
	}

	for _, t := range trades {
		bp := acct.Positions[t.Instrument]
		if bp == nil {
			continue
		}
		if bp.OpenedAt.IsZero() || t.OpenTime.Before(bp.OpenedAt) {
			bp.OpenedAt = t.OpenTime
		}
		if err := addDependent(acct, bp, t); err != nil {
			return broker.Account{}, err
		}
	}
	acct.Recompute()
	return *acct, nil
}

func addDependent(acct *broker.Account, p *broker.Position, t apiTrade) error {
	closing := p.Side.ClosingSide()
	if t.StopLossOrder != nil {
		px, err := num(t.StopLossOrder.Price)
		if err != nil {
			return err
		}
		acct.OpenOrders.Add(&broker.Order{
			ID:         "sl-" + t.ID,
			Symbol:     t.Instrument,
			Side:       closing,
			Type:       broker.StopMarket,
			StopPrice:  px,
			ReduceOnly: true,
			IsSL:       true,
			Status:     broker.StatusNew,
			CreatedAt:  t.OpenTime,
		})
	}
	if t.TakeProfitOrder != nil {
		px, err := num(t.TakeProfitOrder.Price)
		if err != nil {
			return err
		}
		acct.OpenOrders.Add(&broker.Order{
			ID:         "tp-" + t.ID,
			Symbol:     t.Instrument,
			Side:       closing,
			Type:       broker.Limit,
			Price:      px,
			ReduceOnly: true,
			IsTP:       true,
			Status:     broker.StatusNew,
			CreatedAt:  t.OpenTime,
		})
	}
	return nil
}
