package strategy

import (
	"github.com/rustyeddy/afts/broker"
	"github.com/rustyeddy/afts/indicators"
)

// EmaCross trades a fast/slow EMA crossover.
//   - Enters only on a cross, with ATR-based SL/TP
//   - Exits an opposite position on the opposite cross
type EmaCross struct {
	fast *indicators.ExponentialMA
	slow *indicators.ExponentialMA
	atr  *indicators.ATR

	slATR float64
	tpATR float64

	lastDiff     float64
	haveLastDiff bool
}

func NewEmaCross(fast, slow, atrPeriod int, slATR, tpATR float64) *EmaCross {
	if slATR <= 0 {
		slATR = 1.5
	}
	if tpATR <= 0 {
		tpATR = 3.0
	}
	return &EmaCross{
		fast:  indicators.NewEMA(fast),
		slow:  indicators.NewEMA(slow),
		atr:   indicators.NewATR(atrPeriod),
		slATR: slATR,
		tpATR: tpATR,
	}
}

func (s *EmaCross) Name() string {
	return "ema_cross"
}

func (s *EmaCross) OnBar(ms *MarketState) Decision {
	b := ms.Bar
	s.fast.Update(b)
	s.slow.Update(b)
	s.atr.Update(b)

	if !s.fast.Ready() || !s.slow.Ready() || !s.atr.Ready() {
		return None()
	}

	diff := s.fast.Value() - s.slow.Value()
	if !s.haveLastDiff {
		s.lastDiff = diff
		s.haveLastDiff = true
		return None()
	}

	bullCross := diff > 0 && s.lastDiff <= 0
	bearCross := diff < 0 && s.lastDiff >= 0
	s.lastDiff = diff

	var side Side
	switch {
	case bullCross:
		side = Long
	case bearCross:
		side = Short
	default:
		return None()
	}

	if p := ms.Position; p != nil {
		if (side == Long) == (p.Side == broker.Long) {
			return None()
		}
		d := Decision{Action: ActionExit, Confidence: 1, Meta: map[string]any{}}
		d.SetMeta("signal", "exit_on_cross")
		return d
	}

	atr := s.atr.Value()
	d := Entry(side, 1)
	if side == Long {
		d.Update.SLPrice = Ptr(b.Close - atr*s.slATR)
		d.Update.TPPrice = Ptr(b.Close + atr*s.tpATR)
	} else {
		d.Update.SLPrice = Ptr(b.Close + atr*s.slATR)
		d.Update.TPPrice = Ptr(b.Close - atr*s.tpATR)
	}
	d.SetMeta("signal", string(side)+"_cross")
	return d
}
