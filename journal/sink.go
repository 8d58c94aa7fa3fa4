package journal

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/afts/broker"
	"github.com/rustyeddy/afts/events"
	"github.com/rustyeddy/afts/internal/logger"
)

// Sink turns the event stream of a run into journal records: realising
// position events become trades, equity events become snapshots.
type Sink struct {
	j      Journal
	runID  string
	fills  map[string]broker.Fill
	opened map[string]time.Time
	log    logrus.FieldLogger
}

var _ events.Sink = (*Sink)(nil)

func NewSink(j Journal, runID string, log logrus.FieldLogger) *Sink {
	return &Sink{
		j:      j,
		runID:  runID,
		fills:  make(map[string]broker.Fill),
		opened: make(map[string]time.Time),
		log:    logger.OrDiscard(log).WithField("component", "journal"),
	}
}

func (s *Sink) Emit(e events.Event) {
	switch e.Kind {
	case events.KindFill:
		if e.Fill != nil {
			s.fills[e.Fill.OrderID] = *e.Fill
		}
	case events.KindPosition:
		if e.Position != nil {
			s.position(*e.Position)
		}
	case events.KindEquity:
		if e.Equity == nil {
			return
		}
		err := s.j.RecordEquity(EquitySnapshot{
			RunID:         s.runID,
			Time:          e.Time,
			Balance:       e.Equity.Balance,
			Equity:        e.Equity.Equity,
			RealizedPnL:   e.Equity.RealizedPnL,
			UnrealizedPnL: e.Equity.UnrealizedPnL,
			FeesTotal:     e.Equity.FeesTotal,
		})
		if err != nil {
			s.log.WithError(err).Error("record equity")
		}
	}
}

func (s *Sink) position(p broker.PositionEvent) {
	if p.Type == broker.Opened {
		s.opened[p.Symbol] = p.Time
	}
	if !p.Realizing() {
		return
	}
	f := s.fills[p.OrderID]
	delete(s.fills, p.OrderID)
	tradeID := f.TradeID
	if tradeID == "" {
		tradeID = fmt.Sprintf("%s-%d", p.OrderID, p.Time.UnixMilli())
	}
	rec := TradeRecord{
		RunID:       s.runID,
		TradeID:     tradeID,
		Symbol:      p.Symbol,
		Side:        string(p.Side),
		Qty:         f.Qty,
		EntryPrice:  p.EntryPrice,
		ExitPrice:   p.Price,
		OpenTime:    s.opened[p.Symbol],
		CloseTime:   p.Time,
		RealizedPnL: p.RealizedDelta,
		Fees:        f.Fee,
		Reason:      f.Reason,
	}
	if p.Type == broker.Closed {
		delete(s.opened, p.Symbol)
	}
	if err := s.j.RecordTrade(rec); err != nil {
		s.log.WithError(err).WithField("trade_id", rec.TradeID).Error("record trade")
	}
}

func (s *Sink) Close() error {
	return s.j.Close()
}
