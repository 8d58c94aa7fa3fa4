package cmd

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/afts/behaviour"
	"github.com/rustyeddy/afts/broker"
	"github.com/rustyeddy/afts/broker/oanda"
	"github.com/rustyeddy/afts/config"
	"github.com/rustyeddy/afts/events"
	"github.com/rustyeddy/afts/execution"
	"github.com/rustyeddy/afts/exits"
	"github.com/rustyeddy/afts/features"
	"github.com/rustyeddy/afts/feed"
	"github.com/rustyeddy/afts/internal/id"
	"github.com/rustyeddy/afts/internal/logger"
	"github.com/rustyeddy/afts/journal"
	"github.com/rustyeddy/afts/market"
	"github.com/rustyeddy/afts/orders"
	"github.com/rustyeddy/afts/risk"
	"github.com/rustyeddy/afts/rl"
	"github.com/rustyeddy/afts/strategy"
)

// SQLiteFile is the run database kept in the journal directory.
const SQLiteFile = "journal.sqlite"

// session owns the outputs of one run: the run directory, the optional
// SQLite database and the event sinks.
type session struct {
	prof    *config.Profile
	log     logrus.FieldLogger
	runID   string
	created time.Time
	dir     *journal.Dir
	db      *journal.SQLite
	jrn     journal.Multi
	sink    events.Sink
	closers []io.Closer
}

func newSession(p *config.Profile, lg *logger.Logger) (*session, error) {
	runID := journal.NewRunID()
	log := lg.WithRun(runID)
	s := &session{
		prof:    p,
		log:     log,
		runID:   runID,
		created: time.Now().UTC(),
	}
	dir, err := journal.NewDir(p.Journal.Dir, s.runID, p.Journal.Parquet)
	if err != nil {
		return nil, err
	}
	s.dir = dir
	s.jrn = journal.Multi{dir}
	if err := dir.WriteConfig(p.Redacted()); err != nil {
		return nil, err
	}

	if p.Journal.SQLite {
		db, err := journal.NewSQLite(filepath.Join(p.Journal.Dir, SQLiteFile))
		if err != nil {
			return nil, fmt.Errorf("open journal db: %w", err)
		}
		s.db = db
		s.jrn = append(s.jrn, db)
		if err := db.StartRun(s.record(execution.Result{})); err != nil {
			s.jrn.Close()
			return nil, fmt.Errorf("start run: %w", err)
		}
	}
	if p.Journal.CSV {
		cj, err := journal.NewCSV(dir.File("trades.csv"), dir.File("equity.csv"))
		if err != nil {
			s.jrn.Close()
			return nil, err
		}
		s.jrn = append(s.jrn, cj)
	}

	sinks := events.Multi{journal.NewSink(s.jrn, s.runID, log)}
	if p.Events.Log {
		sinks = append(sinks, events.NewLogSink(log))
	}
	if p.Events.Kafka.Enabled() {
		w := events.NewKafkaWriter(p.Events.Kafka)
		sinks = append(sinks, events.NewKafkaSink(w, p.Events.Kafka.Kinds, log))
		s.closers = append(s.closers, w)
	}
	s.sink = sinks
	return s, nil
}

func (s *session) record(res execution.Result) journal.RunRecord {
	return journal.RunRecord{
		RunID:        s.runID,
		Created:      s.created,
		Mode:         s.prof.Mode,
		Profile:      s.prof.Name,
		Symbol:       s.prof.Symbol,
		Start:        res.Start,
		End:          res.End,
		Bars:         res.Bars,
		Trades:       res.Trades,
		StartBalance: s.prof.Risk.InitialBalance,
		EndBalance:   res.FinalAccount.Balance,
		Reason:       res.Reason,
		HardStop:     res.HardStop,
	}
}

// finish writes metrics.json, settles the run row and closes every output.
func (s *session) finish(res execution.Result) error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	keep(s.dir.WriteMetrics(res.Metrics))
	if s.db != nil {
		keep(s.db.FinishRun(s.record(res)))
	}
	keep(s.jrn.Close())
	for _, c := range s.closers {
		keep(c.Close())
	}
	return first
}

// buildLoop assembles the bar pipeline described by p around a fresh
// account funded with the risk initial balance.
func buildLoop(p *config.Profile, sink events.Sink, rollout *rl.Rollout, log logrus.FieldLogger) (*execution.Loop, error) {
	eng, err := features.NewEngine(p.Features, features.DefaultCatalog())
	if err != nil {
		return nil, err
	}
	bridge, err := strategy.NewBridgeFromConfig(p.Strategy, strategy.DefaultCatalog(), log)
	if err != nil {
		return nil, err
	}
	stack, err := risk.NewStackFromConfig(p.Risk, p.FTMOPlus, log)
	if err != nil {
		return nil, err
	}
	beh, err := behaviour.NewManager(p.Behaviour, log)
	if err != nil {
		return nil, err
	}
	hook, err := rl.NewHookFromConfig(p.RL, log)
	if err != nil {
		return nil, err
	}
	var ex *exits.Applier
	if hook != nil {
		ex = exits.NewApplier(p.RL.ExitPolicy)
	}
	log.WithFields(logrus.Fields{
		"strategies": strategyNames(bridge),
		"guards":     beh.Guards(),
		"rl":         hook != nil,
	}).Info("pipeline assembled")

	ids := id.NewGenerator(p.Seed)
	acct := broker.NewAccount(p.Execution.Currency, p.Risk.InitialBalance)
	return execution.NewLoop(p.Execution, execution.Components{
		Features:  eng,
		Bridge:    bridge,
		Risk:      stack,
		Behaviour: beh,
		Hook:      hook,
		Exits:     ex,
		Sizer:     risk.NewSizer(p.Sizer),
		Orders:    orders.NewBuilder(p.Assets, ids, log),
		Assets:    p.Assets,
		Events:    sink,
		Rollout:   rollout,
		IDs:       ids,
	}, acct, log)
}

func strategyNames(b *strategy.Bridge) []string {
	var out []string
	for _, s := range b.Strategies() {
		out = append(out, s.Name())
	}
	return out
}

// openHistory returns the historical bar feed named by p.Data.
func openHistory(ctx context.Context, p *config.Profile, log logrus.FieldLogger) (feed.Feed, error) {
	from, to, err := p.Data.Range()
	if err != nil {
		return nil, err
	}
	switch p.Data.Source {
	case config.SourceCSV:
		return feed.OpenCSV(p.Data.Path, p.Symbol, from, to)
	case config.SourceDukas:
		tf, err := market.Timeframe(p.Data.Timeframe)
		if err != nil {
			return nil, err
		}
		return feed.NewDukas(feed.DukasConfig{
			Dir:       p.Data.Dir,
			Symbol:    p.Symbol,
			From:      from,
			To:        to,
			Timeframe: tf,
			BaseURL:   p.Data.BaseURL,
		}, log)
	case config.SourceOANDA:
		c, err := oanda.New(p.Live.OANDA, log)
		if err != nil {
			return nil, err
		}
		bars, err := c.History(ctx, p.Symbol, p.Data.Timeframe, from, to)
		if err != nil {
			return nil, err
		}
		return feed.NewSlice(bars), nil
	default:
		return nil, fmt.Errorf("unknown data source %q", p.Data.Source)
	}
}

// printResult writes the run summary.
func printResult(w io.Writer, runID, dir string, res execution.Result) {
	m := res.Metrics
	fmt.Fprintf(w, "run %s: %s\n", runID, res.Reason)
	if res.HardStop {
		fmt.Fprintln(w, "  HARD STOP")
	}
	fmt.Fprintf(w, "  bars:        %d (%s .. %s)\n", res.Bars, res.Start.Format(time.RFC3339), res.End.Format(time.RFC3339))
	fmt.Fprintf(w, "  trades:      %d  fills: %d\n", res.Trades, res.Fills)
	fmt.Fprintf(w, "  balance:     %.2f  equity: %.2f\n", res.FinalAccount.Balance, res.FinalAccount.Equity)
	fmt.Fprintf(w, "  winrate:     %.2f%%\n", m.Winrate*100)
	if m.ProfitFactor != nil {
		fmt.Fprintf(w, "  profit factor: %.2f\n", *m.ProfitFactor)
	}
	fmt.Fprintf(w, "  expectancy:  %.2f\n", m.ExpectancyPerTrade)
	fmt.Fprintf(w, "  max dd:      %.2f (%.2f%%)\n", m.MaxDrawdownAbs, m.MaxDrawdownPct*100)
	fmt.Fprintf(w, "  sharpe:      %.3f\n", m.SharpeLikeBasic)
	fmt.Fprintf(w, "  output:      %s\n", dir)
}
