package journal

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// RunRecord is the row describing one run.
type RunRecord struct {
	RunID        string
	Created      time.Time
	Mode         string
	Profile      string
	Symbol       string
	Start        time.Time
	End          time.Time
	Bars         int
	Trades       int
	StartBalance float64
	EndBalance   float64
	Reason       string
	HardStop     bool
}

type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (j *SQLite) RecordTrade(t TradeRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO trades
		(run_id, trade_id, symbol, side, qty, entry_price, exit_price, open_time, close_time, realized_pnl, fees, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.RunID, t.TradeID, t.Symbol, t.Side, t.Qty, t.EntryPrice,
		t.ExitPrice, t.OpenTime, t.CloseTime, t.RealizedPnL, t.Fees, t.Reason,
	)
	return err
}

func (j *SQLite) RecordEquity(e EquitySnapshot) error {
	_, err := j.db.Exec(`
		INSERT INTO equity
		(run_id, time, balance, equity, realized_pnl, unrealized_pnl, fees_total)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, e.Time, e.Balance, e.Equity, e.RealizedPnL, e.UnrealizedPnL, e.FeesTotal,
	)
	return err
}

// StartRun inserts the run row.
func (j *SQLite) StartRun(r RunRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO runs (run_id, created, mode, profile, symbol, start_balance)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Created, r.Mode, r.Profile, r.Symbol, r.StartBalance,
	)
	return err
}

// FinishRun stores the outcome of a run started with StartRun.
func (j *SQLite) FinishRun(r RunRecord) error {
	res, err := j.db.Exec(`
		UPDATE runs SET start_time = ?, end_time = ?, bars = ?, trades = ?,
		end_balance = ?, reason = ?, hard_stop = ?
		WHERE run_id = ?`,
		r.Start, r.End, r.Bars, r.Trades, r.EndBalance, r.Reason, r.HardStop, r.RunID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %q not found", r.RunID)
	}
	return nil
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
