package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"
	"gopkg.in/yaml.v3"
)

// Run directory file names.
const (
	TradesFile      = "trades.parquet"
	EquityFile      = "equity_curve.parquet"
	MetricsFile     = "metrics.json"
	ConfigFile      = "config_used.yaml"
	TransitionsFile = "transitions.parquet"
	DBFile          = "journal.db"
)

type tradeRow struct {
	TradeID     string  `parquet:"trade_id"`
	Symbol      string  `parquet:"symbol"`
	Side        string  `parquet:"side"`
	Qty         float64 `parquet:"qty"`
	EntryPrice  float64 `parquet:"entry_price"`
	ExitPrice   float64 `parquet:"exit_price"`
	OpenTimeMs  int64   `parquet:"open_time_ms"`
	CloseTimeMs int64   `parquet:"close_time_ms"`
	RealizedPnL float64 `parquet:"realized_pnl"`
	Fees        float64 `parquet:"fees"`
	Reason      string  `parquet:"reason"`
}

type equityRow struct {
	TimeMs        int64   `parquet:"time_ms"`
	Balance       float64 `parquet:"balance"`
	Equity        float64 `parquet:"equity"`
	RealizedPnL   float64 `parquet:"realized_pnl"`
	UnrealizedPnL float64 `parquet:"unrealized_pnl"`
	FeesTotal     float64 `parquet:"fees_total"`
}

// Dir is the per-run output directory. Trades and equity are buffered and
// written as Parquet on Close.
type Dir struct {
	path    string
	parquet bool
	trades  []TradeRecord
	equity  []EquitySnapshot
}

// NewDir creates base/runID.
func NewDir(base, runID string, writeParquet bool) (*Dir, error) {
	p := filepath.Join(base, runID)
	if err := os.MkdirAll(p, 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}
	return &Dir{path: p, parquet: writeParquet}, nil
}

func (d *Dir) Path() string { return d.path }

// File returns the path of name inside the run directory.
func (d *Dir) File(name string) string { return filepath.Join(d.path, name) }

func (d *Dir) RecordTrade(t TradeRecord) error {
	d.trades = append(d.trades, t)
	return nil
}

func (d *Dir) RecordEquity(e EquitySnapshot) error {
	d.equity = append(d.equity, e)
	return nil
}

// WriteMetrics writes metrics.json.
func (d *Dir) WriteMetrics(m Metrics) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(d.File(MetricsFile), data, 0o644)
}

// WriteConfig writes the resolved configuration as config_used.yaml.
func (d *Dir) WriteConfig(cfg any) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(d.File(ConfigFile), data, 0o644)
}

// WriteParquet writes rows to name inside the run directory.
func WriteParquet[T any](d *Dir, name string, rows []T) error {
	if err := parquet.WriteFile(d.File(name), rows); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func (d *Dir) Close() error {
	if !d.parquet {
		return nil
	}
	trades := make([]tradeRow, len(d.trades))
	for i, t := range d.trades {
		trades[i] = tradeRow{
			TradeID:     t.TradeID,
			Symbol:      t.Symbol,
			Side:        t.Side,
			Qty:         t.Qty,
			EntryPrice:  t.EntryPrice,
			ExitPrice:   t.ExitPrice,
			OpenTimeMs:  t.OpenTime.UnixMilli(),
			CloseTimeMs: t.CloseTime.UnixMilli(),
			RealizedPnL: t.RealizedPnL,
			Fees:        t.Fees,
			Reason:      t.Reason,
		}
	}
	if err := WriteParquet(d, TradesFile, trades); err != nil {
		return err
	}
	equity := make([]equityRow, len(d.equity))
	for i, e := range d.equity {
		equity[i] = equityRow{
			TimeMs:        e.Time.UnixMilli(),
			Balance:       e.Balance,
			Equity:        e.Equity,
			RealizedPnL:   e.RealizedPnL,
			UnrealizedPnL: e.UnrealizedPnL,
			FeesTotal:     e.FeesTotal,
		}
	}
	return WriteParquet(d, EquityFile, equity)
}
