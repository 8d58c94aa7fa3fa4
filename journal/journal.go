// Package journal persists runs: trades, the equity curve, the metrics and
// the resolved config, to SQLite, Parquet and CSV.
package journal

import (
	"time"

	"github.com/google/uuid"
)

// TradeRecord is one realised trade outcome (a close or a partial close).
type TradeRecord struct {
	RunID       string
	TradeID     string
	Symbol      string
	Side        string
	Qty         float64
	EntryPrice  float64
	ExitPrice   float64
	OpenTime    time.Time
	CloseTime   time.Time
	RealizedPnL float64
	Fees        float64
	Reason      string
}

// EquitySnapshot is the account at the close of one bar.
type EquitySnapshot struct {
	RunID         string
	Time          time.Time
	Balance       float64
	Equity        float64
	RealizedPnL   float64
	UnrealizedPnL float64
	FeesTotal     float64
}

type Journal interface {
	RecordTrade(TradeRecord) error
	RecordEquity(EquitySnapshot) error
	Close() error
}

// Config selects the journal outputs of a run.
type Config struct {
	Dir     string `yaml:"dir" mapstructure:"dir"`
	SQLite  bool   `yaml:"sqlite" mapstructure:"sqlite"`
	Parquet bool   `yaml:"parquet" mapstructure:"parquet"`
	CSV     bool   `yaml:"csv" mapstructure:"csv"`
}

func DefaultConfig() Config {
	return Config{Dir: "./runs", SQLite: true, Parquet: true}
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// Multi records to every journal and returns the first error.
type Multi []Journal

func (m Multi) RecordTrade(t TradeRecord) error {
	return m.each(func(j Journal) error { return j.RecordTrade(t) })
}

func (m Multi) RecordEquity(e EquitySnapshot) error {
	return m.each(func(j Journal) error { return j.RecordEquity(e) })
}

func (m Multi) Close() error {
	return m.each(func(j Journal) error { return j.Close() })
}

func (m Multi) each(fn func(Journal) error) error {
	var first error
	for _, j := range m {
		if err := fn(j); err != nil && first == nil {
			first = err
		}
	}
	return first
}
