// Package config loads a run profile: the top-level profile file and the
// sub-config files it references, with AFTS_ environment overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rustyeddy/afts/behaviour"
	"github.com/rustyeddy/afts/broker"
	"github.com/rustyeddy/afts/broker/oanda"
	"github.com/rustyeddy/afts/events"
	"github.com/rustyeddy/afts/execution"
	"github.com/rustyeddy/afts/features"
	"github.com/rustyeddy/afts/gate"
	"github.com/rustyeddy/afts/internal/errs"
	"github.com/rustyeddy/afts/internal/logger"
	"github.com/rustyeddy/afts/journal"
	"github.com/rustyeddy/afts/market"
	"github.com/rustyeddy/afts/risk"
	"github.com/rustyeddy/afts/rl"
	"github.com/rustyeddy/afts/strategy"
)

// ErrConfig marks configuration errors that are fatal at startup.
var ErrConfig = errs.ErrConfig

// Run modes.
const (
	ModeSim   = "sim"
	ModeTrain = "train"
	ModeLive  = "live"
)

// Data sources for sim and train runs.
const (
	SourceCSV   = "csv"
	SourceDukas = "dukas"
	SourceOANDA = "oanda"
)

// Live feeds.
const (
	FeedPoll   = "poll"
	FeedStream = "stream"
	FeedWS     = "ws"
)

// DataConfig locates historical bars. From and To accept RFC3339 or
// 2006-01-02 and bound the run to [From, To).
type DataConfig struct {
	Source    string `yaml:"source" mapstructure:"source"`
	Path      string `yaml:"path" mapstructure:"path"`
	Dir       string `yaml:"dir" mapstructure:"dir"`
	From      string `yaml:"from" mapstructure:"from"`
	To        string `yaml:"to" mapstructure:"to"`
	Timeframe string `yaml:"timeframe" mapstructure:"timeframe"`
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
}

// Range parses From and To.
func (d DataConfig) Range() (from, to time.Time, err error) {
	if from, err = parseDate(d.From); err != nil {
		return from, to, errs.Configf("data.from: %v", err)
	}
	if to, err = parseDate(d.To); err != nil {
		return from, to, errs.Configf("data.to: %v", err)
	}
	return from, to, nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad date %q", s)
	}
	return t, nil
}

// LiveConfig drives `afts live`.
type LiveConfig struct {
	Broker       string             `yaml:"broker" mapstructure:"broker"`
	Paper        bool               `yaml:"paper" mapstructure:"paper"`
	Feed         string             `yaml:"feed" mapstructure:"feed"`
	WSURL        string             `yaml:"ws_url" mapstructure:"ws_url"`
	PollInterval time.Duration      `yaml:"poll_interval" mapstructure:"poll_interval"`
	Granularity  string             `yaml:"granularity" mapstructure:"granularity"`
	RatePerSec   float64            `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	MaxAttempts  int                `yaml:"max_attempts" mapstructure:"max_attempts"`
	OANDA        oanda.Config       `yaml:"oanda" mapstructure:"oanda"`
	Retry        broker.RetryConfig `yaml:"retry" mapstructure:"retry"`
}

// EventsConfig selects event sinks besides the journal.
type EventsConfig struct {
	Log   bool               `yaml:"log" mapstructure:"log"`
	Kafka events.KafkaConfig `yaml:"kafka" mapstructure:"kafka"`
}

// Profile is the fully resolved run configuration.
type Profile struct {
	Name      string           `yaml:"name" mapstructure:"name"`
	Symbol    string           `yaml:"symbol" mapstructure:"symbol"`
	Mode      string           `yaml:"mode" mapstructure:"mode"`
	Seed      int64            `yaml:"seed" mapstructure:"seed"`
	Data      DataConfig       `yaml:"data" mapstructure:"data"`
	Risk      risk.Config      `yaml:"risk" mapstructure:"risk"`
	FTMOPlus  risk.PlusConfig  `yaml:"ftmo_plus" mapstructure:"ftmo_plus"`
	Sizer     risk.SizerConfig `yaml:"sizer" mapstructure:"sizer"`
	Behaviour behaviour.Config `yaml:"behaviour" mapstructure:"behaviour"`
	Strategy  strategy.Config  `yaml:"strategy" mapstructure:"strategy"`
	Features  features.Config  `yaml:"features" mapstructure:"features"`
	Execution execution.Config `yaml:"execution" mapstructure:"execution"`
	Assets    market.Assets    `yaml:"assets" mapstructure:"assets"`
	RL        rl.Config        `yaml:"rl" mapstructure:"rl"`
	Logging   logger.Config    `yaml:"logging" mapstructure:"logging"`
	Journal   journal.Config   `yaml:"journal" mapstructure:"journal"`
	Events    EventsConfig     `yaml:"events" mapstructure:"events"`
	Live      LiveConfig       `yaml:"live" mapstructure:"live"`
	Gate      gate.Config      `yaml:"gate" mapstructure:"gate"`
}

// Default returns a profile where every option holds its documented
// default.
func Default() *Profile {
	return &Profile{
		Name:   "default",
		Symbol: "EUR_USD",
		Mode:   ModeSim,
		Seed:   1,
		Data: DataConfig{
			Source:    SourceCSV,
			Timeframe: "M15",
		},
		Risk:      risk.DefaultConfig(),
		FTMOPlus:  risk.DefaultPlusConfig(),
		Sizer:     risk.DefaultSizerConfig(),
		Behaviour: behaviour.DefaultConfig(),
		Strategy:  strategy.DefaultConfig(),
		Features:  features.DefaultConfig(),
		Execution: execution.DefaultConfig(),
		Assets:    market.Assets{},
		RL:        rl.DefaultConfig(),
		Logging:   logger.Config{Level: "info", Format: "text"},
		Journal:   journal.DefaultConfig(),
		Live: LiveConfig{
			Broker:       "oanda",
			Feed:         FeedPoll,
			PollInterval: 60 * time.Second,
			Granularity:  "M1",
			RatePerSec:   2,
			MaxAttempts:  5,
			OANDA:        oanda.Config{Practice: true},
			Retry:        broker.DefaultRetryConfig(),
		},
	}
}

// Validate checks every section. All failures wrap ErrConfig.
func (p *Profile) Validate() error {
	switch p.Mode {
	case ModeSim, ModeTrain, ModeLive:
	default:
		return errs.Configf("unknown mode %q (want sim|train|live)", p.Mode)
	}
	if p.Symbol == "" {
		return errs.Configf("symbol is required")
	}
	switch p.Data.Source {
	case SourceCSV, SourceDukas, SourceOANDA:
	default:
		return errs.Configf("data: unknown source %q", p.Data.Source)
	}
	if _, err := market.Timeframe(p.Data.Timeframe); err != nil {
		return errs.Configf("data.timeframe: %v", err)
	}
	if _, _, err := p.Data.Range(); err != nil {
		return err
	}
	if _, err := risk.NewPolicy(p.Risk); err != nil {
		return err
	}
	switch p.Live.Feed {
	case FeedPoll, FeedStream, FeedWS:
	default:
		return errs.Configf("live: unknown feed %q", p.Live.Feed)
	}
	if p.Live.Feed == FeedWS && p.Live.WSURL == "" && p.Mode == ModeLive {
		return errs.Configf("live: ws feed needs ws_url")
	}
	if p.Live.Broker != "oanda" && !p.Live.Paper {
		return errs.Configf("live: unknown broker %q", p.Live.Broker)
	}
	checks := []func() error{
		p.FTMOPlus.Validate,
		p.Sizer.Validate,
		p.Behaviour.Validate,
		p.Execution.Validate,
		p.RL.Validate,
		func() error {
			_, err := features.NewEngine(p.Features, features.DefaultCatalog())
			return err
		},
		func() error {
			_, err := strategy.DefaultCatalog().Build(p.Strategy)
			return err
		},
	}
	for _, check := range checks {
		if err := check(); err != nil {
			if !errors.Is(err, ErrConfig) {
				return errs.Configf("%v", err)
			}
			return err
		}
	}
	return nil
}

// normalize fills values that derive from other sections.
func (p *Profile) normalize() {
	p.Symbol = strings.ToUpper(p.Symbol)
	p.Mode = strings.ToLower(p.Mode)
	assets := make(market.Assets, len(p.Assets))
	for sym, spec := range p.Assets {
		sym = strings.ToUpper(sym)
		if spec.TickSize <= 0 {
			spec.TickSize = p.Execution.TickSize
		}
		spec.Symbol = sym
		assets[sym] = spec
	}
	p.Assets = assets
	if p.Behaviour.InitialBalance <= 0 {
		p.Behaviour.InitialBalance = p.Risk.InitialBalance
	}
	if p.Live.MaxAttempts > 0 {
		p.Live.Retry.MaxAttempts = p.Live.MaxAttempts
	}
	if p.Live.RatePerSec > 0 {
		p.Live.Retry.RatePerSec = p.Live.RatePerSec
	}
}
