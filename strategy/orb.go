package strategy

import (
	"time"

	"github.com/rustyeddy/afts/market"
)

// ORBConfig configures the opening range breakout. Pip-denominated values use
// PipSize.
type ORBConfig struct {
	RangeMinutes int
	MinRangePips float64
	BufferPips   float64
	SLMult       float64
	TPMult       float64
	MaxTradesDay int
	PipSize      float64
	Confidence   float64
}

func DefaultORBConfig() ORBConfig {
	return ORBConfig{
		RangeMinutes: 15,
		MinRangePips: 0.5,
		BufferPips:   0.1,
		SLMult:       1.0,
		TPMult:       2.0,
		MaxTradesDay: 1,
		PipSize:      0.0001,
		Confidence:   1.0,
	}
}

// ORB trades a break of the first RangeMinutes of each UTC day. The first
// bar of a new day starts the range window [start, start+RangeMinutes).
type ORB struct {
	cfg ORBConfig

	day        string
	rangeStart time.Time
	high, low  float64
	complete   bool
	trades     int
}

func NewORB(cfg ORBConfig) *ORB {
	def := DefaultORBConfig()
	if cfg.RangeMinutes <= 0 {
		cfg.RangeMinutes = def.RangeMinutes
	}
	if cfg.PipSize <= 0 {
		cfg.PipSize = def.PipSize
	}
	if cfg.SLMult <= 0 {
		cfg.SLMult = def.SLMult
	}
	if cfg.TPMult <= 0 {
		cfg.TPMult = def.TPMult
	}
	if cfg.MaxTradesDay <= 0 {
		cfg.MaxTradesDay = def.MaxTradesDay
	}
	if cfg.Confidence <= 0 {
		cfg.Confidence = def.Confidence
	}
	return &ORB{cfg: cfg}
}

func (s *ORB) Name() string {
	return "orb"
}

func (s *ORB) OnBar(ms *MarketState) Decision {
	b := ms.Bar
	if day := market.DayKey(b.Time); day != s.day {
		s.day = day
		s.rangeStart = b.Time
		s.high, s.low = b.High, b.Low
		s.complete = false
		s.trades = 0
		d := None()
		d.SetMeta("orb", "range_open")
		return d
	}

	end := s.rangeStart.Add(time.Duration(s.cfg.RangeMinutes) * time.Minute)
	if b.Time.Before(end) {
		if b.High > s.high {
			s.high = b.High
		}
		if b.Low < s.low {
			s.low = b.Low
		}
		return None()
	}
	s.complete = true

	width := s.high - s.low
	if width < s.cfg.MinRangePips*s.cfg.PipSize {
		d := None()
		d.SetMeta("orb", "range_too_narrow")
		return d
	}
	if s.trades >= s.cfg.MaxTradesDay || ms.Position != nil {
		return None()
	}

	buffer := s.cfg.BufferPips * s.cfg.PipSize
	var d Decision
	switch {
	case b.Close > s.high+buffer+market.Epsilon:
		d = Entry(Long, s.cfg.Confidence)
		d.Update.SLPrice = Ptr(b.Close - width*s.cfg.SLMult)
		d.Update.TPPrice = Ptr(b.Close + width*s.cfg.TPMult)
	case b.Close < s.low-buffer-market.Epsilon:
		d = Entry(Short, s.cfg.Confidence)
		d.Update.SLPrice = Ptr(b.Close + width*s.cfg.SLMult)
		d.Update.TPPrice = Ptr(b.Close - width*s.cfg.TPMult)
	default:
		return None()
	}
	d.SetMeta("range_high", s.high)
	d.SetMeta("range_low", s.low)
	return d
}

// OnEntryPlaced counts an entry against MaxTradesDay. Entries the risk or
// behaviour layers suppress do not count.
func (s *ORB) OnEntryPlaced(Decision) {
	s.trades++
}

// Range returns the current opening range and whether it is complete.
func (s *ORB) Range() (high, low float64, complete bool) {
	return s.high, s.low, s.complete
}
