package market

import (
	"fmt"
	"time"
)

// SameDay reports whether a and b fall on the same UTC calendar date.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// DayKey returns the UTC date of t formatted as 2006-01-02.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// timeframes are the bar sizes OANDA serves candles for. D and D1 are
// aliases.
var timeframes = map[string]time.Duration{
	"M1":  time.Minute,
	"M2":  2 * time.Minute,
	"M4":  4 * time.Minute,
	"M5":  5 * time.Minute,
	"M10": 10 * time.Minute,
	"M15": 15 * time.Minute,
	"M30": 30 * time.Minute,
	"H1":  time.Hour,
	"H2":  2 * time.Hour,
	"H3":  3 * time.Hour,
	"H4":  4 * time.Hour,
	"H6":  6 * time.Hour,
	"H8":  8 * time.Hour,
	"H12": 12 * time.Hour,
	"D":   24 * time.Hour,
	"D1":  24 * time.Hour,
	"W1":  7 * 24 * time.Hour,
}

// Timeframe converts a timeframe string such as "M15" to a duration.
func Timeframe(tf string) (time.Duration, error) {
	d, ok := timeframes[tf]
	if !ok {
		return 0, fmt.Errorf("unsupported timeframe %q", tf)
	}
	return d, nil
}
