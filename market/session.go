package market

import (
	"fmt"
	"strings"
	"time"
)

// TimeWindow is a weekday + time-of-day window in UTC. An empty Days list
// means every day. Windows whose End is before Start wrap past midnight and
// are keyed to the day they start on.
type TimeWindow struct {
	Name  string   `yaml:"name" mapstructure:"name"`
	Days  []string `yaml:"days" mapstructure:"days"`
	Start string   `yaml:"start" mapstructure:"start"`
	End   string   `yaml:"end" mapstructure:"end"`
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("bad time of day %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday,
	"wed": time.Wednesday, "thu": time.Thursday, "fri": time.Friday,
	"sat": time.Saturday,
}

func parseDay(s string) (time.Weekday, error) {
	k := strings.ToLower(strings.TrimSpace(s))
	if len(k) > 3 {
		k = k[:3]
	}
	d, ok := weekdays[k]
	if !ok {
		return 0, fmt.Errorf("bad weekday %q", s)
	}
	return d, nil
}

// Validate checks the clock and day fields parse.
func (w TimeWindow) Validate() error {
	if _, err := parseClock(w.Start); err != nil {
		return err
	}
	if _, err := parseClock(w.End); err != nil {
		return err
	}
	for _, d := range w.Days {
		if _, err := parseDay(d); err != nil {
			return err
		}
	}
	return nil
}

func (w TimeWindow) dayAllowed(d time.Weekday) bool {
	if len(w.Days) == 0 {
		return true
	}
	for _, s := range w.Days {
		if wd, err := parseDay(s); err == nil && wd == d {
			return true
		}
	}
	return false
}

// Contains reports whether t (converted to UTC) falls inside the window.
// Start is inclusive and End exclusive. Invalid windows contain nothing.
func (w TimeWindow) Contains(t time.Time) bool {
	start, err1 := parseClock(w.Start)
	end, err2 := parseClock(w.End)
	if err1 != nil || err2 != nil {
		return false
	}
	t = t.UTC()
	m := t.Hour()*60 + t.Minute()

	if start <= end {
		return m >= start && m < end && w.dayAllowed(t.Weekday())
	}
	if m >= start {
		return w.dayAllowed(t.Weekday())
	}
	if m < end {
		return w.dayAllowed(t.Add(-24 * time.Hour).Weekday())
	}
	return false
}

// AnyContains reports whether any window contains t and returns its index.
func AnyContains(ws []TimeWindow, t time.Time) (int, bool) {
	for i, w := range ws {
		if w.Contains(t) {
			return i, true
		}
	}
	return -1, false
}
