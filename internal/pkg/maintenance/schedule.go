package maintenance

import (
	"fmt"
	"time"
)

// DefaultTimezone is the zone the maintenance clock runs in.
const DefaultTimezone = "America/Mexico_City"

// TickInterval is the period of the maintenance run.
const TickInterval = 15 * time.Minute

// Window is a daily time-of-day range [Start, End) measured from local midnight.
type Window struct {
	Start time.Duration
	End   time.Duration
}

// ParseWindow parses two "HH:MM" clock times.
func ParseWindow(start, end string) (Window, error) {
	s, err := parseClock(start)
	if err != nil {
		return Window{}, err
	}
	e, err := parseClock(end)
	if err != nil {
		return Window{}, err
	}
	if e <= s {
		return Window{}, fmt.Errorf("window end %s must be after start %s", end, start)
	}
	return Window{Start: s, End: e}, nil
}

func parseClock(v string) (time.Duration, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", v, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// Contains reports whether t's wall clock time in its location falls inside w.
func (w Window) Contains(t time.Time) bool {
	since := t.Sub(startOfDay(t))
	return since >= w.Start && since < w.End
}

// Within reports whether w lies entirely inside outer.
func (w Window) Within(outer Window) bool {
	return w.Start >= outer.Start && w.End <= outer.End
}

func (w Window) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d",
		int(w.Start.Hours()), int(w.Start.Minutes())%60,
		int(w.End.Hours()), int(w.End.Minutes())%60)
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// NextTick returns the first instant after now that is a whole multiple of
// every since local midnight in loc, e.g. :00, :15, :30 and :45.
func NextTick(now time.Time, every time.Duration, loc *time.Location) time.Time {
	local := now.In(loc)
	midnight := startOfDay(local)
	elapsed := local.Sub(midnight)
	return midnight.Add((elapsed/every + 1) * every)
}
