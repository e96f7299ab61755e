package domain

import (
	"sort"
	"time"
)

// SourceWindow is the bookable date range advertised by the source.
type SourceWindow struct {
	MinDate   time.Time
	MaxDate   time.Time
	Disabled  map[string]struct{}
	FetchedAt time.Time
}

// NewSourceWindow builds a window from already-parsed dates.
func NewSourceWindow(minDate, maxDate time.Time, disabled []time.Time, fetchedAt time.Time) SourceWindow {
	set := make(map[string]struct{}, len(disabled))
	for _, d := range disabled {
		set[d.Format(DateLayout)] = struct{}{}
	}
	return SourceWindow{
		MinDate:   Day(minDate),
		MaxDate:   Day(maxDate),
		Disabled:  set,
		FetchedAt: fetchedAt,
	}
}

// IsDisabled reports whether the date is blocked on the source.
func (w SourceWindow) IsDisabled(d time.Time) bool {
	_, ok := w.Disabled[d.Format(DateLayout)]
	return ok
}

// Age returns how long ago the window was fetched.
func (w SourceWindow) Age(now time.Time) time.Duration {
	return now.Sub(w.FetchedAt)
}

// CandidateDates returns every date in [max(today, MinDate), MaxDate] that is
// not disabled, in ascending order. With weekdaysOnly, Saturdays and Sundays
// are skipped as well.
func (w SourceWindow) CandidateDates(today time.Time, weekdaysOnly bool) []time.Time {
	start := Day(today)
	if w.MinDate.After(start) {
		start = w.MinDate
	}
	if w.MaxDate.IsZero() || start.After(w.MaxDate) {
		return nil
	}

	dates := make([]time.Time, 0, int(w.MaxDate.Sub(start).Hours()/24)+1)
	for d := start; !d.After(w.MaxDate); d = d.AddDate(0, 0, 1) {
		if weekdaysOnly && (d.Weekday() == time.Saturday || d.Weekday() == time.Sunday) {
			continue
		}
		if w.IsDisabled(d) {
			continue
		}
		dates = append(dates, d)
	}
	return dates
}

// Equal reports whether two windows describe the same range and blocked
// dates. FetchedAt is ignored.
func (w SourceWindow) Equal(other SourceWindow) bool {
	if !w.MinDate.Equal(other.MinDate) || !w.MaxDate.Equal(other.MaxDate) {
		return false
	}
	if len(w.Disabled) != len(other.Disabled) {
		return false
	}
	for d := range w.Disabled {
		if _, ok := other.Disabled[d]; !ok {
			return false
		}
	}
	return true
}

// DisabledDates returns the blocked dates sorted ascending.
func (w SourceWindow) DisabledDates() []string {
	out := make([]string, 0, len(w.Disabled))
	for d := range w.Disabled {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}
