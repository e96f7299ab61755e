package domain

import (
	"fmt"
	"time"
)

// DateLayout is the calendar date format used by the booking site.
const DateLayout = "2006-01-02"

// Room identifies a booking desk, e.g. "A1".
type Room string

// String returns the room code.
func (r Room) String() string {
	return string(r)
}

// TimeSlot is a bookable unit discovered on the source.
//
// Identity is the (Date, Room, Time) triple. RawValue is the token the source
// expects back on submission and is treated as opaque.
type TimeSlot struct {
	Date     time.Time `json:"date"`
	Room     Room      `json:"room"`
	Time     string    `json:"time"`
	RawValue string    `json:"raw_value"`
}

// Key returns the identity of the slot.
func (s TimeSlot) Key() string {
	return fmt.Sprintf("%s|%s|%s", s.Date.Format(DateLayout), s.Room, s.Time)
}

// Month returns the calendar month of the slot date.
func (s TimeSlot) Month() time.Month {
	return s.Date.Month()
}

// DateString formats the slot date the way the source expects it.
func (s TimeSlot) DateString() string {
	return s.Date.Format(DateLayout)
}

// String implements fmt.Stringer.
func (s TimeSlot) String() string {
	return fmt.Sprintf("%s %s %s", s.DateString(), s.Time, s.Room)
}

// Day truncates t to its calendar date in t's own location and returns it as
// midnight UTC. All dates handled by the monitor are normalised this way so
// that equality and map keys do not depend on time zones.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD string into a normalised date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}
