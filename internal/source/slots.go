package source

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/ABeGood/reservation-pl/internal/domain"
)

var (
	radioInputRe = regexp.MustCompile(`<input\b[^>]*>`)
	nameAttrRe   = regexp.MustCompile(`\bname\s*=\s*["']godzina["']`)
	valueAttrRe  = regexp.MustCompile(`\bvalue\s*=\s*["']([^"']+)["']`)
	hourRe       = regexp.MustCompile(`\d{2}:\d{2}$`)
)

// noSlotsMarker is the site's answer for a date without free hours.
const noSlotsMarker = "Brak wolnych terminów"

// SlotService lists free hours for a date.
type SlotService struct {
	site *Site
}

// Query posts the date to the room's hours endpoint and parses the radio
// inputs of the answer. The context bounds the call.
func (s *SlotService) Query(ctx context.Context, date time.Time) ([]domain.TimeSlot, error) {
	day := date.Format(domain.DateLayout)
	resp := s.site.client.Do(ctx, Request{
		Method: "POST",
		URL:    s.site.SlotsURL(),
		Form:   url.Values{"godzina": {day}},
		Headers: map[string]string{
			"Referer":          s.site.BaseURL(),
			"X-Requested-With": "XMLHttpRequest",
		},
	}, s.site.timeout)
	if resp.Error != nil {
		return nil, fmt.Errorf("query %s: %w: %w", day, domain.ErrTransient, resp.Error)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError("query "+day, resp.StatusCode)
	}
	return ParseSlots(resp.Body, date, s.site.room), nil
}

// ParseSlots extracts the free hours from an hours endpoint answer. Values
// look like "A109:00": the room code followed by HH:MM. The raw value is
// kept for submission.
func ParseSlots(body []byte, date time.Time, room domain.Room) []domain.TimeSlot {
	if bytes.Contains(body, []byte(noSlotsMarker)) {
		return nil
	}

	var slots []domain.TimeSlot
	seen := make(map[string]struct{})
	for _, tag := range radioInputRe.FindAll(body, -1) {
		if !nameAttrRe.Match(tag) {
			continue
		}
		m := valueAttrRe.FindSubmatch(tag)
		if m == nil {
			continue
		}
		raw := strings.TrimSpace(string(m[1]))
		matched := hourRe.FindString(raw)
		if matched == "" {
			continue
		}
		if _, dup := seen[raw]; dup {
			continue
		}
		seen[raw] = struct{}{}

		slotRoom := room
		if prefix := strings.TrimSuffix(raw, matched); prefix != "" {
			slotRoom = domain.Room(prefix)
		}
		slots = append(slots, domain.TimeSlot{
			Date:     domain.Day(date),
			Room:     slotRoom,
			Time:     matched,
			RawValue: raw,
		})
	}
	return slots
}
