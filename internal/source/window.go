package source

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/ABeGood/reservation-pl/internal/domain"
)

var (
	disabledDaysRe = regexp.MustCompile(`(?s)var\s+disabledDays\s*=\s*\[(.*?)\];`)
	quotedDateRe   = regexp.MustCompile(`"(\d{4}-\d{2}-\d{2})"`)
	minDateRe      = regexp.MustCompile(`minDate:\s*new Date\("(\d{4}/\d{2}/\d{2})"\)`)
	maxDateRe      = regexp.MustCompile(`maxDate:\s*new Date\("(\d{4}/\d{2}/\d{2})"\)`)
)

const pickerLayout = "2006/01/02"

// ErrNoWindow is returned when the room page carries no datepicker bounds.
var ErrNoWindow = errors.New("datepicker bounds not found on room page")

// WindowResolver reads the datepicker configuration from the room page.
type WindowResolver struct {
	site *Site
}

// Resolve fetches the room page and parses its window.
func (w *WindowResolver) Resolve(ctx context.Context) (domain.SourceWindow, error) {
	resp := w.site.client.Do(ctx, Request{
		URL:     w.site.RoomPageURL(),
		Headers: map[string]string{"Referer": w.site.BaseURL()},
	}, w.site.timeout)
	if resp.Error != nil {
		return domain.SourceWindow{}, fmt.Errorf("fetch room page: %w: %w", domain.ErrTransient, resp.Error)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.SourceWindow{}, statusError("fetch room page", resp.StatusCode)
	}

	window, err := ParseWindow(resp.Body, w.site.now())
	if err != nil {
		return domain.SourceWindow{}, err
	}
	w.site.logger.Debug("window resolved",
		"room", w.site.room.String(),
		"min_date", window.MinDate.Format(domain.DateLayout),
		"max_date", window.MaxDate.Format(domain.DateLayout),
		"disabled", len(window.Disabled),
		"latency", resp.Latency.String(),
	)
	return window, nil
}

// ParseWindow extracts minDate, maxDate and the disabled dates from the
// room page. A page without disabledDays yields an empty blocked set.
func ParseWindow(page []byte, fetchedAt time.Time) (domain.SourceWindow, error) {
	minMatch := minDateRe.FindSubmatch(page)
	maxMatch := maxDateRe.FindSubmatch(page)
	if minMatch == nil || maxMatch == nil {
		return domain.SourceWindow{}, ErrNoWindow
	}

	minDate, err := time.Parse(pickerLayout, string(minMatch[1]))
	if err != nil {
		return domain.SourceWindow{}, fmt.Errorf("parse minDate: %w", err)
	}
	maxDate, err := time.Parse(pickerLayout, string(maxMatch[1]))
	if err != nil {
		return domain.SourceWindow{}, fmt.Errorf("parse maxDate: %w", err)
	}
	if maxDate.Before(minDate) {
		return domain.SourceWindow{}, fmt.Errorf("maxDate %s is before minDate %s",
			maxDate.Format(domain.DateLayout), minDate.Format(domain.DateLayout))
	}

	var disabled []time.Time
	if m := disabledDaysRe.FindSubmatch(page); m != nil {
		for _, d := range quotedDateRe.FindAllSubmatch(m[1], -1) {
			day, err := domain.ParseDate(string(d[1]))
			if err != nil {
				continue
			}
			disabled = append(disabled, day)
		}
	}

	return domain.NewSourceWindow(minDate, maxDate, disabled, fetchedAt), nil
}
