package source

import (
	"context"
	"fmt"
	"net/url"

	"github.com/google/uuid"

	"github.com/ABeGood/reservation-pl/internal/domain"
)

// session is one browsing session on the site: a private cookie jar over the
// shared connection pool.
type session struct {
	id     string
	client *Client
}

func (s *session) ID() string { return s.id }

// Booker opens sessions, fetches their captcha and submits the reservation
// form. It implements domain.SessionProvider and domain.Submitter.
type Booker struct {
	site *Site
}

// OpenSession visits the room page with a fresh cookie jar so that the site
// binds a new server-side session to it.
func (b *Booker) OpenSession(ctx context.Context) (domain.Session, error) {
	client, err := b.site.client.WithJar()
	if err != nil {
		return nil, err
	}
	resp := client.Do(ctx, Request{
		URL:     b.site.RoomPageURL(),
		Headers: map[string]string{"Referer": b.site.BaseURL()},
	}, b.site.timeout)
	if resp.Error != nil {
		return nil, fmt.Errorf("open session: %w: %w", domain.ErrTransient, resp.Error)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError("open session", resp.StatusCode)
	}

	s := &session{id: uuid.NewString(), client: client}
	b.site.logger.Debug("session opened", "session_id", s.id)
	return s, nil
}

// FetchChallenge downloads the captcha image bound to the session.
func (b *Booker) FetchChallenge(ctx context.Context, ds domain.Session) ([]byte, error) {
	s, err := b.own(ds)
	if err != nil {
		return nil, err
	}
	resp := s.client.Do(ctx, Request{
		URL:     b.site.ChallengeURL(),
		Headers: map[string]string{"Referer": b.site.RoomPageURL()},
	}, b.site.timeout)
	if resp.Error != nil {
		return nil, fmt.Errorf("fetch challenge: %w: %w", domain.ErrTransient, resp.Error)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError("fetch challenge", resp.StatusCode)
	}
	if len(resp.Body) == 0 {
		return nil, fmt.Errorf("fetch challenge: %w: empty image", domain.ErrTransient)
	}
	return resp.Body, nil
}

// Submit posts the reservation form. Any HTTP answer is returned for
// classification; only transport failures are errors.
func (b *Booker) Submit(ctx context.Context, ds domain.Session, p domain.Participant, slot domain.TimeSlot, solution string) (domain.SubmitResponse, error) {
	s, err := b.own(ds)
	if err != nil {
		return domain.SubmitResponse{}, err
	}
	resp := s.client.Do(ctx, Request{
		Method:  "POST",
		URL:     b.site.SubmitURL(),
		Form:    SubmissionForm(p, slot, solution),
		Headers: map[string]string{"Referer": b.site.RoomPageURL()},
	}, b.site.timeout)
	if resp.Error != nil {
		return domain.SubmitResponse{}, fmt.Errorf("submit reservation: %w: %w", domain.ErrTransient, resp.Error)
	}
	b.site.logger.Debug("reservation submitted",
		"session_id", s.id,
		"slot", slot.String(),
		"status_code", resp.StatusCode,
		"latency", resp.Latency.String(),
	)
	return domain.SubmitResponse{StatusCode: resp.StatusCode, Body: resp.Body}, nil
}

func (b *Booker) own(ds domain.Session) (*session, error) {
	s, ok := ds.(*session)
	if !ok || s == nil {
		return nil, fmt.Errorf("session %T was not opened by this booker", ds)
	}
	return s, nil
}

// SubmissionForm builds the reservation form fields.
func SubmissionForm(p domain.Participant, slot domain.TimeSlot, solution string) url.Values {
	return url.Values{
		"imie":          {p.Name},
		"nazwisko":      {p.Surname},
		"obywatelstwo":  {string(p.Citizenship)},
		"email":         {p.Email},
		"telefon":       {p.Phone},
		"rodzaj_wizyty": {string(p.ApplicationType)},
		"datepicker":    {slot.DateString()},
		"godzina":       {slot.RawValue},
		"captcha_code":  {solution},
	}
}
