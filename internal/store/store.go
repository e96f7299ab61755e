package store

import (
	"context"
	"time"

	"github.com/ABeGood/reservation-pl/internal/domain"
)

// Repository is the full persistence surface used by the service and the
// control API. The monitor itself only needs [domain.ParticipantRepository].
type Repository interface {
	domain.ParticipantRepository

	// Add validates p, stores it as pending and returns it with its ID.
	Add(ctx context.Context, p domain.Participant) (domain.Participant, error)

	// Get returns a participant by ID or [domain.ErrNotFound].
	Get(ctx context.Context, id int64) (domain.Participant, error)

	// GetByEmail returns the participant with the given e-mail address,
	// compared case-insensitively, or [domain.ErrNotFound]. With several
	// matches the oldest wins.
	GetByEmail(ctx context.Context, email string) (domain.Participant, error)

	// List returns all participants ordered by ID.
	List(ctx context.Context) ([]domain.Participant, error)

	// Delete removes a participant and its reservations, or returns
	// [domain.ErrNotFound].
	Delete(ctx context.Context, id int64) error

	// Stats counts participants by status, citizenship and desired month.
	Stats(ctx context.Context) (Stats, error)

	// Reservations returns all reservations ordered by creation time.
	Reservations(ctx context.Context) ([]domain.Reservation, error)

	Close() error
}

// Stats summarises the participant table.
type Stats struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Claimed int `json:"claimed"`
	Failed  int `json:"failed"`

	ByCitizenship map[domain.Citizenship]int `json:"by_citizenship"`

	// ByMonth is keyed by desired month; 0 counts participants who accept
	// any month.
	ByMonth map[int]int `json:"by_desired_month"`
}

func newStats() Stats {
	return Stats{
		ByCitizenship: make(map[domain.Citizenship]int),
		ByMonth:       make(map[int]int),
	}
}

// add counts n participants sharing status, citizenship and month.
func (s *Stats) add(status domain.ParticipantStatus, c domain.Citizenship, month, n int) {
	s.Total += n
	switch status {
	case domain.StatusPending:
		s.Pending += n
	case domain.StatusClaimed:
		s.Claimed += n
	case domain.StatusFailed:
		s.Failed += n
	}
	s.ByCitizenship[c] += n
	s.ByMonth[month] += n
}

// prepare validates a new participant and fills the defaults.
func prepare(p domain.Participant, now time.Time) (domain.Participant, error) {
	if p.Status == "" {
		p.Status = domain.StatusPending
	}
	if err := p.Validate(); err != nil {
		return domain.Participant{}, err
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}
