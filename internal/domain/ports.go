package domain

import (
	"context"
	"time"
)

// WindowProvider resolves the bookable date range from the source.
type WindowProvider interface {
	Resolve(ctx context.Context) (SourceWindow, error)
}

// SlotQuerier lists the free slots for a single date.
type SlotQuerier interface {
	Query(ctx context.Context, date time.Time) ([]TimeSlot, error)
}

// ChallengeSolver turns a challenge image into its text. It may be slow and
// it may be wrong.
type ChallengeSolver interface {
	Solve(ctx context.Context, image []byte) (string, error)
}

// Session is an opaque handle to a browsing session on the source. A session
// is never reused across claim tries.
type Session interface {
	ID() string
}

// SessionProvider opens sessions and fetches the challenge bound to them.
type SessionProvider interface {
	OpenSession(ctx context.Context) (Session, error)
	FetchChallenge(ctx context.Context, s Session) ([]byte, error)
}

// SubmitResponse is the raw outcome of a reservation submission.
type SubmitResponse struct {
	StatusCode int
	Body       []byte
}

// Submitter posts a reservation for a participant and slot.
type Submitter interface {
	Submit(ctx context.Context, s Session, p Participant, slot TimeSlot, solution string) (SubmitResponse, error)
}

// ParticipantRepository is the persistence boundary for participants.
//
// MarkClaimed must only transition a pending participant and must store the
// reservation in the same step. It returns [ErrNotPending] when the
// participant is no longer pending and [ErrNotFound] when it does not exist.
type ParticipantRepository interface {
	ListPending(ctx context.Context) ([]Participant, error)
	MarkClaimed(ctx context.Context, id int64, r Reservation) error
}
