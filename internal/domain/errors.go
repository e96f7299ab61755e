package domain

import "errors"

var (
	// ErrTransient marks timeouts, resets and 5xx responses. Always retryable.
	ErrTransient = errors.New("transient network error")

	// ErrRejected marks an explicit negative answer from the source.
	ErrRejected = errors.New("rejected by source")

	// ErrAmbiguous marks a response that could not be classified.
	ErrAmbiguous = errors.New("ambiguous response")

	// ErrStaleWindow is returned when no usable source window exists.
	ErrStaleWindow = errors.New("source window unavailable")

	// ErrConflict marks a lifecycle command that does not fit the current state.
	ErrConflict = errors.New("concurrency conflict")

	// ErrOverflow marks an event dropped by a saturated channel.
	ErrOverflow = errors.New("event channel overflow")

	// ErrNotPending is returned when a claim targets a participant that is
	// no longer pending.
	ErrNotPending = errors.New("participant is not pending")

	// ErrNotFound is returned for unknown participants.
	ErrNotFound = errors.New("participant not found")

	// ErrInvalidParticipant wraps validation failures.
	ErrInvalidParticipant = errors.New("invalid participant")
)
