package events

import (
	"fmt"
	"time"

	"github.com/ABeGood/reservation-pl/internal/domain"
)

// Kind names the type of an event.
type Kind string

const (
	KindSlotFound             Kind = "slot_found"
	KindClaimSucceeded        Kind = "claim_succeeded"
	KindClaimFailed           Kind = "claim_failed"
	KindMonitorStarted        Kind = "monitor_started"
	KindMonitorStopped        Kind = "monitor_stopped"
	KindError                 Kind = "error"
	KindWindowChanged         Kind = "window_changed"
	KindParticipantsRefreshed Kind = "participants_refreshed"
)

// Priority is the retention tier of an event under overflow.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityUrgent
)

// String implements fmt.Stringer.
func (p Priority) String() string {
	if p == PriorityUrgent {
		return "urgent"
	}
	return "normal"
}

// MarshalText renders the priority by name in JSON.
func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses a priority name.
func (p *Priority) UnmarshalText(b []byte) error {
	switch string(b) {
	case "urgent":
		*p = PriorityUrgent
	case "normal":
		*p = PriorityNormal
	default:
		return fmt.Errorf("unknown priority %q", b)
	}
	return nil
}

// Priority returns the default tier for the kind. Claim outcomes and errors
// are urgent.
func (k Kind) Priority() Priority {
	switch k {
	case KindClaimSucceeded, KindClaimFailed, KindError:
		return PriorityUrgent
	default:
		return PriorityNormal
	}
}

// Event is an immutable notification published by the monitor.
type Event struct {
	ID            string           `json:"id"`
	Kind          Kind             `json:"kind"`
	Priority      Priority         `json:"priority"`
	Slot          *domain.TimeSlot `json:"slot,omitempty"`
	ParticipantID int64            `json:"participant_id,omitempty"`
	Participant   string           `json:"participant,omitempty"`
	Message       string           `json:"message"`
	At            time.Time        `json:"at"`
}

// New returns an event of the given kind with the kind's default priority.
// ID and timestamp are assigned on publish.
func New(kind Kind, message string) Event {
	return Event{Kind: kind, Priority: kind.Priority(), Message: message}
}

// WithSlot returns a copy of e carrying the slot.
func (e Event) WithSlot(s domain.TimeSlot) Event {
	e.Slot = &s
	return e
}

// WithParticipant returns a copy of e referencing the participant.
func (e Event) WithParticipant(p domain.Participant) Event {
	e.ParticipantID = p.ID
	e.Participant = p.FullName()
	return e
}

// Publisher is implemented by anything that accepts events. Publish must not
// block.
type Publisher interface {
	Publish(e Event)
}

// Discard is a Publisher that drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}
