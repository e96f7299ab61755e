package reservation

import (
	"github.com/ABeGood/reservation-pl/internal/controller"
	"github.com/ABeGood/reservation-pl/internal/domain"
	"github.com/ABeGood/reservation-pl/internal/events"
)

// Status is a snapshot of the monitor: lifecycle state, active parameters
// and statistics.
type Status = controller.Status

// State is the lifecycle state reported in [Status].
type State = controller.State

const (
	StateIdle     = controller.StateIdle
	StateRunning  = controller.StateRunning
	StateStopping = controller.StateStopping
)

// Event is a notification emitted by the monitor, e.g. a found slot or a
// finished claim.
type Event = events.Event

// EventKind identifies the kind of an [Event].
type EventKind = events.Kind

const (
	EventSlotFound      = events.KindSlotFound
	EventClaimSucceeded = events.KindClaimSucceeded
	EventClaimFailed    = events.KindClaimFailed
	EventMonitorStarted = events.KindMonitorStarted
	EventMonitorStopped = events.KindMonitorStopped
	EventWindowChanged  = events.KindWindowChanged
	EventError          = events.KindError

	EventParticipantsRefreshed = events.KindParticipantsRefreshed
)

// Participant is a person waiting for a slot.
type Participant = domain.Participant

// Reservation is a slot claimed for a participant.
type Reservation = domain.Reservation

// ChallengeSolver turns a challenge image into its text.
type ChallengeSolver = domain.ChallengeSolver
