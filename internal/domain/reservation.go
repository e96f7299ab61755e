package domain

import (
	"time"

	"github.com/google/uuid"
)

// Reservation records a slot confirmed by the source for a participant.
type Reservation struct {
	ID            string    `json:"id"`
	ParticipantID int64     `json:"participant_id"`
	Slot          TimeSlot  `json:"slot"`
	Code          string    `json:"code,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewReservation creates a reservation with a fresh ID.
func NewReservation(participantID int64, slot TimeSlot, code string, at time.Time) Reservation {
	return Reservation{
		ID:            uuid.NewString(),
		ParticipantID: participantID,
		Slot:          slot,
		Code:          code,
		CreatedAt:     at,
	}
}
