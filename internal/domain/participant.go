package domain

import (
	"fmt"
	"net/mail"
	"regexp"
	"time"
	"unicode/utf8"
)

// ParticipantStatus is the registration state of a participant.
type ParticipantStatus string

const (
	StatusPending ParticipantStatus = "pending"
	StatusClaimed ParticipantStatus = "claimed"
	StatusFailed  ParticipantStatus = "failed"
)

// Citizenship values accepted by the booking form.
type Citizenship string

const (
	CitizenshipBelarus   Citizenship = "Białoruś"
	CitizenshipRussia    Citizenship = "Rosja"
	CitizenshipUkraine   Citizenship = "Ukraina"
	CitizenshipStateless Citizenship = "status bezpaństwowca"
)

// ApplicationType values accepted by the booking form.
type ApplicationType string

const (
	ApplicationAdult             ApplicationType = "osoba dorosła"
	ApplicationAdultWithChildren ApplicationType = "osoba dorosła i małoletnie dzieci"
	ApplicationMinor             ApplicationType = "małoletni"
)

const (
	maxNameLength    = 15
	maxSurnameLength = 20
)

var phonePattern = regexp.MustCompile(`^\+?[0-9]{6,15}$`)

// Participant is a person waiting for a slot.
//
// DesiredMonth is 0 when the participant accepts any month.
type Participant struct {
	ID              int64             `json:"id"`
	Name            string            `json:"name"`
	Surname         string            `json:"surname"`
	Citizenship     Citizenship       `json:"citizenship"`
	Email           string            `json:"email"`
	Phone           string            `json:"phone"`
	ApplicationType ApplicationType   `json:"application_type"`
	DesiredMonth    int               `json:"desired_month,omitempty"`
	Status          ParticipantStatus `json:"status"`
	CreatedAt       time.Time         `json:"created_at"`
}

// Wants reports whether the participant is eligible for the slot.
func (p Participant) Wants(slot TimeSlot) bool {
	if p.Status != StatusPending {
		return false
	}
	return p.DesiredMonth == 0 || time.Month(p.DesiredMonth) == slot.Month()
}

// FullName returns "Name Surname".
func (p Participant) FullName() string {
	return p.Name + " " + p.Surname
}

// Validate checks the fields against the rules of the booking form.
func (p Participant) Validate() error {
	switch {
	case p.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidParticipant)
	case utf8.RuneCountInString(p.Name) > maxNameLength:
		return fmt.Errorf("%w: name must be at most %d characters", ErrInvalidParticipant, maxNameLength)
	case p.Surname == "":
		return fmt.Errorf("%w: surname is required", ErrInvalidParticipant)
	case utf8.RuneCountInString(p.Surname) > maxSurnameLength:
		return fmt.Errorf("%w: surname must be at most %d characters", ErrInvalidParticipant, maxSurnameLength)
	}

	switch p.Citizenship {
	case CitizenshipBelarus, CitizenshipRussia, CitizenshipUkraine, CitizenshipStateless:
	default:
		return fmt.Errorf("%w: unknown citizenship %q", ErrInvalidParticipant, p.Citizenship)
	}

	switch p.ApplicationType {
	case ApplicationAdult, ApplicationAdultWithChildren, ApplicationMinor:
	default:
		return fmt.Errorf("%w: unknown application type %q", ErrInvalidParticipant, p.ApplicationType)
	}

	if _, err := mail.ParseAddress(p.Email); err != nil {
		return fmt.Errorf("%w: invalid email %q", ErrInvalidParticipant, p.Email)
	}
	if !phonePattern.MatchString(p.Phone) {
		return fmt.Errorf("%w: invalid phone %q", ErrInvalidParticipant, p.Phone)
	}
	if p.DesiredMonth < 0 || p.DesiredMonth > 12 {
		return fmt.Errorf("%w: desired month must be between 1 and 12, got %d", ErrInvalidParticipant, p.DesiredMonth)
	}

	switch p.Status {
	case "", StatusPending, StatusClaimed, StatusFailed:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidParticipant, p.Status)
	}
	return nil
}
