package claim

import "fmt"

// FailureReason identifies the step at which a claim try failed.
type FailureReason string

const (
	ReasonSession   FailureReason = "session"
	ReasonChallenge FailureReason = "challenge"
	ReasonSolve     FailureReason = "solve"
	ReasonSubmit    FailureReason = "submit"
	ReasonRejected  FailureReason = "rejected"
	ReasonAmbiguous FailureReason = "ambiguous"
	ReasonCancelled FailureReason = "cancelled"
)

// Error describes a failed claim try.
type Error struct {
	Reason FailureReason
	Try    int
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("claim try %d failed (%s): %v", e.Try, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
