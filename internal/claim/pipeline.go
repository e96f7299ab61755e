package claim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/ABeGood/reservation-pl/internal/domain"
	"github.com/ABeGood/reservation-pl/internal/events"
	"github.com/ABeGood/reservation-pl/internal/stats"
)

const (
	DefaultMaxRetries    = 3
	DefaultBaseBackoff   = 500 * time.Millisecond
	DefaultSolveTimeout  = 30 * time.Second
	DefaultSubmitTimeout = 30 * time.Second

	// maxRetriesLimit keeps the exponential backoff within a sane range.
	maxRetriesLimit = 10

	persistTimeout = 10 * time.Second
	persistTries   = 3
)

// Config holds the retry and timeout parameters of a [Pipeline].
type Config struct {
	// MaxRetries is the number of tries per attempt, the first one included.
	MaxRetries int

	// BaseBackoff is the wait after the first failed try. Each further wait
	// doubles.
	BaseBackoff time.Duration

	SolveTimeout  time.Duration
	SubmitTimeout time.Duration
}

// DefaultConfig returns the default retry and timeout parameters.
func DefaultConfig() Config {
	return Config{
		MaxRetries:    DefaultMaxRetries,
		BaseBackoff:   DefaultBaseBackoff,
		SolveTimeout:  DefaultSolveTimeout,
		SubmitTimeout: DefaultSubmitTimeout,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.MaxRetries < 1 || c.MaxRetries > maxRetriesLimit:
		return fmt.Errorf("max retries must be between 1 and %d, got %d", maxRetriesLimit, c.MaxRetries)
	case c.BaseBackoff <= 0:
		return errors.New("base backoff must be positive")
	case c.SolveTimeout <= 0:
		return errors.New("solve timeout must be positive")
	case c.SubmitTimeout <= 0:
		return errors.New("submit timeout must be positive")
	}
	return nil
}

// Observer receives the duration of every finished attempt. outcome is
// "success" or "failed".
type Observer interface {
	ObserveClaim(outcome string, tries int, d time.Duration)
}

// Deps are the collaborators of a [Pipeline]. Sessions, Solver, Submitter,
// Repository and Classifier are required.
type Deps struct {
	Sessions   domain.SessionProvider
	Solver     domain.ChallengeSolver
	Submitter  domain.Submitter
	Repository domain.ParticipantRepository
	Classifier Classifier

	Stats    *stats.Registry
	Events   events.Publisher
	Observer Observer
	Logger   *slog.Logger

	// Clock and Sleep are replaceable for tests.
	Clock func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Result is the terminal outcome of one [Pipeline.Attempt].
type Result struct {
	Claimed     bool
	Tries       int
	Reservation *domain.Reservation

	// Err is the last failure when Claimed is false.
	Err error

	// Backoffs lists the waits applied between tries.
	Backoffs []time.Duration
}

// Pipeline turns a detected slot into a reservation attempt.
//
// Each try opens a fresh session, fetches and solves the challenge, submits
// the reservation and classifies the response. Failed tries are retried with
// exponential backoff up to MaxRetries. Only an explicit success verdict marks
// the participant claimed.
//
// Pipeline is safe for concurrent use, although the poller only ever runs one
// attempt at a time.
type Pipeline struct {
	cfg  Config
	deps Deps
}

// New creates a [Pipeline].
func New(cfg Config, deps Deps) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch {
	case deps.Sessions == nil:
		return nil, errors.New("session provider is required")
	case deps.Solver == nil:
		return nil, errors.New("challenge solver is required")
	case deps.Submitter == nil:
		return nil, errors.New("submitter is required")
	case deps.Repository == nil:
		return nil, errors.New("participant repository is required")
	case deps.Classifier == nil:
		return nil, errors.New("classifier is required")
	}
	if deps.Stats == nil {
		deps.Stats = stats.New()
	}
	if deps.Events == nil {
		deps.Events = events.Discard
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Sleep == nil {
		deps.Sleep = sleepContext
	}
	return &Pipeline{cfg: cfg, deps: deps}, nil
}

// Backoff returns the wait applied after the given failed try (1-based).
func (p *Pipeline) Backoff(try int) time.Duration {
	return p.cfg.BaseBackoff << (try - 1)
}

// Attempt tries to reserve slot for participant and publishes exactly one
// terminal event: claim_succeeded or claim_failed.
func (p *Pipeline) Attempt(ctx context.Context, slot domain.TimeSlot, participant domain.Participant) Result {
	start := p.deps.Clock()
	logger := p.deps.Logger.With(
		"participant_id", participant.ID,
		"slot", slot.String(),
	)

	p.deps.Stats.IncClaimsAttempted()
	logger.Info("claim attempt started", "max_retries", p.cfg.MaxRetries)

	var result Result
	for try := 1; ; try++ {
		result.Tries = try

		code, err := p.try(ctx, try, slot, participant)
		if err == nil {
			return p.succeed(ctx, logger, slot, participant, code, result, start)
		}
		result.Err = err
		p.logFailure(logger, err)

		if ctx.Err() != nil {
			result.Err = &Error{Reason: ReasonCancelled, Try: try, Err: ctx.Err()}
			break
		}
		if try >= p.cfg.MaxRetries {
			break
		}

		delay := p.Backoff(try)
		result.Backoffs = append(result.Backoffs, delay)
		logger.Debug("claim retry scheduled", "try", try, "backoff", delay.String())
		if err := p.deps.Sleep(ctx, delay); err != nil {
			result.Err = &Error{Reason: ReasonCancelled, Try: try, Err: err}
			break
		}
	}

	p.fail(logger, slot, participant, result, start)
	return result
}

// try runs one session → challenge → solve → submit → classify sequence.
func (p *Pipeline) try(ctx context.Context, try int, slot domain.TimeSlot, participant domain.Participant) (string, error) {
	session, err := p.deps.Sessions.OpenSession(ctx)
	if err != nil {
		return "", &Error{Reason: ReasonSession, Try: try, Err: err}
	}

	image, err := p.deps.Sessions.FetchChallenge(ctx, session)
	if err != nil {
		return "", &Error{Reason: ReasonChallenge, Try: try, Err: err}
	}

	solveCtx, cancelSolve := context.WithTimeout(ctx, p.cfg.SolveTimeout)
	solution, err := p.deps.Solver.Solve(solveCtx, image)
	cancelSolve()
	if err != nil {
		return "", &Error{Reason: ReasonSolve, Try: try, Err: err}
	}
	if solution == "" {
		return "", &Error{Reason: ReasonSolve, Try: try, Err: errors.New("solver returned empty text")}
	}

	submitCtx, cancelSubmit := context.WithTimeout(ctx, p.cfg.SubmitTimeout)
	resp, err := p.deps.Submitter.Submit(submitCtx, session, participant, slot, solution)
	cancelSubmit()
	if err != nil {
		return "", &Error{Reason: ReasonSubmit, Try: try, Err: err}
	}

	verdict := p.classify(resp)
	switch verdict.Outcome {
	case OutcomeSuccess:
		return verdict.Code, nil
	case OutcomeRejected:
		return "", &Error{Reason: ReasonRejected, Try: try, Err: fmt.Errorf("%w: %s", domain.ErrRejected, verdict.Reason)}
	default:
		return "", &Error{Reason: ReasonAmbiguous, Try: try, Err: fmt.Errorf("%w: %s", domain.ErrAmbiguous, verdict.Reason)}
	}
}

// classify calls the classifier with panic recovery. A panic is logged with
// a correlation ID and yields an ambiguous verdict.
func (p *Pipeline) classify(resp domain.SubmitResponse) (v Verdict) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			p.deps.Logger.Error("classifier panic",
				"correlation_id", correlationID,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			v = Verdict{Reason: fmt.Sprintf("classifier panic (correlation_id: %s)", correlationID)}
		}
	}()
	return p.deps.Classifier(resp)
}

func (p *Pipeline) logFailure(logger *slog.Logger, err error) {
	var ce *Error
	if !errors.As(err, &ce) {
		logger.Warn("claim try failed", "error", err)
		return
	}
	if ce.Reason == ReasonAmbiguous {
		logger.Warn("claim response could not be classified, treating as failure",
			"try", ce.Try,
			"error", ce.Err,
		)
		return
	}
	logger.Warn("claim try failed",
		"try", ce.Try,
		"reason", string(ce.Reason),
		"error", ce.Err,
	)
}

func (p *Pipeline) succeed(ctx context.Context, logger *slog.Logger, slot domain.TimeSlot, participant domain.Participant, code string, result Result, start time.Time) Result {
	reservation := domain.NewReservation(participant.ID, slot, code, p.deps.Clock())
	result.Claimed = true
	result.Err = nil
	result.Reservation = &reservation

	err := p.persist(ctx, logger, participant.ID, reservation)

	p.deps.Stats.IncClaimsSucceeded()

	if err != nil {
		logger.Error("failed to persist claimed participant", "error", err, "code", code)
		p.deps.Events.Publish(events.New(events.KindError,
			fmt.Sprintf("slot %s booked for %s (code %q) but saving failed: %v", slot, participant.FullName(), code, err)).
			WithSlot(slot).WithParticipant(participant))
	}

	msg := fmt.Sprintf("booked %s for %s", slot, participant.FullName())
	if code != "" {
		msg += fmt.Sprintf(" (code %s)", code)
	}
	p.deps.Events.Publish(events.New(events.KindClaimSucceeded, msg).WithSlot(slot).WithParticipant(participant))

	logger.Info("claim succeeded", "tries", result.Tries, "code", code)
	p.observe("success", result.Tries, start)
	return result
}

// persist saves the reservation, retrying with backoff. The source has
// already accepted the booking, so the write outlives a stop.
func (p *Pipeline) persist(ctx context.Context, logger *slog.Logger, id int64, reservation domain.Reservation) error {
	ctx = context.WithoutCancel(ctx)
	var err error
	for try := 1; ; try++ {
		persistCtx, cancel := context.WithTimeout(ctx, persistTimeout)
		err = p.deps.Repository.MarkClaimed(persistCtx, id, reservation)
		cancel()
		if err == nil || errors.Is(err, domain.ErrNotPending) || errors.Is(err, domain.ErrNotFound) || try >= persistTries {
			return err
		}
		logger.Warn("saving claimed participant failed, retrying", "try", try, "error", err)
		_ = p.deps.Sleep(ctx, p.Backoff(try))
	}
}

func (p *Pipeline) fail(logger *slog.Logger, slot domain.TimeSlot, participant domain.Participant, result Result, start time.Time) {
	p.deps.Stats.IncClaimsFailed()

	reason := "unknown error"
	if result.Err != nil {
		reason = result.Err.Error()
	}
	p.deps.Events.Publish(events.New(events.KindClaimFailed,
		fmt.Sprintf("could not book %s for %s after %d tries: %s", slot, participant.FullName(), result.Tries, reason)).
		WithSlot(slot).WithParticipant(participant))

	logger.Warn("claim failed", "tries", result.Tries, "error", reason)
	p.observe("failed", result.Tries, start)
}

func (p *Pipeline) observe(outcome string, tries int, start time.Time) {
	if p.deps.Observer != nil {
		p.deps.Observer.ObserveClaim(outcome, tries, p.deps.Clock().Sub(start))
	}
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
