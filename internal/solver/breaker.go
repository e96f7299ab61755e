package solver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/ABeGood/reservation-pl/internal/domain"
)

// BreakerConfig configures [Breaker].
type BreakerConfig struct {
	// MaxRequests is the number of trial calls allowed while half-open.
	MaxRequests uint32

	// Interval clears the failure counts while closed. Zero never clears.
	Interval time.Duration

	// Timeout is how long the breaker stays open.
	Timeout time.Duration

	// FailureThreshold is the number of consecutive failures that opens the
	// breaker.
	FailureThreshold uint32
}

// DefaultBreakerConfig returns the defaults used by the service.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}
}

// Breaker guards a solver with a circuit breaker so that an unavailable
// solver service fails fast instead of eating every claim try's timeout.
type Breaker struct {
	next    domain.ChallengeSolver
	breaker *gobreaker.CircuitBreaker[string]
}

// NewBreaker wraps next.
func NewBreaker(next domain.ChallengeSolver, cfg BreakerConfig, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	settings := gobreaker.Settings{
		Name:        "challenge-solver",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		// a cancelled claim is not the solver's fault
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	}
	return &Breaker{
		next:    next,
		breaker: gobreaker.NewCircuitBreaker[string](settings),
	}
}

// Solve calls the wrapped solver unless the breaker is open. An open breaker
// yields a transient error.
func (b *Breaker) Solve(ctx context.Context, image []byte) (string, error) {
	text, err := b.breaker.Execute(func() (string, error) {
		return b.next.Solve(ctx, image)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", fmt.Errorf("%w: solver unavailable: %w", domain.ErrTransient, err)
	}
	return text, err
}

// State returns the breaker state name: "closed", "half-open" or "open".
func (b *Breaker) State() string {
	return b.breaker.State().String()
}
