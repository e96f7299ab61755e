package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ABeGood/reservation-pl/internal/domain"
	"github.com/ABeGood/reservation-pl/internal/events"
	"github.com/ABeGood/reservation-pl/internal/poller"
	"github.com/ABeGood/reservation-pl/internal/stats"
)

// DefaultShutdownTimeout bounds how long Stop waits for the run loop.
const DefaultShutdownTimeout = 5 * time.Second

var (
	ErrAlreadyRunning = fmt.Errorf("%w: monitor is already running", domain.ErrConflict)
	ErrNotRunning     = fmt.Errorf("%w: monitor is not running", domain.ErrConflict)
	ErrClosed         = errors.New("controller is closed")
)

// State is the lifecycle state of the monitor.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// Runner is a monitoring session. Run blocks until ctx is cancelled and
// returns nil on a cooperative stop.
type Runner interface {
	Run(ctx context.Context) error
}

// Refresher is implemented by runners that accept refresh requests.
type Refresher interface {
	RequestWindowRefresh()
	RequestParticipantRefresh()
}

// PendingCounter is implemented by runners that expose their participant
// snapshot size.
type PendingCounter interface {
	PendingCount() int
}

// Factory builds a new runner for the given parameters. counters is bound to
// the new session; a runner that outlives its session through a stop timeout
// can keep writing to it without touching the next session's statistics.
type Factory func(cfg poller.Config, counters *stats.Registry) (Runner, error)

// PollerFactory returns a [Factory] that builds a [poller.Poller] with deps.
func PollerFactory(deps poller.Deps) Factory {
	return func(cfg poller.Config, counters *stats.Registry) (Runner, error) {
		deps.Stats = counters
		p, err := poller.New(cfg, deps)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// Status is a snapshot of the controller.
type Status struct {
	State         State          `json:"state"`
	Room          string         `json:"room"`
	IntervalMin   time.Duration  `json:"interval_min_ns"`
	IntervalMax   time.Duration  `json:"interval_max_ns"`
	MaxWorkers    int            `json:"max_workers"`
	AutoClaim     bool           `json:"auto_claim"`
	Pending       int            `json:"pending_participants"`
	Generation    uint64         `json:"generation"`
	StartedAt     time.Time      `json:"started_at,omitzero"`
	LastError     string         `json:"last_error,omitempty"`
	EventsDropped uint64         `json:"events_dropped"`
	Stats         stats.Snapshot `json:"stats"`
}

// DropCounter reports how many events were lost to overflow.
type DropCounter interface {
	Dropped() uint64
}

// Option configures a [Controller].
type Option func(*Controller) error

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		c.logger = logger
		return nil
	}
}

// WithStats shares a statistics registry with the controller.
func WithStats(r *stats.Registry) Option {
	return func(c *Controller) error {
		if r == nil {
			return errors.New("stats registry cannot be nil")
		}
		c.stats = r
		return nil
	}
}

// WithEvents sets the publisher for lifecycle events. If the publisher also
// counts drops, the count is reported in [Status].
func WithEvents(p events.Publisher) Option {
	return func(c *Controller) error {
		if p == nil {
			return errors.New("event publisher cannot be nil")
		}
		c.events = p
		if dc, ok := p.(DropCounter); ok {
			c.drops = dc
		}
		return nil
	}
}

// WithShutdownTimeout sets how long Stop waits for the run loop before
// detaching from it.
func WithShutdownTimeout(d time.Duration) Option {
	return func(c *Controller) error {
		if d <= 0 {
			return errors.New("shutdown timeout must be positive")
		}
		c.shutdownTimeout = d
		return nil
	}
}

// Controller owns the start/stop lifecycle of the monitor.
//
// Commands (Start, Stop, Restart, Close) are serialized by a command mutex.
// Lifecycle fields live behind a separate read-write lock, so [Controller.Status]
// never waits for a command in progress.
type Controller struct {
	factory         Factory
	logger          *slog.Logger
	stats           *stats.Registry
	events          events.Publisher
	drops           DropCounter
	shutdownTimeout time.Duration

	cmdMu sync.Mutex

	stateMu   sync.RWMutex
	state     State
	params    poller.Config
	runner    Runner
	cancel    context.CancelFunc
	done      chan struct{}
	gen       uint64
	startedAt time.Time
	lastErr   string
	closed    bool
}

// New creates an idle [Controller].
func New(factory Factory, params poller.Config, opts ...Option) (*Controller, error) {
	if factory == nil {
		return nil, errors.New("factory is required")
	}
	c := &Controller{
		factory:         factory,
		logger:          slog.Default(),
		events:          events.Discard,
		shutdownTimeout: DefaultShutdownTimeout,
		state:           StateIdle,
		params:          params,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.stats == nil {
		c.stats = stats.New()
	}
	return c, nil
}

// Start builds a new runner and launches it. It returns [ErrAlreadyRunning]
// when the monitor is not idle.
func (c *Controller) Start() error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	return c.start()
}

func (c *Controller) start() error {
	c.stateMu.RLock()
	state, params, closed := c.state, c.params, c.closed
	c.stateMu.RUnlock()

	if closed {
		return ErrClosed
	}
	if state != StateIdle {
		return ErrAlreadyRunning
	}

	runner, err := c.factory(params, c.stats.Begin())
	if err != nil {
		return fmt.Errorf("build poller: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.stateMu.Lock()
	c.gen++
	gen := c.gen
	c.state = StateRunning
	c.runner = runner
	c.cancel = cancel
	c.done = done
	c.startedAt = time.Now()
	c.lastErr = ""
	c.stateMu.Unlock()

	c.logger.Info("monitor started", "room", params.Room.String(), "generation", gen)
	c.events.Publish(events.New(events.KindMonitorStarted,
		fmt.Sprintf("monitor started for room %s, checking every %s-%s", params.Room, params.IntervalMin, params.IntervalMax)))

	go c.run(ctx, gen, runner, done)
	return nil
}

// run drives the runner and handles an exit that was not requested by Stop.
func (c *Controller) run(ctx context.Context, gen uint64, runner Runner, done chan struct{}) {
	defer close(done)

	err := c.safeRun(ctx, runner)
	if ctx.Err() != nil {
		return
	}
	if err == nil {
		err = errors.New("run loop exited unexpectedly")
	}

	c.stateMu.Lock()
	if c.gen != gen || c.state != StateRunning {
		c.stateMu.Unlock()
		return
	}
	cancel := c.cancel
	c.state = StateIdle
	c.runner = nil
	c.cancel = nil
	c.done = nil
	c.lastErr = err.Error()
	c.stateMu.Unlock()
	cancel()

	c.logger.Error("monitor stopped unexpectedly", "error", err, "generation", gen)
	c.events.Publish(events.New(events.KindError, fmt.Sprintf("monitor stopped unexpectedly: %v", err)))
}

// safeRun calls Run with panic recovery.
func (c *Controller) safeRun(ctx context.Context, runner Runner) (err error) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			c.logger.Error("run loop panic",
				"correlation_id", correlationID,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("run loop panic (correlation_id: %s)", correlationID)
		}
	}()
	return runner.Run(ctx)
}

// Stop cancels the running session and waits for it up to the shutdown
// timeout. It returns [ErrNotRunning] when the monitor is idle.
func (c *Controller) Stop() error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	return c.stop()
}

func (c *Controller) stop() error {
	c.stateMu.Lock()
	if c.state != StateRunning {
		c.stateMu.Unlock()
		return ErrNotRunning
	}
	c.state = StateStopping
	cancel, done, gen := c.cancel, c.done, c.gen
	c.stateMu.Unlock()

	cancel()

	timer := time.NewTimer(c.shutdownTimeout)
	select {
	case <-done:
		timer.Stop()
	case <-timer.C:
		c.logger.Warn("run loop did not stop in time, detaching",
			"timeout", c.shutdownTimeout.String(),
			"generation", gen,
		)
	}

	c.stateMu.Lock()
	c.state = StateIdle
	c.runner = nil
	c.cancel = nil
	c.done = nil
	c.stateMu.Unlock()

	snap := c.stats.Snapshot()
	c.logger.Info("monitor stopped",
		"generation", gen,
		"checks", snap.ChecksPerformed,
		"slots_found", snap.SlotsFound,
		"claims_succeeded", snap.ClaimsSucceeded,
	)
	c.events.Publish(events.New(events.KindMonitorStopped,
		fmt.Sprintf("monitor stopped after %d cycles: %d checks, %d slots found, %d of %d claims succeeded",
			snap.CycleCount, snap.ChecksPerformed, snap.SlotsFound, snap.ClaimsSucceeded, snap.ClaimsAttempted)))
	return nil
}

// Restart stops the monitor if it is running and starts it again. A non-nil
// params replaces the session parameters. From idle, Restart starts.
func (c *Controller) Restart(params *poller.Config) error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	if params != nil {
		if err := params.Validate(); err != nil {
			return fmt.Errorf("invalid parameters: %w", err)
		}
	}

	if err := c.stop(); err != nil && !errors.Is(err, ErrNotRunning) {
		return err
	}
	if params != nil {
		c.stateMu.Lock()
		c.params = *params
		c.stateMu.Unlock()
	}
	return c.start()
}

// RefreshParticipants asks the running session to reload participants.
func (c *Controller) RefreshParticipants() error {
	r, err := c.refresher()
	if err != nil {
		return err
	}
	r.RequestParticipantRefresh()
	return nil
}

// RefreshWindow asks the running session to re-resolve the booking window.
func (c *Controller) RefreshWindow() error {
	r, err := c.refresher()
	if err != nil {
		return err
	}
	r.RequestWindowRefresh()
	return nil
}

func (c *Controller) refresher() (Refresher, error) {
	c.stateMu.RLock()
	state, runner := c.state, c.runner
	c.stateMu.RUnlock()

	if state != StateRunning {
		return nil, ErrNotRunning
	}
	r, ok := runner.(Refresher)
	if !ok {
		return nil, errors.New("running monitor does not support refresh")
	}
	return r, nil
}

// Params returns the current session parameters.
func (c *Controller) Params() poller.Config {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.params
}

// Status returns the lifecycle state and a statistics snapshot.
func (c *Controller) Status() Status {
	c.stateMu.RLock()
	st := Status{
		State:       c.state,
		Room:        c.params.Room.String(),
		IntervalMin: c.params.IntervalMin,
		IntervalMax: c.params.IntervalMax,
		MaxWorkers:  c.params.MaxWorkers,
		AutoClaim:   c.params.AutoClaim,
		Generation:  c.gen,
		LastError:   c.lastErr,
	}
	runner := c.runner
	if c.state != StateIdle {
		st.StartedAt = c.startedAt
	}
	c.stateMu.RUnlock()

	if pc, ok := runner.(PendingCounter); ok {
		st.Pending = pc.PendingCount()
	}
	if c.drops != nil {
		st.EventsDropped = c.drops.Dropped()
	}
	st.Stats = c.stats.Snapshot()
	return st
}

// Close stops the monitor if needed. Later starts fail with [ErrClosed].
func (c *Controller) Close() {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	if err := c.stop(); err != nil && !errors.Is(err, ErrNotRunning) {
		c.logger.Warn("stop on close failed", "error", err)
	}
	c.stateMu.Lock()
	c.closed = true
	c.stateMu.Unlock()
}
