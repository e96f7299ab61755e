package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/ABeGood/reservation-pl/internal/events"
)

// DefaultNotifyTimeout bounds a single delivery.
const DefaultNotifyTimeout = 10 * time.Second

// Dispatcher reads events from a channel subscription and delivers each one
// to every notifier in turn.
type Dispatcher struct {
	sub       *events.Subscription
	notifiers []Notifier
	timeout   time.Duration
	logger    *slog.Logger
}

// DispatcherOption configures a [Dispatcher].
type DispatcherOption func(*Dispatcher)

// WithTimeout sets the per-delivery timeout.
func WithTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithLogger sets the logger for delivery failures.
func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher subscribes to ch immediately, so events published before
// Run is called are queued rather than lost.
func NewDispatcher(ch *events.Channel, notifiers []Notifier, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		sub:       ch.Subscribe(),
		notifiers: notifiers,
		timeout:   DefaultNotifyTimeout,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run delivers events until the channel is closed or ctx is done. Events
// already queued when ctx is cancelled are still delivered. Run always
// returns nil; delivery errors are logged.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer d.sub.Close()

	for {
		e, err := d.sub.Next(ctx)
		if err != nil {
			if !errors.Is(err, events.ErrClosed) && ctx.Err() == nil {
				d.logger.Error("event subscription failed", "error", err)
			}
			return nil
		}
		for _, n := range d.notifiers {
			d.deliver(ctx, n, e)
		}
	}
}

// Dropped returns the number of events this dispatcher lost to overflow.
func (d *Dispatcher) Dropped() uint64 {
	return d.sub.Dropped()
}

func (d *Dispatcher) deliver(ctx context.Context, n Notifier, e events.Event) {
	// a stop publishes monitor_stopped while ctx may already be cancelled
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	if err := d.safeNotify(ctx, n, e); err != nil {
		d.logger.Warn("notification failed",
			"event_id", e.ID,
			"kind", string(e.Kind),
			"notifier", fmt.Sprintf("%T", n),
			"error", err,
		)
	}
}

func (d *Dispatcher) safeNotify(ctx context.Context, n Notifier, e events.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			d.logger.Error("panic in notifier",
				"correlation_id", correlationID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("notifier panicked (correlation_id: %s)", correlationID)
		}
	}()
	return n.Notify(ctx, e)
}
