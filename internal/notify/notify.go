package notify

import (
	"context"
	"log/slog"
	"slices"

	"github.com/ABeGood/reservation-pl/internal/events"
)

// Notifier delivers a single event.
type Notifier interface {
	Notify(ctx context.Context, e events.Event) error
}

// Func adapts a function to [Notifier].
type Func func(ctx context.Context, e events.Event) error

// Notify calls f.
func (f Func) Notify(ctx context.Context, e events.Event) error {
	return f(ctx, e)
}

// Filter forwards only events of the given kinds to next. With no kinds
// every event passes.
func Filter(next Notifier, kinds ...events.Kind) Notifier {
	if len(kinds) == 0 {
		return next
	}
	return Func(func(ctx context.Context, e events.Event) error {
		if !slices.Contains(kinds, e.Kind) {
			return nil
		}
		return next.Notify(ctx, e)
	})
}

// LogNotifier writes events to a structured logger.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier returns a notifier logging to logger, or to slog.Default
// when logger is nil.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify implements [Notifier].
func (l *LogNotifier) Notify(ctx context.Context, e events.Event) error {
	level := slog.LevelInfo
	switch e.Kind {
	case events.KindError:
		level = slog.LevelError
	case events.KindClaimFailed:
		level = slog.LevelWarn
	}

	attrs := []any{
		"event_id", e.ID,
		"kind", string(e.Kind),
		"priority", e.Priority.String(),
	}
	if e.Slot != nil {
		attrs = append(attrs, "slot", e.Slot.String())
	}
	if e.ParticipantID != 0 {
		attrs = append(attrs, "participant_id", e.ParticipantID)
	}
	l.logger.Log(ctx, level, e.Message, attrs...)
	return nil
}
