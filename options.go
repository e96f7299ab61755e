package reservation

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ABeGood/reservation-pl/internal/claim"
	"github.com/ABeGood/reservation-pl/internal/domain"
	"github.com/ABeGood/reservation-pl/internal/notify"
	"github.com/ABeGood/reservation-pl/internal/poller"
	"github.com/ABeGood/reservation-pl/internal/solver"
	"github.com/ABeGood/reservation-pl/internal/store"
	"github.com/ABeGood/reservation-pl/internal/telegram"
)

// serviceConfig holds mutable state during Service construction.
type serviceConfig struct {
	baseURL        string
	port           int
	logger         *slog.Logger
	userAgent      string
	requestTimeout time.Duration

	monitor poller.Config
	claim   claim.Config

	repository store.Repository
	solver     domain.ChallengeSolver
	breaker    *solver.BreakerConfig

	successMarkers   []string
	rejectionMarkers []string

	notifiers      []notify.Notifier
	botCommands    *botCommands
	eventCallbacks []func(Event)
	eventCapacity  int
	eventMaxAge    time.Duration
	notifyTimeout  time.Duration

	shutdownTimeout time.Duration
	autoStart       bool
	clock           func() time.Time
}

// Option configures a [Service] during construction. Options return an
// error if validation fails.
type Option func(*serviceConfig) error

// WithBaseURL sets the root URL of the booking site, e.g.
// "https://olsztyn.uw.gov.pl/wizytakartapolaka/". Required.
func WithBaseURL(url string) Option {
	return func(cfg *serviceConfig) error {
		if url == "" {
			return errors.New("base url cannot be empty")
		}
		cfg.baseURL = url
		return nil
	}
}

// WithRoom sets the booking desk to watch, e.g. "A1". Required.
func WithRoom(room string) Option {
	return func(cfg *serviceConfig) error {
		if room == "" {
			return errors.New("room cannot be empty")
		}
		cfg.monitor.Room = domain.Room(room)
		return nil
	}
}

// WithPort sets the HTTP port of the control API. Port 0 disables the API.
// Defaults to 8080.
func WithPort(port int) Option {
	return func(cfg *serviceConfig) error {
		if port < 0 || port > 65535 {
			return fmt.Errorf("port must be between 0 and 65535, got %d", port)
		}
		cfg.port = port
		return nil
	}
}

// WithLogger sets a custom [slog.Logger]. If not specified, [slog.Default]
// is used.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *serviceConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithInterval sets the bounds of the random pause between polling cycles.
func WithInterval(minPause, maxPause time.Duration) Option {
	return func(cfg *serviceConfig) error {
		if minPause < 0 || maxPause < minPause {
			return fmt.Errorf("invalid interval %s-%s", minPause, maxPause)
		}
		cfg.monitor.IntervalMin = minPause
		cfg.monitor.IntervalMax = maxPause
		return nil
	}
}

// WithMaxWorkers sets how many dates are checked concurrently in a cycle.
func WithMaxWorkers(n int) Option {
	return func(cfg *serviceConfig) error {
		if n < 1 {
			return errors.New("max workers must be positive")
		}
		cfg.monitor.MaxWorkers = n
		return nil
	}
}

// WithAutoClaim turns automatic reservation of found slots on or off.
// Defaults to on.
func WithAutoClaim(enabled bool) Option {
	return func(cfg *serviceConfig) error {
		cfg.monitor.AutoClaim = enabled
		return nil
	}
}

// WithMonitorConfig replaces the polling parameters. The room set by
// [WithRoom] is kept when cfg leaves it empty.
func WithMonitorConfig(c poller.Config) Option {
	return func(cfg *serviceConfig) error {
		if c.Room == "" {
			c.Room = cfg.monitor.Room
		}
		cfg.monitor = c
		return nil
	}
}

// WithClaimConfig sets the retry and timeout parameters of claim attempts.
func WithClaimConfig(c claim.Config) Option {
	return func(cfg *serviceConfig) error {
		if err := c.Validate(); err != nil {
			return err
		}
		cfg.claim = c
		return nil
	}
}

// WithRepository sets where participants and reservations are stored.
// Defaults to an in-memory store.
func WithRepository(r store.Repository) Option {
	return func(cfg *serviceConfig) error {
		if r == nil {
			return errors.New("repository cannot be nil")
		}
		cfg.repository = r
		return nil
	}
}

// WithSolver sets the challenge solver. Required while auto-claim is on.
func WithSolver(s ChallengeSolver) Option {
	return func(cfg *serviceConfig) error {
		if s == nil {
			return errors.New("solver cannot be nil")
		}
		cfg.solver = s
		return nil
	}
}

// WithSolverBreaker guards the solver with a circuit breaker.
func WithSolverBreaker(c solver.BreakerConfig) Option {
	return func(cfg *serviceConfig) error {
		cfg.breaker = &c
		return nil
	}
}

// WithMarkers overrides the phrases that identify accepted and rejected
// submissions. A nil list keeps the default.
func WithMarkers(success, rejection []string) Option {
	return func(cfg *serviceConfig) error {
		cfg.successMarkers = success
		cfg.rejectionMarkers = rejection
		return nil
	}
}

// WithUserAgent sets the User-Agent sent to the booking site.
func WithUserAgent(ua string) Option {
	return func(cfg *serviceConfig) error {
		cfg.userAgent = ua
		return nil
	}
}

// WithRequestTimeout bounds requests to the booking site that the caller
// does not bound already.
func WithRequestTimeout(d time.Duration) Option {
	return func(cfg *serviceConfig) error {
		if d <= 0 {
			return errors.New("request timeout must be positive")
		}
		cfg.requestTimeout = d
		return nil
	}
}

// WithNotifier adds a notifier. Every event is delivered to every notifier.
func WithNotifier(n notify.Notifier) Option {
	return func(cfg *serviceConfig) error {
		if n == nil {
			return errors.New("notifier cannot be nil")
		}
		cfg.notifiers = append(cfg.notifiers, n)
		return nil
	}
}

type botCommands struct {
	token string
	chats []int64
	opts  []telegram.Option
}

// WithTelegramCommands answers operator commands such as /status and
// /stop_monitor sent to the bot from the given chats.
func WithTelegramCommands(token string, chats []int64, opts ...telegram.Option) Option {
	return func(cfg *serviceConfig) error {
		if token == "" {
			return errors.New("telegram bot token is required")
		}
		if len(chats) == 0 {
			return errors.New("telegram commands need at least one chat id")
		}
		cfg.botCommands = &botCommands{
			token: token,
			chats: append([]int64(nil), chats...),
			opts:  opts,
		}
		return nil
	}
}

// WithEventCallback registers a function called for every monitor event.
//
// Callbacks run on the notification goroutine in registration order and
// must not block. Panics are recovered and logged. Nil callbacks are
// ignored.
func WithEventCallback(cb func(Event)) Option {
	return func(cfg *serviceConfig) error {
		if cb != nil {
			cfg.eventCallbacks = append(cfg.eventCallbacks, cb)
		}
		return nil
	}
}

// WithEventCapacity bounds each event subscriber's queue.
func WithEventCapacity(n int) Option {
	return func(cfg *serviceConfig) error {
		if n < 1 {
			return errors.New("event capacity must be positive")
		}
		cfg.eventCapacity = n
		return nil
	}
}

// WithEventMaxAge discards queued events older than d.
func WithEventMaxAge(d time.Duration) Option {
	return func(cfg *serviceConfig) error {
		if d < 0 {
			return errors.New("event max age must not be negative")
		}
		cfg.eventMaxAge = d
		return nil
	}
}

// WithNotifyTimeout bounds a single notification delivery.
func WithNotifyTimeout(d time.Duration) Option {
	return func(cfg *serviceConfig) error {
		if d <= 0 {
			return errors.New("notify timeout must be positive")
		}
		cfg.notifyTimeout = d
		return nil
	}
}

// WithShutdownTimeout bounds how long a monitor stop waits for the running
// cycle.
func WithShutdownTimeout(d time.Duration) Option {
	return func(cfg *serviceConfig) error {
		if d <= 0 {
			return errors.New("shutdown timeout must be positive")
		}
		cfg.shutdownTimeout = d
		return nil
	}
}

// WithAutoStart controls whether [Service.Start] also starts the monitor.
// Defaults to true; when false the monitor waits for a start command.
func WithAutoStart(enabled bool) Option {
	return func(cfg *serviceConfig) error {
		cfg.autoStart = enabled
		return nil
	}
}

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(cfg *serviceConfig) error {
		if now == nil {
			return errors.New("clock cannot be nil")
		}
		cfg.clock = now
		return nil
	}
}
