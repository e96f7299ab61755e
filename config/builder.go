package config

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	reservation "github.com/ABeGood/reservation-pl"
	"github.com/ABeGood/reservation-pl/internal/domain"
	"github.com/ABeGood/reservation-pl/internal/notify"
	"github.com/ABeGood/reservation-pl/internal/solver"
	"github.com/ABeGood/reservation-pl/internal/store"
	"github.com/ABeGood/reservation-pl/internal/telegram"
)

// BuildOptions converts parsed configuration into service options.
//
// It opens the configured repository and notifier connections. The
// repository is owned by the service, which closes it when it stops; the
// returned cleanup releases the rest and must be called after the service
// has stopped.
func BuildOptions(ctx context.Context, cfg *Config, logger *slog.Logger) ([]reservation.Option, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}

	monitor, err := cfg.PollerConfig()
	if err != nil {
		return nil, nil, err
	}
	claimCfg, err := cfg.ClaimConfig()
	if err != nil {
		return nil, nil, err
	}

	port := cfg.Port
	if cfg.DisableAPI {
		port = 0
	}
	opts := []reservation.Option{
		reservation.WithLogger(logger),
		reservation.WithPort(port),
		reservation.WithBaseURL(cfg.Source.BaseURL),
		reservation.WithRoom(cfg.Source.Room),
		reservation.WithMonitorConfig(monitor),
		reservation.WithClaimConfig(claimCfg),
		reservation.WithAutoStart(cfg.AutoStart()),
		reservation.WithMarkers(nilIfEmpty(cfg.Source.SuccessMarkers), nilIfEmpty(cfg.Source.RejectionMarkers)),
	}
	if cfg.Source.UserAgent != "" {
		opts = append(opts, reservation.WithUserAgent(cfg.Source.UserAgent))
	}
	if cfg.Source.RequestTimeout > 0 {
		opts = append(opts, reservation.WithRequestTimeout(cfg.Source.RequestTimeout.Duration()))
	}
	if cfg.Events.Capacity > 0 {
		opts = append(opts, reservation.WithEventCapacity(cfg.Events.Capacity))
	}
	if cfg.Events.MaxAge > 0 {
		opts = append(opts, reservation.WithEventMaxAge(cfg.Events.MaxAge.Duration()))
	}
	if cfg.Events.NotifyTimeout > 0 {
		opts = append(opts, reservation.WithNotifyTimeout(cfg.Events.NotifyTimeout.Duration()))
	}

	s, err := BuildSolver(cfg.Captcha)
	if err != nil {
		return nil, nil, err
	}
	if s != nil {
		opts = append(opts, reservation.WithSolver(s))
		if b := cfg.Captcha.Breaker; b != nil {
			opts = append(opts, reservation.WithSolverBreaker(solver.BreakerConfig{
				MaxRequests:      b.MaxRequests,
				Interval:         b.Interval.Duration(),
				Timeout:          b.Timeout.Duration(),
				FailureThreshold: b.FailureThreshold,
			}))
		}
	}

	notifiers, cleanup, err := BuildNotifiers(ctx, cfg.Notify)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	for _, n := range notifiers {
		opts = append(opts, reservation.WithNotifier(n))
	}
	if t := cfg.Notify.Telegram; t != nil && t.Commands {
		opts = append(opts, reservation.WithTelegramCommands(t.Token, t.Chats(), telegram.WithLogger(logger)))
	}

	repo, err := OpenRepository(ctx, cfg.Storage)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	opts = append(opts, reservation.WithRepository(repo))

	return opts, cleanup, nil
}

func nilIfEmpty(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}

// OpenRepository opens the configured participant store.
func OpenRepository(ctx context.Context, cfg StorageConfig) (store.Repository, error) {
	switch cfg.Driver {
	case "", DriverMemory:
		return store.NewMemoryStore(), nil
	case DriverSQLite:
		s, err := store.OpenSQLite(ctx, cfg.Path, cfg.BusyTimeout.or(store.DefaultBusyTimeout))
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverPostgres:
		s, err := store.OpenPostgres(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// BuildSolver returns the configured challenge solver, or nil for the
// "none" provider.
func BuildSolver(cfg CaptchaConfig) (domain.ChallengeSolver, error) {
	switch cfg.Provider {
	case "", ProviderNone:
		return nil, nil
	case ProviderEcho:
		return solver.Echo, nil
	case ProviderTrueCaptcha:
		var opts []solver.TrueCaptchaOption
		if cfg.Endpoint != "" {
			opts = append(opts, solver.WithEndpoint(cfg.Endpoint))
		}
		tc, err := solver.NewTrueCaptcha(cfg.UserID, cfg.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		return tc, nil
	default:
		return nil, fmt.Errorf("unknown captcha provider %q", cfg.Provider)
	}
}

// BuildNotifiers returns the configured notifiers. The cleanup closes the
// connections they hold; it is never nil, also on error.
func BuildNotifiers(ctx context.Context, cfg NotifyConfig) ([]notify.Notifier, func(), error) {
	var (
		notifiers []notify.Notifier
		clients   []*redis.Client
	)
	cleanup := func() {
		for _, c := range clients {
			_ = c.Close()
		}
	}

	if t := cfg.Telegram; t != nil {
		tg, err := notify.NewTelegram(t.Token, t.Chats())
		if err != nil {
			return nil, cleanup, err
		}
		notifiers = append(notifiers, filtered(tg, t.Kinds))
	}

	if r := cfg.Redis; r != nil {
		client, err := notify.NewRedisClient(ctx, r.Addr, r.Password, r.DB)
		if err != nil {
			return nil, cleanup, fmt.Errorf("connect to redis: %w", err)
		}
		clients = append(clients, client)

		channel := r.Channel
		if channel == "" {
			channel = notify.DefaultRedisChannel
		}
		rn, err := notify.NewRedis(client, channel)
		if err != nil {
			return nil, cleanup, err
		}
		notifiers = append(notifiers, filtered(rn, r.Kinds))
	}

	return notifiers, cleanup, nil
}

func filtered(n notify.Notifier, kinds []string) notify.Notifier {
	if len(kinds) == 0 {
		return n
	}
	return notify.Filter(n, toKinds(kinds)...)
}
