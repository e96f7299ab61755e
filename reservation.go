package reservation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ABeGood/reservation-pl/internal/claim"
	"github.com/ABeGood/reservation-pl/internal/controller"
	"github.com/ABeGood/reservation-pl/internal/domain"
	"github.com/ABeGood/reservation-pl/internal/events"
	"github.com/ABeGood/reservation-pl/internal/metrics"
	"github.com/ABeGood/reservation-pl/internal/notify"
	"github.com/ABeGood/reservation-pl/internal/poller"
	"github.com/ABeGood/reservation-pl/internal/server"
	"github.com/ABeGood/reservation-pl/internal/solver"
	"github.com/ABeGood/reservation-pl/internal/source"
	"github.com/ABeGood/reservation-pl/internal/stats"
	"github.com/ABeGood/reservation-pl/internal/store"
	"github.com/ABeGood/reservation-pl/internal/telegram"
)

const (
	DefaultPort          = 8080
	DefaultEventCapacity = events.DefaultCapacity
)

// Service watches a room of the booking site and reserves free slots for
// pending participants. Create one with [New] and run it with
// [Service.Start].
type Service struct {
	logger     *slog.Logger
	client     *source.Client
	repository store.Repository
	channel    *events.Channel
	controller *controller.Controller
	dispatcher *notify.Dispatcher
	server     *server.Server
	listener   *telegram.Listener
	registry   *prometheus.Registry
	autoStart  bool

	mu      sync.Mutex
	started bool
}

// New creates a [Service] from the given options. [WithBaseURL] and
// [WithRoom] are required, and so is [WithSolver] unless auto-claim is
// turned off.
//
// Example:
//
//	svc, err := reservation.New(
//	    reservation.WithBaseURL("https://olsztyn.uw.gov.pl/wizytakartapolaka/"),
//	    reservation.WithRoom("A1"),
//	    reservation.WithSolver(captcha),
//	    reservation.WithInterval(time.Second, 5*time.Second),
//	)
func New(opts ...Option) (*Service, error) {
	cfg := &serviceConfig{
		port:            DefaultPort,
		logger:          slog.Default(),
		requestTimeout:  source.DefaultRequestTimeout,
		monitor:         poller.DefaultConfig(),
		claim:           claim.DefaultConfig(),
		eventCapacity:   DefaultEventCapacity,
		notifyTimeout:   notify.DefaultNotifyTimeout,
		shutdownTimeout: controller.DefaultShutdownTimeout,
		autoStart:       true,
		clock:           time.Now,
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.baseURL == "" {
		return nil, errors.New("base url is required")
	}
	if err := cfg.monitor.Validate(); err != nil {
		return nil, fmt.Errorf("invalid monitor config: %w", err)
	}
	if cfg.monitor.AutoClaim && cfg.solver == nil {
		return nil, errors.New("a challenge solver is required when auto claim is on")
	}
	// fail on a bad base url now rather than on the first start
	if _, err := source.NewSite(cfg.baseURL, cfg.monitor.Room); err != nil {
		return nil, err
	}

	classifier, err := source.NewClassifier(cfg.successMarkers, cfg.rejectionMarkers)
	if err != nil {
		return nil, fmt.Errorf("build response classifier: %w", err)
	}

	if cfg.repository == nil {
		cfg.repository = store.NewMemoryStore()
	}
	challengeSolver := cfg.solver
	if challengeSolver != nil && cfg.breaker != nil {
		challengeSolver = solver.NewBreaker(challengeSolver, *cfg.breaker, cfg.logger)
	}

	client := source.NewClient()
	if cfg.userAgent != "" {
		client = client.WithUserAgent(cfg.userAgent)
	}

	var channelOpts []events.Option
	if cfg.eventMaxAge > 0 {
		channelOpts = append(channelOpts, events.WithMaxAge(cfg.eventMaxAge))
	}
	channel := events.NewChannel(cfg.eventCapacity, channelOpts...)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder, err := metrics.NewRecorder(registry)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	counters := stats.NewWithClock(cfg.clock)
	b := &builder{
		cfg:        cfg,
		client:     client,
		solver:     challengeSolver,
		classifier: classifier,
		events:     channel,
		recorder:   recorder,
		booked:     poller.NewBooked(),
	}

	ctrl, err := controller.New(b.runner, cfg.monitor,
		controller.WithLogger(cfg.logger),
		controller.WithStats(counters),
		controller.WithEvents(channel),
		controller.WithShutdownTimeout(cfg.shutdownTimeout),
	)
	if err != nil {
		return nil, err
	}
	if err := registry.Register(metrics.NewCollector(ctrl)); err != nil {
		return nil, fmt.Errorf("register status collector: %w", err)
	}

	notifiers := []notify.Notifier{notify.NewLogNotifier(cfg.logger)}
	notifiers = append(notifiers, cfg.notifiers...)
	for _, cb := range cfg.eventCallbacks {
		notifiers = append(notifiers, callbackNotifier(cb))
	}
	dispatcher := notify.NewDispatcher(channel, notifiers,
		notify.WithTimeout(cfg.notifyTimeout),
		notify.WithLogger(cfg.logger),
	)

	svc := &Service{
		logger:     cfg.logger,
		client:     client,
		repository: cfg.repository,
		channel:    channel,
		controller: ctrl,
		dispatcher: dispatcher,
		registry:   registry,
		autoStart:  cfg.autoStart,
	}
	if cfg.port > 0 {
		svc.server = server.NewServer(cfg.port, server.Deps{
			Monitor:    ctrl,
			Repository: cfg.repository,
			Events:     channel,
			Gatherer:   registry,
		}, cfg.logger)
	}
	if bc := cfg.botCommands; bc != nil {
		cmds, err := telegram.NewCommands(ctrl, cfg.repository, bc.chats, cfg.logger)
		if err != nil {
			return nil, err
		}
		listenerOpts := append([]telegram.Option{telegram.WithLogger(cfg.logger)}, bc.opts...)
		svc.listener, err = telegram.NewListener(bc.token, cmds, listenerOpts...)
		if err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// builder assembles a monitoring session for the room named in the
// parameters, so a restart may switch rooms.
type builder struct {
	cfg        *serviceConfig
	client     *source.Client
	solver     domain.ChallengeSolver
	classifier claim.Classifier
	events     events.Publisher
	recorder   *metrics.Recorder

	// booked outlives sessions, so a restart does not book a participant
	// whose claim could not be saved a second time.
	booked *poller.Booked
}

func (b *builder) runner(params poller.Config, counters *stats.Registry) (controller.Runner, error) {
	site, err := source.NewSite(b.cfg.baseURL, params.Room,
		source.WithClient(b.client),
		source.WithRequestTimeout(b.cfg.requestTimeout),
		source.WithLogger(b.cfg.logger),
		source.WithClock(b.cfg.clock),
	)
	if err != nil {
		return nil, err
	}

	deps := poller.Deps{
		Window:       site.Windows(),
		Slots:        site.Slots(),
		Participants: b.cfg.repository,
		Stats:        counters,
		Events:       b.events,
		Observer:     b.recorder,
		Logger:       b.cfg.logger,
		Booked:       b.booked,
		Clock:        b.cfg.clock,
	}
	if params.AutoClaim {
		if b.solver == nil {
			return nil, errors.New("a challenge solver is required when auto claim is on")
		}
		booker := site.Booker()
		pipeline, err := claim.New(b.cfg.claim, claim.Deps{
			Sessions:   booker,
			Solver:     b.solver,
			Submitter:  booker,
			Repository: b.cfg.repository,
			Classifier: b.classifier,
			Stats:      counters,
			Events:     b.events,
			Observer:   b.recorder,
			Logger:     b.cfg.logger,
			Clock:      b.cfg.clock,
		})
		if err != nil {
			return nil, err
		}
		deps.Claimer = pipeline
	}
	return poller.New(params, deps)
}

// callbackNotifier adapts a user callback. Panics are recovered by the
// dispatcher.
func callbackNotifier(cb func(Event)) notify.Notifier {
	return notify.Func(func(_ context.Context, e events.Event) error {
		cb(e)
		return nil
	})
}

// Start runs the service and blocks until ctx is cancelled. It serves the
// control API if enabled, answers Telegram commands if configured, delivers
// notifications and, unless disabled with [WithAutoStart], starts the
// monitor.
//
// On cancellation the monitor is stopped, queued notifications are
// delivered and resources are released. Start may be called only once.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("service already started")
	}
	s.started = true
	s.mu.Unlock()

	if ctx.Err() != nil {
		s.release()
		return nil
	}

	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		_ = s.dispatcher.Run(dispatchCtx)
	}()
	listenCtx, stopListening := context.WithCancel(ctx)
	listened := make(chan struct{})
	if s.listener != nil {
		go func() {
			defer close(listened)
			s.listener.Run(listenCtx)
		}()
	} else {
		close(listened)
	}
	shutdown := func() {
		stopListening()
		<-listened
		s.controller.Close()
		stopDispatch()
		<-dispatched
		s.release()
	}

	if s.server != nil {
		if err := s.server.Start(ctx); err != nil {
			shutdown()
			return fmt.Errorf("start control api: %w", err)
		}
	}
	if s.autoStart {
		if err := s.controller.Start(); err != nil {
			shutdown()
			return fmt.Errorf("start monitor: %w", err)
		}
	}

	s.logger.Info("service started", "auto_start", s.autoStart)
	<-ctx.Done()
	s.logger.Info("service shutting down")
	shutdown()
	return nil
}

func (s *Service) release() {
	s.channel.Close()
	s.client.Close()
	if err := s.repository.Close(); err != nil {
		s.logger.Warn("close repository failed", "error", err)
	}
}

// Controller returns the lifecycle controller of the monitor.
func (s *Service) Controller() *controller.Controller {
	return s.controller
}

// Repository returns the participant store.
func (s *Service) Repository() store.Repository {
	return s.repository
}

// Gatherer returns the registry holding the service metrics.
func (s *Service) Gatherer() prometheus.Gatherer {
	return s.registry
}

// Status returns a snapshot of the monitor.
func (s *Service) Status() Status {
	return s.controller.Status()
}

// AddParticipant stores a new pending participant and asks the running
// monitor to pick it up.
func (s *Service) AddParticipant(ctx context.Context, p Participant) (Participant, error) {
	added, err := s.repository.Add(ctx, p)
	if err != nil {
		return Participant{}, err
	}
	if err := s.controller.RefreshParticipants(); err != nil && !errors.Is(err, controller.ErrNotRunning) {
		s.logger.Warn("participant refresh failed", "error", err)
	}
	return added, nil
}
