package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ABeGood/reservation-pl/internal/controller"
	"github.com/ABeGood/reservation-pl/internal/domain"
	"github.com/ABeGood/reservation-pl/internal/events"
	"github.com/ABeGood/reservation-pl/internal/poller"
	"github.com/ABeGood/reservation-pl/internal/store"
)

const (
	// sseWriteTimeout is the maximum time allowed for a single SSE write.
	// Must be <= shutdownTimeout so that slow clients cannot hold shutdown.
	sseWriteTimeout = 5 * time.Second

	shutdownTimeout = 5 * time.Second

	maxRequestBody = 1 << 20
)

// Monitor is the lifecycle surface of [controller.Controller].
type Monitor interface {
	Start() error
	Stop() error
	Restart(params *poller.Config) error
	RefreshParticipants() error
	RefreshWindow() error
	Params() poller.Config
	Status() controller.Status
}

// Deps are the collaborators served over HTTP. Monitor is required; a nil
// Repository, Events or Gatherer disables the matching routes.
type Deps struct {
	Monitor    Monitor
	Repository store.Repository
	Events     *events.Channel
	Gatherer   prometheus.Gatherer
}

// Server exposes the control API, the live event stream and metrics.
//
// Routes:
//   - GET  /healthz
//   - GET  /metrics
//   - GET  /api/status
//   - POST /api/monitor/{start,stop,restart}
//   - POST /api/refresh/{participants,window}
//   - GET  /api/participants[?status=pending|?email=], POST /api/participants
//   - GET  /api/participants/stats
//   - GET  /api/participants/{id}, DELETE /api/participants/{id}
//   - GET  /api/reservations
//   - GET  /api/events (Server-Sent Events)
//
// The server shuts down gracefully when the context passed to Start is
// cancelled.
type Server struct {
	deps       Deps
	port       int
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a [Server]. It does not listen until [Server.Start].
func NewServer(port int, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{deps: deps, port: port, logger: logger}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)

		r.Post("/monitor/start", s.command(s.deps.Monitor.Start))
		r.Post("/monitor/stop", s.command(s.deps.Monitor.Stop))
		r.Post("/monitor/restart", s.handleRestart)
		r.Post("/refresh/participants", s.command(s.deps.Monitor.RefreshParticipants))
		r.Post("/refresh/window", s.command(s.deps.Monitor.RefreshWindow))

		if s.deps.Repository != nil {
			r.Get("/participants", s.handleListParticipants)
			r.Post("/participants", s.handleAddParticipant)
			r.Get("/participants/stats", s.handleParticipantStats)
			r.Get("/participants/{id}", s.handleGetParticipant)
			r.Delete("/participants/{id}", s.handleDeleteParticipant)
			r.Get("/reservations", s.handleReservations)
		}
		if s.deps.Events != nil {
			r.Get("/events", s.handleEvents)
		}
	})
	return r
}

// Start begins serving HTTP requests in a background goroutine.
//
// Start is non-blocking and returns once the port is bound. The server runs
// until ctx is cancelled, then shuts down with a 5-second timeout.
func (s *Server) Start(ctx context.Context) error {
	// create listener first to verify port availability synchronously
	addr := fmt.Sprintf(":%d", s.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", s.port, err)
	}

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// request contexts derive from ctx so that SSE streams end on shutdown
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
	}()

	s.logger.Info("http server listening", "addr", ln.Addr().String())
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		s.logger.Debug("http request",
			"method", r.Method,
			"route", route,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-cache")
	s.writeJSON(w, http.StatusOK, s.deps.Monitor.Status())
}

// command adapts a lifecycle call to a handler answering with the new status.
func (s *Server) command(fn func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(); err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, s.deps.Monitor.Status())
	}
}

// restartRequest overrides the current monitor parameters. Omitted fields
// keep their value; durations use time.ParseDuration syntax.
type restartRequest struct {
	Room        *string `json:"room"`
	IntervalMin *string `json:"interval_min"`
	IntervalMax *string `json:"interval_max"`
	MaxWorkers  *int    `json:"max_workers"`
	AutoClaim   *bool   `json:"auto_claim"`
}

func (req restartRequest) apply(cfg poller.Config) (poller.Config, error) {
	if req.Room != nil {
		cfg.Room = domain.Room(*req.Room)
	}
	if req.IntervalMin != nil {
		d, err := time.ParseDuration(*req.IntervalMin)
		if err != nil {
			return cfg, fmt.Errorf("interval_min: %w", err)
		}
		cfg.IntervalMin = d
	}
	if req.IntervalMax != nil {
		d, err := time.ParseDuration(*req.IntervalMax)
		if err != nil {
			return cfg, fmt.Errorf("interval_max: %w", err)
		}
		cfg.IntervalMax = d
	}
	if req.MaxWorkers != nil {
		cfg.MaxWorkers = *req.MaxWorkers
	}
	if req.AutoClaim != nil {
		cfg.AutoClaim = *req.AutoClaim
	}
	return cfg, nil
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	var req restartRequest
	// an empty body restarts with the current parameters
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	params, err := req.apply(s.deps.Monitor.Params())
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if err := params.Validate(); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if err := s.deps.Monitor.Restart(&params); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.deps.Monitor.Status())
}

func (s *Server) handleListParticipants(w http.ResponseWriter, r *http.Request) {
	var (
		list []domain.Participant
		err  error
	)
	query := r.URL.Query()
	switch {
	case query.Get("email") != "":
		var p domain.Participant
		p, err = s.deps.Repository.GetByEmail(r.Context(), query.Get("email"))
		list = []domain.Participant{p}
		if errors.Is(err, domain.ErrNotFound) {
			list, err = []domain.Participant{}, nil
		}
	case query.Get("status") == string(domain.StatusPending):
		list, err = s.deps.Repository.ListPending(r.Context())
	default:
		list, err = s.deps.Repository.List(r.Context())
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleAddParticipant(w http.ResponseWriter, r *http.Request) {
	var p domain.Participant
	if err := decodeJSON(r, &p); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	// clients cannot pick the ID or skip the queue
	p.ID = 0
	p.Status = ""
	p.CreatedAt = time.Time{}

	added, err := s.deps.Repository.Add(r.Context(), p)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("participant added", "participant_id", added.ID)
	s.writeJSON(w, http.StatusCreated, added)
}

func (s *Server) handleGetParticipant(w http.ResponseWriter, r *http.Request) {
	id, ok := s.participantID(w, r)
	if !ok {
		return
	}
	p, err := s.deps.Repository.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeleteParticipant(w http.ResponseWriter, r *http.Request) {
	id, ok := s.participantID(w, r)
	if !ok {
		return
	}
	if err := s.deps.Repository.Delete(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("participant deleted", "participant_id", id)

	// drop the participant from a running monitor's snapshot
	if err := s.deps.Monitor.RefreshParticipants(); err != nil && !errors.Is(err, controller.ErrNotRunning) {
		s.logger.Warn("participant refresh after delete failed", "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleParticipantStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Repository.Stats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) participantID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid participant id"})
		return 0, false
	}
	return id, true
}

func (s *Server) handleReservations(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Repository.Reservations(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

// handleEvents streams monitor events via Server-Sent Events.
//
// Each write carries a deadline so that a slow or vanished client cannot
// block the handler past shutdown. The first message is the current status.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	rc := http.NewResponseController(w)
	deadlinesSupported := true

	writeAndFlush := func(id, event string, data []byte) error {
		if deadlinesSupported {
			if err := rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout)); err != nil {
				// deadline not supported by underlying connection, continue without
				s.logger.Debug("sse write deadlines not supported", "error", err)
				deadlinesSupported = false
			}
		}
		if id != "" {
			if _, err := fmt.Fprintf(w, "id: %s\n", id); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
			return err
		}
		return rc.Flush()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	// subscribe before the snapshot so that nothing falls in between
	sub := s.deps.Events.Subscribe()
	defer sub.Close()

	status, err := json.Marshal(s.deps.Monitor.Status())
	if err != nil {
		s.logger.Error("failed to encode status", "error", err)
		return
	}
	if err := writeAndFlush("", "status", status); err != nil {
		return
	}

	for {
		// request context is derived from the server context via BaseContext,
		// so this ends on both client disconnect and server shutdown
		e, err := sub.Next(r.Context())
		if err != nil {
			return
		}
		data, err := json.Marshal(e)
		if err != nil {
			continue
		}
		if err := writeAndFlush(e.ID, string(e.Kind), data); err != nil {
			return
		}
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidParticipant):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, controller.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	s.writeJSON(w, code, errorBody{Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
