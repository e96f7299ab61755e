// Package reservation watches the appointment calendar of a voivodeship
// office booking site and reserves free slots for waiting participants.
//
// A [Service] polls every bookable date of one room, reports what it finds
// as events and, with auto-claim on, books each slot for the first pending
// participant who wants that month. Booking requires solving an image
// challenge, so a [ChallengeSolver] must be supplied.
//
// # Quick Start
//
//	svc, _ := reservation.New(
//	    reservation.WithBaseURL("https://olsztyn.uw.gov.pl/wizytakartapolaka/"),
//	    reservation.WithRoom("A1"),
//	    reservation.WithSolver(captcha),
//	)
//
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	svc.Start(ctx) // blocks until the context is cancelled
//
// # Control API
//
// Unless disabled with WithPort(0), the service serves a small HTTP API:
// monitor start, stop and restart commands, participant management, the
// status snapshot, Prometheus metrics at /metrics and a Server-Sent Events
// stream of monitor events at /api/events.
//
// # Architecture
//
//   - internal/poller: polling cycles with a bounded worker pool
//   - internal/claim: session, challenge, submission and retry per slot
//   - internal/controller: start/stop/restart lifecycle of the poller
//   - internal/events: bounded per-subscriber event queues
//   - internal/notify: log, Telegram and Redis delivery of events
//   - internal/source: HTTP client and parsers for the booking site
//   - internal/store: participant storage in memory, SQLite or PostgreSQL
//   - internal/server: control API
//
// The internal packages are not part of the public API.
package reservation
