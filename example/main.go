package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	reservation "github.com/ABeGood/reservation-pl"
	"github.com/ABeGood/reservation-pl/internal/domain"
	"github.com/ABeGood/reservation-pl/internal/solver"
	"github.com/ABeGood/reservation-pl/internal/sourcetest"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	// fake booking site with a few free hours over the next weeks
	site := sourcetest.New(logger)
	seed(site, time.Now())
	go func() {
		if err := http.ListenAndServe(":9999", site.Handler()); err != nil {
			logger.Error("fake booking site stopped", "error", err)
			os.Exit(1)
		}
	}()
	time.Sleep(100 * time.Millisecond)

	svc, err := reservation.New(
		reservation.WithBaseURL("http://localhost:9999/"),
		reservation.WithRoom("A1"),
		reservation.WithPort(8080),
		reservation.WithLogger(logger),
		// the fake site's challenge image is its own answer
		reservation.WithSolver(solver.Echo),
		reservation.WithInterval(2*time.Second, 5*time.Second),
		reservation.WithEventCallback(func(e reservation.Event) {
			if e.Kind == reservation.EventClaimSucceeded {
				fmt.Printf("\n  >>> %s\n\n", e.Message)
			}
		}),
	)
	if err != nil {
		logger.Error("failed to create service", "error", err)
		os.Exit(1)
	}

	next := time.Now().AddDate(0, 1, 0)
	for _, p := range []reservation.Participant{
		{Name: "Olena", Surname: "Kowalenko", Citizenship: domain.CitizenshipUkraine,
			Email: "olena@example.com", Phone: "+48500100200", ApplicationType: domain.ApplicationAdult},
		{Name: "Ivan", Surname: "Petrenko", Citizenship: domain.CitizenshipBelarus,
			Email: "ivan@example.com", Phone: "+48500100300", ApplicationType: domain.ApplicationAdultWithChildren,
			DesiredMonth: int(next.Month())},
	} {
		if _, err := svc.AddParticipant(context.Background(), p); err != nil {
			logger.Error("failed to add participant", "error", err)
			os.Exit(1)
		}
	}

	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════════════════╗")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   Reservation Demo                                    ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   Fake booking site:  http://localhost:9999           ║")
	fmt.Println("  ║   Status:             http://localhost:8080/api/status║")
	fmt.Println("  ║   Live events:        http://localhost:8080/api/events║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   Press Ctrl+C to stop                                ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ╚═══════════════════════════════════════════════════════╝")
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.Start(ctx); err != nil {
		logger.Error("service error", "error", err)
		os.Exit(1)
	}
}

// seed opens a six-week window from now and frees a few hours on every
// third weekday.
func seed(site *sourcetest.Site, now time.Time) {
	end := now.AddDate(0, 0, 42)
	site.SetWindow(now.Format(domain.DateLayout), end.Format(domain.DateLayout))

	n := 0
	for d := now.AddDate(0, 0, 1); d.Before(end); d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		if n%3 == 0 {
			site.AddSlots(d.Format(domain.DateLayout), "09:00", "11:30")
		}
		n++
	}
}
