// Standalone fake booking site for trying the CLI.
//
// Usage:
//
//	go run ./example/cmd/mockserver
//
// Then in another terminal:
//
//	go run ./cmd/reservation participants add -c example/config.yaml \
//	    --name Olena --surname Kowalenko --citizenship ukraine \
//	    --email olena@example.com --phone +48500100200
//	go run ./cmd/reservation serve -c example/config.yaml
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/ABeGood/reservation-pl/internal/domain"
	"github.com/ABeGood/reservation-pl/internal/sourcetest"
)

func main() {
	addr := flag.String("addr", ":9999", "listen address")
	refill := flag.Duration("refill", 45*time.Second, "how often a new free hour appears")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	site := sourcetest.New(logger)

	now := time.Now()
	site.SetWindow(now.Format(domain.DateLayout), now.AddDate(0, 2, 0).Format(domain.DateLayout))

	fmt.Printf("Fake booking site starting on %s\n", *addr)
	fmt.Printf("A free hour appears every %s; booked hours disappear\n", *refill)
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	go func() {
		day := now
		for range time.Tick(*refill) {
			day = day.AddDate(0, 0, 1)
			for day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
				day = day.AddDate(0, 0, 1)
			}
			date := day.Format(domain.DateLayout)
			site.AddSlots(date, "10:00")
			logger.Info("free hour published", "date", date, "time", "10:00")
		}
	}()

	server := &http.Server{
		Addr:              *addr,
		Handler:           site.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := server.ListenAndServe(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
