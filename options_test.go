package reservation

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/ABeGood/reservation-pl/internal/claim"
	"github.com/ABeGood/reservation-pl/internal/poller"
)

func apply(t *testing.T, opts ...Option) *serviceConfig {
	t.Helper()
	cfg := &serviceConfig{}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			t.Fatalf("option error = %v", err)
		}
	}
	return cfg
}

func TestOptions_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		opt     Option
		wantErr string
	}{
		{"empty base url", WithBaseURL(""), "base url"},
		{"empty room", WithRoom(""), "room"},
		{"negative port", WithPort(-1), "port"},
		{"port too large", WithPort(70000), "port"},
		{"nil logger", WithLogger(nil), "logger"},
		{"inverted interval", WithInterval(2*time.Second, time.Second), "invalid interval"},
		{"negative interval", WithInterval(-time.Second, time.Second), "invalid interval"},
		{"zero workers", WithMaxWorkers(0), "max workers"},
		{"nil repository", WithRepository(nil), "repository"},
		{"nil solver", WithSolver(nil), "solver"},
		{"zero request timeout", WithRequestTimeout(0), "request timeout"},
		{"nil notifier", WithNotifier(nil), "notifier"},
		{"telegram commands without token", WithTelegramCommands("", []int64{1}), "token"},
		{"telegram commands without chats", WithTelegramCommands("abc", nil), "chat id"},
		{"zero event capacity", WithEventCapacity(0), "event capacity"},
		{"negative max age", WithEventMaxAge(-time.Second), "max age"},
		{"zero notify timeout", WithNotifyTimeout(0), "notify timeout"},
		{"zero shutdown timeout", WithShutdownTimeout(0), "shutdown timeout"},
		{"nil clock", WithClock(nil), "clock"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opt(&serviceConfig{})
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestWithInterval(t *testing.T) {
	cfg := apply(t, WithInterval(time.Second, 3*time.Second))

	if cfg.monitor.IntervalMin != time.Second {
		t.Errorf("IntervalMin = %s, want 1s", cfg.monitor.IntervalMin)
	}
	if cfg.monitor.IntervalMax != 3*time.Second {
		t.Errorf("IntervalMax = %s, want 3s", cfg.monitor.IntervalMax)
	}
}

func TestWithMonitorConfig_KeepsRoom(t *testing.T) {
	cfg := apply(t,
		WithRoom("A2"),
		WithMonitorConfig(poller.Config{MaxWorkers: 3}),
	)
	if cfg.monitor.Room != "A2" {
		t.Errorf("Room = %q, want A2", cfg.monitor.Room)
	}
	if cfg.monitor.MaxWorkers != 3 {
		t.Errorf("MaxWorkers = %d, want 3", cfg.monitor.MaxWorkers)
	}

	cfg = apply(t,
		WithRoom("A2"),
		WithMonitorConfig(poller.Config{Room: "B1"}),
	)
	if cfg.monitor.Room != "B1" {
		t.Errorf("Room = %q, want B1", cfg.monitor.Room)
	}
}

func TestWithClaimConfig_Validates(t *testing.T) {
	if err := WithClaimConfig(claim.Config{MaxRetries: -1})(&serviceConfig{}); err == nil {
		t.Error("WithClaimConfig() expected error for negative retries, got nil")
	}
}

func TestWithEventCallback_IgnoresNil(t *testing.T) {
	cfg := apply(t,
		WithEventCallback(nil),
		WithEventCallback(func(Event) {}),
	)
	if len(cfg.eventCallbacks) != 1 {
		t.Errorf("len(eventCallbacks) = %d, want 1", len(cfg.eventCallbacks))
	}
}

func TestWithLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	cfg := apply(t, WithLogger(logger))
	if cfg.logger != logger {
		t.Error("WithLogger() did not set the logger")
	}
}

func TestWithPort_ZeroDisablesAPI(t *testing.T) {
	cfg := apply(t, WithPort(0))
	if cfg.port != 0 {
		t.Errorf("port = %d, want 0", cfg.port)
	}
}

func TestDefaultEventCapacity(t *testing.T) {
	if DefaultEventCapacity != 1000 {
		t.Errorf("DefaultEventCapacity = %d, want 1000", DefaultEventCapacity)
	}
}
