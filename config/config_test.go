package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/ABeGood/reservation-pl/internal/poller"
)

const minimalYAML = `
source:
  base_url: https://olsztyn.uw.gov.pl/wizytakartapolaka/
  room: A1
captcha:
  provider: echo
`

func TestParse_MinimalConfig(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.Storage.Driver != DriverMemory {
		t.Errorf("Storage.Driver = %q, want memory", cfg.Storage.Driver)
	}
	if !cfg.AutoStart() {
		t.Error("AutoStart() = false, want true")
	}

	pc, err := cfg.PollerConfig()
	if err != nil {
		t.Fatalf("PollerConfig() error = %v", err)
	}
	def := poller.DefaultConfig()
	if pc.Room != "A1" {
		t.Errorf("Room = %q, want A1", pc.Room)
	}
	if pc.IntervalMin != def.IntervalMin || pc.IntervalMax != def.IntervalMax {
		t.Errorf("interval = %s-%s, want defaults %s-%s", pc.IntervalMin, pc.IntervalMax, def.IntervalMin, def.IntervalMax)
	}
	if pc.MaxWorkers != def.MaxWorkers {
		t.Errorf("MaxWorkers = %d, want %d", pc.MaxWorkers, def.MaxWorkers)
	}
	if !pc.AutoClaim || !pc.WeekdaysOnly {
		t.Errorf("AutoClaim = %v, WeekdaysOnly = %v, want both true", pc.AutoClaim, pc.WeekdaysOnly)
	}
	if pc.Location != nil {
		t.Errorf("Location = %v, want nil", pc.Location)
	}
}

func TestParse_FullConfig(t *testing.T) {
	yaml := `
port: 9090
log_level: debug

source:
  base_url: https://example.com/booking/
  room: B2
  user_agent: test-agent
  request_timeout: 4s
  success_markers: ["Kod zgłoszenia"]

monitor:
  interval_min: 2s
  interval_max: 6s
  max_workers: 3
  courtesy_delay: 100ms
  check_timeout: 7s
  window_ttl: 1m
  window_refresh_cycles: 20
  window_max_stale: 10m
  participant_refresh: 15s
  weekdays_only: false
  auto_claim: true
  auto_start: false
  timezone: UTC

claim:
  max_retries: 5
  base_backoff: 250ms
  solve_timeout: 20s
  submit_timeout: 25s

events:
  capacity: 64
  max_age: 1h
  notify_timeout: 3s

captcha:
  provider: truecaptcha
  user_id: user
  api_key: key
  breaker:
    failure_threshold: 4
    timeout: 1m

storage:
  driver: sqlite
  path: /tmp/participants.db
  busy_timeout: 2s

notify:
  telegram:
    token: abc
    chat_ids: ["123", "-456"]
    kinds: [claim_succeeded, error]
  redis:
    addr: localhost:6379
    db: 2
    channel: bookings
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	level, err := cfg.Level()
	if err != nil || level != slog.LevelDebug {
		t.Errorf("Level() = %v, %v; want debug", level, err)
	}
	if cfg.AutoStart() {
		t.Error("AutoStart() = true, want false")
	}

	pc, err := cfg.PollerConfig()
	if err != nil {
		t.Fatalf("PollerConfig() error = %v", err)
	}
	want := poller.Config{
		Room:               "B2",
		MaxWorkers:         3,
		CourtesyDelay:      100 * time.Millisecond,
		CheckTimeout:       7 * time.Second,
		IntervalMin:        2 * time.Second,
		IntervalMax:        6 * time.Second,
		WindowTTL:          time.Minute,
		WindowEveryCycles:  20,
		WindowMaxStale:     10 * time.Minute,
		ParticipantRefresh: 15 * time.Second,
		WeekdaysOnly:       false,
		AutoClaim:          true,
		Location:           time.UTC,
	}
	if pc != want {
		t.Errorf("PollerConfig() = %+v, want %+v", pc, want)
	}

	cc, err := cfg.ClaimConfig()
	if err != nil {
		t.Fatalf("ClaimConfig() error = %v", err)
	}
	if cc.MaxRetries != 5 || cc.BaseBackoff != 250*time.Millisecond ||
		cc.SolveTimeout != 20*time.Second || cc.SubmitTimeout != 25*time.Second {
		t.Errorf("ClaimConfig() = %+v", cc)
	}

	if got := cfg.Notify.Telegram.Chats(); len(got) != 2 || got[0] != 123 || got[1] != -456 {
		t.Errorf("Chats() = %v, want [123 -456]", got)
	}
	if cfg.Notify.Redis.DB != 2 || cfg.Notify.Redis.Channel != "bookings" {
		t.Errorf("Redis = %+v", cfg.Notify.Redis)
	}
	if cfg.Captcha.Breaker.FailureThreshold != 4 {
		t.Errorf("Breaker.FailureThreshold = %d, want 4", cfg.Captcha.Breaker.FailureThreshold)
	}
	if cfg.Storage.BusyTimeout.Duration() != 2*time.Second {
		t.Errorf("BusyTimeout = %s, want 2s", cfg.Storage.BusyTimeout.Duration())
	}
}

func TestParse_IntervalMinRaisesDefaultMax(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML + `
monitor:
  interval_min: 10s
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	pc, _ := cfg.PollerConfig()
	if pc.IntervalMax != 10*time.Second {
		t.Errorf("IntervalMax = %s, want 10s", pc.IntervalMax)
	}
}

func TestParse_EnvVarSubstitution(t *testing.T) {
	t.Setenv("BOOKING_URL", "https://booking.example.com/")
	t.Setenv("TG_TOKEN", "secret-token")
	t.Setenv("TG_CHAT", "42")
	t.Setenv("PG_DSN", "postgres://u:p@db/reservations")
	t.Setenv("BOOKING_ROOM", "A2")

	yaml := `
source:
  base_url: ${BOOKING_URL}
  room: ${BOOKING_ROOM:-A1}
monitor:
  auto_claim: false
storage:
  driver: postgres
  dsn: ${PG_DSN}
notify:
  telegram:
    token: ${TG_TOKEN}
    chat_ids: ["${TG_CHAT}"]
  redis:
    addr: ${REDIS_ADDR:-localhost:6379}
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Source.BaseURL != "https://booking.example.com/" {
		t.Errorf("BaseURL = %q", cfg.Source.BaseURL)
	}
	if cfg.Source.Room != "A2" {
		t.Errorf("Room = %q, want A2", cfg.Source.Room)
	}
	if cfg.Storage.DSN != "postgres://u:p@db/reservations" {
		t.Errorf("DSN = %q", cfg.Storage.DSN)
	}
	if cfg.Notify.Telegram.Token != "secret-token" {
		t.Errorf("Token = %q", cfg.Notify.Telegram.Token)
	}
	if chats := cfg.Notify.Telegram.Chats(); len(chats) != 1 || chats[0] != 42 {
		t.Errorf("Chats() = %v, want [42]", chats)
	}
	if cfg.Notify.Redis.Addr != "localhost:6379" {
		t.Errorf("Redis.Addr = %q, want default", cfg.Notify.Redis.Addr)
	}
}

func TestParse_EnvVarMissing(t *testing.T) {
	yaml := `
source:
  base_url: https://example.com/
  room: A1
captcha:
  provider: truecaptcha
  user_id: ${TRUECAPTCHA_USER_THAT_IS_NOT_SET}
  api_key: key
`
	_, err := Parse([]byte(yaml))
	if err == nil {
		t.Fatal("Parse() expected error, got nil")
	}
	if !strings.Contains(err.Error(), "captcha.user_id") {
		t.Errorf("error = %q, want it to name captcha.user_id", err.Error())
	}
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name        string
		yaml        string
		wantErrLike string
	}{
		{
			name:        "missing base url",
			yaml:        "source:\n  room: A1\n",
			wantErrLike: "source.base_url is required",
		},
		{
			name:        "bad base url scheme",
			yaml:        "source:\n  base_url: ftp://example.com/\n  room: A1\n",
			wantErrLike: "scheme must be http or https",
		},
		{
			name:        "missing room",
			yaml:        "source:\n  base_url: https://example.com/\n",
			wantErrLike: "source.room is required",
		},
		{
			name:        "port out of range",
			yaml:        minimalYAML + "port: 70000\n",
			wantErrLike: "port must be between",
		},
		{
			name:        "bad log level",
			yaml:        minimalYAML + "log_level: loud\n",
			wantErrLike: "log_level",
		},
		{
			name:        "interval too short",
			yaml:        minimalYAML + "monitor:\n  interval_min: 10ms\n",
			wantErrLike: "interval_min must be at least",
		},
		{
			name:        "inverted interval",
			yaml:        minimalYAML + "monitor:\n  interval_min: 5s\n  interval_max: 1s\n",
			wantErrLike: "interval max",
		},
		{
			name:        "negative workers",
			yaml:        minimalYAML + "monitor:\n  max_workers: -1\n",
			wantErrLike: "max workers",
		},
		{
			name:        "unknown timezone",
			yaml:        minimalYAML + "monitor:\n  timezone: Mars/Olympus\n",
			wantErrLike: "monitor.timezone",
		},
		{
			name:        "too many retries",
			yaml:        minimalYAML + "claim:\n  max_retries: 50\n",
			wantErrLike: "max retries",
		},
		{
			name:        "auto claim without solver",
			yaml:        "source:\n  base_url: https://example.com/\n  room: A1\n",
			wantErrLike: "provider is required",
		},
		{
			name:        "unknown provider",
			yaml:        "source:\n  base_url: https://example.com/\n  room: A1\ncaptcha:\n  provider: magic\n",
			wantErrLike: "captcha.provider",
		},
		{
			name:        "truecaptcha without credentials",
			yaml:        "source:\n  base_url: https://example.com/\n  room: A1\ncaptcha:\n  provider: truecaptcha\n",
			wantErrLike: "user_id and api_key",
		},
		{
			name:        "sqlite without path",
			yaml:        minimalYAML + "storage:\n  driver: sqlite\n",
			wantErrLike: "sqlite requires a path",
		},
		{
			name:        "postgres without dsn",
			yaml:        minimalYAML + "storage:\n  driver: postgres\n",
			wantErrLike: "postgres requires a dsn",
		},
		{
			name:        "unknown driver",
			yaml:        minimalYAML + "storage:\n  driver: mongo\n",
			wantErrLike: "storage.driver",
		},
		{
			name:        "telegram without chats",
			yaml:        minimalYAML + "notify:\n  telegram:\n    token: abc\n",
			wantErrLike: "at least one chat id",
		},
		{
			name:        "telegram bad chat id",
			yaml:        minimalYAML + "notify:\n  telegram:\n    token: abc\n    chat_ids: [\"abc\"]\n",
			wantErrLike: "notify.telegram.chat_ids[0]",
		},
		{
			name:        "telegram unknown kind",
			yaml:        minimalYAML + "notify:\n  telegram:\n    token: abc\n    chat_ids: [\"1\"]\n    kinds: [slot_found, party]\n",
			wantErrLike: "notify.telegram.kinds[1]",
		},
		{
			name:        "redis without addr",
			yaml:        minimalYAML + "notify:\n  redis:\n    channel: x\n",
			wantErrLike: "notify.redis.addr is required",
		},
		{
			name:        "negative event capacity",
			yaml:        minimalYAML + "events:\n  capacity: -1\n",
			wantErrLike: "events.capacity",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("Parse() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErrLike) {
				t.Errorf("error = %q, want it to contain %q", err.Error(), tt.wantErrLike)
			}
		})
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("source: [unclosed"))
	if err == nil {
		t.Fatal("Parse() expected error, got nil")
	}
}

func TestDuration_UnmarshalYAML(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"seconds", "10s", 10 * time.Second, false},
		{"milliseconds", "1500ms", 1500 * time.Millisecond, false},
		{"minutes", "2m", 2 * time.Minute, false},
		{"combined", "1m30s", 90 * time.Second, false},
		{"invalid", "not-a-duration", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			yaml := `
captcha:
  provider: echo
source:
  base_url: https://example.com/
  room: A1
  request_timeout: ` + tt.input

			cfg, err := Parse([]byte(yaml))
			if tt.wantErr {
				if err == nil {
					t.Fatal("Parse() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if cfg.Source.RequestTimeout.Duration() != tt.want {
				t.Errorf("RequestTimeout = %v, want %v", cfg.Source.RequestTimeout.Duration(), tt.want)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TEST_VAR", "value")
	t.Setenv("EMPTY_VAR", "")

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"no vars", "plain text", "plain text", false},
		{"simple var", "${TEST_VAR}", "value", false},
		{"var in text", "prefix ${TEST_VAR} suffix", "prefix value suffix", false},
		{"multiple vars", "${TEST_VAR}-${TEST_VAR}", "value-value", false},
		{"with default (var set)", "${TEST_VAR:-default}", "value", false},
		{"with default (var unset)", "${UNSET:-default}", "default", false},
		{"missing required", "${MISSING}", "", true},
		{"empty default (var unset)", "${UNSET:-}", "", false},
		{"set but empty var", "${EMPTY_VAR}", "", false},
		{"set but empty with default", "${EMPTY_VAR:-fallback}", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := expandEnvVars(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expandEnvVars() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("expandEnvVars() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("expandEnvVars() = %q, want %q", got, tt.want)
			}
		})
	}
}
