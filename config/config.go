// Package config provides YAML configuration parsing for the reservation
// service.
//
// It lets the service run as a standalone binary with a configuration file,
// as an alternative to wiring [reservation.New] options in code.
//
// Example configuration:
//
//	port: 8080
//	log_level: info
//
//	source:
//	  base_url: https://olsztyn.uw.gov.pl/wizytakartapolaka/
//	  room: A1
//
//	monitor:
//	  interval_min: 1s
//	  interval_max: 5s
//	  max_workers: 8
//	  timezone: Europe/Warsaw
//
//	captcha:
//	  provider: truecaptcha
//	  user_id: ${TRUECAPTCHA_USER}
//	  api_key: ${TRUECAPTCHA_KEY}
//
//	storage:
//	  driver: sqlite
//	  path: participants.db
//
//	notify:
//	  telegram:
//	    token: ${TELEGRAM_TOKEN}
//	    chat_ids: ["${TELEGRAM_CHAT_ID}"]
//	    commands: true
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ABeGood/reservation-pl/internal/claim"
	"github.com/ABeGood/reservation-pl/internal/domain"
	"github.com/ABeGood/reservation-pl/internal/events"
	"github.com/ABeGood/reservation-pl/internal/poller"
)

// minInterval keeps a misconfigured monitor from hammering the booking site.
const minInterval = 100 * time.Millisecond

const defaultPort = 8080

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Captcha providers.
const (
	ProviderNone        = "none"
	ProviderTrueCaptcha = "truecaptcha"
	ProviderEcho        = "echo"
)

// Config is the root configuration structure.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	// Port is the control API port. Defaults to 8080.
	Port int `yaml:"port"`

	// DisableAPI turns the control API off.
	DisableAPI bool `yaml:"disable_api"`

	// LogLevel is one of debug, info, warn, error. Defaults to info.
	LogLevel string `yaml:"log_level"`

	Source  SourceConfig  `yaml:"source"`
	Monitor MonitorConfig `yaml:"monitor"`
	Claim   ClaimConfig   `yaml:"claim"`
	Events  EventsConfig  `yaml:"events"`
	Captcha CaptchaConfig `yaml:"captcha"`
	Storage StorageConfig `yaml:"storage"`
	Notify  NotifyConfig  `yaml:"notify"`
}

// SourceConfig locates the booking site.
type SourceConfig struct {
	// BaseURL is the root of the booking site. Required.
	// Supports environment variable substitution: ${VAR} or ${VAR:-default}
	BaseURL string `yaml:"base_url"`

	// Room is the booking desk to watch, e.g. "A1". Required.
	Room string `yaml:"room"`

	UserAgent      string   `yaml:"user_agent"`
	RequestTimeout Duration `yaml:"request_timeout"`

	// SuccessMarkers and RejectionMarkers override the phrases that
	// classify a submission response.
	SuccessMarkers   []string `yaml:"success_markers"`
	RejectionMarkers []string `yaml:"rejection_markers"`
}

// MonitorConfig holds the polling parameters.
type MonitorConfig struct {
	IntervalMin         Duration `yaml:"interval_min"`
	IntervalMax         Duration `yaml:"interval_max"`
	MaxWorkers          int      `yaml:"max_workers"`
	CourtesyDelay       Duration `yaml:"courtesy_delay"`
	CheckTimeout        Duration `yaml:"check_timeout"`
	WindowTTL           Duration `yaml:"window_ttl"`
	WindowRefreshCycles int      `yaml:"window_refresh_cycles"`
	WindowMaxStale      Duration `yaml:"window_max_stale"`
	ParticipantRefresh  Duration `yaml:"participant_refresh"`

	// WeekdaysOnly, AutoClaim and AutoStart default to true.
	WeekdaysOnly *bool `yaml:"weekdays_only"`
	AutoClaim    *bool `yaml:"auto_claim"`
	AutoStart    *bool `yaml:"auto_start"`

	// Timezone is an IANA name such as "Europe/Warsaw". Empty means the
	// local time zone.
	Timezone string `yaml:"timezone"`
}

// ClaimConfig holds the retry parameters of claim attempts.
type ClaimConfig struct {
	MaxRetries    int      `yaml:"max_retries"`
	BaseBackoff   Duration `yaml:"base_backoff"`
	SolveTimeout  Duration `yaml:"solve_timeout"`
	SubmitTimeout Duration `yaml:"submit_timeout"`
}

// EventsConfig sizes the event channel.
type EventsConfig struct {
	Capacity      int      `yaml:"capacity"`
	MaxAge        Duration `yaml:"max_age"`
	NotifyTimeout Duration `yaml:"notify_timeout"`
}

// CaptchaConfig selects the challenge solver.
type CaptchaConfig struct {
	// Provider is "truecaptcha", "echo" or "none". Defaults to none.
	Provider string `yaml:"provider"`

	UserID   string `yaml:"user_id"`
	APIKey   string `yaml:"api_key"`
	Endpoint string `yaml:"endpoint"`

	Breaker *BreakerConfig `yaml:"breaker"`
}

// BreakerConfig configures the circuit breaker around the solver.
type BreakerConfig struct {
	FailureThreshold uint32   `yaml:"failure_threshold"`
	MaxRequests      uint32   `yaml:"max_requests"`
	Interval         Duration `yaml:"interval"`
	Timeout          Duration `yaml:"timeout"`
}

// StorageConfig selects the participant store.
type StorageConfig struct {
	// Driver is "memory", "sqlite" or "postgres". Defaults to memory.
	Driver string `yaml:"driver"`

	// Path is the SQLite database file.
	Path string `yaml:"path"`

	// DSN is the PostgreSQL connection string.
	DSN string `yaml:"dsn"`

	BusyTimeout Duration `yaml:"busy_timeout"`
}

// NotifyConfig lists the notification sinks.
type NotifyConfig struct {
	Telegram *TelegramConfig `yaml:"telegram"`
	Redis    *RedisConfig    `yaml:"redis"`
}

// TelegramConfig configures the Telegram notifier.
type TelegramConfig struct {
	Token string `yaml:"token"`

	// ChatIDs are strings so they can come from the environment.
	ChatIDs []string `yaml:"chat_ids"`

	// Kinds limits delivery to the listed event kinds. Empty delivers all.
	Kinds []string `yaml:"kinds"`

	// Commands lets the chats control the monitor through the bot.
	Commands bool `yaml:"commands"`

	chats []int64
}

// Chats returns the parsed chat IDs.
func (t *TelegramConfig) Chats() []int64 {
	return t.chats
}

// RedisConfig configures publishing events to a Redis channel.
type RedisConfig struct {
	Addr     string   `yaml:"addr"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`
	Channel  string   `yaml:"channel"`
	Kinds    []string `yaml:"kinds"`
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// or returns d, or def when d is unset.
func (d Duration) or(def time.Duration) time.Duration {
	if d == 0 {
		return def
	}
	return time.Duration(d)
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		varName := submatches[1]
		hasDefault := submatches[2] != ""

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return submatches[3]
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML configuration file.
//
// Environment variables in the file are expanded after parsing, in the
// fields that hold URLs, credentials and chat IDs.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data, expands environment variables and
// validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = DriverMemory
	}
	if cfg.Captcha.Provider == "" {
		cfg.Captcha.Provider = ProviderNone
	}

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// expand replaces *field with its expanded value.
func expand(field *string, name string) error {
	expanded, err := expandEnvVars(*field)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*field = expanded
	return nil
}

// expandAndValidate expands environment variables and validates the config.
func (c *Config) expandAndValidate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if _, err := c.Level(); err != nil {
		return err
	}

	for _, f := range []struct {
		field *string
		name  string
	}{
		{&c.Source.BaseURL, "source.base_url"},
		{&c.Source.Room, "source.room"},
		{&c.Source.UserAgent, "source.user_agent"},
		{&c.Captcha.UserID, "captcha.user_id"},
		{&c.Captcha.APIKey, "captcha.api_key"},
		{&c.Captcha.Endpoint, "captcha.endpoint"},
		{&c.Storage.Path, "storage.path"},
		{&c.Storage.DSN, "storage.dsn"},
	} {
		if err := expand(f.field, f.name); err != nil {
			return err
		}
	}

	if err := c.Source.validate(); err != nil {
		return err
	}
	if err := c.validateMonitor(); err != nil {
		return err
	}
	if _, err := c.ClaimConfig(); err != nil {
		return fmt.Errorf("claim: %w", err)
	}
	if c.Events.Capacity < 0 {
		return fmt.Errorf("events.capacity must not be negative, got %d", c.Events.Capacity)
	}
	if c.Events.MaxAge < 0 || c.Events.NotifyTimeout < 0 {
		return errors.New("events: durations must not be negative")
	}
	if err := c.Captcha.validate(boolOr(c.Monitor.AutoClaim, true)); err != nil {
		return err
	}
	if err := c.Storage.validate(); err != nil {
		return err
	}
	return c.Notify.expandAndValidate()
}

// Level returns the configured log level.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level must be debug, info, warn or error, got %q", c.LogLevel)
	}
	return level, nil
}

func (s *SourceConfig) validate() error {
	if s.BaseURL == "" {
		return errors.New("source.base_url is required")
	}
	u, err := url.Parse(s.BaseURL)
	if err != nil {
		return fmt.Errorf("source.base_url: invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("source.base_url: scheme must be http or https, got %q", u.Scheme)
	}
	if s.Room == "" {
		return errors.New("source.room is required")
	}
	if s.RequestTimeout < 0 {
		return fmt.Errorf("source.request_timeout must not be negative, got %s", s.RequestTimeout.Duration())
	}
	for i, m := range s.SuccessMarkers {
		if strings.TrimSpace(m) == "" {
			return fmt.Errorf("source.success_markers[%d]: marker cannot be empty", i)
		}
	}
	for i, m := range s.RejectionMarkers {
		if strings.TrimSpace(m) == "" {
			return fmt.Errorf("source.rejection_markers[%d]: marker cannot be empty", i)
		}
	}
	return nil
}

func (c *Config) validateMonitor() error {
	m := c.Monitor
	if m.IntervalMin != 0 && m.IntervalMin.Duration() < minInterval {
		return fmt.Errorf("monitor.interval_min must be at least %s, got %s", minInterval, m.IntervalMin.Duration())
	}
	if m.Timezone != "" {
		if _, err := time.LoadLocation(m.Timezone); err != nil {
			return fmt.Errorf("monitor.timezone: %w", err)
		}
	}
	cfg, err := c.PollerConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("monitor: %w", err)
	}
	return nil
}

func (c *CaptchaConfig) validate(autoClaim bool) error {
	switch c.Provider {
	case ProviderTrueCaptcha:
		if c.UserID == "" || c.APIKey == "" {
			return errors.New("captcha: truecaptcha requires user_id and api_key")
		}
	case ProviderEcho:
	case ProviderNone:
		if autoClaim {
			return errors.New("captcha: a provider is required when monitor.auto_claim is on")
		}
	default:
		return fmt.Errorf("captcha.provider must be truecaptcha, echo or none, got %q", c.Provider)
	}
	if c.Endpoint != "" {
		if _, err := url.ParseRequestURI(c.Endpoint); err != nil {
			return fmt.Errorf("captcha.endpoint: invalid url: %w", err)
		}
	}
	if b := c.Breaker; b != nil && (b.Interval < 0 || b.Timeout < 0) {
		return errors.New("captcha.breaker: durations must not be negative")
	}
	return nil
}

func (s *StorageConfig) validate() error {
	switch s.Driver {
	case DriverMemory:
	case DriverSQLite:
		if s.Path == "" {
			return errors.New("storage: sqlite requires a path")
		}
	case DriverPostgres:
		if s.DSN == "" {
			return errors.New("storage: postgres requires a dsn")
		}
	default:
		return fmt.Errorf("storage.driver must be memory, sqlite or postgres, got %q", s.Driver)
	}
	if s.BusyTimeout < 0 {
		return fmt.Errorf("storage.busy_timeout must not be negative, got %s", s.BusyTimeout.Duration())
	}
	return nil
}

func (n *NotifyConfig) expandAndValidate() error {
	if t := n.Telegram; t != nil {
		if err := expand(&t.Token, "notify.telegram.token"); err != nil {
			return err
		}
		if t.Token == "" {
			return errors.New("notify.telegram.token is required")
		}
		if len(t.ChatIDs) == 0 {
			return errors.New("notify.telegram: at least one chat id is required")
		}
		t.chats = make([]int64, 0, len(t.ChatIDs))
		for i := range t.ChatIDs {
			name := fmt.Sprintf("notify.telegram.chat_ids[%d]", i)
			if err := expand(&t.ChatIDs[i], name); err != nil {
				return err
			}
			id, err := strconv.ParseInt(strings.TrimSpace(t.ChatIDs[i]), 10, 64)
			if err != nil {
				return fmt.Errorf("%s: invalid chat id %q", name, t.ChatIDs[i])
			}
			t.chats = append(t.chats, id)
		}
		if err := validateKinds(t.Kinds, "notify.telegram"); err != nil {
			return err
		}
	}

	if r := n.Redis; r != nil {
		if err := expand(&r.Addr, "notify.redis.addr"); err != nil {
			return err
		}
		if err := expand(&r.Password, "notify.redis.password"); err != nil {
			return err
		}
		if r.Addr == "" {
			return errors.New("notify.redis.addr is required")
		}
		if r.DB < 0 {
			return fmt.Errorf("notify.redis.db must not be negative, got %d", r.DB)
		}
		if err := validateKinds(r.Kinds, "notify.redis"); err != nil {
			return err
		}
	}
	return nil
}

var knownKinds = map[events.Kind]struct{}{
	events.KindSlotFound:             {},
	events.KindClaimSucceeded:        {},
	events.KindClaimFailed:           {},
	events.KindMonitorStarted:        {},
	events.KindMonitorStopped:        {},
	events.KindError:                 {},
	events.KindWindowChanged:         {},
	events.KindParticipantsRefreshed: {},
}

func validateKinds(kinds []string, context string) error {
	for i, k := range kinds {
		if _, ok := knownKinds[events.Kind(k)]; !ok {
			return fmt.Errorf("%s.kinds[%d]: unknown event kind %q", context, i, k)
		}
	}
	return nil
}

func toKinds(kinds []string) []events.Kind {
	out := make([]events.Kind, len(kinds))
	for i, k := range kinds {
		out[i] = events.Kind(k)
	}
	return out
}

// PollerConfig returns the monitoring parameters with defaults applied.
func (c *Config) PollerConfig() (poller.Config, error) {
	m := c.Monitor
	def := poller.DefaultConfig()

	cfg := poller.Config{
		Room:               domain.Room(c.Source.Room),
		MaxWorkers:         def.MaxWorkers,
		CourtesyDelay:      m.CourtesyDelay.or(def.CourtesyDelay),
		CheckTimeout:       m.CheckTimeout.or(def.CheckTimeout),
		IntervalMin:        m.IntervalMin.or(def.IntervalMin),
		IntervalMax:        m.IntervalMax.or(def.IntervalMax),
		WindowTTL:          m.WindowTTL.or(def.WindowTTL),
		WindowEveryCycles:  m.WindowRefreshCycles,
		WindowMaxStale:     m.WindowMaxStale.or(def.WindowMaxStale),
		ParticipantRefresh: m.ParticipantRefresh.or(def.ParticipantRefresh),
		WeekdaysOnly:       boolOr(m.WeekdaysOnly, def.WeekdaysOnly),
		AutoClaim:          boolOr(m.AutoClaim, def.AutoClaim),
	}
	if m.MaxWorkers != 0 {
		cfg.MaxWorkers = m.MaxWorkers
	}
	// an explicit min above the default max moves the max with it
	if m.IntervalMax == 0 && cfg.IntervalMax < cfg.IntervalMin {
		cfg.IntervalMax = cfg.IntervalMin
	}
	if m.Timezone != "" {
		loc, err := time.LoadLocation(m.Timezone)
		if err != nil {
			return poller.Config{}, fmt.Errorf("monitor.timezone: %w", err)
		}
		cfg.Location = loc
	}
	return cfg, nil
}

// ClaimConfig returns the claim parameters with defaults applied.
func (c *Config) ClaimConfig() (claim.Config, error) {
	def := claim.DefaultConfig()
	cfg := claim.Config{
		MaxRetries:    def.MaxRetries,
		BaseBackoff:   c.Claim.BaseBackoff.or(def.BaseBackoff),
		SolveTimeout:  c.Claim.SolveTimeout.or(def.SolveTimeout),
		SubmitTimeout: c.Claim.SubmitTimeout.or(def.SubmitTimeout),
	}
	if c.Claim.MaxRetries != 0 {
		cfg.MaxRetries = c.Claim.MaxRetries
	}
	return cfg, cfg.Validate()
}

// AutoStart reports whether the monitor starts with the service.
func (c *Config) AutoStart() bool {
	return boolOr(c.Monitor.AutoStart, true)
}
