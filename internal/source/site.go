package source

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/ABeGood/reservation-pl/internal/domain"
)

// DefaultRequestTimeout bounds calls that are not already bounded by the
// caller's context.
const DefaultRequestTimeout = 10 * time.Second

// Site describes the booking site for one room.
type Site struct {
	base    *url.URL
	room    domain.Room
	client  *Client
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// SiteOption configures a [Site].
type SiteOption func(*Site) error

// WithClient sets the HTTP client. Defaults to [NewClient].
func WithClient(c *Client) SiteOption {
	return func(s *Site) error {
		if c == nil {
			return errors.New("client cannot be nil")
		}
		s.client = c
		return nil
	}
}

// WithRequestTimeout sets the per-request timeout.
func WithRequestTimeout(d time.Duration) SiteOption {
	return func(s *Site) error {
		if d <= 0 {
			return errors.New("request timeout must be positive")
		}
		s.timeout = d
		return nil
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) SiteOption {
	return func(s *Site) error {
		if l == nil {
			return errors.New("logger cannot be nil")
		}
		s.logger = l
		return nil
	}
}

// WithClock sets the clock used for FetchedAt stamps.
func WithClock(now func() time.Time) SiteOption {
	return func(s *Site) error {
		s.now = now
		return nil
	}
}

// NewSite returns a [Site] rooted at baseURL, e.g.
// "https://olsztyn.uw.gov.pl/wizytakartapolaka/".
func NewSite(baseURL string, room domain.Room, opts ...SiteOption) (*Site, error) {
	if room == "" {
		return nil, errors.New("room is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid base url %q: scheme must be http or https", baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q: missing host", baseURL)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}

	s := &Site{
		base:    u,
		room:    room,
		timeout: DefaultRequestTimeout,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.client == nil {
		s.client = NewClient()
	}
	return s, nil
}

// Room returns the room the site is bound to.
func (s *Site) Room() domain.Room {
	return s.room
}

// Client returns the shared HTTP client.
func (s *Site) Client() *Client {
	return s.client
}

// Close releases idle connections.
func (s *Site) Close() {
	s.client.Close()
}

func (s *Site) resolve(path string) string {
	return s.base.ResolveReference(&url.URL{Path: path}).String()
}

// RoomPageURL is the datepicker page of the room.
func (s *Site) RoomPageURL() string {
	return s.resolve("pokoj_" + string(s.room) + ".php")
}

// SlotsURL is the endpoint listing free hours for a date.
func (s *Site) SlotsURL() string {
	return s.resolve("godziny_pokoj_" + string(s.room) + ".php")
}

// ChallengeURL serves the captcha image bound to the session.
func (s *Site) ChallengeURL() string {
	return s.resolve("securimage/securimage_show.php")
}

// SubmitURL accepts the reservation form.
func (s *Site) SubmitURL() string {
	return s.resolve("send.php")
}

// BaseURL is used as the Referer of every call.
func (s *Site) BaseURL() string {
	return s.base.String()
}

// Windows returns a window resolver bound to the site.
func (s *Site) Windows() *WindowResolver {
	return &WindowResolver{site: s}
}

// Slots returns a slot service bound to the site.
func (s *Site) Slots() *SlotService {
	return &SlotService{site: s}
}

// Booker returns a booker bound to the site.
func (s *Site) Booker() *Booker {
	return &Booker{site: s}
}

// statusError classifies a non-2xx status. 5xx is transient.
func statusError(op string, code int) error {
	if code >= 500 {
		return fmt.Errorf("%s: %w: status %d", op, domain.ErrTransient, code)
	}
	return fmt.Errorf("%s: unexpected status %d", op, code)
}
