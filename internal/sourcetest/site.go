// Package sourcetest provides an in-process fake of the reservation site.
//
// The fake serves the room page, the hours endpoint, a session-bound captcha
// and the reservation form with the same markup as the real site. Its
// captcha "image" is the plain code text, so a solver that returns the image
// bytes unchanged always solves it.
package sourcetest

import (
	"fmt"
	"html"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const sessionCookie = "PHPSESSID"

const (
	badCaptchaPage = `<html><body><p class="a">kod z obrazka przepisany przez ciebie jest nieprawidłowy!!</p></body></html>`
	errorPage      = `<html><body><p class="a">Błąd rezerwacji!! Sprawdź ponownie dostępność godzin dla wybranej daty.</p></body></html>`
)

// Booking is a reservation accepted by the fake site.
type Booking struct {
	Name            string
	Surname         string
	Citizenship     string
	Email           string
	Phone           string
	ApplicationType string
	Date            string
	Time            string
	Room            string
	Code            string
	At              time.Time
}

// Site is a fake reservation site. All methods are safe for concurrent use.
type Site struct {
	logger *slog.Logger

	mu         sync.Mutex
	minDate    string
	maxDate    string
	disabled   []string
	slots      map[string][]string
	captchas   map[string]string
	bookings   []Booking
	failDates  map[string]int
	rejectNext int
	submitCode int
	latency    time.Duration
	hits       map[string]int
}

// New returns an empty site with a window of 2025-06-16..2025-08-31.
func New(logger *slog.Logger) *Site {
	if logger == nil {
		logger = slog.Default()
	}
	return &Site{
		logger:    logger,
		minDate:   "2025-06-16",
		maxDate:   "2025-08-31",
		slots:     make(map[string][]string),
		captchas:  make(map[string]string),
		failDates: make(map[string]int),
		hits:      make(map[string]int),
	}
}

// NewSeeded returns a site loaded with a summer of sample availability.
func NewSeeded(logger *slog.Logger) *Site {
	s := New(logger)
	s.SetWindow("2025-06-16", "2025-08-31", "2025-06-25")
	for date, times := range map[string][]string{
		"2025-06-16": {"09:00", "10:00", "11:00"},
		"2025-06-17": {"09:00", "10:00"},
		"2025-06-18": {"09:00", "11:00", "12:00"},
		"2025-06-19": {"10:00", "11:00"},
		"2025-06-20": {"09:00", "10:00", "11:00", "12:00"},
		"2025-06-23": {"09:00", "10:00"},
		"2025-06-24": {"11:00", "12:00"},
		"2025-06-26": {"09:00"},
		"2025-06-27": {"10:00", "11:00"},
		"2025-07-01": {"09:00", "10:00", "11:00"},
		"2025-07-02": {"09:00"},
		"2025-07-03": {"10:00", "11:00", "12:00"},
		"2025-07-04": {"09:00", "10:00"},
		"2025-07-07": {"09:00", "10:00", "11:00", "12:00"},
		"2025-07-08": {"09:00", "11:00"},
		"2025-07-09": {"09:00", "10:00"},
		"2025-07-10": {"09:00", "10:00", "11:00"},
		"2025-07-11": {"10:00", "11:00"},
		"2025-08-01": {"09:00", "10:00"},
		"2025-08-04": {"09:00", "11:00", "12:00"},
		"2025-08-05": {"10:00", "11:00"},
		"2025-08-06": {"09:00", "10:00", "11:00"},
		"2025-08-07": {"09:00"},
		"2025-08-08": {"10:00", "11:00", "12:00"},
	} {
		s.AddSlots(date, times...)
	}
	return s
}

// SetWindow replaces the datepicker bounds. Dates are YYYY-MM-DD.
func (s *Site) SetWindow(minDate, maxDate string, disabled ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.minDate, s.maxDate = minDate, maxDate
	s.disabled = append([]string(nil), disabled...)
}

// AddSlots makes the given HH:MM hours free on date.
func (s *Site) AddSlots(date string, times ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[date] = append(s.slots[date], times...)
	sort.Strings(s.slots[date])
}

// ClearSlots removes every free hour.
func (s *Site) ClearSlots() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots = make(map[string][]string)
}

// FailDate makes the hours endpoint answer status for date. Zero clears it.
func (s *Site) FailDate(date string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		delete(s.failDates, date)
		return
	}
	s.failDates[date] = status
}

// RejectNext makes the next n submissions fail the captcha check.
func (s *Site) RejectNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectNext = n
}

// FailSubmissions makes every submission answer status. Zero clears it.
func (s *Site) FailSubmissions(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitCode = status
}

// SetLatency delays every answer.
func (s *Site) SetLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = d
}

// Bookings returns the accepted reservations.
func (s *Site) Bookings() []Booking {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Booking(nil), s.bookings...)
}

// Hits returns how often a route was called. Routes are "room", "hours",
// "captcha" and "submit".
func (s *Site) Hits(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[route]
}

// Handler returns the HTTP handler of the fake site.
func (s *Site) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /securimage/securimage_show.php", s.handleCaptcha)
	mux.HandleFunc("POST /send.php", s.handleSubmit)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/")
		switch {
		case r.Method == http.MethodGet && strings.HasPrefix(name, "pokoj_") && strings.HasSuffix(name, ".php"):
			s.handleRoom(w, r, strings.TrimSuffix(strings.TrimPrefix(name, "pokoj_"), ".php"))
		case r.Method == http.MethodPost && strings.HasPrefix(name, "godziny_pokoj_") && strings.HasSuffix(name, ".php"):
			s.handleHours(w, r, strings.TrimSuffix(strings.TrimPrefix(name, "godziny_pokoj_"), ".php"))
		default:
			http.NotFound(w, r)
		}
	})
	return mux
}

func (s *Site) enter(route string) {
	s.mu.Lock()
	s.hits[route]++
	latency := s.latency
	s.mu.Unlock()
	if latency > 0 {
		time.Sleep(latency)
	}
}

// sessionID returns the session cookie of r, creating one when absent.
func (s *Site) sessionID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: id, Path: "/"})
	return id
}

func (s *Site) handleRoom(w http.ResponseWriter, r *http.Request, room string) {
	s.enter("room")
	s.sessionID(w, r)

	s.mu.Lock()
	minDate, maxDate := s.minDate, s.maxDate
	quoted := make([]string, len(s.disabled))
	for i, d := range s.disabled {
		quoted[i] = `"` + d + `"`
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "text/html; charset=UTF-8")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
<title>Rezerwacja terminu wizyty - pokój %s</title>
<script>
var disabledDays = [
    %s
];
$(function() {
    $("#datepicker").datepicker({
        dateFormat: "yy-mm-dd",
        minDate: new Date("%s"),
        maxDate: new Date("%s"),
        beforeShowDay: noWeekendsOrHolidays
    });
});
</script>
</head>
<body><form action="send.php" method="post"><input type="text" id="datepicker" name="datepicker"></form></body>
</html>`, html.EscapeString(room), strings.Join(quoted, ","),
		strings.ReplaceAll(minDate, "-", "/"), strings.ReplaceAll(maxDate, "-", "/"))
}

func (s *Site) handleHours(w http.ResponseWriter, r *http.Request, room string) {
	s.enter("hours")
	date := r.FormValue("godzina")
	if date == "" {
		_, _ = w.Write([]byte("Brak daty"))
		return
	}

	s.mu.Lock()
	status := s.failDates[date]
	times := append([]string(nil), s.slots[date]...)
	s.mu.Unlock()

	if status != 0 {
		http.Error(w, http.StatusText(status), status)
		return
	}
	if len(times) == 0 {
		_, _ = fmt.Fprintf(w, "Brak wolnych terminów na dzień %s", html.EscapeString(date))
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<p>Dostępne godziny na %s:</p>", html.EscapeString(date))
	for _, t := range times {
		value := html.EscapeString(room + t)
		fmt.Fprintf(&b, `
<div class="time-slot">
    <input type="radio" name="godzina" id="%s" value="%s" required>
    <label for="%s">%s</label>
</div>`, value, value, value, t)
	}
	_, _ = w.Write([]byte(b.String()))
}

func (s *Site) handleCaptcha(w http.ResponseWriter, r *http.Request) {
	s.enter("captcha")
	id := s.sessionID(w, r)
	code := randomCode()

	s.mu.Lock()
	s.captchas[id] = code
	s.mu.Unlock()

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write([]byte(code))
}

func (s *Site) handleSubmit(w http.ResponseWriter, r *http.Request) {
	s.enter("submit")
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	id := s.sessionID(w, r)
	form := func(k string) string { return strings.TrimSpace(r.PostForm.Get(k)) }

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.submitCode != 0 {
		http.Error(w, http.StatusText(s.submitCode), s.submitCode)
		return
	}

	expected, ok := s.captchas[id]
	reject := s.rejectNext > 0
	if reject {
		s.rejectNext--
	}
	if !ok || reject || !strings.EqualFold(form("captcha_code"), expected) {
		_, _ = w.Write([]byte(badCaptchaPage))
		return
	}
	delete(s.captchas, id)

	b := Booking{
		Name:            form("imie"),
		Surname:         form("nazwisko"),
		Citizenship:     form("obywatelstwo"),
		Email:           form("email"),
		Phone:           form("telefon"),
		ApplicationType: form("rodzaj_wizyty"),
		Date:            form("datepicker"),
		At:              time.Now(),
	}
	slot := form("godzina")
	if b.Name == "" || b.Surname == "" || b.Citizenship == "" || b.Email == "" ||
		b.Phone == "" || b.ApplicationType == "" || b.Date == "" || len(slot) < 5 {
		_, _ = w.Write([]byte(errorPage))
		return
	}

	roomID, hour := slot[:len(slot)-5], slot[len(slot)-5:]
	idx := -1
	for i, t := range s.slots[b.Date] {
		if t == hour {
			idx = i
			break
		}
	}
	if idx < 0 {
		_, _ = w.Write([]byte(errorPage))
		return
	}
	s.slots[b.Date] = append(s.slots[b.Date][:idx:idx], s.slots[b.Date][idx+1:]...)

	b.Time = hour
	b.Room = roomID + " pokoj 25"
	b.Code = randomCode()
	s.bookings = append(s.bookings, b)
	s.logger.Info("fake site accepted booking", "date", b.Date, "time", b.Time, "code", b.Code)

	_, _ = fmt.Fprintf(w, `<html><body><p class="a">
Dane rejestracyjne:&nbsp<t class='text'>%s &nbsp %s</t><br />
Data rezerwacji,godzina,stanowisko-<br>
<t class='text'>%s &nbsp %s &nbsp %s</t><br />
Kod zgłoszenia-<t class='text'>&nbsp%s</t><br />
</p></body></html>`,
		html.EscapeString(b.Name), html.EscapeString(b.Surname),
		html.EscapeString(b.Date), html.EscapeString(b.Time), html.EscapeString(b.Room), b.Code)
}

const codeAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func randomCode() string {
	b := make([]byte, 6)
	for i := range b {
		b[i] = codeAlphabet[rand.IntN(len(codeAlphabet))]
	}
	return string(b)
}
