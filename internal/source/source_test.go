package source_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ABeGood/reservation-pl/internal/claim"
	"github.com/ABeGood/reservation-pl/internal/domain"
	"github.com/ABeGood/reservation-pl/internal/source"
	"github.com/ABeGood/reservation-pl/internal/sourcetest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSite(t *testing.T, fake *sourcetest.Site, room domain.Room) *source.Site {
	t.Helper()
	server := httptest.NewServer(fake.Handler())
	t.Cleanup(server.Close)

	site, err := source.NewSite(server.URL, room,
		source.WithLogger(testLogger()),
		source.WithRequestTimeout(2*time.Second),
	)
	require.NoError(t, err)
	t.Cleanup(site.Close)
	return site
}

func TestParseWindow(t *testing.T) {
	page := []byte(`<script>
    var disabledDays = [
        "2025-06-21","2025-06-22",
        "2025-06-25"
    ];
    $("#datepicker").datepicker({
        minDate: new Date("2025/06/16"),
        maxDate: new Date("2025/08/31"),
    });
    </script>`)
	fetched := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	w, err := source.ParseWindow(page, fetched)
	require.NoError(t, err)

	assert.Equal(t, "2025-06-16", w.MinDate.Format(domain.DateLayout))
	assert.Equal(t, "2025-08-31", w.MaxDate.Format(domain.DateLayout))
	assert.Equal(t, []string{"2025-06-21", "2025-06-22", "2025-06-25"}, w.DisabledDates())
	assert.Equal(t, fetched, w.FetchedAt)
}

func TestParseWindow_Errors(t *testing.T) {
	tests := []struct {
		name string
		page string
	}{
		{"no bounds", `<html>nothing here</html>`},
		{"only min", `minDate: new Date("2025/06/16")`},
		{"inverted", `minDate: new Date("2025/08/16"), maxDate: new Date("2025/06/01")`},
		{"impossible date", `minDate: new Date("2025/13/40"), maxDate: new Date("2025/12/01")`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := source.ParseWindow([]byte(tt.page), time.Now())
			assert.Error(t, err)
		})
	}

	_, err := source.ParseWindow([]byte(`<html></html>`), time.Now())
	assert.ErrorIs(t, err, source.ErrNoWindow)
}

func TestParseWindow_NoDisabledDays(t *testing.T) {
	w, err := source.ParseWindow([]byte(`minDate: new Date("2025/06/16"), maxDate: new Date("2025/06/20")`), time.Now())
	require.NoError(t, err)
	assert.Empty(t, w.Disabled)
}

func TestParseSlots(t *testing.T) {
	day := time.Date(2025, 7, 10, 0, 0, 0, 0, time.UTC)
	body := []byte(`<p>Dostępne godziny na 2025-07-10:</p>
<div class="time-slot">
    <input type="radio" name="godzina" id="A209:00" value="A209:00" required>
    <label for="A209:00">09:00</label>
</div>
<div class="time-slot">
    <input class="intro" value='A211:30' type="radio" name='godzina'>
</div>
<input type="radio" name="godzina" value="A209:00">
<input type="hidden" name="token" value="A212:00">
<input type="radio" name="godzina" value="garbage">`)

	slots := source.ParseSlots(body, day, "A2")
	require.Len(t, slots, 2)

	assert.Equal(t, "09:00", slots[0].Time)
	assert.Equal(t, "A209:00", slots[0].RawValue)
	assert.Equal(t, domain.Room("A2"), slots[0].Room)
	assert.True(t, slots[0].Date.Equal(day))

	assert.Equal(t, "11:30", slots[1].Time)
	assert.Equal(t, "A211:30", slots[1].RawValue)
}

func TestParseSlots_NoSlots(t *testing.T) {
	day := time.Date(2025, 7, 10, 0, 0, 0, 0, time.UTC)
	assert.Empty(t, source.ParseSlots([]byte("Brak wolnych terminów na dzień 2025-07-10"), day, "A1"))
	assert.Empty(t, source.ParseSlots([]byte(""), day, "A1"))
}

func TestNewSite_Validation(t *testing.T) {
	_, err := source.NewSite("ftp://example.com", "A1")
	assert.Error(t, err)
	_, err = source.NewSite("https://", "A1")
	assert.Error(t, err)
	_, err = source.NewSite("https://example.com/app", "")
	assert.Error(t, err)

	site, err := source.NewSite("https://example.com/app", "A1")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/app/pokoj_A1.php", site.RoomPageURL())
	assert.Equal(t, "https://example.com/app/godziny_pokoj_A1.php", site.SlotsURL())
	assert.Equal(t, "https://example.com/app/securimage/securimage_show.php", site.ChallengeURL())
	assert.Equal(t, "https://example.com/app/send.php", site.SubmitURL())
}

func TestWindowResolver_AgainstFakeSite(t *testing.T) {
	fake := sourcetest.NewSeeded(testLogger())
	site := newSite(t, fake, "A1")

	w, err := site.Windows().Resolve(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "2025-06-16", w.MinDate.Format(domain.DateLayout))
	assert.Equal(t, "2025-08-31", w.MaxDate.Format(domain.DateLayout))
	assert.True(t, w.IsDisabled(time.Date(2025, 6, 25, 0, 0, 0, 0, time.UTC)))
	assert.Len(t, w.CandidateDates(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), false), 76)
}

func TestWindowResolver_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	site, err := source.NewSite(server.URL, "A1", source.WithLogger(testLogger()))
	require.NoError(t, err)

	_, err = site.Windows().Resolve(context.Background())
	assert.ErrorIs(t, err, domain.ErrTransient)
}

func TestSlotService_AgainstFakeSite(t *testing.T) {
	fake := sourcetest.NewSeeded(testLogger())
	site := newSite(t, fake, "A2")

	slots, err := site.Slots().Query(context.Background(), time.Date(2025, 7, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, slots, 3)
	assert.Equal(t, "2025-07-10 09:00 A2", slots[0].String())
	assert.Equal(t, "A210:00", slots[1].RawValue)

	slots, err = site.Slots().Query(context.Background(), time.Date(2025, 7, 14, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, slots)

	fake.FailDate("2025-07-10", http.StatusBadGateway)
	_, err = site.Slots().Query(context.Background(), time.Date(2025, 7, 10, 0, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, domain.ErrTransient)
	assert.Equal(t, 3, fake.Hits("hours"))
}

func testParticipant() domain.Participant {
	return domain.Participant{
		ID:              1,
		Name:            "Olga",
		Surname:         "Nowak",
		Citizenship:     domain.CitizenshipUkraine,
		Email:           "olga@example.com",
		Phone:           "+48123456789",
		ApplicationType: domain.ApplicationAdult,
		Status:          domain.StatusPending,
	}
}

func TestBooker_FullFlow(t *testing.T) {
	fake := sourcetest.NewSeeded(testLogger())
	site := newSite(t, fake, "A2")
	booker := site.Booker()
	classify, err := source.NewClassifier(nil, nil)
	require.NoError(t, err)

	ctx := context.Background()
	sess, err := booker.OpenSession(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID())

	image, err := booker.FetchChallenge(ctx, sess)
	require.NoError(t, err)

	slot := domain.TimeSlot{
		Date:     time.Date(2025, 7, 10, 0, 0, 0, 0, time.UTC),
		Room:     "A2",
		Time:     "09:00",
		RawValue: "A209:00",
	}
	resp, err := booker.Submit(ctx, sess, testParticipant(), slot, string(image))
	require.NoError(t, err)

	verdict := classify(resp)
	require.Equal(t, claim.OutcomeSuccess, verdict.Outcome, "reason: %s", verdict.Reason)

	bookings := fake.Bookings()
	require.Len(t, bookings, 1)
	assert.Equal(t, bookings[0].Code, verdict.Code)
	assert.Equal(t, "Olga", bookings[0].Name)
	assert.Equal(t, "2025-07-10", bookings[0].Date)
	assert.Equal(t, "09:00", bookings[0].Time)
	assert.Equal(t, "A2 pokoj 25", bookings[0].Room)

	// the hour is gone now
	slots, err := site.Slots().Query(ctx, slot.Date)
	require.NoError(t, err)
	assert.Len(t, slots, 2)
}

func TestBooker_WrongCaptchaIsRejected(t *testing.T) {
	fake := sourcetest.NewSeeded(testLogger())
	site := newSite(t, fake, "A2")
	booker := site.Booker()
	classify, err := source.NewClassifier(nil, nil)
	require.NoError(t, err)

	ctx := context.Background()
	sess, err := booker.OpenSession(ctx)
	require.NoError(t, err)
	_, err = booker.FetchChallenge(ctx, sess)
	require.NoError(t, err)

	slot := domain.TimeSlot{Date: time.Date(2025, 7, 10, 0, 0, 0, 0, time.UTC), Room: "A2", Time: "09:00", RawValue: "A209:00"}
	resp, err := booker.Submit(ctx, sess, testParticipant(), slot, "wrong!")
	require.NoError(t, err)

	assert.Equal(t, claim.OutcomeRejected, classify(resp).Outcome)
	assert.Empty(t, fake.Bookings())
}

func TestBooker_SessionsAreIsolated(t *testing.T) {
	fake := sourcetest.NewSeeded(testLogger())
	site := newSite(t, fake, "A2")
	booker := site.Booker()
	classify, err := source.NewClassifier(nil, nil)
	require.NoError(t, err)

	ctx := context.Background()
	first, err := booker.OpenSession(ctx)
	require.NoError(t, err)
	second, err := booker.OpenSession(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID(), second.ID())

	image, err := booker.FetchChallenge(ctx, first)
	require.NoError(t, err)

	// the first session's captcha is not valid in the second one
	slot := domain.TimeSlot{Date: time.Date(2025, 7, 10, 0, 0, 0, 0, time.UTC), Room: "A2", Time: "09:00", RawValue: "A209:00"}
	resp, err := booker.Submit(ctx, second, testParticipant(), slot, string(image))
	require.NoError(t, err)
	assert.Equal(t, claim.OutcomeRejected, classify(resp).Outcome)
}

type foreignSession struct{}

func (foreignSession) ID() string { return "foreign" }

func TestBooker_ForeignSession(t *testing.T) {
	site, err := source.NewSite("https://example.com/", "A1")
	require.NoError(t, err)

	_, err = site.Booker().FetchChallenge(context.Background(), foreignSession{})
	assert.Error(t, err)
}

func TestBooker_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	site, err := source.NewSite(url, "A1", source.WithLogger(testLogger()), source.WithRequestTimeout(time.Second))
	require.NoError(t, err)

	_, err = site.Booker().OpenSession(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrTransient))
}
