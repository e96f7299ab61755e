package notify_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ABeGood/reservation-pl/internal/domain"
	"github.com/ABeGood/reservation-pl/internal/events"
	"github.com/ABeGood/reservation-pl/internal/notify"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSlot() domain.TimeSlot {
	return domain.TimeSlot{
		Date:     time.Date(2025, 7, 10, 0, 0, 0, 0, time.UTC),
		Room:     "A2",
		Time:     "09:00",
		RawValue: "A209:00",
	}
}

func testParticipant() domain.Participant {
	return domain.Participant{ID: 7, Name: "Olena", Surname: "Kowalenko"}
}

func TestRender(t *testing.T) {
	tests := []struct {
		name  string
		event events.Event
		want  string
	}{
		{
			name:  "error",
			event: events.New(events.KindError, "cannot resolve booking window"),
			want:  "🚨🔥 *ERROR*\ncannot resolve booking window",
		},
		{
			name:  "slot found",
			event: events.New(events.KindSlotFound, "free slot 2025-07-10 09:00 A2").WithSlot(testSlot()),
			want:  "🎯 *SLOTS FOUND*\nfree slot 2025-07-10 09:00 A2\n\n📅 2025-07-10 at 09:00",
		},
		{
			name: "claim succeeded",
			event: events.New(events.KindClaimSucceeded, "booked").
				WithSlot(testSlot()).WithParticipant(testParticipant()),
			want: "✅ *REGISTRATION SUCCESS*\n👤 Olena Kowalenko\n📅 2025-07-10 at 09:00",
		},
		{
			name:  "claim failed",
			event: events.New(events.KindClaimFailed, "wrong captcha").WithParticipant(testParticipant()),
			want:  "❌ *REGISTRATION FAILED*\n👤 Olena Kowalenko\nError: wrong captcha",
		},
		{
			name:  "started",
			event: events.New(events.KindMonitorStarted, "monitor started for room A2"),
			want:  "🚀 *MONITOR STARTED*\nmonitor started for room A2",
		},
		{
			name:  "stopped",
			event: events.New(events.KindMonitorStopped, "12 checks"),
			want:  "⏹️ *MONITOR STOPPED*\n📊 12 checks",
		},
		{
			name:  "other kinds",
			event: events.New(events.KindWindowChanged, "window is now 2025-06-16 to 2025-08-31"),
			want:  "ℹ️ window is now 2025-06-16 to 2025-08-31",
		},
		{
			name:  "markdown is escaped",
			event: events.New(events.KindParticipantsRefreshed, "read participant_id *7*"),
			want:  "ℹ️ read participant\\_id \\*7\\*",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, notify.Render(tt.event))
		})
	}
}

func TestFilter(t *testing.T) {
	var got []events.Kind
	rec := notify.Func(func(ctx context.Context, e events.Event) error {
		got = append(got, e.Kind)
		return nil
	})

	n := notify.Filter(rec, events.KindClaimSucceeded, events.KindError)
	for _, k := range []events.Kind{events.KindSlotFound, events.KindClaimSucceeded, events.KindMonitorStarted, events.KindError} {
		require.NoError(t, n.Notify(context.Background(), events.New(k, "")))
	}
	assert.Equal(t, []events.Kind{events.KindClaimSucceeded, events.KindError}, got)

	assert.NotNil(t, notify.Filter(rec))
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	e := events.New(events.KindClaimFailed, "could not book").WithSlot(testSlot()).WithParticipant(testParticipant())
	e.ID = "evt-1"
	require.NoError(t, notify.NewLogNotifier(logger).Notify(context.Background(), e))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "WARN", line["level"])
	assert.Equal(t, "could not book", line["msg"])
	assert.Equal(t, "claim_failed", line["kind"])
	assert.Equal(t, "urgent", line["priority"])
	assert.Equal(t, "2025-07-10 09:00 A2", line["slot"])
	assert.Equal(t, float64(7), line["participant_id"])
}

// botParams reads the parameters of a Bot API request, which arrive as
// multipart form data or JSON.
func botParams(t *testing.T, r *http.Request) map[string]string {
	t.Helper()
	out := map[string]string{}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			for k, v := range body {
				out[k] = fmt.Sprint(v)
			}
		}
		return out
	}
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		_ = r.ParseForm()
	}
	for k, v := range r.Form {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

const sentMessage = `{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":1,"type":"private"}}}`

func TestTelegram_Notify(t *testing.T) {
	var (
		mu   sync.Mutex
		sent []map[string]string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		params := botParams(t, r)
		mu.Lock()
		sent = append(sent, params)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sentMessage))
	}))
	defer server.Close()

	tg, err := notify.NewTelegram("TOKEN", []int64{111, -222}, notify.WithTelegramAPI(server.URL))
	require.NoError(t, err)

	e := events.New(events.KindMonitorStarted, "monitor started")
	require.NoError(t, tg.Notify(context.Background(), e))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, sent, 2)
	assert.Equal(t, "111", sent[0]["chat_id"])
	assert.Equal(t, "-222", sent[1]["chat_id"])
	assert.Equal(t, "Markdown", sent[0]["parse_mode"])
	assert.Equal(t, notify.Render(e), sent[0]["text"])
}

func TestTelegram_PartialFailure(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if botParams(t, r)["chat_id"] == "1" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
			return
		}
		_, _ = w.Write([]byte(sentMessage))
	}))
	defer server.Close()

	tg, err := notify.NewTelegram("TOKEN", []int64{1, 2}, notify.WithTelegramAPI(server.URL))
	require.NoError(t, err)

	err = tg.Notify(context.Background(), events.New(events.KindError, "boom"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat 1")
	assert.NotContains(t, err.Error(), "chat 2")
	assert.Equal(t, int32(2), calls.Load(), "a failing chat does not stop delivery to the others")
}

func TestTelegram_ErrorHidesToken(t *testing.T) {
	tg, err := notify.NewTelegram("SECRET", []int64{1}, notify.WithTelegramAPI("http://127.0.0.1:1"))
	require.NoError(t, err)

	err = tg.Notify(context.Background(), events.New(events.KindError, "boom"))
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "SECRET")
}

func TestNewTelegram_Validation(t *testing.T) {
	_, err := notify.NewTelegram("", []int64{1})
	assert.Error(t, err)
	_, err = notify.NewTelegram("TOKEN", nil)
	assert.Error(t, err)
}

type fakeRedis struct {
	mu       sync.Mutex
	channel  string
	payloads [][]byte
	err      error
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channel = channel
	if b, ok := message.([]byte); ok {
		f.payloads = append(f.payloads, b)
	}
	return redis.NewIntResult(1, f.err)
}

func TestRedis_Notify(t *testing.T) {
	fake := &fakeRedis{}
	r, err := notify.NewRedis(fake, "")
	require.NoError(t, err)

	e := events.New(events.KindClaimSucceeded, "booked").WithSlot(testSlot()).WithParticipant(testParticipant())
	e.ID = "evt-1"
	require.NoError(t, r.Notify(context.Background(), e))

	assert.Equal(t, notify.DefaultRedisChannel, fake.channel)
	require.Len(t, fake.payloads, 1)

	var got events.Event
	require.NoError(t, json.Unmarshal(fake.payloads[0], &got))
	assert.Equal(t, "evt-1", got.ID)
	assert.Equal(t, events.KindClaimSucceeded, got.Kind)
	assert.Equal(t, int64(7), got.ParticipantID)
	require.NotNil(t, got.Slot)
	assert.Equal(t, "A209:00", got.Slot.RawValue)
}

func TestRedis_PublishError(t *testing.T) {
	fake := &fakeRedis{err: errors.New("connection refused")}
	r, err := notify.NewRedis(fake, "custom")
	require.NoError(t, err)

	err = r.Notify(context.Background(), events.New(events.KindError, "boom"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "custom")

	_, err = notify.NewRedis(nil, "")
	assert.Error(t, err)
}

func TestDispatcher_DeliversToEveryNotifier(t *testing.T) {
	ch := events.NewChannel(16)
	defer ch.Close()

	first := make(chan events.Event, 16)
	second := make(chan events.Event, 16)
	d := notify.NewDispatcher(ch, []notify.Notifier{
		notify.Func(func(ctx context.Context, e events.Event) error { first <- e; return nil }),
		notify.Func(func(ctx context.Context, e events.Event) error { second <- e; return nil }),
	}, notify.WithLogger(testLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = d.Run(ctx)
		close(done)
	}()

	ch.Publish(events.New(events.KindSlotFound, "one"))
	ch.Publish(events.New(events.KindClaimSucceeded, "two"))

	for _, out := range []chan events.Event{first, second} {
		for _, want := range []string{"one", "two"} {
			select {
			case e := <-out:
				assert.Equal(t, want, e.Message)
				assert.NotEmpty(t, e.ID)
			case <-time.After(2 * time.Second):
				t.Fatalf("event %q not delivered", want)
			}
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestDispatcher_FailingNotifierDoesNotBlockOthers(t *testing.T) {
	ch := events.NewChannel(16)

	delivered := make(chan events.Event, 4)
	d := notify.NewDispatcher(ch, []notify.Notifier{
		notify.Func(func(ctx context.Context, e events.Event) error { panic("boom") }),
		notify.Func(func(ctx context.Context, e events.Event) error { return errors.New("unreachable") }),
		notify.Func(func(ctx context.Context, e events.Event) error { delivered <- e; return nil }),
	}, notify.WithLogger(testLogger()))

	done := make(chan struct{})
	go func() {
		_ = d.Run(context.Background())
		close(done)
	}()

	ch.Publish(events.New(events.KindError, "one"))
	select {
	case e := <-delivered:
		assert.Equal(t, "one", e.Message)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}

	ch.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop after channel close")
	}
}

func TestDispatcher_DrainsOnCancel(t *testing.T) {
	ch := events.NewChannel(16)
	defer ch.Close()

	var (
		mu  sync.Mutex
		got []string
	)
	d := notify.NewDispatcher(ch, []notify.Notifier{
		notify.Func(func(ctx context.Context, e events.Event) error {
			require.NoError(t, ctx.Err())
			mu.Lock()
			got = append(got, e.Message)
			mu.Unlock()
			return nil
		}),
	}, notify.WithLogger(testLogger()), notify.WithTimeout(time.Second))

	ch.Publish(events.New(events.KindMonitorStarted, "started"))
	ch.Publish(events.New(events.KindMonitorStopped, "stopped"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, d.Run(ctx))

	assert.Equal(t, []string{"started", "stopped"}, got)
	assert.Zero(t, d.Dropped())
}
