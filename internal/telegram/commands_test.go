package telegram_test

import (
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
	"testing"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ABeGood/reservation-pl/internal/controller"
	"github.com/ABeGood/reservation-pl/internal/domain"
	"github.com/ABeGood/reservation-pl/internal/poller"
	"github.com/ABeGood/reservation-pl/internal/stats"
	"github.com/ABeGood/reservation-pl/internal/store"
	"github.com/ABeGood/reservation-pl/internal/telegram"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const operatorChat = int64(42)

type fakeMonitor struct {
	mu       sync.Mutex
	calls    []string
	err      error
	status   controller.Status
	restarts []*poller.Config
}

func (m *fakeMonitor) record(call string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
	return m.err
}

func (m *fakeMonitor) Start() error               { return m.record("start") }
func (m *fakeMonitor) Stop() error                { return m.record("stop") }
func (m *fakeMonitor) RefreshParticipants() error { return m.record("refresh") }

func (m *fakeMonitor) Restart(params *poller.Config) error {
	m.mu.Lock()
	m.restarts = append(m.restarts, params)
	m.mu.Unlock()
	return m.record("restart")
}

func (m *fakeMonitor) Status() controller.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *fakeMonitor) recorded() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

type fakeParticipants struct {
	pending []domain.Participant
	stats   store.Stats
	err     error
}

func (f *fakeParticipants) ListPending(ctx context.Context) ([]domain.Participant, error) {
	return f.pending, f.err
}

func (f *fakeParticipants) Stats(ctx context.Context) (store.Stats, error) {
	return f.stats, f.err
}

func newCommands(t *testing.T, m *fakeMonitor, repo *fakeParticipants) *telegram.Commands {
	t.Helper()
	cmds, err := telegram.NewCommands(m, repo, []int64{operatorChat, -100}, testLogger())
	require.NoError(t, err)
	return cmds
}

func TestNewCommands_Validation(t *testing.T) {
	_, err := telegram.NewCommands(nil, &fakeParticipants{}, []int64{1}, nil)
	assert.Error(t, err)
	_, err = telegram.NewCommands(&fakeMonitor{}, nil, []int64{1}, nil)
	assert.Error(t, err)
	_, err = telegram.NewCommands(&fakeMonitor{}, &fakeParticipants{}, nil, nil)
	assert.Error(t, err)
}

func TestReply_Lifecycle(t *testing.T) {
	tests := []struct {
		text string
		call string
		want string
	}{
		{"/start_monitor", "start", "Monitor started."},
		{"/stop_monitor", "stop", "Monitor stopped."},
		{"/restart_monitor", "restart", "Monitor restarted."},
		{"/refresh_db", "refresh", "Participant reload requested."},
		{"/STOP_MONITOR@reservation_bot", "stop", "Monitor stopped."},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			m := &fakeMonitor{}
			cmds := newCommands(t, m, &fakeParticipants{})

			reply, ok := cmds.Reply(context.Background(), operatorChat, tt.text)
			require.True(t, ok)
			assert.Equal(t, tt.want, reply)
			assert.Equal(t, []string{tt.call}, m.recorded())
		})
	}
}

func TestReply_RestartKeepsParameters(t *testing.T) {
	m := &fakeMonitor{}
	cmds := newCommands(t, m, &fakeParticipants{})

	_, ok := cmds.Reply(context.Background(), operatorChat, "/restart_monitor")
	require.True(t, ok)
	require.Len(t, m.restarts, 1)
	assert.Nil(t, m.restarts[0])
}

func TestReply_LifecycleConflicts(t *testing.T) {
	cmds := newCommands(t, &fakeMonitor{err: controller.ErrAlreadyRunning}, &fakeParticipants{})
	reply, _ := cmds.Reply(context.Background(), operatorChat, "/start_monitor")
	assert.Equal(t, "Monitor is already running.", reply)

	cmds = newCommands(t, &fakeMonitor{err: controller.ErrNotRunning}, &fakeParticipants{})
	reply, _ = cmds.Reply(context.Background(), operatorChat, "/stop_monitor")
	assert.Equal(t, "Monitor is not running.", reply)

	reply, _ = cmds.Reply(context.Background(), operatorChat, "/refresh_db")
	assert.Contains(t, reply, "loaded when it starts")

	cmds = newCommands(t, &fakeMonitor{err: errors.New("site unreachable")}, &fakeParticipants{})
	reply, _ = cmds.Reply(context.Background(), operatorChat, "/restart_monitor")
	assert.Equal(t, "Failed: site unreachable", reply)
}

func TestReply_Status(t *testing.T) {
	m := &fakeMonitor{status: controller.Status{
		State:     controller.StateRunning,
		Room:      "A2",
		AutoClaim: true,
		Pending:   3,
		LastError: "window unavailable",
		Stats: stats.Snapshot{
			CycleCount:      5,
			ChecksPerformed: 40,
			ChecksFailed:    2,
			SlotsFound:      1,
			ClaimsSucceeded: 1,
		},
	}}
	cmds := newCommands(t, m, &fakeParticipants{})

	reply, ok := cmds.Reply(context.Background(), operatorChat, "/status")
	require.True(t, ok)
	for _, phrase := range []string{
		"Monitor: running (room A2)",
		"Pending participants: 3",
		"Checks: 40 (2 failed)",
		"Claims: 1 succeeded, 0 failed",
		"Last error: window unavailable",
	} {
		assert.Contains(t, reply, phrase)
	}
}

func TestReply_PendingAndStats(t *testing.T) {
	repo := &fakeParticipants{
		pending: []domain.Participant{
			{ID: 7, Name: "Olena", Surname: "Kovalenko", Citizenship: domain.CitizenshipUkraine, DesiredMonth: 7},
			{ID: 9, Name: "Ivan", Surname: "Petrov", Citizenship: domain.CitizenshipBelarus},
		},
		stats: store.Stats{Total: 5, Pending: 2, Claimed: 3},
	}
	cmds := newCommands(t, &fakeMonitor{}, repo)

	reply, ok := cmds.Reply(context.Background(), operatorChat, "/pending")
	require.True(t, ok)
	assert.Contains(t, reply, "Pending participants: 2")
	assert.Contains(t, reply, "7. Olena Kovalenko (Ukraina, month 7)")
	assert.Contains(t, reply, "9. Ivan Petrov (Białoruś, any month)")

	reply, ok = cmds.Reply(context.Background(), operatorChat, "/stats")
	require.True(t, ok)
	assert.Equal(t, "Participants: 5\nPending: 2\nClaimed: 3\nFailed: 0", reply)
}

func TestReply_PendingTruncated(t *testing.T) {
	repo := &fakeParticipants{}
	for i := 1; i <= 35; i++ {
		repo.pending = append(repo.pending, domain.Participant{ID: int64(i), Name: "P", Surname: fmt.Sprint(i)})
	}
	cmds := newCommands(t, &fakeMonitor{}, repo)

	reply, _ := cmds.Reply(context.Background(), operatorChat, "/pending")
	assert.Contains(t, reply, "... and 5 more")
	assert.NotContains(t, reply, "31. ")
}

func TestReply_StoreFailure(t *testing.T) {
	cmds := newCommands(t, &fakeMonitor{}, &fakeParticipants{err: errors.New("database is locked")})

	reply, _ := cmds.Reply(context.Background(), operatorChat, "/pending")
	assert.Equal(t, "Failed to load participants.", reply)
	reply, _ = cmds.Reply(context.Background(), operatorChat, "/stats")
	assert.Equal(t, "Failed to load participant stats.", reply)
}

func TestReply_Ignored(t *testing.T) {
	m := &fakeMonitor{}
	cmds := newCommands(t, m, &fakeParticipants{})

	_, ok := cmds.Reply(context.Background(), 999, "/stop_monitor")
	assert.False(t, ok, "unknown chats are ignored")
	_, ok = cmds.Reply(context.Background(), operatorChat, "hello")
	assert.False(t, ok, "plain text is not a command")
	_, ok = cmds.Reply(context.Background(), operatorChat, "   ")
	assert.False(t, ok)
	assert.Empty(t, m.recorded())

	reply, ok := cmds.Reply(context.Background(), -100, "/dance")
	assert.True(t, ok)
	assert.Contains(t, reply, "Unknown command")

	reply, _ = cmds.Reply(context.Background(), operatorChat, "/help")
	for _, c := range []string{"/status", "/pending", "/stats", "/start_monitor", "/stop_monitor", "/restart_monitor", "/refresh_db"} {
		assert.Contains(t, reply, c)
	}
}

// botAPI is a fake Bot API that records sent messages and serves queued
// updates to getUpdates.
type botAPI struct {
	mu      sync.Mutex
	updates []string
	sent    chan map[string]string
}

func newBotAPI(t *testing.T, updates ...string) (*botAPI, *httptest.Server) {
	api := &botAPI{updates: updates, sent: make(chan map[string]string, 8)}
	server := httptest.NewServer(api)
	t.Cleanup(server.Close)
	return api, server
}

func (a *botAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/sendMessage"):
		a.sent <- botParams(r)
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":2,"date":0,"chat":{"id":42,"type":"private"}}}`))
	case strings.HasSuffix(r.URL.Path, "/getUpdates"):
		a.mu.Lock()
		pending := a.updates
		a.updates = nil
		a.mu.Unlock()
		if len(pending) == 0 {
			time.Sleep(20 * time.Millisecond)
		}
		_, _ = w.Write([]byte(`{"ok":true,"result":[` + strings.Join(pending, ",") + `]}`))
	default:
		_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
	}
}

func botParams(r *http.Request) map[string]string {
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

func messageUpdate(id int, chat int64, text string) string {
	return fmt.Sprintf(`{"update_id":%d,"message":{"message_id":%d,"date":0,"chat":{"id":%d,"type":"private"},"text":%q}}`,
		id, id, chat, text)
}

func TestHandle_RepliesToAllowedChat(t *testing.T) {
	api, server := newBotAPI(t)
	m := &fakeMonitor{}
	cmds := newCommands(t, m, &fakeParticipants{})

	b, err := bot.New("TOKEN", bot.WithSkipGetMe(), bot.WithServerURL(server.URL))
	require.NoError(t, err)

	cmds.Handle(context.Background(), b, &models.Update{Message: &models.Message{
		Chat: models.Chat{ID: operatorChat},
		Text: "/stop_monitor",
	}})
	cmds.Handle(context.Background(), b, &models.Update{Message: &models.Message{
		Chat: models.Chat{ID: 999},
		Text: "/start_monitor",
	}})
	cmds.Handle(context.Background(), b, &models.Update{})

	require.Len(t, api.sent, 1)
	msg := <-api.sent
	assert.Equal(t, "42", msg["chat_id"])
	assert.Equal(t, "Monitor stopped.", msg["text"])
	assert.Equal(t, []string{"stop"}, m.recorded())
}

func TestListener_Run(t *testing.T) {
	api, server := newBotAPI(t,
		messageUpdate(1, 999, "/stop_monitor"),
		messageUpdate(2, operatorChat, "/start_monitor"),
	)
	m := &fakeMonitor{}
	cmds := newCommands(t, m, &fakeParticipants{})

	l, err := telegram.NewListener("TOKEN", cmds,
		telegram.WithServerURL(server.URL),
		telegram.WithLogger(testLogger()),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.Run(ctx)
	}()

	select {
	case msg := <-api.sent:
		assert.Equal(t, "42", msg["chat_id"])
		assert.Equal(t, "Monitor started.", msg["text"])
	case <-time.After(5 * time.Second):
		t.Fatal("no reply sent")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not stop")
	}
	assert.Equal(t, []string{"start"}, m.recorded())
}

func TestNewListener_Validation(t *testing.T) {
	cmds := newCommands(t, &fakeMonitor{}, &fakeParticipants{})
	_, err := telegram.NewListener("", cmds)
	assert.Error(t, err)
	_, err = telegram.NewListener("TOKEN", nil)
	assert.Error(t, err)
}
