// Package telegram lets operators control the monitor from Telegram chats.
//
// A [Listener] long-polls the Bot API and hands every message to
// [Commands], which answers the chats it was configured with and ignores
// everyone else.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/google/uuid"

	"github.com/ABeGood/reservation-pl/internal/controller"
	"github.com/ABeGood/reservation-pl/internal/domain"
	"github.com/ABeGood/reservation-pl/internal/notify"
	"github.com/ABeGood/reservation-pl/internal/poller"
	"github.com/ABeGood/reservation-pl/internal/store"
)

// maxListed bounds the /pending reply.
const maxListed = 30

// Monitor is the part of the controller the commands drive.
type Monitor interface {
	Start() error
	Stop() error
	Restart(params *poller.Config) error
	RefreshParticipants() error
	Status() controller.Status
}

// Participants reads the participant store.
type Participants interface {
	ListPending(ctx context.Context) ([]domain.Participant, error)
	Stats(ctx context.Context) (store.Stats, error)
}

// Commands answers operator commands.
type Commands struct {
	monitor Monitor
	repo    Participants
	chats   map[int64]struct{}
	logger  *slog.Logger
}

// NewCommands returns commands accepted from the given chats only.
func NewCommands(m Monitor, repo Participants, chats []int64, logger *slog.Logger) (*Commands, error) {
	if m == nil {
		return nil, errors.New("monitor is required")
	}
	if repo == nil {
		return nil, errors.New("participant store is required")
	}
	if len(chats) == 0 {
		return nil, errors.New("at least one telegram chat id is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[int64]struct{}, len(chats))
	for _, id := range chats {
		allowed[id] = struct{}{}
	}
	return &Commands{monitor: m, repo: repo, chats: allowed, logger: logger}, nil
}

const helpText = `Commands:
/status - monitor state and counters
/pending - participants waiting for a slot
/stats - participant counts
/start_monitor - start monitoring
/stop_monitor - stop monitoring
/restart_monitor - restart monitoring
/refresh_db - reload participants`

// Reply returns the answer to a message from chat. It reports false when the
// message is not a command or the chat is not allowed.
func (c *Commands) Reply(ctx context.Context, chat int64, text string) (string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", false
	}
	if _, ok := c.chats[chat]; !ok {
		c.logger.Warn("telegram command from unknown chat ignored", "chat_id", chat)
		return "", false
	}

	// commands in groups arrive as /status@botname
	command, _, _ := strings.Cut(strings.ToLower(fields[0]), "@")
	c.logger.Info("telegram command", "chat_id", chat, "command", command)

	switch command {
	case "/start", "/help":
		return helpText, true
	case "/status":
		return formatStatus(c.monitor.Status()), true
	case "/pending":
		return c.pending(ctx), true
	case "/stats":
		return c.stats(ctx), true
	case "/start_monitor":
		return lifecycleReply(c.monitor.Start(), "Monitor started."), true
	case "/stop_monitor":
		return lifecycleReply(c.monitor.Stop(), "Monitor stopped."), true
	case "/restart_monitor":
		return lifecycleReply(c.monitor.Restart(nil), "Monitor restarted."), true
	case "/refresh_db":
		err := c.monitor.RefreshParticipants()
		if errors.Is(err, controller.ErrNotRunning) {
			return "Monitor is not running; participants are loaded when it starts.", true
		}
		return lifecycleReply(err, "Participant reload requested."), true
	default:
		return "Unknown command. Send /help for the list.", true
	}
}

// Handle is the bot update handler.
func (c *Commands) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic in telegram command",
				"correlation_id", uuid.NewString(),
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()

	if update == nil || update.Message == nil {
		return
	}
	chat := update.Message.Chat.ID
	reply, ok := c.Reply(ctx, chat, update.Message.Text)
	if !ok {
		return
	}
	if err := notify.SendText(ctx, b, chat, reply, ""); err != nil {
		c.logger.Warn("telegram reply failed", "chat_id", chat, "error", err)
	}
}

func lifecycleReply(err error, ok string) string {
	switch {
	case err == nil:
		return ok
	case errors.Is(err, controller.ErrAlreadyRunning):
		return "Monitor is already running."
	case errors.Is(err, controller.ErrNotRunning):
		return "Monitor is not running."
	default:
		return "Failed: " + err.Error()
	}
}

func formatStatus(s controller.Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Monitor: %s (room %s)\n", s.State, s.Room)
	fmt.Fprintf(&b, "Auto claim: %t\n", s.AutoClaim)
	fmt.Fprintf(&b, "Pending participants: %d\n", s.Pending)
	fmt.Fprintf(&b, "Cycles: %d\n", s.Stats.CycleCount)
	fmt.Fprintf(&b, "Checks: %d (%d failed)\n", s.Stats.ChecksPerformed, s.Stats.ChecksFailed)
	fmt.Fprintf(&b, "Slots found: %d\n", s.Stats.SlotsFound)
	fmt.Fprintf(&b, "Claims: %d succeeded, %d failed", s.Stats.ClaimsSucceeded, s.Stats.ClaimsFailed)
	if s.LastError != "" {
		fmt.Fprintf(&b, "\nLast error: %s", s.LastError)
	}
	return b.String()
}

func (c *Commands) pending(ctx context.Context) string {
	list, err := c.repo.ListPending(ctx)
	if err != nil {
		c.logger.Warn("listing pending participants failed", "error", err)
		return "Failed to load participants."
	}
	if len(list) == 0 {
		return "No pending participants."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Pending participants: %d", len(list))
	for i, p := range list {
		if i == maxListed {
			fmt.Fprintf(&b, "\n... and %d more", len(list)-maxListed)
			break
		}
		month := "any month"
		if p.DesiredMonth != 0 {
			month = fmt.Sprintf("month %d", p.DesiredMonth)
		}
		fmt.Fprintf(&b, "\n%d. %s (%s, %s)", p.ID, p.FullName(), p.Citizenship, month)
	}
	return b.String()
}

func (c *Commands) stats(ctx context.Context) string {
	st, err := c.repo.Stats(ctx)
	if err != nil {
		c.logger.Warn("participant stats failed", "error", err)
		return "Failed to load participant stats."
	}
	return fmt.Sprintf("Participants: %d\nPending: %d\nClaimed: %d\nFailed: %d",
		st.Total, st.Pending, st.Claimed, st.Failed)
}
