package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/ABeGood/reservation-pl/internal/events"
)

// Telegram sends rendered events to one or more chats through the Bot API.
type Telegram struct {
	bot   *bot.Bot
	chats []int64
}

// TelegramOption configures a [Telegram] notifier.
type TelegramOption func(*telegramOptions)

type telegramOptions struct {
	server string
	client *http.Client
}

// WithTelegramAPI overrides the Bot API base URL.
func WithTelegramAPI(base string) TelegramOption {
	return func(o *telegramOptions) { o.server = base }
}

// WithTelegramClient sets the HTTP client.
func WithTelegramClient(c *http.Client) TelegramOption {
	return func(o *telegramOptions) { o.client = c }
}

// NewTelegram returns a notifier for the bot token and chat IDs. Group chats
// have negative IDs. No request is made until the first event.
func NewTelegram(token string, chats []int64, opts ...TelegramOption) (*Telegram, error) {
	if token == "" {
		return nil, errors.New("telegram bot token is required")
	}
	if len(chats) == 0 {
		return nil, errors.New("at least one telegram chat id is required")
	}
	var o telegramOptions
	for _, opt := range opts {
		opt(&o)
	}

	botOpts := []bot.Option{bot.WithSkipGetMe()}
	if o.server != "" {
		botOpts = append(botOpts, bot.WithServerURL(o.server))
	}
	if o.client != nil {
		botOpts = append(botOpts, bot.WithHTTPClient(o.client.Timeout, o.client))
	}
	b, err := bot.New(token, botOpts...)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Telegram{bot: b, chats: append([]int64(nil), chats...)}, nil
}

// Notify implements [Notifier]. Every chat is tried; the errors of the
// failed ones are joined.
func (t *Telegram) Notify(ctx context.Context, e events.Event) error {
	text := Render(e)
	var errs []error
	for _, chat := range t.chats {
		if err := SendText(ctx, t.bot, chat, text, models.ParseModeMarkdownV1); err != nil {
			errs = append(errs, fmt.Errorf("chat %d: %w", chat, err))
		}
	}
	return errors.Join(errs...)
}

// SendText sends one message. An empty mode sends plain text.
func SendText(ctx context.Context, b *bot.Bot, chat int64, text string, mode models.ParseMode) error {
	_, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chat,
		Text:      text,
		ParseMode: mode,
	})
	if err != nil {
		// the request URL carries the token
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}
