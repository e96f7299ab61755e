package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/go-telegram/bot"
)

// Listener receives bot updates by long polling.
type Listener struct {
	bot    *bot.Bot
	logger *slog.Logger
}

// Option configures a [Listener].
type Option func(*listenerOptions)

type listenerOptions struct {
	server string
	logger *slog.Logger
}

// WithServerURL overrides the Bot API base URL.
func WithServerURL(base string) Option {
	return func(o *listenerOptions) { o.server = base }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *listenerOptions) { o.logger = logger }
}

// NewListener returns a listener that answers with cmds. Nothing is
// requested until [Listener.Run].
func NewListener(token string, cmds *Commands, opts ...Option) (*Listener, error) {
	if token == "" {
		return nil, errors.New("telegram bot token is required")
	}
	if cmds == nil {
		return nil, errors.New("commands are required")
	}
	o := listenerOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	l := &Listener{logger: o.logger}

	botOpts := []bot.Option{
		bot.WithSkipGetMe(),
		bot.WithDefaultHandler(cmds.Handle),
		bot.WithErrorsHandler(l.pollError),
	}
	if o.server != "" {
		botOpts = append(botOpts, bot.WithServerURL(o.server))
	}
	b, err := bot.New(token, botOpts...)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	l.bot = b
	return l, nil
}

// Run polls for updates until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) {
	l.logger.Info("telegram commands enabled")
	l.bot.Start(ctx)
}

func (l *Listener) pollError(err error) {
	// the request URL carries the token
	var uerr *url.Error
	if errors.As(err, &uerr) {
		err = uerr.Err
	}
	l.logger.Warn("telegram polling failed", "error", err)
}
