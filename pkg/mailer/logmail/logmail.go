// Package logmail provides a transport that writes messages to a slog.Logger instead of delivering them.
package logmail

import (
	"context"
	"log/slog"

	"github.com/dmitrymomot/mailkit/pkg/mailer"
)

// Option configures the transport.
type Option func(*Transport)

// WithChannel tags every record with the log channel name.
func WithChannel(channel string) Option {
	return func(t *Transport) {
		if channel != "" {
			t.logger = t.logger.With(slog.String("channel", channel))
		}
	}
}

// WithBody includes the full MIME message in a debug record.
func WithBody() Option {
	return func(t *Transport) {
		t.body = true
	}
}

// Transport logs messages.
type Transport struct {
	logger *slog.Logger
	body   bool
}

// New creates a log transport. A nil logger falls back to slog.Default().
func New(logger *slog.Logger, opts ...Option) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Transport{logger: logger}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Send implements mailer.Transport.
func (t *Transport) Send(ctx context.Context, email *mailer.Email) (*mailer.SentMessage, error) {
	sent := mailer.NewSentMessage(t.Name(), email)

	rcpts := make([]string, 0, len(sent.Recipients))
	for _, r := range sent.Recipients {
		rcpts = append(rcpts, r.String())
	}

	t.logger.InfoContext(ctx, "mail logged",
		slog.String("message_id", email.MessageID),
		slog.String("from", sent.Sender.String()),
		slog.Any("to", rcpts),
		slog.String("subject", email.Subject),
		slog.Int("attachments", len(email.Attachments)),
	)

	if t.body {
		raw, err := email.Bytes()
		if err != nil {
			return nil, err
		}
		t.logger.DebugContext(ctx, "mail body",
			slog.String("message_id", email.MessageID),
			slog.String("mime", string(raw)),
		)
	}

	return sent, nil
}

// Name implements mailer.Transport.
func (t *Transport) Name() string { return "log" }
