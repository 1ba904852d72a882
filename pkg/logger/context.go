package logger

import (
	"context"
	"log/slog"
)

type mailerKey struct{}

// WithMailer records the name of the mailer handling ctx.
func WithMailer(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, mailerKey{}, name)
}

// MailerFromContext returns the mailer name stored by WithMailer.
func MailerFromContext(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(mailerKey{}).(string)
	return name, ok && name != ""
}

// MailerAttrs is a ContextExtractor adding the "mailer" attribute.
func MailerAttrs(ctx context.Context) (slog.Attr, bool) {
	name, ok := MailerFromContext(ctx)
	if !ok {
		return slog.Attr{}, false
	}
	return slog.String("mailer", name), true
}
