// Package logger builds the slog loggers used by mail workers and transports.
//
// Loggers write JSON (or text) to stdout and can mirror warnings and errors to
// Sentry. A [ContextExtractor] adds request or job scoped attributes on every
// record:
//
//	log := logger.New(logger.Config{Level: "debug"},
//	    logger.MailerAttrs,
//	    job.LogAttrs,
//	)
//	ctx := logger.WithMailer(ctx, "marketing")
//	log.InfoContext(ctx, "mail sent") // {"msg":"mail sent","mailer":"marketing",...}
//
// When the Sentry DSN is empty, [NewWithSentry] logs to stdout only.
package logger
