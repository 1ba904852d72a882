package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/mailkit"
	"github.com/dmitrymomot/mailkit/pkg/job"
	"github.com/dmitrymomot/mailkit/pkg/logger"
	"github.com/dmitrymomot/mailkit/pkg/mailer"
)

const defaultConfigPath = "config/mail.yaml"

type runtimeState struct {
	configPath  string
	viewsDir    string
	logLevel    string
	logFormat   string
	sentryDSN   string
	environment string
	writer      io.Writer
	log         *slog.Logger
}

type runtimeKey struct{}

func newRootCommand(out io.Writer) *cobra.Command {
	rt := &runtimeState{writer: out}

	root := &cobra.Command{
		Use:           "mailworker",
		Short:         "Mail delivery worker",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			envDefault(&rt.configPath, "MAILKIT_CONFIG", defaultConfigPath)
			envDefault(&rt.viewsDir, "MAILKIT_VIEWS", "")
			envDefault(&rt.logLevel, "LOG_LEVEL", "info")
			envDefault(&rt.logFormat, "LOG_FORMAT", "json")
			envDefault(&rt.sentryDSN, "SENTRY_DSN", "")
			envDefault(&rt.environment, "SENTRY_ENVIRONMENT", "production")

			rt.log = logger.NewWithSentry(
				logger.Config{Level: rt.logLevel, Format: rt.logFormat},
				logger.SentryConfig{DSN: rt.sentryDSN, Environment: rt.environment, MinLevel: slog.LevelError},
				logger.MailerAttrs,
				job.LogAttrs,
			)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&rt.configPath, "config", "", "Path to mail config file")
	root.PersistentFlags().StringVar(&rt.viewsDir, "views", "", "Directory of mail views")
	root.PersistentFlags().StringVar(&rt.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&rt.logFormat, "log-format", "", "Log format: json or text")
	root.PersistentFlags().StringVar(&rt.sentryDSN, "sentry-dsn", "", "Sentry DSN for error reporting")
	root.PersistentFlags().StringVar(&rt.environment, "environment", "", "Sentry environment")

	root.SetOut(out)
	root.SetErr(os.Stderr)
	root.SetContext(context.WithValue(context.Background(), runtimeKey{}, rt))

	root.AddCommand(
		newWorkCommand(),
		newSendTestCommand(),
		newPreviewCommand(),
		newMigrateCommand(),
		newDeliveriesCommand(),
		newDriversCommand(),
	)

	return root
}

func getRuntime(cmd *cobra.Command) (*runtimeState, error) {
	rt, ok := cmd.Context().Value(runtimeKey{}).(*runtimeState)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

func envDefault(dst *string, key, def string) {
	if *dst != "" {
		return
	}
	if v := os.Getenv(key); v != "" {
		*dst = v
		return
	}
	*dst = def
}

// newManager loads the mail config and builds a manager logging through rt.
func (rt *runtimeState) newManager(opts ...mailkit.ManagerOption) (*mailkit.Manager, error) {
	cfg, err := mailkit.LoadConfig(rt.configPath)
	if err != nil {
		return nil, err
	}
	base := []mailkit.ManagerOption{mailkit.WithLogger(rt.log)}
	if views := rt.views(); views != nil {
		base = append(base, mailkit.WithViews(views))
	}
	return mailkit.NewManager(cfg, append(base, opts...)...), nil
}

func (rt *runtimeState) views() *mailer.Renderer {
	if rt.viewsDir == "" {
		return nil
	}
	return mailer.NewRenderer(os.DirFS(rt.viewsDir))
}

func (rt *runtimeState) flushLogs(context.Context) error {
	logger.Flush(2 * time.Second)
	return nil
}
