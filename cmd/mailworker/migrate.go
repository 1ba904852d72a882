package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/mailkit/pkg/db"
	"github.com/dmitrymomot/mailkit/pkg/job"
	"github.com/dmitrymomot/mailkit/pkg/mailer/deliverylog"
)

func newMigrateCommand() *cobra.Command {
	var (
		cfg         db.Config
		river       bool
		deliveryLog bool
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the River and delivery log schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			envDefault(&cfg.URL, "DATABASE_URL", "")
			if cfg.URL == "" {
				return errors.New("--database-url is required")
			}

			ctx := cmd.Context()
			cfg = cfg.WithDefaults()
			pool, err := db.Connect(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			if river {
				if err := job.Migrate(ctx, pool, rt.log); err != nil {
					return err
				}
			}
			if deliveryLog {
				if err := db.Migrate(ctx, pool, deliverylog.Migrations(), cfg.MigrationsTable, rt.log); err != nil {
					return err
				}
			}
			_, _ = fmt.Fprintln(rt.writer, "migrations applied")
			return nil
		},
	}

	cmd.Flags().StringVar(&cfg.URL, "database-url", "", "PostgreSQL URL (env DATABASE_URL)")
	cmd.Flags().StringVar(&cfg.MigrationsTable, "migrations-table", "", "Goose version table for the delivery log")
	cmd.Flags().BoolVar(&river, "river", true, "Migrate the River job tables")
	cmd.Flags().BoolVar(&deliveryLog, "delivery-log", true, "Migrate the delivery log table")

	return cmd
}
