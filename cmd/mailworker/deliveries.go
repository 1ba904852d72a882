package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dmitrymomot/mailkit/pkg/db"
	"github.com/dmitrymomot/mailkit/pkg/mailer/deliverylog"
)

func newDeliveriesCommand() *cobra.Command {
	var databaseURL string

	cmd := &cobra.Command{
		Use:   "deliveries",
		Short: "Inspect the delivery log",
	}
	cmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "PostgreSQL URL (env DATABASE_URL)")

	open := func(cmd *cobra.Command) (*deliverylog.Store, func(), error) {
		rt, err := getRuntime(cmd)
		if err != nil {
			return nil, nil, err
		}
		envDefault(&databaseURL, "DATABASE_URL", "")
		if databaseURL == "" {
			return nil, nil, errors.New("--database-url is required")
		}
		pool, err := db.Connect(cmd.Context(), db.Config{URL: databaseURL}.WithDefaults())
		if err != nil {
			return nil, nil, err
		}
		return deliverylog.New(pool, deliverylog.WithLogger(rt.log)), pool.Close, nil
	}

	cmd.AddCommand(newDeliveriesListCommand(open), newDeliveriesPruneCommand(open))
	return cmd
}

type openStore func(cmd *cobra.Command) (*deliverylog.Store, func(), error)

func newDeliveriesListCommand(open openStore) *cobra.Command {
	var (
		limit        int
		outputFormat string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show the latest delivery attempts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, closeFn, err := open(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			entries, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return writeEntries(cmd, entries, outputFormat)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Entries to show")
	cmd.Flags().StringVarP(&outputFormat, "output", "o", "", "Output format: table, json, yaml")

	return cmd
}

func writeEntries(cmd *cobra.Command, entries []deliverylog.Entry, format string) error {
	w := cmd.OutOrStdout()
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	case "yaml":
		data, err := yaml.Marshal(entries)
		if err != nil {
			return fmt.Errorf("failed to marshal to YAML: %w", err)
		}
		_, err = w.Write(data)
		return err
	case "", "table":
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "TIME\tMAILER\tTRANSPORT\tRECIPIENTS\tSUBJECT\tSTATUS")
		for _, e := range entries {
			status := "sent"
			if e.Failed() {
				status = "failed: " + e.Error
			}
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
				e.CreatedAt.Local().Format(time.DateTime), e.Mailer, e.Transport,
				strings.Join(e.Recipients, ","), e.Subject, status)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func newDeliveriesPruneCommand(open openStore) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete delivery attempts older than --older-than",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan <= 0 {
				return errors.New("--older-than must be positive")
			}
			store, closeFn, err := open(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			n, err := store.Prune(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "pruned %d entries\n", n)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Age of entries to delete")

	return cmd
}
