package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/mailkit"
)

func newDriversCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "drivers",
		Short: "List built-in transport drivers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, name := range mailkit.Drivers() {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}
