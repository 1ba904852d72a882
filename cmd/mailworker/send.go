package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newSendTestCommand() *cobra.Command {
	var (
		mailerName string
		to         string
		subject    string
	)

	cmd := &cobra.Command{
		Use:   "send-test",
		Short: "Send a test message through a configured mailer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if to == "" {
				return errors.New("--to is required")
			}
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			m, err := rt.newManager()
			if err != nil {
				return err
			}
			ml, err := m.Mailer(cmd.Context(), mailerName)
			if err != nil {
				return err
			}

			sent, err := ml.SendNow(cmd.Context(), testMail(to, subject))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.writer, "sent via %s (%s) message-id=%s\n", ml.Name(), sent.Transport, sent.MessageID)
			if sent.ProviderID != "" {
				_, _ = fmt.Fprintf(rt.writer, "provider-id=%s\n", sent.ProviderID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&mailerName, "mailer", "", "Mailer name, default mailer when empty")
	cmd.Flags().StringVar(&to, "to", "", "Recipient address")
	cmd.Flags().StringVar(&subject, "subject", "mailworker test", "Subject line")

	return cmd
}
