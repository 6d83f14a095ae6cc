package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telekom/lessonplan-mailer/pkg/mailctl/output"
)

func NewQueueCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect or purge queued emails",
	}
	cmd.AddCommand(newQueueListCommand(), newQueuePurgeCommand())
	return cmd
}

func newQueueListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List queued email ids in dispatch order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, apiClient, err := runtimeAndClient(cmd)
			if err != nil {
				return err
			}
			snap, err := apiClient.Queue(cmd.Context())
			if err != nil {
				return err
			}
			if rt.OutputFormat() == output.FormatTable {
				output.WriteQueueTable(rt.Writer(), *snap)
				return nil
			}
			return output.WriteObject(rt.Writer(), rt.OutputFormat(), snap)
		},
	}
}

func newQueuePurgeCommand() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete every queued email; quarantined emails are kept",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("purge deletes queued emails permanently; pass --yes to confirm")
			}
			rt, apiClient, err := runtimeAndClient(cmd)
			if err != nil {
				return err
			}
			n, err := apiClient.Purge(cmd.Context())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Purged %d queued email(s)\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the purge")
	return cmd
}
