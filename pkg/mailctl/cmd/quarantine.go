package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telekom/lessonplan-mailer/pkg/mailctl/output"
)

func NewQuarantineCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "quarantine",
		Aliases: []string{"bad"},
		Short:   "Inspect and restore emails that failed all delivery attempts",
	}
	cmd.AddCommand(
		newQuarantineListCommand(),
		newQuarantineShowCommand(),
		newQuarantineRestoreCommand(),
	)
	return cmd
}

func newQuarantineListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List quarantined emails",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, apiClient, err := runtimeAndClient(cmd)
			if err != nil {
				return err
			}
			entries, err := apiClient.Quarantine(cmd.Context())
			if err != nil {
				return err
			}
			if rt.OutputFormat() == output.FormatTable {
				output.WriteQuarantineTable(rt.Writer(), entries)
				return nil
			}
			return output.WriteObject(rt.Writer(), rt.OutputFormat(), entries)
		},
	}
}

func newQuarantineShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show a quarantined email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, apiClient, err := runtimeAndClient(cmd)
			if err != nil {
				return err
			}
			msg, err := apiClient.QuarantinedMessage(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if rt.OutputFormat() == output.FormatTable {
				output.WriteMessage(rt.Writer(), msg)
				return nil
			}
			return output.WriteObject(rt.Writer(), rt.OutputFormat(), msg)
		},
	}
}

func newQuarantineRestoreCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "restore ID...",
		Short: "Move quarantined emails back into the queue for one more attempt",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, apiClient, err := runtimeAndClient(cmd)
			if err != nil {
				return err
			}
			for _, id := range args {
				msg, err := apiClient.Restore(cmd.Context(), id)
				if err != nil {
					return fmt.Errorf("restore %s: %w", id, err)
				}
				_, _ = fmt.Fprintf(rt.Writer(), "Restored %s (%d previous attempts)\n", msg.ID, msg.RetryCount)
			}
			return nil
		},
	}
}
