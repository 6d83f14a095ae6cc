package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telekom/lessonplan-mailer/pkg/mailctl/output"
)

func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue depth, quarantine size and sender health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, apiClient, err := runtimeAndClient(cmd)
			if err != nil {
				return err
			}
			status, err := apiClient.Status(cmd.Context())
			if err != nil {
				return err
			}
			if rt.OutputFormat() == output.FormatTable {
				output.WriteStatusTable(rt.Writer(), *status)
				return nil
			}
			return output.WriteObject(rt.Writer(), rt.OutputFormat(), status)
		},
	}
}

func NewDrainCommand() *cobra.Command {
	var force, wait bool
	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Ask the mailer to run a drain cycle now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, apiClient, err := runtimeAndClient(cmd)
			if err != nil {
				return err
			}
			resp, err := apiClient.Drain(cmd.Context(), force, wait)
			if err != nil {
				return err
			}
			if rt.OutputFormat() != output.FormatTable {
				return output.WriteObject(rt.Writer(), rt.OutputFormat(), resp)
			}
			if wait {
				_, _ = fmt.Fprintf(rt.Writer(), "Drain cycle finished, %d email(s) still queued\n", resp.Status.Queued)
			} else {
				_, _ = fmt.Fprintf(rt.Writer(), "Drain cycle requested, %d email(s) queued\n", resp.Status.Queued)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Run even while the sender is paused after a connection error")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the drain cycle to finish")
	return cmd
}
