package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/telekom/lessonplan-mailer/pkg/cli"
)

func NewServeCommand() *cobra.Command {
	var opts cli.Options
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the mailer: restore the queue, deliver in the background and serve the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return cli.Run(ctx, opts)
		},
	}
	opts.BindFlags(cmd.Flags())
	return cmd
}
