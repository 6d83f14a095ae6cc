package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telekom/lessonplan-mailer/pkg/mailctl/output"
	"github.com/telekom/lessonplan-mailer/pkg/version"
)

func NewVersionCommand() *cobra.Command {
	var remote bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show mailctl version, and the server version with --remote",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			info := version.GetBuildInfo()
			if remote {
				apiClient, err := buildClient(rt)
				if err != nil {
					return err
				}
				serverInfo, err := apiClient.Version(cmd.Context())
				if err != nil {
					return err
				}
				info = *serverInfo
			}
			if rt.OutputFormat() != output.FormatTable {
				return output.WriteObject(rt.Writer(), rt.OutputFormat(), info)
			}
			_, _ = fmt.Fprintln(rt.Writer(), info.String())
			return nil
		},
	}
	cmd.Flags().BoolVar(&remote, "remote", false, "Query the version of the mailer server")
	return cmd
}
