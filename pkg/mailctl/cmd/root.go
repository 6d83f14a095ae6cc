package cmd

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/telekom/lessonplan-mailer/pkg/mailctl/client"
	"github.com/telekom/lessonplan-mailer/pkg/mailctl/output"
)

// DefaultServer is used when neither --server nor MAILCTL_SERVER is set.
const DefaultServer = "http://localhost:8080"

type Config struct {
	OutputWriter io.Writer
}

type runtimeState struct {
	server       string
	token        string
	actor        string
	outputFormat string
	caFile       string
	insecure     bool
	timeout      time.Duration
	writer       io.Writer
}

type runtimeKey struct{}

func DefaultConfig() Config {
	return Config{OutputWriter: os.Stdout}
}

func NewRootCommand(cfg Config) *cobra.Command {
	rt := &runtimeState{writer: cfg.OutputWriter}

	root := &cobra.Command{
		Use:           "mailctl",
		Short:         "Run and operate the lesson plan mailer",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if rt.writer == nil {
				rt.writer = os.Stdout
			}
			if rt.server == "" {
				rt.server = envOr("MAILCTL_SERVER", DefaultServer)
			}
			if rt.token == "" {
				rt.token = os.Getenv("MAILCTL_TOKEN")
			}
			if rt.actor == "" {
				rt.actor = envOr("MAILCTL_ACTOR", os.Getenv("USER"))
			}
			if rt.outputFormat == "" {
				rt.outputFormat = os.Getenv("MAILCTL_OUTPUT")
			}
			if !rt.insecure {
				rt.insecure = strings.EqualFold(os.Getenv("MAILCTL_INSECURE_SKIP_TLS_VERIFY"), "true")
			}
			_, err := output.ParseFormat(rt.outputFormat)
			return err
		},
	}

	root.PersistentFlags().StringVar(&rt.server, "server", "", "Mailer API base URL (default $MAILCTL_SERVER or "+DefaultServer+")")
	root.PersistentFlags().StringVar(&rt.token, "token", "", "Bearer token sent to the mailer API")
	root.PersistentFlags().StringVar(&rt.actor, "actor", "", "Operator name recorded in the audit trail (default $USER)")
	root.PersistentFlags().StringVarP(&rt.outputFormat, "output", "o", "", "Output format: table, json, yaml")
	root.PersistentFlags().StringVar(&rt.caFile, "ca-file", "", "CA bundle used to verify the mailer API")
	root.PersistentFlags().BoolVar(&rt.insecure, "insecure-skip-tls-verify", false, "Skip TLS verification of the mailer API")
	root.PersistentFlags().DurationVar(&rt.timeout, "timeout", 30*time.Second, "Timeout of API requests")

	root.SetContext(context.WithValue(context.Background(), runtimeKey{}, rt))

	root.AddCommand(
		NewServeCommand(),
		NewStatusCommand(),
		NewDrainCommand(),
		NewQueueCommand(),
		NewQuarantineCommand(),
		NewSendTestCommand(),
		NewVersionCommand(),
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

func (rt *runtimeState) OutputFormat() output.Format {
	f, err := output.ParseFormat(rt.outputFormat)
	if err != nil {
		return output.FormatTable
	}
	return f
}

func (rt *runtimeState) Writer() io.Writer {
	if rt.writer != nil {
		return rt.writer
	}
	return os.Stdout
}

func buildClient(rt *runtimeState) (*client.Client, error) {
	return client.New(
		client.WithServer(rt.server),
		client.WithToken(rt.token),
		client.WithActor(rt.actor),
		client.WithTimeout(rt.timeout),
		client.WithTLSConfig(rt.caFile, rt.insecure),
	)
}

// runtimeAndClient is the common prologue of commands talking to the API.
func runtimeAndClient(cmd *cobra.Command) (*runtimeState, *client.Client, error) {
	rt, err := getRuntime(cmd)
	if err != nil {
		return nil, nil, err
	}
	c, err := buildClient(rt)
	if err != nil {
		return nil, nil, err
	}
	return rt, c, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
