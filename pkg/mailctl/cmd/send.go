package cmd

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/telekom/lessonplan-mailer/pkg/api"
	"github.com/telekom/lessonplan-mailer/pkg/mailctl/output"
)

func NewSendTestCommand() *cobra.Command {
	var (
		subject     string
		body        string
		priority    bool
		html        bool
		attachments []string
	)
	cmd := &cobra.Command{
		Use:   "send-test RECIPIENT...",
		Short: "Queue a test email through the mailer API",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, apiClient, err := runtimeAndClient(cmd)
			if err != nil {
				return err
			}
			if subject == "" {
				subject = "Lesson planner test email " + time.Now().UTC().Format(time.RFC3339)
			}
			req := api.SendRequest{
				Subject:    subject,
				Body:       body,
				Recipients: args,
				Priority:   priority,
				HTML:       html,
			}
			for _, path := range attachments {
				content, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read attachment: %w", err)
				}
				req.Attachments = append(req.Attachments, api.AttachmentRequest{
					FileName:    filepath.Base(path),
					ContentType: mime.TypeByExtension(filepath.Ext(path)),
					Content:     content,
				})
			}

			resp, err := apiClient.Send(cmd.Context(), req)
			if err != nil {
				return err
			}
			if rt.OutputFormat() != output.FormatTable {
				return output.WriteObject(rt.Writer(), rt.OutputFormat(), resp)
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Queued test email %s\n", resp.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "Subject (default includes the current time)")
	cmd.Flags().StringVar(&body, "body", "This is a test email from the lesson planner mailer.", "Body text")
	cmd.Flags().BoolVar(&priority, "priority", false, "Send through the high priority lane")
	cmd.Flags().BoolVar(&html, "html", false, "Treat the body as HTML")
	cmd.Flags().StringSliceVar(&attachments, "attach", nil, "File to attach (repeatable)")
	return cmd
}
