package output

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/telekom/lessonplan-mailer/pkg/api"
	"github.com/telekom/lessonplan-mailer/pkg/mail"
)

func WriteStatusTable(w io.Writer, s mail.Status) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	state := "idle"
	switch {
	case s.Paused:
		state = "paused"
	case s.Sender.Active:
		state = "sending"
	}
	_, _ = fmt.Fprintf(tw, "TRANSPORT\t%s\n", s.Transport)
	_, _ = fmt.Fprintf(tw, "STATE\t%s\n", state)
	_, _ = fmt.Fprintf(tw, "QUEUED\t%d (high %d, normal %d)\n", s.Queued, s.High, s.Normal)
	_, _ = fmt.Fprintf(tw, "STORED\t%d\n", s.Stored)
	_, _ = fmt.Fprintf(tw, "QUARANTINED\t%d\n", s.Quarantined)
	if s.Sender.LastError != "" {
		_, _ = fmt.Fprintf(tw, "LAST_ERROR\t%s (%s)\n", s.Sender.LastError, formatTime(s.Sender.LastErrorTime))
	}
	if s.Paused {
		_, _ = fmt.Fprintf(tw, "PAUSED_UNTIL\t%s\n", formatTime(s.Sender.PauseAfterErrorUntil))
	}
	_ = tw.Flush()
}

func WriteQueueTable(w io.Writer, snap mail.QueueSnapshot) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "POSITION\tLANE\tID")
	pos := 1
	for _, id := range snap.High {
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\n", pos, mail.LaneHigh, id)
		pos++
	}
	for _, id := range snap.Normal {
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\n", pos, mail.LaneNormal, id)
		pos++
	}
	_ = tw.Flush()
}

func WriteQuarantineTable(w io.Writer, entries []api.QuarantineEntry) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tSUBJECT\tRECIPIENTS\tRETRIES\tLAST_ATTEMPT\tLAST_ERROR")
	for _, e := range entries {
		last := "-"
		if e.LastAttempt != nil {
			last = formatTime(*e.LastAttempt)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			e.ID, truncate(e.Subject, 40), strings.Join(e.Recipients, ","), e.RetryCount, last, truncate(e.LastError, 60))
	}
	_ = tw.Flush()
}

// WriteMessage prints one message with its body; attachment content is
// summarized by size.
func WriteMessage(w io.Writer, m *mail.EmailMessage) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "ID\t%s\n", m.ID)
	_, _ = fmt.Fprintf(tw, "CREATED\t%s\n", formatTime(m.Created))
	_, _ = fmt.Fprintf(tw, "SUBJECT\t%s\n", m.Subject)
	_, _ = fmt.Fprintf(tw, "RECIPIENTS\t%s\n", strings.Join(m.Recipients, ", "))
	_, _ = fmt.Fprintf(tw, "PRIORITY\t%t\n", m.Priority)
	_, _ = fmt.Fprintf(tw, "HTML\t%t\n", m.HTMLContent)
	_, _ = fmt.Fprintf(tw, "RETRIES\t%d\n", m.RetryCount)
	if m.LastAttempt != nil {
		_, _ = fmt.Fprintf(tw, "LAST_ATTEMPT\t%s\n", formatTime(*m.LastAttempt))
	}
	if m.LastError != "" {
		_, _ = fmt.Fprintf(tw, "LAST_ERROR\t%s\n", m.LastError)
	}
	for _, a := range m.Attachments {
		_, _ = fmt.Fprintf(tw, "ATTACHMENT\t%s (%s, %d bytes)\n", a.FileName, a.ContentType, len(a.Content))
	}
	_ = tw.Flush()
	_, _ = fmt.Fprintf(w, "\n%s\n", m.Body)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
