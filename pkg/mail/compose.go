// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package mail

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/gomail.v2"

	"github.com/telekom/lessonplan-mailer/pkg/dkim"
)

// Compose renders msg as an RFC 5322 message with MIME parts for the body and
// every attachment. The Date header is the last attempt time when set.
func Compose(msg *EmailMessage, from, fromName string) ([]byte, error) {
	if msg == nil {
		return nil, ErrNilMessage
	}

	m := gomail.NewMessage()
	if fromName != "" {
		m.SetAddressHeader("From", from, fromName)
	} else {
		m.SetHeader("From", from)
	}
	m.SetHeader("To", msg.Recipients...)
	m.SetHeader("Subject", msg.Subject)
	m.SetHeader("Message-ID", messageIDHeader(msg.ID, from))

	date := time.Now()
	if msg.LastAttempt != nil {
		date = *msg.LastAttempt
	}
	m.SetDateHeader("Date", date)

	if msg.Priority {
		m.SetHeader("X-Priority", "1 (Highest)")
		m.SetHeader("Importance", "High")
	}

	contentType := "text/plain"
	if msg.HTMLContent {
		contentType = "text/html"
	}
	m.SetBody(contentType, msg.Body)

	for _, a := range msg.Attachments {
		content := a.Content
		m.Attach(a.FileName,
			gomail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(content)
				return err
			}),
			gomail.SetHeader(map[string][]string{"Content-Type": {a.ContentType}}),
		)
	}

	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("render message %s: %w", msg.ID, err)
	}
	return buf.Bytes(), nil
}

func messageIDHeader(id, from string) string {
	domain := "localhost"
	if i := strings.LastIndex(from, "@"); i >= 0 && i+1 < len(from) {
		domain = strings.TrimSuffix(from[i+1:], ">")
	}
	return "<" + id + "@" + domain + ">"
}

// renderer composes and optionally signs messages for a transport.
type renderer struct {
	fromName string
	signer   *dkim.Signer
}

func (r renderer) render(msg *EmailMessage, from string) ([]byte, error) {
	raw, err := Compose(msg, from, r.fromName)
	if err != nil {
		return nil, err
	}
	return r.signer.Sign(raw, from)
}
