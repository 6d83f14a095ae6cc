// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package mail

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultContentType is used for attachments created without a content type.
const DefaultContentType = "application/octet-stream"

var (
	// ErrNilMessage is returned when an operation receives a nil message.
	ErrNilMessage = errors.New("message must not be nil")
	// ErrInvalidMessage is returned when a message fails validation.
	ErrInvalidMessage = errors.New("invalid email message")
)

// EmailAttachment is a file carried by an EmailMessage. Content is encoded as
// base64 text when the message is serialized.
type EmailAttachment struct {
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
	Content     []byte `json:"content"`
}

// NewAttachment copies content so later changes by the caller do not leak into
// the queued message.
func NewAttachment(fileName, contentType string, content []byte) EmailAttachment {
	if strings.TrimSpace(contentType) == "" {
		contentType = DefaultContentType
	}
	return EmailAttachment{
		FileName:    fileName,
		ContentType: contentType,
		Content:     append([]byte(nil), content...),
	}
}

// EmailMessage is the unit of work carried through the outbound pipeline.
type EmailMessage struct {
	ID          string            `json:"id"`
	Created     time.Time         `json:"created"`
	Priority    bool              `json:"priority"`
	HTMLContent bool              `json:"htmlContent"`
	Subject     string            `json:"subject"`
	Recipients  []string          `json:"recipients"`
	Body        string            `json:"body"`
	Attachments []EmailAttachment `json:"attachments"`
	RetryCount  int               `json:"retryCount"`
	LastError   string            `json:"lastError"`
	LastAttempt *time.Time        `json:"lastAttempt,omitempty"`
}

// NewEmailMessage creates a normal priority plain text message with a fresh id.
func NewEmailMessage(subject, body string, recipients ...string) *EmailMessage {
	return &EmailMessage{
		ID:          uuid.NewString(),
		Created:     time.Now().UTC(),
		Subject:     subject,
		Recipients:  append([]string(nil), recipients...),
		Body:        body,
		Attachments: []EmailAttachment{},
	}
}

// Attach appends an attachment and returns the message for chaining.
func (m *EmailMessage) Attach(a EmailAttachment) *EmailMessage {
	m.Attachments = append(m.Attachments, a)
	return m
}

// Validate checks the fields a transport needs to deliver the message.
func (m *EmailMessage) Validate() error {
	if m == nil {
		return ErrNilMessage
	}
	if err := validateID(m.ID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if len(m.Recipients) == 0 {
		return fmt.Errorf("%w: no recipients", ErrInvalidMessage)
	}
	for _, rcpt := range m.Recipients {
		if _, err := mail.ParseAddress(rcpt); err != nil {
			return fmt.Errorf("%w: recipient %q: %v", ErrInvalidMessage, rcpt, err)
		}
	}
	for i, a := range m.Attachments {
		if strings.TrimSpace(a.FileName) == "" {
			return fmt.Errorf("%w: attachment %d has no file name", ErrInvalidMessage, i)
		}
	}
	return nil
}

// Clone returns a deep copy of the message.
func (m *EmailMessage) Clone() *EmailMessage {
	if m == nil {
		return nil
	}
	c := *m
	c.Recipients = append([]string(nil), m.Recipients...)
	c.Attachments = make([]EmailAttachment, len(m.Attachments))
	for i, a := range m.Attachments {
		c.Attachments[i] = EmailAttachment{
			FileName:    a.FileName,
			ContentType: a.ContentType,
			Content:     append([]byte(nil), a.Content...),
		}
	}
	if m.LastAttempt != nil {
		t := *m.LastAttempt
		c.LastAttempt = &t
	}
	return &c
}

// lane returns the name of the queue lane the message belongs to.
func (m *EmailMessage) lane() string {
	if m.Priority {
		return LaneHigh
	}
	return LaneNormal
}
