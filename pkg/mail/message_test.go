// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package mail

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEmailMessage(t *testing.T) {
	msg := NewEmailMessage("Welcome", "Hello", "a@school.example", "b@school.example")

	_, err := uuid.Parse(msg.ID)
	assert.NoError(t, err)
	assert.False(t, msg.Created.IsZero())
	assert.Equal(t, []string{"a@school.example", "b@school.example"}, msg.Recipients)
	assert.Equal(t, 0, msg.RetryCount)
	assert.Nil(t, msg.LastAttempt)
	assert.NotNil(t, msg.Attachments)
	assert.False(t, msg.Priority)
	assert.False(t, msg.HTMLContent)

	other := NewEmailMessage("Welcome", "Hello", "a@school.example")
	assert.NotEqual(t, msg.ID, other.ID)
}

func TestNewAttachment(t *testing.T) {
	content := []byte{1, 2, 3}
	a := NewAttachment("plan.bin", "", content)

	assert.Equal(t, DefaultContentType, a.ContentType)
	content[0] = 9
	assert.Equal(t, []byte{1, 2, 3}, a.Content)
}

func TestEmailMessage_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m *EmailMessage)
		ok     bool
	}{
		{name: "valid", mutate: func(*EmailMessage) {}, ok: true},
		{name: "display name recipient", mutate: func(m *EmailMessage) { m.Recipients = []string{"Anna <anna@school.example>"} }, ok: true},
		{name: "no recipients", mutate: func(m *EmailMessage) { m.Recipients = nil }},
		{name: "blank recipient", mutate: func(m *EmailMessage) { m.Recipients = []string{" "} }},
		{name: "invalid recipient", mutate: func(m *EmailMessage) { m.Recipients = []string{"not-an-address"} }},
		{name: "empty id", mutate: func(m *EmailMessage) { m.ID = "" }},
		{name: "path traversal id", mutate: func(m *EmailMessage) { m.ID = "../etc/passwd" }},
		{name: "attachment without name", mutate: func(m *EmailMessage) { m.Attach(EmailAttachment{Content: []byte("x")}) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := NewEmailMessage("s", "b", "teacher@school.example")
			tt.mutate(msg)
			err := msg.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, ErrInvalidMessage), "got %v", err)
		})
	}

	var nilMsg *EmailMessage
	assert.ErrorIs(t, nilMsg.Validate(), ErrNilMessage)
}

func TestEmailMessage_JSONAttachmentIsBase64(t *testing.T) {
	msg := NewEmailMessage("s", "b", "teacher@school.example")
	msg.Attach(NewAttachment("plan.pdf", "application/pdf", []byte("%PDF")))

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	atts := raw["attachments"].([]any)
	require.Len(t, atts, 1)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("%PDF")), atts[0].(map[string]any)["content"])
	_, hasLastAttempt := raw["lastAttempt"]
	assert.False(t, hasLastAttempt, "lastAttempt is omitted until the first attempt")
}

func TestEmailMessage_Clone(t *testing.T) {
	now := time.Now()
	msg := NewEmailMessage("s", "b", "teacher@school.example")
	msg.LastAttempt = &now
	msg.Attach(NewAttachment("a.txt", "text/plain", []byte("abc")))

	c := msg.Clone()
	c.Recipients[0] = "other@school.example"
	c.Attachments[0].Content[0] = 'X'
	*c.LastAttempt = now.Add(time.Hour)

	assert.Equal(t, "teacher@school.example", msg.Recipients[0])
	assert.Equal(t, []byte("abc"), msg.Attachments[0].Content)
	assert.True(t, msg.LastAttempt.Equal(now))
	assert.Nil(t, (*EmailMessage)(nil).Clone())
}
