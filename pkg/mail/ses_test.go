// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package mail

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSES struct {
	inputs []*sesv2.SendEmailInput
	err    error
}

func (m *mockSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	m.inputs = append(m.inputs, in)
	if m.err != nil {
		return nil, m.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("ses-0001")}, nil
}

func TestSESTransport_SendsRawMessage(t *testing.T) {
	client := &mockSES{}
	tr := NewSESTransportWithClient(client, "Lesson Planner", nil, nil)
	tr.configurationSet = "lessonplan"
	assert.Equal(t, "ses", tr.Name())

	conn, err := tr.Open(context.Background())
	require.NoError(t, err)
	defer func() { require.NoError(t, conn.Close()) }()

	msg := newTestMessage("Plan ready", false, 0)
	msg.Attach(NewAttachment("plan.pdf", "application/pdf", []byte("%PDF-1.7")))
	require.NoError(t, conn.Send(context.Background(), msg, "noreply@school.example"))

	require.Len(t, client.inputs, 1)
	in := client.inputs[0]
	assert.Equal(t, "noreply@school.example", aws.ToString(in.FromEmailAddress))
	assert.Equal(t, msg.Recipients, in.Destination.ToAddresses)
	assert.Equal(t, "lessonplan", aws.ToString(in.ConfigurationSetName))
	require.NotNil(t, in.Content.Raw)
	raw := string(in.Content.Raw.Data)
	assert.True(t, strings.Contains(raw, "Subject: Plan ready"))
	assert.True(t, strings.Contains(raw, "plan.pdf"))
}

func TestSESTransport_SendErrorIsWrapped(t *testing.T) {
	apiErr := errors.New("MessageRejected: Email address is not verified")
	tr := NewSESTransportWithClient(&mockSES{err: apiErr}, "", nil, nil)

	conn, err := tr.Open(context.Background())
	require.NoError(t, err)
	err = conn.Send(context.Background(), newTestMessage("x", false, 0), "noreply@school.example")
	assert.ErrorIs(t, err, apiErr)
	assert.ErrorContains(t, err, "ses send")
}

func TestSESTransport_OpenWithoutClient(t *testing.T) {
	tr := NewSESTransportWithClient(nil, "", nil, nil)
	_, err := tr.Open(context.Background())
	assert.Error(t, err)
}

func TestSESTransport_FailuresFollowRetryPolicy(t *testing.T) {
	client := &mockSES{err: errors.New("Throttling")}
	tr := NewSESTransportWithClient(client, "", nil, nil)
	st := newTestFileStorage(t)
	q := NewQueue(st, nil)
	s := NewSenderService(q, st, tr, nil, SenderConfig{FromAddress: "noreply@school.example", MaxRetries: 3}, nil, nil)
	msg := newTestMessage("x", false, 0)
	require.NoError(t, q.Enqueue(msg))

	require.NoError(t, s.ProcessQueue(context.Background()))

	assert.Len(t, client.inputs, 3)
	ids, err := st.BadMessageIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{msg.ID}, ids)
}
