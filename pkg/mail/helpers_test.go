package mail

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeTransport records every attempt. sendFn decides the outcome per message.
type fakeTransport struct {
	mu       sync.Mutex
	opens    int
	closes   int
	openErr  error
	openGate chan struct{}
	sendFn   func(msg *EmailMessage) error
	attempts []string
	sent     []string
	from     []string
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) Open(_ context.Context) (Connection, error) {
	f.mu.Lock()
	f.opens++
	err := f.openErr
	gate := f.openGate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return &fakeConnection{t: f}, nil
}

func (f *fakeTransport) setSendFn(fn func(msg *EmailMessage) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendFn = fn
}

func (f *fakeTransport) setOpenErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openErr = err
}

func (f *fakeTransport) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

func (f *fakeTransport) sentIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *fakeTransport) attemptIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.attempts...)
}

type fakeConnection struct {
	t *fakeTransport
}

func (c *fakeConnection) Send(_ context.Context, msg *EmailMessage, from string) error {
	c.t.mu.Lock()
	fn := c.t.sendFn
	c.t.mu.Unlock()

	var err error
	if fn != nil {
		err = fn(msg)
	}

	c.t.mu.Lock()
	defer c.t.mu.Unlock()
	c.t.attempts = append(c.t.attempts, msg.ID)
	c.t.from = append(c.t.from, from)
	if err == nil {
		c.t.sent = append(c.t.sent, msg.ID)
	}
	return err
}

func (c *fakeConnection) Close() error {
	c.t.mu.Lock()
	defer c.t.mu.Unlock()
	c.t.closes++
	return nil
}

var errRejected = errors.New("550 mailbox unavailable")

func alwaysFail(*EmailMessage) error { return errRejected }

func newTestFileStorage(t *testing.T) *FileStorage {
	t.Helper()
	dir := t.TempDir()
	s, err := NewFileStorage(dir+"/queue", dir+"/bad", nil)
	require.NoError(t, err)
	return s
}

// newTestMessage returns a valid message created at a fixed offset so that
// creation order is deterministic.
func newTestMessage(subject string, priority bool, offset int) *EmailMessage {
	msg := NewEmailMessage(subject, "body of "+subject, "teacher@school.example")
	msg.Created = time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC).Add(time.Duration(offset) * time.Second)
	msg.Priority = priority
	return msg
}
