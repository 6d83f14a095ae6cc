package mail

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type receivedMail struct {
	from  string
	rcpts []string
	data  string
}

// fakeSMTPServer speaks just enough SMTP for net/smtp: no extensions, no auth.
type fakeSMTPServer struct {
	ln     net.Listener
	reject map[string]bool

	mu       sync.Mutex
	received []receivedMail
	sessions int
	wg       sync.WaitGroup
}

func newFakeSMTPServer(t *testing.T, reject ...string) *fakeSMTPServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &fakeSMTPServer{ln: ln, reject: map[string]bool{}}
	for _, r := range reject {
		s.reject[r] = true
	}
	s.wg.Add(1)
	go s.serve()
	t.Cleanup(func() {
		_ = ln.Close()
		s.wg.Wait()
	})
	return s
}

func (s *fakeSMTPServer) hostPort(t *testing.T) (string, int) {
	t.Helper()
	host, port, err := net.SplitHostPort(s.ln.Addr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return host, p
}

func (s *fakeSMTPServer) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.sessions++
		s.mu.Unlock()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn)
		}()
	}
}

func (s *fakeSMTPServer) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	reply := func(line string) {
		_, _ = conn.Write([]byte(line + "\r\n"))
	}

	reply("220 localhost ESMTP fake")
	var cur receivedMail
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		cmd := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
			reply("250 localhost")
		case strings.HasPrefix(cmd, "MAIL FROM:"):
			cur = receivedMail{from: trimAngle(line[len("MAIL FROM:"):])}
			reply("250 OK")
		case strings.HasPrefix(cmd, "RCPT TO:"):
			rcpt := trimAngle(line[len("RCPT TO:"):])
			if s.reject[rcpt] {
				reply("550 mailbox unavailable")
				continue
			}
			cur.rcpts = append(cur.rcpts, rcpt)
			reply("250 OK")
		case cmd == "DATA":
			reply("354 end data with <CR><LF>.<CR><LF>")
			var b strings.Builder
			for {
				dl, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if dl == ".\r\n" {
					break
				}
				b.WriteString(strings.TrimPrefix(dl, "."))
			}
			cur.data = b.String()
			s.mu.Lock()
			s.received = append(s.received, cur)
			s.mu.Unlock()
			reply("250 OK queued")
		case cmd == "RSET", cmd == "NOOP":
			reply("250 OK")
		case cmd == "QUIT":
			reply("221 bye")
			return
		default:
			reply("502 command not implemented")
		}
	}
}

func (s *fakeSMTPServer) messages() []receivedMail {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]receivedMail(nil), s.received...)
}

func (s *fakeSMTPServer) sessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions
}

func trimAngle(v string) string {
	v = strings.TrimSpace(v)
	if i := strings.IndexByte(v, ' '); i >= 0 {
		v = v[:i]
	}
	return strings.Trim(v, "<>")
}

func newTestSMTPTransport(t *testing.T, srv *fakeSMTPServer) *SMTPTransport {
	t.Helper()
	host, port := srv.hostPort(t)
	return NewSMTPTransport(SMTPConfig{Host: host, Port: port, LocalName: "mailer.test"}, "Lesson Planner", nil, zaptest.NewLogger(t).Sugar())
}

func TestSMTPTransport_DeliversOverOneSession(t *testing.T) {
	srv := newFakeSMTPServer(t)
	tr := newTestSMTPTransport(t, srv)
	st := newTestFileStorage(t)
	q := NewQueue(st, nil)
	s := NewSenderService(q, st, tr, nil, SenderConfig{FromAddress: "noreply@school.example"}, nil, nil)

	a := newTestMessage("First", false, 0)
	b := newTestMessage("Second", true, 1)
	b.Recipients = []string{"anna@school.example", "ben@school.example"}
	require.NoError(t, q.Enqueue(a))
	require.NoError(t, q.Enqueue(b))

	require.NoError(t, s.ProcessQueue(context.Background()))

	got := srv.messages()
	require.Len(t, got, 2)
	assert.Equal(t, 1, srv.sessionCount())
	assert.Equal(t, "noreply@school.example", got[0].from)
	assert.Equal(t, []string{"anna@school.example", "ben@school.example"}, got[0].rcpts)
	assert.Contains(t, got[0].data, "Subject: Second")
	assert.Contains(t, got[0].data, "X-Priority: 1 (Highest)")
	assert.Contains(t, got[1].data, "Subject: First")
	assert.Contains(t, got[1].data, "Message-ID: <"+a.ID+"@school.example>")
	assert.True(t, q.IsEmpty())
}

func TestSMTPTransport_RejectedRecipientIsRetried(t *testing.T) {
	srv := newFakeSMTPServer(t, "gone@school.example")
	tr := newTestSMTPTransport(t, srv)
	st := newTestFileStorage(t)
	q := NewQueue(st, nil)
	s := NewSenderService(q, st, tr, nil, SenderConfig{FromAddress: "noreply@school.example", MaxRetries: 2}, nil, nil)

	bad := newTestMessage("Bounce", false, 0)
	bad.Recipients = []string{"gone@school.example"}
	good := newTestMessage("Fine", false, 1)
	require.NoError(t, q.Enqueue(bad))
	require.NoError(t, q.Enqueue(good))

	require.NoError(t, s.ProcessQueue(context.Background()))

	got := srv.messages()
	require.Len(t, got, 1)
	assert.Contains(t, got[0].data, "Subject: Fine")

	quarantined, found, err := st.ReadBadMessage(bad.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 2, quarantined.RetryCount)
	assert.Contains(t, quarantined.LastError, "550")
}

func TestSMTPTransport_UnreachableRelay(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	require.NoError(t, ln.Close())

	tr := NewSMTPTransport(SMTPConfig{Host: "127.0.0.1", Port: addr.Port}, "", nil, nil)
	assert.Equal(t, "smtp", tr.Name())
	assert.Equal(t, "127.0.0.1", tr.Host())
	assert.Equal(t, addr.Port, tr.Port())

	st := newTestFileStorage(t)
	q := NewQueue(st, nil)
	s := NewSenderService(q, st, tr, nil, SenderConfig{FromAddress: "noreply@school.example"}, nil, nil)
	require.NoError(t, q.Enqueue(newTestMessage("plan", false, 0)))

	err = s.ProcessQueue(context.Background())
	require.ErrorIs(t, err, ErrConnectionFailed)
	assert.Equal(t, 1, q.Count())
	assert.True(t, s.State().Snapshot().Paused(time.Now()))
}

func TestSMTPTransport_OpenHonoursCancelledContext(t *testing.T) {
	tr := NewSMTPTransport(SMTPConfig{Host: "127.0.0.1", Port: 1}, "", nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := tr.Open(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
