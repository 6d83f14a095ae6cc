// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package mail

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"k8s.io/utils/clock"
	"k8s.io/utils/ptr"

	"github.com/telekom/lessonplan-mailer/pkg/audit"
	"github.com/telekom/lessonplan-mailer/pkg/metrics"
)

// ErrConnectionFailed wraps transport open failures returned by ProcessQueue.
var ErrConnectionFailed = errors.New("mail transport connection failed")

const (
	defaultMaxRetries      = 3
	defaultPauseAfterError = 5 * time.Minute
)

// SenderConfig holds the delivery policy of a SenderService.
type SenderConfig struct {
	// FromAddress is the envelope sender used for every message.
	FromAddress string
	// MaxRetries is the number of failed attempts after which a message is
	// quarantined. Default: 3
	MaxRetries int
	// PauseAfterError is how long the sender should rest after the transport
	// could not be opened. Default: 5m
	PauseAfterError time.Duration
	// DelayBetweenMessages spaces consecutive sends within one drain cycle.
	DelayBetweenMessages time.Duration
}

// SenderService drains the queue against a transport. At most one drain cycle
// runs at a time.
type SenderService struct {
	queue     *Queue
	storage   Storage
	transport Transport
	state     *SenderState
	auditor   *audit.Manager
	log       *zap.SugaredLogger
	clock     clock.PassiveClock
	cfg       SenderConfig

	drainMu sync.Mutex
}

// NewSenderService wires the sender. auditor may be nil.
func NewSenderService(queue *Queue, storage Storage, transport Transport, state *SenderState,
	cfg SenderConfig, auditor *audit.Manager, log *zap.SugaredLogger,
) *SenderService {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.PauseAfterError <= 0 {
		cfg.PauseAfterError = defaultPauseAfterError
	}
	if cfg.DelayBetweenMessages < 0 {
		cfg.DelayBetweenMessages = 0
	}
	if state == nil {
		state = NewSenderState()
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	log = log.Named("mail-sender")
	log.Infow("Initializing mail sender",
		"transport", transport.Name(),
		"from", cfg.FromAddress,
		"maxRetries", cfg.MaxRetries,
		"pauseAfterError", cfg.PauseAfterError.String(),
		"delayBetweenMessages", cfg.DelayBetweenMessages.String())

	return &SenderService{
		queue:     queue,
		storage:   storage,
		transport: transport,
		state:     state,
		auditor:   auditor,
		log:       log,
		clock:     clock.RealClock{},
		cfg:       cfg,
	}
}

// WithClock replaces the time source, for tests.
func (s *SenderService) WithClock(c clock.PassiveClock) *SenderService {
	s.clock = c
	return s
}

// State returns the shared sender state.
func (s *SenderService) State() *SenderState {
	return s.state
}

// WithDrainLock runs fn while no drain cycle is active. Cycles started
// meanwhile wait until fn returns.
func (s *SenderService) WithDrainLock(fn func()) {
	s.drainMu.Lock()
	defer s.drainMu.Unlock()
	fn()
}

// ProcessQueue runs one drain cycle. Per-message send failures are handled by
// the retry policy and never returned; a transport that cannot be opened
// aborts the cycle with ErrConnectionFailed; storage failures are returned
// as they are.
func (s *SenderService) ProcessQueue(ctx context.Context) error {
	if s.queue.IsEmpty() {
		return nil
	}

	s.drainMu.Lock()
	defer s.drainMu.Unlock()

	// A concurrent cycle may have drained everything while we waited.
	if s.queue.IsEmpty() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.state.SetActive(true)
	metrics.MailSenderActive.Set(1)
	start := s.clock.Now()
	defer func() {
		s.state.SetActive(false)
		metrics.MailSenderActive.Set(0)
		metrics.MailDrainDuration.Observe(s.clock.Since(start).Seconds())
	}()

	conn, err := s.transport.Open(ctx)
	if err != nil {
		now := s.clock.Now()
		s.state.RecordConnectionError(err, now, s.cfg.PauseAfterError)
		metrics.MailConnectionFailures.WithLabelValues(s.transport.Name()).Inc()
		s.log.Warnw("Cannot open mail transport, pausing sender",
			"transport", s.transport.Name(),
			"error", err,
			"pauseUntil", now.Add(s.cfg.PauseAfterError).Format(time.RFC3339))
		s.auditor.Record(ctx, &audit.Event{
			Type:      audit.EventTransportUnavailable,
			Transport: s.transport.Name(),
			Error:     err.Error(),
		})
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			s.log.Warnw("Error closing mail transport connection", "transport", s.transport.Name(), "error", err)
		}
	}()

	limit := rate.Inf
	if s.cfg.DelayBetweenMessages > 0 {
		limit = rate.Every(s.cfg.DelayBetweenMessages)
	}
	pacer := rate.NewLimiter(limit, 1)

	processed := 0
	for !s.queue.IsEmpty() {
		if err := pacer.Wait(ctx); err != nil {
			s.log.Infow("Drain cycle interrupted", "processed", processed, "remaining", s.queue.Count())
			return err
		}
		msg, ok := s.queue.TryDequeue()
		if !ok {
			break
		}
		if err := s.deliver(ctx, conn, msg); err != nil {
			return err
		}
		processed++
	}

	s.log.Debugw("Drain cycle finished", "processed", processed)
	return nil
}

// deliver sends a single message and applies the retry policy. Only storage
// errors and cancellation are returned.
func (s *SenderService) deliver(ctx context.Context, conn Connection, msg *EmailMessage) error {
	now := s.clock.Now()
	msg.LastAttempt = ptr.To(now)

	sendErr := conn.Send(ctx, msg, s.cfg.FromAddress)
	if sendErr == nil {
		if err := s.storage.DeleteMessage(msg.ID); err != nil {
			return fmt.Errorf("delete delivered message %s: %w", msg.ID, err)
		}
		s.state.ClearError()
		metrics.MailSent.WithLabelValues(s.transport.Name()).Inc()
		s.log.Infow("Email sent",
			"id", msg.ID,
			"recipients", len(msg.Recipients),
			"attempt", msg.RetryCount+1)
		s.auditor.Record(ctx, s.eventFor(audit.EventMailSent, msg))
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		// Interrupted by shutdown, not a delivery failure.
		if err := s.queue.Requeue(msg); err != nil {
			return err
		}
		return ctxErr
	}

	msg.RetryCount++
	msg.LastError = sendErr.Error()
	s.state.RecordSendError(sendErr, now)
	metrics.MailSendFailures.WithLabelValues(s.transport.Name()).Inc()

	if msg.RetryCount < s.cfg.MaxRetries {
		if err := s.queue.Requeue(msg); err != nil {
			return err
		}
		metrics.MailRequeued.Inc()
		s.log.Warnw("Email send failed, requeued",
			"id", msg.ID,
			"retryCount", msg.RetryCount,
			"maxRetries", s.cfg.MaxRetries,
			"error", sendErr)
		s.auditor.Record(ctx, s.eventFor(audit.EventMailRequeued, msg))
		return nil
	}

	if err := s.storage.MoveToBadEmail(msg); err != nil {
		return err
	}
	metrics.MailQuarantined.Inc()
	s.log.Errorw("Email send failed after all retries, quarantined",
		"id", msg.ID,
		"retryCount", msg.RetryCount,
		"recipients", msg.Recipients,
		"subject", msg.Subject,
		"error", sendErr)
	s.auditor.Record(ctx, s.eventFor(audit.EventMailQuarantined, msg))
	return nil
}

func (s *SenderService) eventFor(t audit.EventType, msg *EmailMessage) *audit.Event {
	return &audit.Event{
		Type:       t,
		Transport:  s.transport.Name(),
		MessageID:  msg.ID,
		Subject:    msg.Subject,
		Recipients: len(msg.Recipients),
		Priority:   msg.Priority,
		RetryCount: msg.RetryCount,
		Error:      msg.LastError,
	}
}
