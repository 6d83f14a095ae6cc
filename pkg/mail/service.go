// SPDX-FileCopyrightText: 2024 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package mail

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/telekom/lessonplan-mailer/pkg/audit"
	"github.com/telekom/lessonplan-mailer/pkg/metrics"
)

// ErrSenderPaused is returned by Drain while the pause window is open.
var ErrSenderPaused = errors.New("mail sender is paused after a connection error")

// ServiceConfig configures a Service.
type ServiceConfig struct {
	Sender SenderConfig
	// DrainInterval is the period of background drain cycles. Default: 30s
	DrainInterval time.Duration
}

// Status summarizes the pipeline for health and status endpoints.
type Status struct {
	Queued      int          `json:"queued" yaml:"queued"`
	High        int          `json:"high" yaml:"high"`
	Normal      int          `json:"normal" yaml:"normal"`
	Stored      int          `json:"stored" yaml:"stored"`
	Quarantined int          `json:"quarantined" yaml:"quarantined"`
	Paused      bool         `json:"paused" yaml:"paused"`
	Transport   string       `json:"transport" yaml:"transport"`
	Sender      SenderStatus `json:"sender" yaml:"sender"`
}

// Service owns the mail pipeline lifecycle: it restores the queue from
// storage on Start, runs the background dispatcher and exposes the operations
// producers and operators use.
type Service struct {
	storage    Storage
	queue      *Queue
	sender     *SenderService
	dispatcher *Dispatcher
	transport  Transport
	auditor    *audit.Manager
	logger     *zap.SugaredLogger
	clock      clock.PassiveClock

	started atomic.Bool
}

// NewService wires storage, queue, sender and dispatcher. auditor may be nil.
func NewService(storage Storage, transport Transport, cfg ServiceConfig, auditor *audit.Manager, logger *zap.SugaredLogger) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	queue := NewQueue(storage, logger)
	sender := NewSenderService(queue, storage, transport, NewSenderState(), cfg.Sender, auditor, logger)
	return &Service{
		storage:    storage,
		queue:      queue,
		sender:     sender,
		dispatcher: NewDispatcher(sender, cfg.DrainInterval, logger),
		transport:  transport,
		auditor:    auditor,
		logger:     logger.Named("mail-service"),
		clock:      clock.RealClock{},
	}
}

// WithClock replaces the time source of the service, its sender and its
// dispatcher, for tests.
func (s *Service) WithClock(c clock.PassiveClock) *Service {
	s.clock = c
	s.sender.WithClock(c)
	s.dispatcher.WithClock(c)
	return s
}

// Queue returns the underlying queue.
func (s *Service) Queue() *Queue { return s.queue }

// Sender returns the underlying sender.
func (s *Service) Sender() *SenderService { return s.sender }

// Start indexes messages left in storage by a previous run and starts the
// dispatcher. Recovered messages are drained right away.
func (s *Service) Start(ctx context.Context) error {
	if s.started.Swap(true) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	n, err := s.queue.LoadFromStorage()
	if err != nil {
		s.started.Store(false)
		return fmt.Errorf("restore mail queue: %w", err)
	}

	s.dispatcher.Start()
	if n > 0 {
		s.logger.Infow("Recovered queued emails from storage", "count", n)
		s.dispatcher.Trigger(false)
	}
	s.auditor.Record(ctx, &audit.Event{Type: audit.EventSystemStartup, Transport: s.transport.Name()})
	return nil
}

// Enqueue validates and queues a message and wakes the dispatcher.
func (s *Service) Enqueue(ctx context.Context, msg *EmailMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if err := s.queue.Enqueue(msg); err != nil {
		return err
	}

	metrics.MailEnqueued.WithLabelValues(msg.lane()).Inc()
	s.logger.Infow("Email queued",
		"id", msg.ID,
		"priority", msg.Priority,
		"recipients", len(msg.Recipients),
		"subject", msg.Subject)
	s.auditor.Record(ctx, &audit.Event{
		Type:       audit.EventMailQueued,
		MessageID:  msg.ID,
		Subject:    msg.Subject,
		Recipients: len(msg.Recipients),
		Priority:   msg.Priority,
	})

	s.dispatcher.Trigger(false)
	return nil
}

// Trigger asks the dispatcher for a drain cycle. force bypasses the pause
// window after a connection error.
func (s *Service) Trigger(force bool) {
	s.dispatcher.Trigger(force)
}

// Drain runs a drain cycle on the caller's goroutine. Unless forced it
// refuses to run while the sender is paused.
func (s *Service) Drain(ctx context.Context, force bool) error {
	if !force && s.sender.State().Paused(s.clock.Now()) {
		return ErrSenderPaused
	}
	return s.sender.ProcessQueue(ctx)
}

// Status reports queue depth, durable counts and sender health.
func (s *Service) Status() (Status, error) {
	stored, err := s.storage.MessagesCount()
	if err != nil {
		return Status{}, err
	}
	bad, err := s.storage.BadMessageIDs()
	if err != nil {
		return Status{}, err
	}
	snap := s.queue.Snapshot()
	sender := s.sender.State().Snapshot()
	return Status{
		Queued:      len(snap.High) + len(snap.Normal),
		High:        len(snap.High),
		Normal:      len(snap.Normal),
		Stored:      stored,
		Quarantined: len(bad),
		Paused:      sender.Paused(s.clock.Now()),
		Transport:   s.transport.Name(),
		Sender:      sender,
	}, nil
}

// Quarantined returns every quarantined message.
func (s *Service) Quarantined() ([]*EmailMessage, error) {
	ids, err := s.storage.BadMessageIDs()
	if err != nil {
		return nil, err
	}
	out := make([]*EmailMessage, 0, len(ids))
	for _, id := range ids {
		msg, found, err := s.storage.ReadBadMessage(id)
		if err != nil {
			return nil, err
		}
		if found {
			out = append(out, msg)
		}
	}
	return out, nil
}

// RestoreQuarantined moves a quarantined message back into the queue. Its
// retry count is kept, so it gets one more attempt before being quarantined
// again.
func (s *Service) RestoreQuarantined(ctx context.Context, id, actor string) (*EmailMessage, error) {
	msg, err := s.storage.RestoreBadEmail(id)
	if err != nil {
		return nil, err
	}
	if err := s.queue.Requeue(msg); err != nil {
		return nil, err
	}

	metrics.MailRestored.Inc()
	s.logger.Infow("Quarantined email restored", "id", id, "retryCount", msg.RetryCount, "actor", actor)
	s.auditor.Record(ctx, &audit.Event{
		Type:       audit.EventMailRestored,
		MessageID:  msg.ID,
		Subject:    msg.Subject,
		Recipients: len(msg.Recipients),
		RetryCount: msg.RetryCount,
		Actor:      actor,
	})
	s.dispatcher.Trigger(true)
	return msg, nil
}

// Purge deletes every queued message. Quarantined messages are kept. It
// waits for an active drain cycle to finish so a message in flight cannot be
// requeued after the purge.
func (s *Service) Purge(ctx context.Context, actor string) (int, error) {
	var (
		n   int
		err error
	)
	s.sender.WithDrainLock(func() {
		n, err = s.queue.Clear()
	})
	if err != nil {
		return 0, err
	}
	s.logger.Warnw("Mail queue purged", "count", n, "actor", actor)
	s.auditor.Record(ctx, &audit.Event{Type: audit.EventQueuePurged, Actor: actor, Count: n})
	return n, nil
}

// Stop stops the dispatcher, cancelling an in-flight drain between messages.
// Queued messages stay in storage for the next Start.
func (s *Service) Stop(ctx context.Context) error {
	if !s.started.Swap(false) {
		return nil
	}
	s.logger.Info("Stopping mail service")
	err := s.dispatcher.Stop(ctx)
	s.auditor.Record(ctx, &audit.Event{Type: audit.EventSystemShutdown, Transport: s.transport.Name()})
	return err
}

// QuarantinedMessage returns a single quarantined message or
// ErrMessageNotFound.
func (s *Service) QuarantinedMessage(id string) (*EmailMessage, error) {
	msg, found, err := s.storage.ReadBadMessage(id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrMessageNotFound, id)
	}
	return msg, nil
}

// Snapshot returns the queued ids in dispatch order.
func (s *Service) Snapshot() QueueSnapshot {
	return s.queue.Snapshot()
}

// Healthy reports false while the sender is paused after a connection error.
func (s *Service) Healthy() (bool, string) {
	st := s.sender.State().Snapshot()
	if st.Paused(s.clock.Now()) {
		return false, fmt.Sprintf("sender paused until %s: %s",
			st.PauseAfterErrorUntil.UTC().Format(time.RFC3339), st.LastError)
	}
	return true, ""
}
