/*
Copyright 2024.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package audit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/telekom/lessonplan-mailer/pkg/metrics"
)

// Manager fans audit events out to its sinks from a bounded queue so that
// recording never blocks mail delivery.
type Manager struct {
	sinks  []Sink
	queue  chan *Event
	logger *zap.Logger
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	queuedEvents    atomic.Int64
	droppedEvents   atomic.Int64
	processedEvents atomic.Int64

	config ManagerConfig
}

// ManagerConfig configures the audit Manager.
type ManagerConfig struct {
	// QueueSize is the size of the async event queue.
	// Default: 10000
	QueueSize int

	// WorkerCount is the number of async processing workers.
	// Default: 2
	WorkerCount int

	// WriteTimeout is the timeout for writing to each sink.
	// Default: 5s
	WriteTimeout time.Duration
}

// DefaultManagerConfig returns the default configuration.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		QueueSize:    10000,
		WorkerCount:  2,
		WriteTimeout: 5 * time.Second,
	}
}

// NewManager starts the workers. With no sinks the manager accepts and
// discards events.
func NewManager(cfg ManagerConfig, logger *zap.Logger, sinks ...Sink) *Manager {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 10000
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 2
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}

	m := &Manager{
		sinks:  sinks,
		queue:  make(chan *Event, cfg.QueueSize),
		logger: logger.Named("audit-manager"),
		config: cfg,
	}

	for i := 0; i < cfg.WorkerCount; i++ {
		m.wg.Add(1)
		go m.processQueue(i)
	}

	names := make([]string, 0, len(sinks))
	for _, s := range sinks {
		names = append(names, s.Name())
	}
	logger.Info("audit manager started",
		zap.Int("queue_size", cfg.QueueSize),
		zap.Int("workers", cfg.WorkerCount),
		zap.Strings("sinks", names))

	return m
}

// Record enqueues an event without blocking. If the queue is full the event is
// dropped. A nil Manager ignores all events.
func (m *Manager) Record(_ context.Context, event *Event) {
	if m == nil || event == nil {
		return
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Severity == "" {
		event.Severity = SeverityForEventType(event.Type)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}

	select {
	case m.queue <- event:
		m.queuedEvents.Add(1)
	default:
		m.droppedEvents.Add(1)
		metrics.AuditEventsDropped.Inc()
		m.logger.Warn("audit queue full, dropping event",
			zap.String("event_type", string(event.Type)),
			zap.String("event_id", event.ID))
	}
}

func (m *Manager) processQueue(workerID int) {
	defer m.wg.Done()

	for event := range m.queue {
		for _, sink := range m.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), m.config.WriteTimeout)
			if err := sink.Write(ctx, event); err != nil {
				m.logger.Error("failed to write audit event",
					zap.Int("worker", workerID),
					zap.String("sink", sink.Name()),
					zap.String("event_id", event.ID),
					zap.String("event_type", string(event.Type)),
					zap.Error(err))
				metrics.AuditEventsFailed.WithLabelValues(sink.Name()).Inc()
			} else {
				metrics.AuditEventsWritten.WithLabelValues(sink.Name()).Inc()
			}
			cancel()
		}
		m.processedEvents.Add(1)
	}
}

// Close drains the queue, waits for the workers and closes every sink.
func (m *Manager) Close() error {
	if m == nil {
		return nil
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.queue)
	m.mu.Unlock()

	m.wg.Wait()

	m.logger.Info("audit manager stopped",
		zap.Int64("processed", m.processedEvents.Load()),
		zap.Int64("dropped", m.droppedEvents.Load()))

	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stats returns current audit manager statistics.
func (m *Manager) Stats() ManagerStats {
	return ManagerStats{
		QueuedEvents:    m.queuedEvents.Load(),
		DroppedEvents:   m.droppedEvents.Load(),
		ProcessedEvents: m.processedEvents.Load(),
		QueueLength:     len(m.queue),
	}
}

// ManagerStats contains audit manager statistics.
type ManagerStats struct {
	QueuedEvents    int64
	DroppedEvents   int64
	ProcessedEvents int64
	QueueLength     int
}
