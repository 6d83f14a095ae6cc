/*
Copyright 2026.

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

package mail

import (
	"fmt"
	"sort"
	"sync"

	"github.com/moveaxlab/go-optional"
	"go.uber.org/zap"

	"github.com/telekom/lessonplan-mailer/pkg/metrics"
)

// Lane names used in logs, metrics and snapshots.
const (
	LaneHigh   = "high"
	LaneNormal = "normal"
)

// QueueSnapshot lists the ids waiting in each lane, in dispatch order.
type QueueSnapshot struct {
	High   []string `json:"high" yaml:"high"`
	Normal []string `json:"normal" yaml:"normal"`
}

// Queue is the in-memory dispatch order over a Storage. High priority
// messages are always dispatched before normal ones; each lane is FIFO.
type Queue struct {
	storage Storage
	log     *zap.SugaredLogger

	mu     sync.Mutex
	high   []*EmailMessage
	normal []*EmailMessage
}

// NewQueue creates an empty queue. Call LoadFromStorage to pick up messages
// persisted by a previous run.
func NewQueue(storage Storage, log *zap.SugaredLogger) *Queue {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Queue{
		storage: storage,
		log:     log.Named("mail-queue"),
	}
}

// Enqueue persists the message and appends it to its lane.
func (q *Queue) Enqueue(msg *EmailMessage) error {
	if msg == nil {
		return ErrNilMessage
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.storage.WriteMessage(msg); err != nil {
		return fmt.Errorf("persist message %s: %w", msg.ID, err)
	}
	q.appendLocked(msg)

	q.log.Debugw("Email queued",
		"id", msg.ID,
		"lane", msg.lane(),
		"recipients", len(msg.Recipients),
		"subject", msg.Subject)
	return nil
}

// Dequeue pops the next message by lane priority. Storage is left untouched;
// deleting the file is up to the caller once delivery is confirmed.
func (q *Queue) Dequeue() optional.Optional[EmailMessage] {
	q.mu.Lock()
	defer q.mu.Unlock()

	var msg *EmailMessage
	switch {
	case len(q.high) > 0:
		msg = q.high[0]
		q.high[0] = nil
		q.high = q.high[1:]
	case len(q.normal) > 0:
		msg = q.normal[0]
		q.normal[0] = nil
		q.normal = q.normal[1:]
	default:
		return optional.Empty[EmailMessage]()
	}
	q.updateDepthLocked()
	return optional.Of(msg)
}

// TryDequeue is Dequeue in comma-ok form.
func (q *Queue) TryDequeue() (*EmailMessage, bool) {
	var msg *EmailMessage
	q.Dequeue().IfPresent(func(m *EmailMessage) {
		msg = m
	})
	return msg, msg != nil
}

// Requeue persists the message again and appends it at the tail of the lane
// matching its current priority, behind everything already waiting.
func (q *Queue) Requeue(msg *EmailMessage) error {
	if msg == nil {
		return ErrNilMessage
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.storage.WriteMessage(msg); err != nil {
		return fmt.Errorf("persist requeued message %s: %w", msg.ID, err)
	}
	q.appendLocked(msg)

	q.log.Debugw("Email requeued",
		"id", msg.ID,
		"lane", msg.lane(),
		"retryCount", msg.RetryCount)
	return nil
}

// LoadFromStorage rebuilds both lanes from storage and returns the number of
// messages indexed. Ids that vanish while loading are skipped. Storage keeps
// no insertion order, so each lane is ordered by creation time. The queue is
// locked for the whole rebuild so concurrent enqueues land after it.
func (q *Queue) LoadFromStorage() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ids, err := q.storage.MessageIDs()
	if err != nil {
		return 0, fmt.Errorf("list stored messages: %w", err)
	}

	loaded := make([]*EmailMessage, 0, len(ids))
	for _, id := range ids {
		msg, found, err := q.storage.ReadMessage(id)
		if err != nil {
			return 0, fmt.Errorf("load message %s: %w", id, err)
		}
		if !found {
			continue
		}
		loaded = append(loaded, msg)
	}
	sort.SliceStable(loaded, func(i, j int) bool {
		return loaded[i].Created.Before(loaded[j].Created)
	})

	q.high = nil
	q.normal = nil
	for _, msg := range loaded {
		q.appendLocked(msg)
	}
	q.updateDepthLocked()

	q.log.Infow("Mail queue loaded from storage",
		"messages", len(loaded),
		"high", len(q.high),
		"normal", len(q.normal))
	return len(loaded), nil
}

// Clear deletes every queued message from storage and empties both lanes.
// Quarantined messages are kept. It returns the number of indexed messages
// that were dropped.
func (q *Queue) Clear() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.storage.DeleteAllMessages(); err != nil {
		return 0, fmt.Errorf("delete queued messages: %w", err)
	}
	n := len(q.high) + len(q.normal)
	q.high = nil
	q.normal = nil
	q.updateDepthLocked()
	return n, nil
}

// Count returns the number of indexed messages across both lanes.
func (q *Queue) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.high) + len(q.normal)
}

// IsEmpty reports whether both lanes are empty.
func (q *Queue) IsEmpty() bool {
	return q.Count() == 0
}

// Snapshot returns the ids in dispatch order for each lane.
func (q *Queue) Snapshot() QueueSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := QueueSnapshot{
		High:   make([]string, 0, len(q.high)),
		Normal: make([]string, 0, len(q.normal)),
	}
	for _, m := range q.high {
		s.High = append(s.High, m.ID)
	}
	for _, m := range q.normal {
		s.Normal = append(s.Normal, m.ID)
	}
	return s
}

func (q *Queue) appendLocked(msg *EmailMessage) {
	if msg.Priority {
		q.high = append(q.high, msg)
	} else {
		q.normal = append(q.normal, msg)
	}
	q.updateDepthLocked()
}

func (q *Queue) updateDepthLocked() {
	metrics.MailQueueDepth.WithLabelValues(LaneHigh).Set(float64(len(q.high)))
	metrics.MailQueueDepth.WithLabelValues(LaneNormal).Set(float64(len(q.normal)))
}
