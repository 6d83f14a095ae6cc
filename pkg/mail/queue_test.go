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
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telekom/lessonplan-mailer/pkg/metrics"
	"github.com/telekom/lessonplan-mailer/pkg/system"
)

func dequeueIDs(t *testing.T, q *Queue) []string {
	t.Helper()
	var ids []string
	for {
		msg, ok := q.TryDequeue()
		if !ok {
			return ids
		}
		ids = append(ids, msg.ID)
	}
}

func TestQueue_PriorityBeforeNormal(t *testing.T) {
	q := NewQueue(newTestFileStorage(t), system.NewTestLogger())

	n1 := newTestMessage("n1", false, 0)
	h1 := newTestMessage("h1", true, 1)
	n2 := newTestMessage("n2", false, 2)
	h2 := newTestMessage("h2", true, 3)
	for _, m := range []*EmailMessage{n1, h1, n2, h2} {
		require.NoError(t, q.Enqueue(m))
	}

	assert.Equal(t, 4, q.Count())
	assert.Equal(t, QueueSnapshot{High: []string{h1.ID, h2.ID}, Normal: []string{n1.ID, n2.ID}}, q.Snapshot())
	assert.Equal(t, []string{h1.ID, h2.ID, n1.ID, n2.ID}, dequeueIDs(t, q))
	assert.True(t, q.IsEmpty())
}

func TestQueue_DequeueEmpty(t *testing.T) {
	q := NewQueue(newTestFileStorage(t), nil)
	assert.True(t, q.Dequeue().IsEmpty())
	_, ok := q.TryDequeue()
	assert.False(t, ok)
}

func TestQueue_DequeueLeavesStorage(t *testing.T) {
	st := newTestFileStorage(t)
	q := NewQueue(st, nil)
	msg := newTestMessage("plan", false, 0)
	require.NoError(t, q.Enqueue(msg))

	_, ok := q.TryDequeue()
	require.True(t, ok)

	exists, err := st.MessageExists(msg.ID)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestQueue_RequeueGoesToTail(t *testing.T) {
	st := newTestFileStorage(t)
	q := NewQueue(st, nil)
	a := newTestMessage("a", false, 0)
	b := newTestMessage("b", false, 1)
	require.NoError(t, q.Enqueue(a))
	require.NoError(t, q.Enqueue(b))

	first, ok := q.TryDequeue()
	require.True(t, ok)
	first.RetryCount = 1
	require.NoError(t, q.Requeue(first))

	assert.Equal(t, []string{b.ID, a.ID}, dequeueIDs(t, q))

	stored, found, err := st.ReadMessage(a.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 1, stored.RetryCount, "requeue persists the updated message")
}

func TestQueue_NilMessage(t *testing.T) {
	q := NewQueue(newTestFileStorage(t), nil)
	assert.ErrorIs(t, q.Enqueue(nil), ErrNilMessage)
	assert.ErrorIs(t, q.Requeue(nil), ErrNilMessage)
}

func TestQueue_EnqueueStorageFailureKeepsQueueUnchanged(t *testing.T) {
	st := newTestFileStorage(t)
	q := NewQueue(st, nil)
	require.NoError(t, os.RemoveAll(st.QueueDir()))

	err := q.Enqueue(newTestMessage("plan", false, 0))
	assert.Error(t, err)
	assert.True(t, q.IsEmpty())
}

func TestQueue_ConcurrentEnqueue(t *testing.T) {
	st := newTestFileStorage(t)
	q := NewQueue(st, nil)

	const producers = 100
	var wg sync.WaitGroup
	errs := make(chan error, producers)
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- q.Enqueue(newTestMessage(fmt.Sprintf("plan %d", i), i%3 == 0, i))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, producers, q.Count())
	n, err := st.MessagesCount()
	require.NoError(t, err)
	assert.Equal(t, producers, n)

	seen := map[string]bool{}
	for _, id := range dequeueIDs(t, q) {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, producers)
}

func TestQueue_LoadFromStorageOrdersByCreation(t *testing.T) {
	st := newTestFileStorage(t)
	late := newTestMessage("late", false, 10)
	early := newTestMessage("early", false, 1)
	urgent := newTestMessage("urgent", true, 20)
	for _, m := range []*EmailMessage{late, urgent, early} {
		require.NoError(t, st.WriteMessage(m))
	}

	q := NewQueue(st, nil)
	n, err := q.LoadFromStorage()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{urgent.ID, early.ID, late.ID}, dequeueIDs(t, q))
}

func TestQueue_LoadFromStorageReplacesIndex(t *testing.T) {
	st := newTestFileStorage(t)
	q := NewQueue(st, nil)
	require.NoError(t, q.Enqueue(newTestMessage("a", false, 0)))
	require.NoError(t, st.DeleteAllMessages())

	n, err := q.LoadFromStorage()
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.True(t, q.IsEmpty())
}

// vanishingStorage lists an id that is already gone when it is read.
type vanishingStorage struct {
	*FileStorage
	ghost string
}

func (v *vanishingStorage) MessageIDs() ([]string, error) {
	ids, err := v.FileStorage.MessageIDs()
	return append(ids, v.ghost), err
}

func TestQueue_LoadFromStorageSkipsVanished(t *testing.T) {
	st := &vanishingStorage{FileStorage: newTestFileStorage(t), ghost: "gone"}
	require.NoError(t, st.WriteMessage(newTestMessage("a", false, 0)))

	q := NewQueue(st, nil)
	n, err := q.LoadFromStorage()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// failingListStorage fails to list its ids.
type failingListStorage struct {
	*FileStorage
}

func (f *failingListStorage) MessageIDs() ([]string, error) {
	return nil, errors.New("disk on fire")
}

func TestQueue_LoadFromStorageError(t *testing.T) {
	q := NewQueue(&failingListStorage{FileStorage: newTestFileStorage(t)}, nil)
	_, err := q.LoadFromStorage()
	assert.ErrorContains(t, err, "disk on fire")
}

func TestQueue_DepthGauge(t *testing.T) {
	q := NewQueue(newTestFileStorage(t), nil)
	require.NoError(t, q.Enqueue(newTestMessage("h", true, 0)))
	require.NoError(t, q.Enqueue(newTestMessage("n1", false, 1)))
	require.NoError(t, q.Enqueue(newTestMessage("n2", false, 2)))

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.MailQueueDepth.WithLabelValues(LaneHigh)))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.MailQueueDepth.WithLabelValues(LaneNormal)))

	dequeueIDs(t, q)
	assert.Zero(t, testutil.ToFloat64(metrics.MailQueueDepth.WithLabelValues(LaneNormal)))
}

// racingStorage enqueues a message on the queue right after the ids were
// listed, the way a live producer would during a reload.
type racingStorage struct {
	*FileStorage
	queue *Queue
	late  *EmailMessage
	done  chan error
	once  sync.Once
}

func (r *racingStorage) MessageIDs() ([]string, error) {
	ids, err := r.FileStorage.MessageIDs()
	r.once.Do(func() {
		go func() { r.done <- r.queue.Enqueue(r.late) }()
		// give the producer time to reach the queue
		time.Sleep(50 * time.Millisecond)
	})
	return ids, err
}

func TestQueue_LoadFromStorageKeepsConcurrentEnqueue(t *testing.T) {
	st := &racingStorage{
		FileStorage: newTestFileStorage(t),
		late:        newTestMessage("late", false, 1),
		done:        make(chan error, 1),
	}
	require.NoError(t, st.WriteMessage(newTestMessage("stored", false, 0)))
	q := NewQueue(st, nil)
	st.queue = q

	_, err := q.LoadFromStorage()
	require.NoError(t, err)
	require.NoError(t, <-st.done)

	stored, err := st.MessagesCount()
	require.NoError(t, err)
	assert.Equal(t, 2, stored)
	assert.Equal(t, stored, q.Count(), "every stored message is indexed")
	assert.Contains(t, q.Snapshot().Normal, st.late.ID)
}

func TestQueue_Clear(t *testing.T) {
	st := newTestFileStorage(t)
	q := NewQueue(st, nil)
	require.NoError(t, q.Enqueue(newTestMessage("h", true, 0)))
	require.NoError(t, q.Enqueue(newTestMessage("n", false, 1)))
	bad := newTestMessage("bad", false, 2)
	require.NoError(t, st.MoveToBadEmail(bad))

	n, err := q.Clear()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, q.IsEmpty())
	assert.Zero(t, testutil.ToFloat64(metrics.MailQueueDepth.WithLabelValues(LaneHigh)))

	stored, err := st.MessagesCount()
	require.NoError(t, err)
	assert.Zero(t, stored)
	_, found, err := st.ReadBadMessage(bad.ID)
	require.NoError(t, err)
	assert.True(t, found, "quarantine is kept")
}
