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
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/telekom/lessonplan-mailer/pkg/metrics"
)

const defaultDrainInterval = 30 * time.Second

// drainer is the part of SenderService the dispatcher drives.
type drainer interface {
	ProcessQueue(ctx context.Context) error
	State() *SenderState
}

// Dispatcher runs drain cycles in the background: on every tick and whenever
// Trigger is called. Triggers that arrive while a cycle is pending collapse
// into one. While the sender is paused after a connection error, cycles are
// skipped unless forced.
type Dispatcher struct {
	sender   drainer
	interval time.Duration
	clock    clock.PassiveClock
	log      *zap.SugaredLogger

	trigger chan struct{}
	force   atomic.Bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup
}

// NewDispatcher creates a stopped dispatcher. interval <= 0 selects 30s.
func NewDispatcher(sender drainer, interval time.Duration, log *zap.SugaredLogger) *Dispatcher {
	if interval <= 0 {
		interval = defaultDrainInterval
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Dispatcher{
		sender:   sender,
		interval: interval,
		clock:    clock.RealClock{},
		log:      log.Named("mail-dispatcher"),
		trigger:  make(chan struct{}, 1),
	}
}

// WithClock replaces the time source used for the pause check, for tests.
func (d *Dispatcher) WithClock(c clock.PassiveClock) *Dispatcher {
	d.clock = c
	return d
}

// Start launches the background worker. Calling Start on a running
// dispatcher has no effect; a stopped dispatcher can be started again.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.running = true

	d.log.Infow("Starting mail dispatcher", "interval", d.interval.String())
	d.wg.Add(1)
	go d.worker(ctx)
}

// Trigger requests a drain cycle as soon as possible. force bypasses the
// pause window after a connection error.
func (d *Dispatcher) Trigger(force bool) {
	if force {
		d.force.Store(true)
	}
	select {
	case d.trigger <- struct{}{}:
	default:
		// a cycle is already pending
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			d.log.Errorw("panic in mail dispatcher recovered", "panic", r)
			// Restart the worker to keep draining
			if ctx.Err() == nil {
				d.wg.Add(1)
				go d.worker(ctx)
			}
		}
	}()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.log.Info("Mail dispatcher shutting down")
			return
		case <-ticker.C:
			d.runCycle(ctx, false)
		case <-d.trigger:
			d.runCycle(ctx, d.force.Swap(false))
		}
	}
}

func (d *Dispatcher) runCycle(ctx context.Context, force bool) {
	now := d.clock.Now()
	if status := d.sender.State().Snapshot(); !force && status.Paused(now) {
		metrics.MailDrainsSkipped.WithLabelValues("paused").Inc()
		d.log.Debugw("Skipping drain cycle, sender paused after connection error",
			"pauseUntil", status.PauseAfterErrorUntil.Format(time.RFC3339),
			"lastError", status.LastError)
		return
	}

	err := d.sender.ProcessQueue(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrConnectionFailed):
		// already logged and recorded by the sender
	case errors.Is(err, context.Canceled):
		d.log.Infow("Drain cycle cancelled")
	default:
		d.log.Errorw("Drain cycle failed", "error", err)
	}
}

// Stop cancels an in-flight cycle between messages and waits for the worker.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
	}
	d.running = false
	d.mu.Unlock()
	d.log.Info("Stopping mail dispatcher")

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.log.Info("Mail dispatcher stopped gracefully")
		return nil
	case <-ctx.Done():
		d.log.Warnw("Mail dispatcher shutdown timeout, a drain cycle may still be running")
		return ctx.Err()
	}
}
