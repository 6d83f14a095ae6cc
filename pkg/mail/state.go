// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package mail

import (
	"sync"
	"time"
)

// SenderStatus is a point-in-time copy of SenderState.
type SenderStatus struct {
	Active               bool      `json:"active" yaml:"active"`
	LastError            string    `json:"lastError,omitempty" yaml:"lastError,omitempty"`
	LastErrorTime        time.Time `json:"lastErrorTime,omitempty" yaml:"lastErrorTime,omitempty"`
	PauseAfterErrorUntil time.Time `json:"pauseAfterErrorUntil,omitempty" yaml:"pauseAfterErrorUntil,omitempty"`
}

// Paused reports whether the pause window is still open at now.
func (s SenderStatus) Paused(now time.Time) bool {
	return !s.PauseAfterErrorUntil.IsZero() && now.Before(s.PauseAfterErrorUntil)
}

// SenderState is the process-wide sender health record. SenderService writes
// it; health and status endpoints read snapshots.
type SenderState struct {
	mu     sync.RWMutex
	status SenderStatus
}

// NewSenderState returns an idle state with no recorded error.
func NewSenderState() *SenderState {
	return &SenderState{}
}

// Snapshot returns a copy safe to read without holding the lock.
func (s *SenderState) Snapshot() SenderStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *SenderState) SetActive(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Active = active
}

// RecordConnectionError stores the error and opens the pause window.
func (s *SenderState) RecordConnectionError(err error, now time.Time, pause time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.LastError = err.Error()
	s.status.LastErrorTime = now
	s.status.PauseAfterErrorUntil = now.Add(pause)
}

// RecordSendError stores a per-message failure without pausing the sender.
func (s *SenderState) RecordSendError(err error, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.LastError = err.Error()
	s.status.LastErrorTime = now
}

// ClearError signals recovery after a successful send.
func (s *SenderState) ClearError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.LastError = ""
	s.status.LastErrorTime = time.Time{}
}

// Paused reports whether a connection error pause is in effect at now.
func (s *SenderState) Paused(now time.Time) bool {
	return s.Snapshot().Paused(now)
}
