// SPDX-FileCopyrightText: 2024 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"time"
)

// EventType represents the type of audit event.
type EventType string

const (
	// === Message lifecycle events ===
	EventMailQueued      EventType = "mail.queued"
	EventMailSent        EventType = "mail.sent"
	EventMailRequeued    EventType = "mail.requeued"
	EventMailQuarantined EventType = "mail.quarantined"
	EventMailRestored    EventType = "mail.restored"
	EventQueuePurged     EventType = "queue.purged"

	// === Transport events ===
	EventTransportUnavailable EventType = "transport.unavailable"

	// === System events ===
	EventSystemStartup  EventType = "system.startup"
	EventSystemShutdown EventType = "system.shutdown"
)

// Severity represents the severity level of an audit event
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event represents a single audit event
type Event struct {
	// ID is a unique identifier for this event
	ID string `json:"id"`

	// Type is the type of event
	Type EventType `json:"type"`

	// Severity indicates the importance of the event
	Severity Severity `json:"severity"`

	// Timestamp is when the event occurred
	Timestamp time.Time `json:"timestamp"`

	// MessageID is the id of the email the event is about, if any
	MessageID string `json:"messageId,omitempty"`

	Subject    string `json:"subject,omitempty"`
	Recipients int    `json:"recipients,omitempty"`
	Priority   bool   `json:"priority,omitempty"`
	RetryCount int    `json:"retryCount,omitempty"`

	// Count is the number of messages affected by bulk operations
	Count int `json:"count,omitempty"`

	// Transport is the name of the transport involved (smtp, ses)
	Transport string `json:"transport,omitempty"`

	// Error carries the last delivery error
	Error string `json:"error,omitempty"`

	// Actor is the operator or client address for API and CLI triggered actions
	Actor string `json:"actor,omitempty"`
}

// SeverityForEventType returns the default severity for an event type
func SeverityForEventType(eventType EventType) Severity {
	switch eventType {
	case EventMailQuarantined, EventTransportUnavailable:
		return SeverityCritical
	case EventMailRequeued, EventQueuePurged:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}
