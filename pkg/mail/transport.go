// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package mail

import "context"

// Transport opens connections to the outbound mail endpoint.
type Transport interface {
	// Open establishes a connection. A failure here means the endpoint is
	// unreachable, not that a particular message is bad.
	Open(ctx context.Context) (Connection, error)
	// Name identifies the transport in logs and metrics.
	Name() string
}

// Connection is an open session with the mail endpoint. It is used by a
// single drain cycle and closed at its end.
type Connection interface {
	Send(ctx context.Context, msg *EmailMessage, from string) error
	Close() error
}
