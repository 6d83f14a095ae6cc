// Package mail delivers the application's outbound email. Messages are
// persisted by a Storage, ordered by a two-lane priority Queue and drained by a
// SenderService against an SMTP or SES Transport, with retry and quarantine of
// undeliverable messages. Service ties these together with a background
// Dispatcher; templates.go renders the application's notification emails.
package mail
