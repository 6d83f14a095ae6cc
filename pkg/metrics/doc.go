// Package metrics defines Prometheus metrics for the lesson plan mailer,
// covering the outbound queue, delivery attempts, audit sinks and the HTTP API.
package metrics
