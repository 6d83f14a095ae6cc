// Package api implements the Gin based HTTP surface of the mailer: message
// submission for producers, queue and quarantine administration for
// operators, and the health, version and metrics endpoints.
package api
