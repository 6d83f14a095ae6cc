// Package apiresponses provides the standardized JSON error and success
// responses of the mailer HTTP API, shared with the rate limiting middleware.
package apiresponses
