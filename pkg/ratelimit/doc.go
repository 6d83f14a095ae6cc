// Package ratelimit provides per-client-IP token-bucket rate limiting
// middleware for the mailer's Gin HTTP API, with automatic stale-entry cleanup.
package ratelimit
