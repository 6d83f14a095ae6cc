// Package cmd implements the mailctl cobra commands: serve runs the mailer,
// the remaining commands operate a running mailer over its HTTP API.
package cmd
