// Package client is the mailctl HTTP client for the mailer API.
package client
