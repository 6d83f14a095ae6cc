// Package cli wires the mailer process: it binds the serve flags with
// environment fallbacks, builds storage, transport, audit and the mail
// service from the configuration, and runs the HTTP API until shutdown.
package cli
