// Package config loads the mailer configuration from a YAML file, an optional
// .env file and environment variable overrides.
package config
