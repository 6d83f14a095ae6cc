// Package output renders mailctl results as tables, JSON or YAML.
package output
