package config

import "fmt"

// Error is a fatal configuration problem detected while parsing a YAML
// config file or the CLI flag surface — spec.md §7's ConfigError class:
// fatal at init, never recovered from mid-run.
type Error struct {
	Source string // file path or "cli"
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: field %q: %s", e.Source, e.Field, e.Reason)
}

// NewError builds a config Error.
func NewError(source, field, reason string) *Error {
	return &Error{Source: source, Field: field, Reason: reason}
}
