package model

import "errors"

var (
	// ErrResourceExhausted is returned when a PTY or child process cannot
	// be allocated, or the configured session cap is reached.
	ErrResourceExhausted = errors.New("terminal resources exhausted")

	// ErrNotFound is returned when a session id is unknown.
	ErrNotFound = errors.New("session not found")

	// ErrConflict is returned when a client tries to attach to a session
	// that already has an attached client.
	ErrConflict = errors.New("session already has an attached client")

	// ErrSessionClosed is returned for operations on a session that is
	// closing or closed.
	ErrSessionClosed = errors.New("session is closed")

	// ErrTimeout is returned when a one-shot execution exceeds its bound.
	// The subprocess is killed before the error is surfaced.
	ErrTimeout = errors.New("execution timed out")

	// ErrExecutionFailed is returned when a one-shot subprocess cannot be
	// spawned at all.
	ErrExecutionFailed = errors.New("execution failed")
)
