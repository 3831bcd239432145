package model

import "time"

// SessionState is the lifecycle state of a terminal session.
type SessionState string

const (
	// StateStarting: PTY and child process are being allocated.
	StateStarting SessionState = "starting"
	// StateRunning: bridge active, session usable.
	StateRunning SessionState = "running"
	// StateClosing: teardown in progress.
	StateClosing SessionState = "closing"
	// StateClosed: all handles released, session removed from the registry.
	StateClosed SessionState = "closed"
)

// CloseReason records which trigger started a session's teardown.
type CloseReason string

const (
	CloseReasonExit     CloseReason = "process_exit"
	CloseReasonClient   CloseReason = "client_request"
	CloseReasonIdle     CloseReason = "idle_timeout"
	CloseReasonShutdown CloseReason = "server_shutdown"
)

// Dimensions holds terminal size in character cells.
type Dimensions struct {
	Rows uint16 `json:"rows"`
	Cols uint16 `json:"cols"`
}

// SessionInfo is the externally visible view of a session.
type SessionInfo struct {
	ID        string       `json:"id"`
	Shell     string       `json:"shell"`
	PID       int          `json:"pid"`
	State     SessionState `json:"state"`
	Rows      uint16       `json:"rows"`
	Cols      uint16       `json:"cols"`
	Attached  bool         `json:"attached"`
	CreatedAt time.Time    `json:"created_at"`
}

// SessionRecord is the persisted history row for a session. ClosedAt,
// ExitCode and CloseReason are zero until the session closes.
type SessionRecord struct {
	ID            string
	Shell         string
	PID           int
	Rows          uint16
	Cols          uint16
	RecordingPath string
	CloseReason   CloseReason
	ExitCode      int
	CreatedAt     time.Time
	ClosedAt      time.Time
}

// ExecRecord is the persisted history row for a one-shot execution.
type ExecRecord struct {
	Command   string
	ExitCode  int
	TimedOut  bool
	Truncated bool
	Duration  time.Duration
	CreatedAt time.Time
}
