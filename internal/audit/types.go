package audit

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("audit store disabled")

// Config configures the run log.
//
// Driver values:
//   - "file": dependency-free append-only JSON Lines
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", the run log is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Entry records one finished script execution.
// Keep it compact and schema-stable.
type Entry struct {
	At          time.Time `json:"at"`
	TaskID      string    `json:"task_id"`
	ExecutionID string    `json:"execution_id"`
	Script      string    `json:"script"`
	Success     bool      `json:"success"`
	ExitCode    int       `json:"exit_code"`
	TookMS      int64     `json:"took_ms"`
	Error       string    `json:"error,omitempty"`
}
