package engine

import (
	"errors"
	"time"

	"github.com/robfig/cron/v3"

	"taskdock/internal/config"
	"taskdock/internal/eventbus"
	"taskdock/internal/execproc"
)

// Event types published on the engine bus. Typed constants keep the event
// surface greppable and make a typo a compile-time concern at the dispatch
// point instead of a silently-dead subscriber.
const (
	EvTaskAdded      eventbus.Type = "task_added"
	EvTaskUpdated    eventbus.Type = "task_updated"
	EvTaskRemoved    eventbus.Type = "task_removed"
	EvTaskToggled    eventbus.Type = "task_toggled"
	EvTaskArchived   eventbus.Type = "task_archived"
	EvConfigReloaded eventbus.Type = "config_reloaded"
	EvExecStarted    eventbus.Type = "task_execution_started"
	EvExecProgress   eventbus.Type = "task_execution_progress"
	EvExecCompleted  eventbus.Type = "task_execution_completed"
	EvExecFailed     eventbus.Type = "task_execution_failed"
	EvExecSkipped    eventbus.Type = "task_execution_skipped"
)

// TaskEvent is the payload for task lifecycle events.
type TaskEvent struct {
	TaskID  string `json:"taskId"`
	Name    string `json:"name,omitempty"`
	Enabled bool   `json:"enabled,omitempty"`
}

// ExecEvent is the payload for execution events.
type ExecEvent struct {
	TaskID      string        `json:"taskId"`
	ExecutionID string        `json:"executionId,omitempty"`
	PID         int           `json:"pid,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
	ExitCode    int           `json:"exitCode,omitempty"`
	Error       string        `json:"error,omitempty"`
	Progress    string        `json:"progress,omitempty"`
	Elapsed     time.Duration `json:"elapsed,omitempty"`
	Reason      string        `json:"reason,omitempty"`
}

// ReloadEvent is the payload for config_reloaded.
type ReloadEvent struct {
	TasksCount int      `json:"tasksCount"`
	Warnings   []string `json:"warnings,omitempty"`
}

var (
	ErrNotStarted     = errors.New("engine not started")
	ErrAlreadyRunning = errors.New("task already running")
	ErrNotRunning     = errors.New("task not running")
	ErrDuplicateID    = errors.New("duplicate task id")
	ErrNotOnceTask    = errors.New("only once tasks can be archived")
)

// taskState is the runtime registration of one enabled task. It is created
// on register and discarded on disable/delete/reload; nothing here persists.
type taskState struct {
	def     *config.TaskDefinition
	entryID cron.EntryID // 0 when no live trigger (once tasks, engine stopped)

	lastRun    time.Time
	runCount   int
	errorCount int
}

// running is the transient record of one in-flight execution.
type running struct {
	executionID string
	def         *config.TaskDefinition // snapshot at dispatch
	startTime   time.Time
	progress    string
	pid         int
	handle      execproc.Handle
	cancelled   bool
}

// TaskInfo is a listing/detail view over a definition plus runtime state.
type TaskInfo struct {
	ID         string                 `json:"id"`
	Definition *config.TaskDefinition `json:"definition"`
	Registered bool                   `json:"registered"`
	Running    bool                   `json:"running"`
	Progress   string                 `json:"progress,omitempty"`
	PID        int                    `json:"pid,omitempty"`
	LastRun    time.Time              `json:"lastRun,omitzero"`
	NextRun    time.Time              `json:"nextRun,omitzero"`
	RunCount   int                    `json:"runCount"`
	ErrorCount int                    `json:"errorCount"`
	Warnings   []string               `json:"warnings,omitempty"`
}

// Status is the engine-level status summary.
type Status struct {
	Running       bool     `json:"running"`
	Timezone      string   `json:"timezone"`
	TasksCount    int      `json:"tasksCount"`
	ArchivedCount int      `json:"archivedCount"`
	RunningCount  int      `json:"runningCount"`
	Warnings      []string `json:"warnings,omitempty"`
}
