package config

import (
	"time"
)

// DefaultTimezone is applied when the document omits settings.timezone.
const DefaultTimezone = "Asia/Shanghai"

// DefaultTimeout is the per-execution timeout applied when a task omits one (8h).
const DefaultTimeout = 8 * time.Hour

type TaskType string

const (
	TaskCron TaskType = "cron"
	TaskOnce TaskType = "once"
)

// TaskDefinition is a user-authored job definition. The task id is the map
// key in the document, not a field. Runtime execution state is never part of
// this struct, so persisting a definition can never leak transient fields.
type TaskDefinition struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Type        TaskType `json:"type"`

	// Schedule is a cron expression for cron tasks and an RFC 3339 timestamp
	// for once tasks.
	Schedule string `json:"schedule"`

	Script string   `json:"script"`
	Args   []string `json:"args"`

	Enabled bool `json:"enabled"`

	// TimeoutMS is the execution timeout in milliseconds. Zero means the
	// 8h default.
	TimeoutMS int64 `json:"timeout,omitempty"`

	// RetryOnFailure is advisory; the executor does not retry yet.
	RetryOnFailure bool `json:"retryOnFailure,omitempty"`
	MaxRetries     int  `json:"maxRetries,omitempty"`

	Tags []string `json:"tags,omitempty"`

	// ArchivedAt is set only on copies living in completed_tasks.
	ArchivedAt string `json:"archivedAt,omitempty"`
}

// Timeout resolves the execution timeout, falling back to the 8h default.
func (d *TaskDefinition) Timeout() time.Duration {
	if d.TimeoutMS > 0 {
		return time.Duration(d.TimeoutMS) * time.Millisecond
	}
	return DefaultTimeout
}

// FillDefaults normalizes optional fields in place (nil slices become empty,
// zero timeout becomes the default) so round-trips return stable values.
func (d *TaskDefinition) FillDefaults() {
	if d.Args == nil {
		d.Args = []string{}
	}
	if d.Tags == nil {
		d.Tags = []string{}
	}
	if d.TimeoutMS <= 0 {
		d.TimeoutMS = DefaultTimeout.Milliseconds()
	}
}

// Clone returns a deep copy.
func (d *TaskDefinition) Clone() *TaskDefinition {
	if d == nil {
		return nil
	}
	cp := *d
	cp.Args = append([]string(nil), d.Args...)
	cp.Tags = append([]string(nil), d.Tags...)
	return &cp
}

// OnceAt parses the schedule of a once task as an absolute instant.
// Timestamps without a zone offset are interpreted in loc.
func (d *TaskDefinition) OnceAt(loc *time.Location) (time.Time, error) {
	return ParseOnceSchedule(d.Schedule, loc)
}

// AuditConfig selects the optional durable run log backend.
//
// Driver values:
//   - "" or "none": disabled
//   - "file":       append-only JSON lines
//   - "sqlite":     SQLite database file
type AuditConfig struct {
	Driver string `json:"driver"`
	Path   string `json:"path"`
}

type Settings struct {
	// Timezone is the IANA zone cron expressions are evaluated in. It does
	// not affect once-task instant comparison, which is always absolute.
	Timezone string `json:"timezone"`

	Audit *AuditConfig `json:"audit,omitempty"`
}

// Document is the persisted scheduler configuration. An id exists in at most
// one of Tasks/CompletedTasks at a time; the Store is the sole writer.
type Document struct {
	Version     string   `json:"version"`
	LastUpdated string   `json:"lastUpdated"`
	Settings    Settings `json:"settings"`

	Tasks          map[string]*TaskDefinition `json:"tasks"`
	CompletedTasks map[string]*TaskDefinition `json:"completed_tasks"`
}

func (doc *Document) normalize() {
	if doc.Tasks == nil {
		doc.Tasks = map[string]*TaskDefinition{}
	}
	if doc.CompletedTasks == nil {
		doc.CompletedTasks = map[string]*TaskDefinition{}
	}
	if doc.Settings.Timezone == "" {
		doc.Settings.Timezone = DefaultTimezone
	}
	for _, d := range doc.Tasks {
		d.FillDefaults()
	}
	for _, d := range doc.CompletedTasks {
		d.FillDefaults()
	}
}

// Location resolves the configured timezone, falling back to UTC on an
// unknown zone name.
func (doc *Document) Location() *time.Location {
	loc, err := time.LoadLocation(doc.Settings.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
