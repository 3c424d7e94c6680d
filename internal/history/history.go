// Package history keeps a bounded, in-memory record of past task executions.
package history

import (
	"sync"
	"time"
)

// DefaultLimit is how many records are retained per task.
const DefaultLimit = 50

// Record captures one finished execution attempt. Records are immutable once
// appended.
type Record struct {
	ExecutionID string        `json:"executionId"`
	StartTime   time.Time     `json:"startTime"`
	EndTime     time.Time     `json:"endTime"`
	Duration    time.Duration `json:"duration"`
	Success     bool          `json:"success"`
	ExitCode    int           `json:"exitCode"`
	Error       string        `json:"error,omitempty"`
	Output      string        `json:"output,omitempty"`
}

// Store is a per-task ring buffer of the most recent executions. Runtime
// state only: it does not survive a process restart.
type Store struct {
	mu     sync.Mutex
	limit  int
	byTask map[string][]Record
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Store{limit: limit, byTask: map[string][]Record{}}
}

// Append records an execution, evicting the oldest entry once the per-task
// bound is exceeded.
func (s *Store) Append(taskID string, rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := append(s.byTask[taskID], rec)
	if len(recs) > s.limit {
		recs = recs[len(recs)-s.limit:]
	}
	s.byTask[taskID] = recs
}

// Tail returns up to limit records for a task, newest first, skipping offset
// records. limit <= 0 means all retained records; a negative offset is
// treated as zero.
func (s *Store) Tail(taskID string, limit, offset int) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.byTask[taskID]
	n := len(recs)
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]Record, 0, limit)
	for i := n - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, recs[i])
	}
	return out
}

// Len reports how many records are retained for a task.
func (s *Store) Len(taskID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byTask[taskID])
}

// Drop discards all records for a task (called when the task is deleted).
func (s *Store) Drop(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byTask, taskID)
}
