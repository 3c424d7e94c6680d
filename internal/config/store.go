package config

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	logx "taskdock/pkg/logx"
)

//go:embed default_config.json
var defaultFS embed.FS

// ErrNotFound is returned for operations on an id absent from the active set.
var ErrNotFound = errors.New("task not found in active set")

// Store owns the on-disk configuration document. All mutation paths go
// through it and persist immediately; nothing else writes the file.
type Store struct {
	path string
	log  logx.Logger

	mu           sync.Mutex
	doc          *Document
	warnings     []string
	taskWarnings map[string][]string
}

func NewStore(path string, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{path: path, log: log}
}

func (s *Store) Path() string { return s.path }

// Load reads, parses and validates the document, synthesizing a default one
// on first run. Hard validation errors fail the load; soft warnings are
// retained for later querying.
func (s *Store) Load() (*Document, error) {
	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		if err := s.writeDefault(); err != nil {
			return nil, fmt.Errorf("create default config: %w", err)
		}
		s.log.Info("created default config", logx.String("path", s.path))
	}

	b, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	jb, format, err := coerceToJSONBytes(s.path, b)
	if err != nil {
		return nil, err
	}

	var doc Document
	if err := json.Unmarshal(jb, &doc); err != nil {
		return nil, fmt.Errorf("parse config (%s): %w", format, err)
	}
	doc.normalize()

	res := ValidateConfig(&doc, ValidateOptions{})
	if err := res.Err(); err != nil {
		return nil, err
	}
	for _, w := range res.Warnings {
		s.log.Warn("config warning", logx.String("warning", w))
	}

	s.mu.Lock()
	s.doc = &doc
	s.warnings = res.Warnings
	s.taskWarnings = res.TaskWarnings
	s.mu.Unlock()
	return &doc, nil
}

// Document returns the last successfully loaded document. Callers must treat
// it as read-only; mutations go through the store methods.
func (s *Store) Document() *Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc
}

// Warnings returns the flat warning list and the per-task warning map from
// the last load.
func (s *Store) Warnings() ([]string, map[string][]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.warnings, s.taskWarnings
}

// Persist rewrites the whole document atomically with lastUpdated refreshed.
func (s *Store) Persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked()
}

func (s *Store) persistLocked() error {
	if s.doc == nil {
		return errors.New("no document loaded")
	}
	s.doc.LastUpdated = time.Now().UTC().Format(time.RFC3339)

	b, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	// Full-file replace via temp+rename so a crash mid-write can't leave a
	// truncated document behind.
	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// PutTask upserts a definition into the active set and persists.
func (s *Store) PutTask(id string, def *TaskDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return errors.New("no document loaded")
	}
	cp := def.Clone()
	cp.FillDefaults()
	cp.ArchivedAt = ""
	s.doc.Tasks[id] = cp
	return s.persistLocked()
}

// DeleteTask removes a definition from the active set and persists.
func (s *Store) DeleteTask(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return errors.New("no document loaded")
	}
	if _, ok := s.doc.Tasks[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.doc.Tasks, id)
	return s.persistLocked()
}

// Archive moves an active definition into completed_tasks with archivedAt
// stamped, and persists. Archiving an id already in the archive (or unknown)
// fails with ErrNotFound rather than double-archiving.
func (s *Store) Archive(id string, at time.Time) (*TaskDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return nil, errors.New("no document loaded")
	}
	def, ok := s.doc.Tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	cp := def.Clone()
	cp.ArchivedAt = at.UTC().Format(time.RFC3339)
	s.doc.CompletedTasks[id] = cp
	delete(s.doc.Tasks, id)
	if err := s.persistLocked(); err != nil {
		return nil, err
	}
	return cp, nil
}

func (s *Store) writeDefault() error {
	doc := defaultDocument()
	s.mu.Lock()
	s.doc = doc
	err := s.persistLocked()
	s.mu.Unlock()
	return err
}

func defaultDocument() *Document {
	if b, err := defaultFS.ReadFile("default_config.json"); err == nil {
		var doc Document
		if err := json.Unmarshal(b, &doc); err == nil {
			doc.normalize()
			return &doc
		}
	}
	// Hand-built fallback in case the bundled template is unusable.
	doc := &Document{Version: "1.0.0"}
	doc.normalize()
	return doc
}
