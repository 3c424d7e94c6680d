package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ScheduleParser is the single cron grammar used across the module.
// SecondOptional allows both 5-field and 6-field (with seconds) specs.
var ScheduleParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseOnceSchedule parses a once-task schedule as an absolute instant.
// RFC 3339 is the canonical form; a zone-less "2006-01-02T15:04:05" is
// accepted and interpreted in loc.
func ParseOnceSchedule(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation("2006-01-02T15:04:05", raw, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", raw)
	}
	return t, nil
}

// ValidateOptions tunes task validation.
type ValidateOptions struct {
	// StrictScript promotes a missing script file from a warning to an error.
	StrictScript bool
	// BaseDir anchors relative script probing; defaults to the process
	// working directory.
	BaseDir string
}

// TaskIssues is the validation outcome for a single task definition.
type TaskIssues struct {
	Errors   []string
	Warnings []string
}

func (ti TaskIssues) OK() bool { return len(ti.Errors) == 0 }

// ValidateTask checks a single definition. Hard errors block load/add/update;
// warnings (missing script file) never do.
func ValidateTask(id string, def *TaskDefinition, opt ValidateOptions) TaskIssues {
	var out TaskIssues
	fail := func(format string, args ...any) {
		out.Errors = append(out.Errors, fmt.Sprintf(format, args...))
	}

	if def == nil {
		fail("task %s: definition is nil", id)
		return out
	}
	if strings.TrimSpace(def.Name) == "" {
		fail("task %s: name is required", id)
	}
	if strings.TrimSpace(def.Schedule) == "" {
		fail("task %s: schedule is required", id)
	}
	if strings.TrimSpace(def.Script) == "" {
		fail("task %s: script is required", id)
	}

	switch def.Type {
	case TaskCron:
		if def.Schedule != "" {
			if _, err := ScheduleParser.Parse(def.Schedule); err != nil {
				fail("task %s: invalid cron expression %q: %v", id, def.Schedule, err)
			}
		}
	case TaskOnce:
		if def.Schedule != "" {
			if _, err := ParseOnceSchedule(def.Schedule, time.UTC); err != nil {
				fail("task %s: invalid timestamp %q", id, def.Schedule)
			}
		}
	default:
		fail("task %s: type must be %q or %q (got %q)", id, TaskCron, TaskOnce, def.Type)
	}

	if def.Script != "" {
		if _, ok := ResolveScript(def.Script, opt.BaseDir); !ok {
			msg := fmt.Sprintf("task %s: script not found: %s", id, def.Script)
			if opt.StrictScript {
				fail("%s", msg)
			} else {
				out.Warnings = append(out.Warnings, msg)
			}
		}
	}
	return out
}

// ResolveScript probes a small set of candidate base directories for the
// script: the path as given, the working directory, its parent, the
// filesystem root, and the scripts/ convention under the working directory.
// Returns the first existing candidate.
func ResolveScript(script, baseDir string) (string, bool) {
	script = strings.TrimSpace(script)
	if script == "" {
		return "", false
	}
	if baseDir == "" {
		if wd, err := os.Getwd(); err == nil {
			baseDir = wd
		} else {
			baseDir = "."
		}
	}

	var candidates []string
	if filepath.IsAbs(script) {
		candidates = []string{script}
	} else {
		candidates = []string{
			filepath.Join(baseDir, script),
			filepath.Join(filepath.Dir(baseDir), script),
			filepath.Join(string(filepath.Separator), script),
			filepath.Join(baseDir, "scripts", script),
		}
	}
	for _, c := range candidates {
		if st, err := os.Stat(c); err == nil && !st.IsDir() {
			return c, true
		}
	}
	return "", false
}

// ValidationResult aggregates per-task validation over a whole document.
type ValidationResult struct {
	Errors   []string
	Warnings []string
	// TaskWarnings maps task id to its soft warnings.
	TaskWarnings map[string][]string
}

func (r *ValidationResult) OK() bool { return len(r.Errors) == 0 }

// Err flattens hard errors into a single error, or nil when the document is
// loadable.
func (r *ValidationResult) Err() error {
	if r.OK() {
		return nil
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(r.Errors, "; "))
}

// ValidateConfig validates a full document. Any hard error blocks load.
func ValidateConfig(doc *Document, opt ValidateOptions) *ValidationResult {
	res := &ValidationResult{TaskWarnings: map[string][]string{}}
	if doc == nil {
		res.Errors = append(res.Errors, "document is nil")
		return res
	}
	if doc.Tasks == nil {
		res.Errors = append(res.Errors, "tasks must be a map")
	}

	ids := make([]string, 0, len(doc.Tasks))
	for id := range doc.Tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if _, dup := doc.CompletedTasks[id]; dup {
			res.Errors = append(res.Errors, fmt.Sprintf("task %s: present in both tasks and completed_tasks", id))
		}
		ti := ValidateTask(id, doc.Tasks[id], opt)
		res.Errors = append(res.Errors, ti.Errors...)
		if len(ti.Warnings) > 0 {
			res.TaskWarnings[id] = ti.Warnings
			res.Warnings = append(res.Warnings, ti.Warnings...)
		}
	}
	return res
}
