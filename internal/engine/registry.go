package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"taskdock/internal/config"
	logx "taskdock/pkg/logx"
)

// registerAllLocked rebuilds runtime state for every enabled task in doc.
// Call with e.mu held.
func (e *Engine) registerAllLocked(doc *config.Document) {
	for id, def := range doc.Tasks {
		if !def.Enabled {
			continue
		}
		e.registerLocked(id, def)
	}
}

// registerLocked creates the runtime registration for one enabled task.
// Cron tasks get a live trigger; once tasks are owned by the due poller.
// Call with e.mu held.
func (e *Engine) registerLocked(id string, def *config.TaskDefinition) {
	st := &taskState{def: def.Clone()}
	if def.Type == config.TaskCron && e.cron != nil {
		entryID, err := e.cron.AddFunc(def.Schedule, func() { e.dispatch(id) })
		if err != nil {
			// The schedule passed validation, so this is unexpected; register
			// without a trigger rather than dropping the task silently.
			e.log.Error("cron registration failed",
				logx.String("task", id),
				logx.String("schedule", def.Schedule),
				logx.Err(err))
		} else {
			st.entryID = entryID
		}
	}
	e.tasks[id] = st
}

// unregisterLocked tears down the runtime registration for a task, leaving
// any in-flight execution to settle on its own. Call with e.mu held.
func (e *Engine) unregisterLocked(id string) {
	st, ok := e.tasks[id]
	if !ok {
		return
	}
	if st.entryID != 0 && e.cron != nil {
		e.cron.Remove(st.entryID)
	}
	delete(e.tasks, id)
}

func issuesErr(ti config.TaskIssues) error {
	if ti.OK() {
		return nil
	}
	return errors.New(strings.Join(ti.Errors, "; "))
}

// AddTask validates and persists a new task, registering it when enabled.
// The id must not exist in the active set or the archive.
func (e *Engine) AddTask(id string, def *config.TaskDefinition) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("task id is required")
	}
	if err := issuesErr(config.ValidateTask(id, def, config.ValidateOptions{BaseDir: e.baseDir})); err != nil {
		return err
	}

	e.mu.Lock()
	doc := e.store.Document()
	if doc == nil {
		e.mu.Unlock()
		return ErrNotStarted
	}
	if _, exists := doc.Tasks[id]; exists {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	if _, archived := doc.CompletedTasks[id]; archived {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s (archived)", ErrDuplicateID, id)
	}
	if err := e.store.PutTask(id, def); err != nil {
		e.mu.Unlock()
		return err
	}
	stored := e.store.Document().Tasks[id]
	if stored.Enabled {
		e.registerLocked(id, stored)
	}
	name, enabled := stored.Name, stored.Enabled
	e.mu.Unlock()

	e.publish(EvTaskAdded, TaskEvent{TaskID: id, Name: name, Enabled: enabled})
	e.log.Info("task added", logx.String("task", id), logx.String("name", name))
	return nil
}

// UpdateTask replaces an existing active task's definition and re-registers it.
func (e *Engine) UpdateTask(id string, def *config.TaskDefinition) error {
	if err := issuesErr(config.ValidateTask(id, def, config.ValidateOptions{BaseDir: e.baseDir})); err != nil {
		return err
	}

	e.mu.Lock()
	doc := e.store.Document()
	if doc == nil {
		e.mu.Unlock()
		return ErrNotStarted
	}
	if _, exists := doc.Tasks[id]; !exists {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", config.ErrNotFound, id)
	}
	if err := e.store.PutTask(id, def); err != nil {
		e.mu.Unlock()
		return err
	}
	e.unregisterLocked(id)
	stored := e.store.Document().Tasks[id]
	if stored.Enabled {
		e.registerLocked(id, stored)
	}
	name, enabled := stored.Name, stored.Enabled
	e.mu.Unlock()

	e.publish(EvTaskUpdated, TaskEvent{TaskID: id, Name: name, Enabled: enabled})
	e.log.Info("task updated", logx.String("task", id))
	return nil
}

// DeleteTask removes a task from the active set along with its runtime state
// and in-memory history. A running execution settles normally but is no
// longer listed.
func (e *Engine) DeleteTask(id string) error {
	e.mu.Lock()
	if err := e.store.DeleteTask(id); err != nil {
		e.mu.Unlock()
		return err
	}
	e.unregisterLocked(id)
	e.mu.Unlock()

	e.hist.Drop(id)
	e.publish(EvTaskRemoved, TaskEvent{TaskID: id})
	e.log.Info("task removed", logx.String("task", id))
	return nil
}

// ToggleTask enables or disables a task. Toggling to the current state is a
// no-op that still persists and reports, so the call is idempotent.
func (e *Engine) ToggleTask(id string, enabled bool) error {
	e.mu.Lock()
	doc := e.store.Document()
	if doc == nil {
		e.mu.Unlock()
		return ErrNotStarted
	}
	def, ok := doc.Tasks[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", config.ErrNotFound, id)
	}
	cp := def.Clone()
	cp.Enabled = enabled
	if err := e.store.PutTask(id, cp); err != nil {
		e.mu.Unlock()
		return err
	}
	e.unregisterLocked(id)
	if enabled {
		e.registerLocked(id, cp)
	}
	name := cp.Name
	e.mu.Unlock()

	e.publish(EvTaskToggled, TaskEvent{TaskID: id, Name: name, Enabled: enabled})
	e.log.Info("task toggled", logx.String("task", id), logx.Bool("enabled", enabled))
	return nil
}

// dispatch is the cron trigger entry point. Overlap and lookup failures are
// swallowed here so a misbehaving task can never take down the cron runner.
func (e *Engine) dispatch(id string) {
	e.mu.Lock()
	st, ok := e.tasks[id]
	if !ok || !e.started {
		e.mu.Unlock()
		return
	}
	def := st.def.Clone()
	e.mu.Unlock()

	if err := e.execute(id, def, time.Now()); err != nil {
		if errors.Is(err, ErrAlreadyRunning) {
			e.log.Debug("trigger skipped; previous run still in flight", logx.String("task", id))
			return
		}
		e.log.Warn("task dispatch failed", logx.String("task", id), logx.Err(err))
	}
}
