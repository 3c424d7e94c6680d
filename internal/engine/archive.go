package engine

import (
	"time"

	"taskdock/internal/config"
	logx "taskdock/pkg/logx"
)

// ArchiveTask moves a once task from the active set to completed_tasks with
// an archival timestamp. Cron tasks cannot be archived; an id already in the
// archive (or unknown) reports config.ErrNotFound, so a second call on the
// same task is an error rather than a silent double-archive.
func (e *Engine) ArchiveTask(id string) error {
	e.mu.Lock()
	doc := e.store.Document()
	if doc == nil {
		e.mu.Unlock()
		return ErrNotStarted
	}
	if def, ok := doc.Tasks[id]; ok && def.Type != config.TaskOnce {
		e.mu.Unlock()
		return ErrNotOnceTask
	}
	archived, err := e.store.Archive(id, time.Now())
	if err != nil {
		e.mu.Unlock()
		return err
	}
	e.unregisterLocked(id)
	name := archived.Name
	e.mu.Unlock()

	// Archived first, then removed: subscribers tracking the active set see
	// the task leave it, with the archive event explaining why.
	e.publish(EvTaskArchived, TaskEvent{TaskID: id, Name: name})
	e.publish(EvTaskRemoved, TaskEvent{TaskID: id, Name: name})
	e.log.Info("task archived", logx.String("task", id), logx.String("name", name))
	return nil
}

// archiveExpiredOnceLocked retires once tasks whose instant already passed,
// so a restart never replays a backlog of stale one-shot jobs. It runs before
// any trigger or poller exists. Call with e.mu held.
func (e *Engine) archiveExpiredOnceLocked(doc *config.Document) {
	now := time.Now()

	var due []string
	for id, def := range doc.Tasks {
		if def.Type != config.TaskOnce {
			continue
		}
		at, err := def.OnceAt(e.loc)
		if err != nil {
			continue
		}
		if at.Before(now) {
			due = append(due, id)
		}
	}

	for _, id := range due {
		archived, err := e.store.Archive(id, now)
		if err != nil {
			e.log.Warn("startup archive failed", logx.String("task", id), logx.Err(err))
			continue
		}
		e.log.Info("archived overdue once task",
			logx.String("task", id),
			logx.String("name", archived.Name),
			logx.String("scheduledFor", archived.Schedule))
		e.publish(EvTaskArchived, TaskEvent{TaskID: id, Name: archived.Name})
		e.publish(EvTaskRemoved, TaskEvent{TaskID: id, Name: archived.Name})
	}
}
