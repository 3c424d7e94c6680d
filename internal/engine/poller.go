package engine

import (
	"context"
	"errors"
	"time"

	"taskdock/internal/config"
	logx "taskdock/pkg/logx"
)

// pollLoop is the due-task sweep: cron tasks fire from their own triggers,
// but once tasks have no entry and are picked up here when their instant
// passes. One sweep per interval, one immediate sweep on start.
func (e *Engine) pollLoop(ctx context.Context) {
	e.sweepDue()

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.sweepDue()
		}
	}
}

type dueTask struct {
	id  string
	def *config.TaskDefinition
}

// sweepDue dispatches every registered once task whose instant has passed and
// that has neither run nor is running. Each once task is attempted at most
// once per registration; success archives it, failure leaves it in place for
// the operator without re-firing every sweep.
func (e *Engine) sweepDue() {
	now := time.Now()

	e.mu.Lock()
	var due []dueTask
	for id, st := range e.tasks {
		if st.def.Type != config.TaskOnce {
			continue
		}
		if !st.lastRun.IsZero() {
			continue
		}
		if _, busy := e.runSet[id]; busy {
			continue
		}
		at, err := st.def.OnceAt(e.loc)
		if err != nil || at.After(now) {
			continue
		}
		due = append(due, dueTask{id: id, def: st.def.Clone()})
	}
	e.mu.Unlock()

	for _, d := range due {
		e.log.Info("once task due", logx.String("task", d.id), logx.String("scheduledFor", d.def.Schedule))
		if err := e.execute(d.id, d.def, now); err != nil && !errors.Is(err, ErrAlreadyRunning) {
			e.log.Warn("due dispatch failed", logx.String("task", d.id), logx.Err(err))
		}
	}
}
