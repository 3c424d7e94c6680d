package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskdock/internal/audit"
	"taskdock/internal/config"
	"taskdock/internal/execproc"
	"taskdock/internal/history"
	logx "taskdock/pkg/logx"
)

// RunTask triggers one execution immediately, outside any schedule. It
// returns ErrAlreadyRunning when an execution for the task is in flight, and
// the skip-on-missing-script rule applies exactly as for scheduled runs.
func (e *Engine) RunTask(id string) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return ErrNotStarted
	}
	doc := e.store.Document()
	def, ok := doc.Tasks[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", config.ErrNotFound, id)
	}
	def = def.Clone()
	e.mu.Unlock()

	return e.execute(id, def, time.Now())
}

// execute runs one script invocation end to end: running-set admission,
// script probe, spawn, and asynchronous settlement. Admission comes first so
// an in-flight task reports ErrAlreadyRunning rather than re-probing.
//
// A missing script is a skip, not a failure: an event is published and the
// task's counters and history are untouched.
func (e *Engine) execute(id string, def *config.TaskDefinition, startedAt time.Time) error {
	e.mu.Lock()
	if _, busy := e.runSet[id]; busy {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, id)
	}
	path, ok := config.ResolveScript(def.Script, e.baseDir)
	if !ok {
		e.mu.Unlock()
		e.log.Warn("script not found; skipping execution",
			logx.String("task", id),
			logx.String("script", def.Script))
		e.publish(EvExecSkipped, ExecEvent{
			TaskID: id,
			Reason: "script not found: " + def.Script,
		})
		return nil
	}
	r := &running{
		executionID: uuid.NewString(),
		def:         def,
		startTime:   startedAt,
	}
	e.runSet[id] = r
	e.mu.Unlock()

	e.publish(EvExecStarted, ExecEvent{TaskID: id, ExecutionID: r.executionID})
	e.log.Info("execution started",
		logx.String("task", id),
		logx.String("execution", r.executionID),
		logx.String("script", path))

	// The process outlives the engine context on purpose: stopping the
	// scheduler must not kill scripts mid-run.
	handle, err := e.sup.Start(context.Background(), execproc.Request{
		TaskID:  id,
		Script:  path,
		Args:    def.Args,
		Timeout: def.Timeout(),
	})
	if err != nil {
		e.settle(id, r, execproc.Result{ExitCode: -1, Err: err})
		return nil
	}

	e.mu.Lock()
	r.handle = handle
	r.pid = handle.PID()
	e.mu.Unlock()

	go func() {
		e.settle(id, r, <-handle.Done())
	}()
	return nil
}

// settle finalizes one execution: running-set release, counters, history,
// audit, events, and once-task archival on success.
func (e *Engine) settle(id string, r *running, res execproc.Result) {
	endTime := time.Now()
	duration := endTime.Sub(r.startTime)

	success := res.Err == nil && !res.TimedOut && res.ExitCode == 0
	errMsg := ""
	switch {
	case r.cancelledNow(e):
		errMsg = "cancelled"
		success = false
	case res.TimedOut:
		errMsg = execproc.ErrTimeout.Error()
	case res.Err != nil:
		errMsg = res.Err.Error()
	case res.ExitCode != 0:
		errMsg = fmt.Sprintf("exit status %d", res.ExitCode)
	}

	output := res.Stdout
	if strings.TrimSpace(res.Stderr) != "" {
		if output != "" {
			output += "\n"
		}
		output += res.Stderr
	}
	if len(output) > outputCap {
		output = output[:outputCap]
	}

	e.mu.Lock()
	delete(e.runSet, id)
	isOnce := r.def.Type == config.TaskOnce
	if st, ok := e.tasks[id]; ok {
		st.lastRun = r.startTime
		if success {
			st.runCount++
		} else {
			st.errorCount++
		}
	}
	db := e.auditDB
	e.mu.Unlock()

	e.hist.Append(id, history.Record{
		ExecutionID: r.executionID,
		StartTime:   r.startTime,
		EndTime:     endTime,
		Duration:    duration,
		Success:     success,
		ExitCode:    res.ExitCode,
		Error:       errMsg,
		Output:      output,
	})

	if db != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := db.AppendRun(ctx, audit.Entry{
			At:          r.startTime,
			TaskID:      id,
			ExecutionID: r.executionID,
			Script:      r.def.Script,
			Success:     success,
			ExitCode:    res.ExitCode,
			TookMS:      duration.Milliseconds(),
			Error:       errMsg,
		})
		cancel()
		if err != nil {
			e.log.Warn("audit append failed", logx.String("task", id), logx.Err(err))
		}
	}

	ev := ExecEvent{
		TaskID:      id,
		ExecutionID: r.executionID,
		Duration:    duration,
		ExitCode:    res.ExitCode,
		Error:       errMsg,
	}
	if success {
		e.publish(EvExecCompleted, ev)
		e.log.Info("execution completed",
			logx.String("task", id),
			logx.String("execution", r.executionID),
			logx.Duration("took", duration))
	} else {
		e.publish(EvExecFailed, ev)
		e.log.Warn("execution failed",
			logx.String("task", id),
			logx.String("execution", r.executionID),
			logx.Int("exitCode", res.ExitCode),
			logx.String("error", errMsg))
	}

	// Successful once tasks retire themselves. The short delay lets
	// subscribers observe the completion event before the archive event.
	if isOnce && success {
		time.AfterFunc(e.archiveDelay, func() {
			if err := e.ArchiveTask(id); err != nil && !errors.Is(err, config.ErrNotFound) {
				e.log.Warn("auto-archive failed", logx.String("task", id), logx.Err(err))
			}
		})
	}
}

// cancelledNow reports whether the execution was cancelled, under the lock.
func (r *running) cancelledNow(e *Engine) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return r.cancelled
}

// UpdateProgress attaches a free-form progress note to a running execution.
// Progress events are rate limited; the stored note always updates.
func (e *Engine) UpdateProgress(id, progress string) error {
	e.mu.Lock()
	r, ok := e.runSet[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotRunning, id)
	}
	r.progress = progress
	execID := r.executionID
	elapsed := time.Since(r.startTime)
	e.mu.Unlock()

	if e.progressLim.Allow() {
		e.publish(EvExecProgress, ExecEvent{
			TaskID:      id,
			ExecutionID: execID,
			Progress:    progress,
			Elapsed:     elapsed,
		})
	}
	return nil
}

// CancelTask kills a running execution. The run settles as failed through
// the normal path, so history, counters and events stay consistent.
func (e *Engine) CancelTask(id string) error {
	e.mu.Lock()
	r, ok := e.runSet[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotRunning, id)
	}
	r.cancelled = true
	h := r.handle
	e.mu.Unlock()

	if h != nil {
		h.Kill()
	}
	e.log.Info("execution cancelled", logx.String("task", id))
	return nil
}
