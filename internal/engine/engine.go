// Package engine is the scheduler core: it reconciles the persisted
// configuration document with live cron triggers and the due-task poller,
// runs task scripts through a process supervisor, and publishes a typed
// event stream for the presentation layer.
package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"taskdock/internal/audit"
	"taskdock/internal/config"
	"taskdock/internal/eventbus"
	"taskdock/internal/execproc"
	"taskdock/internal/history"
	rtsup "taskdock/internal/runtime/supervisor"
	"taskdock/internal/watch"
	logx "taskdock/pkg/logx"
)

const (
	defaultPollInterval = time.Minute
	defaultArchiveDelay = 100 * time.Millisecond
	defaultDebounce     = 250 * time.Millisecond

	// outputCap bounds the output stored on an ExecutionRecord.
	outputCap = 8 * 1024
)

// Options configures an Engine. Zero values pick sensible defaults.
type Options struct {
	Log        logx.Logger
	Bus        eventbus.Bus
	Supervisor execproc.Supervisor

	// PollInterval is the due-task sweep cadence (default one minute).
	PollInterval time.Duration
	// ArchiveDelay is the pause between a successful once execution and its
	// archival, so listeners observe the completion event first.
	ArchiveDelay time.Duration
	// Debounce is the config watcher settle window.
	Debounce time.Duration

	HistoryLimit int
	// BaseDir anchors relative script resolution (default: working dir).
	BaseDir string
	// DisableWatcher turns off config hot-reload (tests).
	DisableWatcher bool
}

// Engine composes the registry, executor, archive manager, due poller and
// config watcher behind one façade.
//
// One mutex owns the registry and the running-set. Scheduling decisions
// (trigger fires, poller sweeps, reloads, manual runs) all take it briefly;
// script processes run outside it.
type Engine struct {
	log   logx.Logger
	bus   eventbus.Bus
	store *config.Store
	sup   execproc.Supervisor
	hist  *history.Store

	pollInterval time.Duration
	archiveDelay time.Duration
	debounce     time.Duration
	baseDir      string
	noWatcher    bool

	progressLim *rate.Limiter

	mu      sync.Mutex
	started bool
	cron    *cron.Cron
	loc     *time.Location
	tasks   map[string]*taskState
	runSet  map[string]*running
	runs    *rtsup.Supervisor
	auditDB audit.Store
}

func New(store *config.Store, opt Options) *Engine {
	if opt.Log.IsZero() {
		opt.Log = logx.Nop()
	}
	if opt.Bus == nil {
		opt.Bus = eventbus.New()
	}
	if opt.Supervisor == nil {
		opt.Supervisor = &execproc.OS{Log: opt.Log}
	}
	if opt.PollInterval <= 0 {
		opt.PollInterval = defaultPollInterval
	}
	if opt.ArchiveDelay <= 0 {
		opt.ArchiveDelay = defaultArchiveDelay
	}
	if opt.Debounce <= 0 {
		opt.Debounce = defaultDebounce
	}
	return &Engine{
		log:          opt.Log,
		bus:          opt.Bus,
		store:        store,
		sup:          opt.Supervisor,
		hist:         history.NewStore(opt.HistoryLimit),
		pollInterval: opt.PollInterval,
		archiveDelay: opt.ArchiveDelay,
		debounce:     opt.Debounce,
		baseDir:      opt.BaseDir,
		noWatcher:    opt.DisableWatcher,
		progressLim:  rate.NewLimiter(rate.Every(time.Second), 5),
		tasks:        map[string]*taskState{},
		runSet:       map[string]*running{},
	}
}

// Events subscribes to the engine event stream.
func (e *Engine) Events(buffer int) (<-chan eventbus.Event, func()) {
	return e.bus.Subscribe(buffer)
}

// publish is the single dispatch point for all engine events.
func (e *Engine) publish(t eventbus.Type, data any) {
	e.bus.Publish(eventbus.Event{Type: t, Time: time.Now(), Data: data})
}

// Start loads the document (fatal on hard validation errors), archives
// overdue once tasks, registers enabled tasks, and starts the cron runner,
// the due-task poller and the config watcher.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return nil
	}

	doc, err := e.store.Load()
	if err != nil {
		return err
	}
	e.loc = doc.Location()

	if doc.Settings.Audit != nil {
		db, err := audit.Open(audit.Config{
			Driver:      doc.Settings.Audit.Driver,
			Path:        doc.Settings.Audit.Path,
			BusyTimeout: 5 * time.Second,
		}, e.log)
		if err != nil {
			// The run log is an operator convenience; a broken backend must
			// not keep the scheduler from starting.
			e.log.Warn("audit store unavailable", logx.Err(err))
		} else {
			e.auditDB = db
		}
	}

	// Overdue one-shot jobs are archived before the poller can see them, so
	// a restart never fires a backlog of stale once tasks.
	e.archiveExpiredOnceLocked(doc)

	e.cron = cron.New(cron.WithParser(config.ScheduleParser), cron.WithLocation(e.loc))
	e.tasks = map[string]*taskState{}
	e.registerAllLocked(doc)
	e.cron.Start()

	e.runs = rtsup.New(ctx, e.log)
	e.runs.GoRestart("due-poller", e.pollLoop)
	if !e.noWatcher {
		w := watch.New(e.store.Path(), e.debounce, e.log, func() {
			if err := e.Reload(); err != nil {
				e.log.Warn("config reload failed; keeping previous schedule", logx.Err(err))
			}
		})
		e.runs.GoRestart("config-watcher", w.Run)
	}

	e.started = true
	e.log.Info("scheduler started",
		logx.Int("tasks", len(e.tasks)),
		logx.String("tz", e.loc.String()))
	return nil
}

// Stop halts every live trigger, the poller and the watcher. In-flight
// executions are not killed; they settle and report through the same
// running-set and event stream.
func (e *Engine) Stop(ctx context.Context) {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	c := e.cron
	e.cron = nil
	for _, st := range e.tasks {
		st.entryID = 0
	}
	runs := e.runs
	e.runs = nil
	db := e.auditDB
	e.auditDB = nil
	e.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	if runs != nil {
		if err := runs.Stop(ctx); err != nil {
			e.log.Warn("stop timed out", logx.Err(err))
		}
	}
	if db != nil {
		_ = db.Close()
	}
	e.log.Info("scheduler stopped")
}

// Reload re-reads and revalidates the document, then rebuilds the registry.
// The new document is validated before the registry is touched: a reload
// failure keeps the previous in-memory schedule intact.
func (e *Engine) Reload() error {
	doc, err := e.store.Load()
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.loc = doc.Location()

	// Stop-the-world for triggers only; in-flight executions keep going.
	old := e.cron
	e.tasks = map[string]*taskState{}
	if e.started {
		e.cron = cron.New(cron.WithParser(config.ScheduleParser), cron.WithLocation(e.loc))
	}
	e.registerAllLocked(doc)
	if e.started {
		e.cron.Start()
	}
	count := len(doc.Tasks)
	e.mu.Unlock()

	if old != nil {
		<-old.Stop().Done()
	}

	warnings, _ := e.store.Warnings()
	e.publish(EvConfigReloaded, ReloadEvent{TasksCount: count, Warnings: warnings})
	e.log.Info("config reloaded", logx.Int("tasks", count))
	return nil
}

// ListTasks returns the active set, ordered by id.
func (e *Engine) ListTasks() []TaskInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	doc := e.store.Document()
	if doc == nil {
		return nil
	}
	_, taskWarnings := e.store.Warnings()

	out := make([]TaskInfo, 0, len(doc.Tasks))
	for id, def := range doc.Tasks {
		out = append(out, e.taskInfoLocked(id, def, taskWarnings[id]))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListArchivedTasks returns the completed set, ordered by id.
func (e *Engine) ListArchivedTasks() []TaskInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	doc := e.store.Document()
	if doc == nil {
		return nil
	}
	out := make([]TaskInfo, 0, len(doc.CompletedTasks))
	for id, def := range doc.CompletedTasks {
		out = append(out, TaskInfo{ID: id, Definition: def.Clone()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TaskDetails returns one active task with runtime state.
func (e *Engine) TaskDetails(id string) (TaskInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	doc := e.store.Document()
	if doc == nil {
		return TaskInfo{}, ErrNotStarted
	}
	def, ok := doc.Tasks[id]
	if !ok {
		return TaskInfo{}, config.ErrNotFound
	}
	_, taskWarnings := e.store.Warnings()
	return e.taskInfoLocked(id, def, taskWarnings[id]), nil
}

// TaskHistory returns up to limit execution records for a task, newest
// first, skipping offset records.
func (e *Engine) TaskHistory(id string, limit, offset int) []history.Record {
	return e.hist.Tail(id, limit, offset)
}

// Status summarizes the engine.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := Status{Running: e.started}
	doc := e.store.Document()
	if doc != nil {
		st.Timezone = doc.Settings.Timezone
		st.TasksCount = len(doc.Tasks)
		st.ArchivedCount = len(doc.CompletedTasks)
	}
	st.RunningCount = len(e.runSet)
	st.Warnings, _ = e.store.Warnings()
	return st
}

// taskInfoLocked builds a view; call with e.mu held.
func (e *Engine) taskInfoLocked(id string, def *config.TaskDefinition, warnings []string) TaskInfo {
	info := TaskInfo{
		ID:         id,
		Definition: def.Clone(),
		Warnings:   warnings,
	}
	if st, ok := e.tasks[id]; ok {
		info.Registered = true
		info.LastRun = st.lastRun
		info.RunCount = st.runCount
		info.ErrorCount = st.errorCount
		if st.entryID != 0 && e.cron != nil {
			info.NextRun = e.cron.Entry(st.entryID).Next
		}
		if def.Type == config.TaskOnce {
			if at, err := def.OnceAt(e.loc); err == nil {
				info.NextRun = at
			}
		}
	}
	if r, ok := e.runSet[id]; ok {
		info.Running = true
		info.Progress = r.progress
		info.PID = r.pid
	}
	return info
}
