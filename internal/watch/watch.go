// Package watch delivers debounced change notifications for a single file.
//
// The scheduler engine uses it to hot-reload the configuration document when
// it is edited by a human or another process.
package watch

import (
	"context"
	"math/rand"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "taskdock/pkg/logx"
)

const defaultDebounce = 250 * time.Millisecond

// Watcher watches the directory containing a file and invokes a callback
// after a short debounce window whenever that file changes. The debounce
// avoids reading a partially-written file when editors do multi-step saves.
type Watcher struct {
	path     string
	debounce time.Duration
	log      logx.Logger
	onChange func()
}

func New(path string, debounce time.Duration, log logx.Logger, onChange func()) *Watcher {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Watcher{path: path, debounce: debounce, log: log, onChange: onChange}
}

// Run blocks until ctx is canceled. Watcher faults never propagate: when the
// fsnotify backend gets into a bad state the watcher is recreated with a
// small jittered exponential backoff.
func (w *Watcher) Run(ctx context.Context) {
	dir := filepath.Dir(w.path)
	file := filepath.Base(w.path)

	const (
		restartBackoffBase = 250 * time.Millisecond
		restartBackoffMax  = 5 * time.Second
	)
	backoff := restartBackoffBase
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	fire := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		w.log.Debug("config change detected; scheduling reload", logx.String("path", w.path))
		timer = time.AfterFunc(w.debounce, w.onChange)
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	sleep := func(d time.Duration) bool {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(d):
			return true
		}
	}
	bumpBackoff := func() time.Duration {
		wait := backoff + time.Duration(rng.Int63n(int64(backoff/2)+1))
		if backoff < restartBackoffMax {
			backoff *= 2
			if backoff > restartBackoffMax {
				backoff = restartBackoffMax
			}
		}
		return wait
	}

	for {
		if ctx.Err() != nil {
			return
		}

		fw, err := fsnotify.NewWatcher()
		if err != nil {
			w.log.Warn("file watch init failed", logx.Err(err), logx.String("dir", dir))
			if !sleep(bumpBackoff()) {
				return
			}
			continue
		}
		if err := fw.Add(dir); err != nil {
			_ = fw.Close()
			w.log.Warn("file watch add failed", logx.Err(err), logx.String("dir", dir))
			if !sleep(bumpBackoff()) {
				return
			}
			continue
		}

		// Success; reset backoff so transient issues don't cause long delays.
		backoff = restartBackoffBase
		w.log.Debug("file watcher started", logx.String("dir", dir), logx.String("file", file))

		broken := false
		for !broken {
			select {
			case <-ctx.Done():
				_ = fw.Close()
				return
			case ev, ok := <-fw.Events:
				if !ok {
					broken = true
					break
				}
				// Compare by basename: robust across absolute/relative paths
				// and editors that rename into place.
				if strings.EqualFold(filepath.Base(ev.Name), file) {
					if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) != 0 {
						fire()
					}
				}
			case err, ok := <-fw.Errors:
				if !ok {
					broken = true
					break
				}
				if err == nil {
					continue
				}
				// Overflow means we may have missed events; reload once and keep going.
				if strings.Contains(strings.ToLower(err.Error()), "overflow") {
					w.log.Warn("file watch overflow; forcing reload", logx.Err(err), logx.String("dir", dir))
					fire()
					continue
				}
				w.log.Warn("file watch error", logx.Err(err), logx.String("dir", dir))
				if strings.Contains(strings.ToLower(err.Error()), "closed") {
					broken = true
				}
			}
		}

		_ = fw.Close()
		if ctx.Err() != nil {
			return
		}
		wait := bumpBackoff()
		w.log.Warn("file watcher stopped; restarting", logx.String("dir", dir), logx.Duration("backoff", wait))
		if !sleep(wait) {
			return
		}
	}
}
