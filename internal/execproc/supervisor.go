// Package execproc supervises the child processes that task scripts run in.
//
// The engine only talks to the Supervisor interface, so tests (and future
// sandboxed backends) can substitute a fake without spawning processes.
package execproc

import (
	"context"
	"errors"
	"os/exec"
	"sync"
	"time"

	logx "taskdock/pkg/logx"
)

// DefaultMaxCapture bounds how much stdout/stderr is retained per execution.
const DefaultMaxCapture = 64 * 1024

// waitDelay bounds how long Wait may hold the output pipes open after a kill.
// Without it, a grandchild that inherited the pipes keeps Wait blocked and the
// result never settles.
const waitDelay = 10 * time.Second

// Request describes one script invocation.
type Request struct {
	TaskID  string
	Script  string
	Args    []string
	Timeout time.Duration
	WorkDir string
}

// Result is the settlement of one script invocation.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
	// Err is the spawn/wait error, if any. A non-zero exit is reported via
	// ExitCode, not Err.
	Err error
}

// Handle is a live, started process.
type Handle interface {
	// PID of the child process, available immediately after Start returns.
	PID() int
	// Done delivers exactly one Result when the process settles.
	Done() <-chan Result
	// Kill forcibly terminates the process. Idempotent.
	Kill()
}

// Supervisor starts script processes and owns timeout enforcement: when
// Timeout elapses the child is killed and the Result carries TimedOut.
type Supervisor interface {
	Start(ctx context.Context, req Request) (Handle, error)
}

// ErrTimeout marks a result whose process was killed for exceeding its timeout.
var ErrTimeout = errors.New("execution timed out")

// OS is the default os/exec-backed Supervisor.
type OS struct {
	Log logx.Logger
	// MaxCapture caps retained stdout/stderr bytes (DefaultMaxCapture if 0).
	MaxCapture int
}

func (s *OS) Start(ctx context.Context, req Request) (Handle, error) {
	maxCap := s.MaxCapture
	if maxCap <= 0 {
		maxCap = DefaultMaxCapture
	}

	cmd := exec.Command(req.Script, req.Args...)
	if req.WorkDir != "" {
		cmd.Dir = req.WorkDir
	}
	setProcGroup(cmd)
	cmd.WaitDelay = waitDelay
	stdout := &cappedBuffer{max: maxCap}
	stderr := &cappedBuffer{max: maxCap}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	h := &osHandle{
		pid:    cmd.Process.Pid,
		done:   make(chan Result, 1),
		killCh: make(chan struct{}),
	}

	log := s.Log
	go func() {
		waitErr := make(chan error, 1)
		go func() { waitErr <- cmd.Wait() }()

		var timeoutCh <-chan time.Time
		if req.Timeout > 0 {
			tmr := time.NewTimer(req.Timeout)
			defer tmr.Stop()
			timeoutCh = tmr.C
		}

		var (
			err      error
			timedOut bool
		)
		select {
		case err = <-waitErr:
		case <-timeoutCh:
			timedOut = true
			killTree(cmd)
			<-waitErr
			err = ErrTimeout
			if !log.IsZero() {
				log.Warn("script killed on timeout",
					logx.String("task", req.TaskID),
					logx.String("script", req.Script),
					logx.Duration("timeout", req.Timeout))
			}
		case <-ctx.Done():
			killTree(cmd)
			<-waitErr
			err = ctx.Err()
		case <-h.killCh:
			killTree(cmd)
			<-waitErr
			err = errors.New("killed")
		}

		res := Result{
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			TimedOut: timedOut,
		}
		var xerr *exec.ExitError
		switch {
		case err == nil:
			res.ExitCode = cmd.ProcessState.ExitCode()
		case errors.As(err, &xerr):
			// Non-zero exit: surface the code, not an error.
			res.ExitCode = xerr.ExitCode()
		default:
			res.ExitCode = -1
			res.Err = err
		}
		h.done <- res
	}()

	return h, nil
}

type osHandle struct {
	pid    int
	done   chan Result
	killCh chan struct{}
	once   sync.Once
}

func (h *osHandle) PID() int            { return h.pid }
func (h *osHandle) Done() <-chan Result { return h.done }
func (h *osHandle) Kill()               { h.once.Do(func() { close(h.killCh) }) }

// cappedBuffer keeps the first max bytes and silently discards the rest.
type cappedBuffer struct {
	mu  sync.Mutex
	max int
	b   []byte
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if room := c.max - len(c.b); room > 0 {
		if len(p) > room {
			c.b = append(c.b, p[:room]...)
		} else {
			c.b = append(c.b, p...)
		}
	}
	return len(p), nil
}

func (c *cappedBuffer) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return string(c.b)
}
