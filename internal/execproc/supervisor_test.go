package execproc

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"testing"
	"time"
)

func requireSh(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
}

func run(t *testing.T, req Request) Result {
	t.Helper()
	sup := &OS{}
	h, err := sup.Start(context.Background(), req)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if h.PID() <= 0 {
		t.Fatalf("pid = %d", h.PID())
	}
	select {
	case res := <-h.Done():
		return res
	case <-time.After(10 * time.Second):
		t.Fatal("process did not settle")
		return Result{}
	}
}

func TestOSSuccess(t *testing.T) {
	requireSh(t)
	res := run(t, Request{
		TaskID: "t1",
		Script: "/bin/sh",
		Args:   []string{"-c", "echo out; echo err 1>&2"},
	})
	if res.Err != nil || res.ExitCode != 0 || res.TimedOut {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !strings.Contains(res.Stdout, "out") {
		t.Fatalf("stdout = %q", res.Stdout)
	}
	if !strings.Contains(res.Stderr, "err") {
		t.Fatalf("stderr = %q", res.Stderr)
	}
}

func TestOSNonZeroExit(t *testing.T) {
	requireSh(t)
	res := run(t, Request{TaskID: "t1", Script: "/bin/sh", Args: []string{"-c", "exit 3"}})
	if res.Err != nil {
		t.Fatalf("non-zero exit must not surface as Err: %v", res.Err)
	}
	if res.ExitCode != 3 {
		t.Fatalf("exit code = %d, want 3", res.ExitCode)
	}
}

func TestOSTimeout(t *testing.T) {
	requireSh(t)
	start := time.Now()
	res := run(t, Request{
		TaskID:  "t1",
		Script:  "/bin/sh",
		Args:    []string{"-c", "sleep 30"},
		Timeout: 100 * time.Millisecond,
	})
	if !res.TimedOut {
		t.Fatalf("expected TimedOut, got %+v", res)
	}
	if !errors.Is(res.Err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", res.Err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("timeout did not kill the process promptly")
	}
}

func TestOSTimeoutKillsForkedChildren(t *testing.T) {
	requireSh(t)
	start := time.Now()
	// The shell forks: a backgrounded sleep inherits the output pipes. The
	// kill must take out the whole group or Wait blocks on the grandchild.
	res := run(t, Request{
		TaskID:  "t1",
		Script:  "/bin/sh",
		Args:    []string{"-c", "sleep 30 & sleep 30"},
		Timeout: 100 * time.Millisecond,
	})
	if !res.TimedOut {
		t.Fatalf("expected TimedOut, got %+v", res)
	}
	if !errors.Is(res.Err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", res.Err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("result did not settle promptly after the group kill")
	}
}

func TestOSKillReachesForkedChildren(t *testing.T) {
	requireSh(t)
	sup := &OS{}
	h, err := sup.Start(context.Background(), Request{
		TaskID: "t1",
		Script: "/bin/sh",
		Args:   []string{"-c", "sleep 30 & sleep 30"},
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	start := time.Now()
	h.Kill()

	select {
	case res := <-h.Done():
		if res.Err == nil {
			t.Fatalf("killed process must settle with an error, got %+v", res)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("killed process tree did not settle")
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("settlement took too long after Kill")
	}
}

func TestOSKill(t *testing.T) {
	requireSh(t)
	sup := &OS{}
	h, err := sup.Start(context.Background(), Request{
		TaskID: "t1",
		Script: "/bin/sh",
		Args:   []string{"-c", "sleep 30"},
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	h.Kill()
	h.Kill() // idempotent

	select {
	case res := <-h.Done():
		if res.Err == nil {
			t.Fatalf("killed process must settle with an error, got %+v", res)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("killed process did not settle")
	}
}

func TestOSSpawnError(t *testing.T) {
	sup := &OS{}
	if _, err := sup.Start(context.Background(), Request{TaskID: "t1", Script: "/no/such/binary"}); err == nil {
		t.Fatal("expected spawn error")
	}
}

func TestOSOutputCap(t *testing.T) {
	requireSh(t)
	sup := &OS{MaxCapture: 16}
	h, err := sup.Start(context.Background(), Request{
		TaskID: "t1",
		Script: "/bin/sh",
		Args:   []string{"-c", "printf 'aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa'"},
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	res := <-h.Done()
	if len(res.Stdout) != 16 {
		t.Fatalf("stdout len = %d, want capped at 16", len(res.Stdout))
	}
}

func TestCappedBuffer(t *testing.T) {
	b := &cappedBuffer{max: 4}
	n, err := b.Write([]byte("abcdef"))
	if err != nil || n != 6 {
		t.Fatalf("write = (%d, %v)", n, err)
	}
	if got := b.String(); got != "abcd" {
		t.Fatalf("buffer = %q, want abcd", got)
	}
	// Further writes are discarded but still reported as consumed.
	if n, _ := b.Write([]byte("gh")); n != 2 {
		t.Fatalf("n = %d", n)
	}
	if got := b.String(); got != "abcd" {
		t.Fatalf("buffer = %q after overflow write", got)
	}
}
