//go:build unix

package execproc

import (
	"os/exec"
	"syscall"
)

// setProcGroup puts the child in its own process group so a kill reaches
// every descendant, not just the immediate process.
func setProcGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killTree kills the whole process group. Scripts routinely fork (pipelines,
// backgrounded helpers); signalling only the leader would leave orphans
// holding the output pipes open.
func killTree(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		_ = cmd.Process.Kill()
	}
}
