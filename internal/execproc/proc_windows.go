//go:build windows

package execproc

import "os/exec"

func setProcGroup(cmd *exec.Cmd) {}

// killTree kills the immediate process only; Windows has no process groups
// in the POSIX sense. WaitDelay on the command bounds any pipe stragglers.
func killTree(cmd *exec.Cmd) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}
