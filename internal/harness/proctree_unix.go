//go:build unix

package harness

import (
	"os/exec"
	"syscall"
)

// setProcessGroup places the child in its own process group so that
// termination signals reach any grandchildren it spawns.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// termTree sends SIGTERM to the child's process group.
func termTree(pid int) error {
	return syscall.Kill(-pid, syscall.SIGTERM)
}

// killTree sends SIGKILL to the child's process group. Errors are ignored;
// the group may already be gone.
func killTree(pid int) {
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}
