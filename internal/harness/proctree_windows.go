//go:build windows

package harness

import (
	"os/exec"
	"strconv"
)

// setProcessGroup is a no-op on Windows; taskkill enumerates the child
// tree instead since there is no process-group primitive.
func setProcessGroup(cmd *exec.Cmd) {}

// termTree asks taskkill to terminate the process tree gracefully.
func termTree(pid int) error {
	return exec.Command("taskkill", "/T", "/PID", strconv.Itoa(pid)).Run()
}

// killTree force-kills the process tree.
func killTree(pid int) {
	_ = exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(pid)).Run()
}
