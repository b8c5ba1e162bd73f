//go:build linux

package common

import (
	"os/exec"
	"syscall"
)

// killAfterParent makes the kernel kill the browser if we die first.
func killAfterParent(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Pdeathsig: syscall.SIGKILL}
}
