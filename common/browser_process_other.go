//go:build !linux

package common

import (
	"os/exec"
)

func killAfterParent(cmd *exec.Cmd) {}
