//go:build windows

package process

import (
	"os/exec"
	"syscall"
)

// BinDir is the virtualenv directory holding executables.
const BinDir = "Scripts"

// Windows creation flags
const (
	CREATE_NEW_PROCESS_GROUP = 0x00000200
)

// configureSysProcAttr creates a new process group for the child.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: CREATE_NEW_PROCESS_GROUP}
}
