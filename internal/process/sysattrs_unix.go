//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// BinDir is the virtualenv directory holding executables.
const BinDir = "bin"

// configureSysProcAttr places the child in a new process group so that stop
// signals reach everything the script spawned.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
