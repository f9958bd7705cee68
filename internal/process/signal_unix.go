//go:build !windows

package process

import (
	"errors"
	"syscall"
)

// terminate asks the process group led by pid to exit.
func terminate(pid int) error { return signalGroup(pid, syscall.SIGTERM) }

// kill forcibly ends the process group led by pid.
func kill(pid int) error { return signalGroup(pid, syscall.SIGKILL) }

func signalGroup(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return nil
	}
	err := syscall.Kill(-pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		// group already gone; the leader may still be a zombie awaiting Wait
		return syscall.Kill(pid, sig)
	}
	return err
}

// processExists checks if a process exists
func processExists(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
