//go:build windows

package process

import (
	"errors"

	ps "github.com/shirou/gopsutil/v4/process"
)

// Windows has no termination signal for processes without a console, so
// terminate and kill both end the whole tree rooted at pid. The new process
// group set in configureSysProcAttr is not enough: TerminateProcess only
// ends the leader.
func terminate(pid int) error { return killTree(pid) }

func kill(pid int) error { return killTree(pid) }

// killTree ends every descendant of pid, deepest first, then pid itself.
func killTree(pid int) error {
	if pid <= 0 {
		return nil
	}
	root, err := ps.NewProcess(int32(pid))
	if err != nil {
		// already gone
		return nil
	}
	var errs []error
	for _, p := range append(descendants(root), root) {
		if err := p.Kill(); err != nil && !errors.Is(err, ps.ErrorProcessNotRunning) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func descendants(p *ps.Process) []*ps.Process {
	children, err := p.Children()
	if err != nil {
		// the process went away
		return nil
	}
	var out []*ps.Process
	for _, c := range children {
		out = append(out, descendants(c)...)
		out = append(out, c)
	}
	return out
}

func processExists(pid int) bool {
	ok, err := ps.PidExists(int32(pid))
	return err == nil && ok
}
