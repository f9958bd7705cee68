package process

import (
	"errors"
	"fmt"
)

var (
	// ErrShuttingDown is returned when a handle no longer accepts commands.
	ErrShuttingDown = errors.New("script handle shutting down")
	// ErrPreviousRunActive is returned by Start when the process of the previous
	// run is still alive after the reap window.
	ErrPreviousRunActive = errors.New("previous run has not exited yet")
)

// SpawnError reports that the script process could not be started.
type SpawnError struct {
	Script string
	Err    error
}

func (e *SpawnError) Error() string { return fmt.Sprintf("spawn %s: %v", e.Script, e.Err) }
func (e *SpawnError) Unwrap() error { return e.Err }

// StreamReadError reports a failure while draining script output.
type StreamReadError struct {
	Script string
	Err    error
}

func (e *StreamReadError) Error() string {
	return fmt.Sprintf("read output of %s: %v", e.Script, e.Err)
}
func (e *StreamReadError) Unwrap() error { return e.Err }

// LogWriteError reports a line or marker that could not be persisted.
type LogWriteError struct {
	Script string
	Err    error
}

func (e *LogWriteError) Error() string {
	return fmt.Sprintf("persist output of %s: %v", e.Script, e.Err)
}
func (e *LogWriteError) Unwrap() error { return e.Err }
