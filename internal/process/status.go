package process

import "time"

// State is the lifecycle state of a handle.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateStopped State = "stopped"
)

// Status is a point-in-time snapshot of a handle.
type Status struct {
	Script    string    `json:"script"`
	State     State     `json:"state"`
	Running   bool      `json:"running"`
	PID       int       `json:"pid,omitempty"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at"`
	ExitErr   string    `json:"exit_error,omitempty"`
	Runs      int       `json:"runs"`
}
