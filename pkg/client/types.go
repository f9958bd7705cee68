package client

import "time"

// StartRequest starts a script. Path defaults on the server to
// <scripts_dir>/<script> when empty.
type StartRequest struct {
	Script string `json:"script"`
	Path   string `json:"path,omitempty"`
	Folder string `json:"folder,omitempty"`
}

// StopRequest stops a script.
type StopRequest struct {
	Script string `json:"script"`
}

// Script is one discovered script and whether it is running.
type Script struct {
	Name            string `json:"name"`
	Path            string `json:"path"`
	Folder          string `json:"folder,omitempty"`
	HasRequirements bool   `json:"has_requirements"`
	Running         bool   `json:"running"`
}

// ScriptStatus is the supervision state of one script.
type ScriptStatus struct {
	Script    string    `json:"script"`
	State     string    `json:"state"`
	Running   bool      `json:"running"`
	PID       int       `json:"pid,omitempty"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at"`
	ExitErr   string    `json:"exit_error,omitempty"`
	Runs      int       `json:"runs"`
}

// Package is one installed distribution of the shared environment.
type Package struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// PackageResult is the outcome of a pip command run by the daemon.
type PackageResult struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
