package main

import "time"

// GlobalFlags holds the persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
	APIUrl     string
	APITimeout time.Duration
}

// StartFlags Flag structs to decouple cobra from logic for testing.
type StartFlags struct {
	Script string
	Path   string
	Folder string
}

type StatusFlags struct {
	Script string
}

type RequirementsFlags struct {
	Folder string
}
