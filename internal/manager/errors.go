package manager

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyName      = errors.New("project name cannot be empty")
	ErrAlreadyRunning = errors.New("project is already running")
	ErrNotRunning     = errors.New("project is not running")
	ErrNotFound       = errors.New("project not found")
	ErrSpawnFailed    = errors.New("failed to start project")
	ErrStillRunning   = errors.New("process still running")
	ErrStopInProgress = errors.New("stop already in progress")
)

// SpawnError reports that the child process could not be created.
// It matches both ErrSpawnFailed and its Cause under errors.Is.
type SpawnError struct {
	Name  string
	Cause error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to start project '%s': %v", e.Name, e.Cause)
}

func (e *SpawnError) Unwrap() []error { return []error{ErrSpawnFailed, e.Cause} }

// StillRunningError reports a process that survived the kill sequence.
type StillRunningError struct {
	Name string
	PID  int
}

func (e *StillRunningError) Error() string {
	return fmt.Sprintf("failed to stop project '%s': process %d still running", e.Name, e.PID)
}

func (e *StillRunningError) Unwrap() error { return ErrStillRunning }
