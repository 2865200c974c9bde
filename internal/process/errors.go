package process

import "fmt"

// IOError reports a failed OS interaction with a child (signal, kill, wait,
// pipe read). Callers log it; it never changes a project's run state.
type IOError struct {
	Op  string
	PID int
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s pid %d: %v", e.Op, e.PID, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
