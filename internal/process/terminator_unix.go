//go:build !windows

package process

import (
	"errors"
	"syscall"
)

// groupTerminator signals the whole process group led by pid.
type groupTerminator struct{}

func (groupTerminator) Terminate(pid int, force bool) error {
	sig := syscall.SIGTERM
	if force {
		sig = syscall.SIGKILL
	}
	err := syscall.Kill(-pid, sig)
	if err == nil || errors.Is(err, syscall.ESRCH) {
		return nil
	}
	// The group may already be gone while the leader lingers; try it directly.
	if err2 := syscall.Kill(pid, sig); err2 == nil || errors.Is(err2, syscall.ESRCH) {
		return nil
	}
	return &IOError{Op: "signal " + sig.String(), PID: pid, Err: err}
}
