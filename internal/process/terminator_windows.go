//go:build windows

package process

import (
	"errors"
	"os/exec"
	"strconv"
)

// taskkill exits with 128 when the target process is not found.
const taskkillNotFound = 128

// groupTerminator runs taskkill over the process tree rooted at pid.
type groupTerminator struct{}

func (groupTerminator) Terminate(pid int, force bool) error {
	args := []string{"/PID", strconv.Itoa(pid), "/T"}
	if force {
		args = append(args, "/F")
	}
	// #nosec G204
	err := exec.Command("taskkill", args...).Run()
	if err == nil {
		return nil
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) && ee.ExitCode() == taskkillNotFound {
		return nil
	}
	return &IOError{Op: "taskkill", PID: pid, Err: err}
}
