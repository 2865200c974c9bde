//go:build windows

package process

import "os/exec"

// shellCommand wraps a command line in cmd.exe.
func shellCommand(line string) *exec.Cmd {
	// #nosec G204
	return exec.Command("cmd", "/C", line)
}
