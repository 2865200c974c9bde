package process

import (
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// DefaultRunner is the package runner used to launch project scripts.
const DefaultRunner = "npm"

// Spec describes one project launch.
type Spec struct {
	Name   string
	Dir    string
	Script string
	// Runner is the script runner ("npm", "pnpm", "yarn"). Empty runs Script
	// as a raw shell command line.
	Runner string
	Env    []string
}

// CommandLine returns the shell line the child runs.
func (s Spec) CommandLine() string {
	runner := strings.TrimSpace(s.Runner)
	if runner == "" {
		return s.Script
	}
	return fmt.Sprintf("%s run %s", runner, s.Script)
}

// Command builds the child command with its own process group and piped
// output. It does not start it.
func (s Spec) Command() *exec.Cmd {
	cmd := shellCommand(s.CommandLine())
	cmd.Dir = s.Dir
	if len(s.Env) > 0 {
		cmd.Env = s.Env
	}
	configureSysProcAttr(cmd)
	return cmd
}

// Handle is a started child and the read ends of its output pipes.
type Handle struct {
	Cmd    *exec.Cmd
	PID    int
	Stdout io.ReadCloser
	Stderr io.ReadCloser
}

// Spawn starts the child described by s.
func Spawn(s Spec) (*Handle, error) {
	cmd := s.Command()
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &Handle{Cmd: cmd, PID: cmd.Process.Pid, Stdout: stdout, Stderr: stderr}, nil
}

// Wait reaps the child. It must only be called after both pipes have been
// drained.
func (h *Handle) Wait() error {
	if err := h.Cmd.Wait(); err != nil {
		return &IOError{Op: "wait", PID: h.PID, Err: err}
	}
	return nil
}
