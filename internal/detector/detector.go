package detector

import (
	"fmt"
	"strconv"
	"strings"
)

// Detector is a strategy that determines if a process is running.
// It must be safe for concurrent use.
type Detector interface {
	// Alive returns true if the process is detected as running.
	Alive() (bool, error)
	// Describe returns a human-readable description of the detection method.
	Describe() string
}

// Factory builds the Detector used to verify a specific pid.
type Factory func(pid int) Detector

// Liveness modes accepted by FactoryFor.
const (
	ModePID     = "pid"
	ModeCommand = "command"
)

// PIDPlaceholder is replaced by the pid in command templates.
const PIDPlaceholder = "{pid}"

// FactoryFor returns the Factory for a liveness mode. An empty mode selects
// ModePID. ModeCommand requires a command template.
func FactoryFor(mode, command string) (Factory, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", ModePID:
		return func(pid int) Detector { return PIDDetector{PID: pid} }, nil
	case ModeCommand:
		if strings.TrimSpace(command) == "" {
			return nil, fmt.Errorf("liveness mode %q requires a command", ModeCommand)
		}
		return func(pid int) Detector {
			return CommandDetector{Command: strings.ReplaceAll(command, PIDPlaceholder, strconv.Itoa(pid))}
		}, nil
	default:
		return nil, fmt.Errorf("unknown liveness mode %q", mode)
	}
}
