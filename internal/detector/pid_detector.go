package detector

import (
	"fmt"
	"slices"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// PIDDetector detects by a provided PID number. A zombie (exited but not
// yet reaped) counts as dead.
type PIDDetector struct{ PID int }

func (d PIDDetector) Alive() (bool, error) {
	if d.PID <= 0 {
		return false, nil
	}
	ok, err := gopsproc.PidExists(int32(d.PID))
	if err != nil || !ok {
		return false, err
	}
	p, err := gopsproc.NewProcess(int32(d.PID))
	if err != nil {
		// raced with exit
		return false, nil
	}
	st, err := p.Status()
	if err != nil {
		// status is not available on every platform; existence is enough
		return true, nil
	}
	return !slices.Contains(st, gopsproc.Zombie), nil
}

func (d PIDDetector) Describe() string { return fmt.Sprintf("pid:%d", d.PID) }
