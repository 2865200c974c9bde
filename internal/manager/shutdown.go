package manager

import (
	"log/slog"
	"time"

	"github.com/loykin/devrun/internal/detector"
	"github.com/loykin/devrun/internal/process"
)

// Default shutdown timings.
const (
	DefaultGracePeriod = 500 * time.Millisecond
	DefaultReapTimeout = 5 * time.Second
)

// shutdownSequencer runs terminate, grace, kill, reap, verify against one
// record. It never touches the registry.
type shutdownSequencer struct {
	term        process.Terminator
	detect      detector.Factory
	gracePeriod time.Duration
	reapTimeout time.Duration
	logger      *slog.Logger
}

// run drives rec's process group to exit. It returns a *StillRunningError
// when the process is still alive afterwards; signal and wait failures are
// logged only.
func (q *shutdownSequencer) run(rec *record) error {
	pid := rec.pid
	log := q.logger.With("project", rec.name, "pid", pid)

	if err := q.term.Terminate(pid, false); err != nil {
		log.Warn("Failed to send terminate", "error", err)
	}
	if q.gracePeriod > 0 {
		time.Sleep(q.gracePeriod)
	}
	if err := q.term.Terminate(pid, true); err != nil {
		log.Warn("Failed to send kill", "error", err)
	}

	timer := time.NewTimer(q.reapTimeout)
	defer timer.Stop()
	select {
	case <-rec.done:
		if rec.waitErr != nil {
			log.Debug("Process exited", "error", rec.waitErr)
		}
	case <-timer.C:
		log.Warn("Timed out waiting for process to be reaped", "timeout", q.reapTimeout)
	}

	d := q.detect(pid)
	alive, err := d.Alive()
	if err != nil {
		log.Warn("Liveness check failed", "detector", d.Describe(), "error", err)
		alive = !rec.reaped()
	}
	if alive {
		return &StillRunningError{Name: rec.name, PID: pid}
	}
	if !rec.reaped() {
		// a descendant outside the group still holds the pipes; release
		// them so the exit watcher can reap the leader
		_ = rec.h.Stdout.Close()
		_ = rec.h.Stderr.Close()
	}
	return nil
}
