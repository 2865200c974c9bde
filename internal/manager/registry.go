package manager

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/loykin/devrun/internal/events"
	"github.com/loykin/devrun/internal/process"
)

// Status is the run state of a project.
type Status = events.Status

// record is the live process attached to a project name.
type record struct {
	name      string
	runID     string
	pid       int
	startedAt time.Time
	h         *process.Handle
	outW      io.WriteCloser
	errW      io.WriteCloser

	// stopping is guarded by registry.mu.
	stopping bool

	// done is closed once the child has been reaped; waitErr is written
	// before that and read only after.
	done    chan struct{}
	waitErr error
}

func (r *record) reaped() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// registry holds at most one record per project name plus the last status
// recorded for every name seen. A single mutex guards both maps.
type registry struct {
	mu       sync.Mutex
	records  map[string]*record
	statuses map[string]Status
}

func newRegistry() *registry {
	return &registry{
		records:  make(map[string]*record),
		statuses: make(map[string]Status),
	}
}

// get returns the last recorded status for name.
func (g *registry) get(name string) (Status, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.statuses[name]
	return st, ok
}

// insertLocked registers rec. Callers hold g.mu and have already checked
// that no record exists.
func (g *registry) insertLocked(rec *record) {
	g.records[rec.name] = rec
	g.statuses[rec.name] = events.Running(rec.pid)
}

// checkFreeLocked fails with ErrAlreadyRunning if name has a record.
func (g *registry) checkFreeLocked(name string) error {
	if cur, ok := g.records[name]; ok {
		return fmt.Errorf("project '%s' is already running (PID: %d): %w", name, cur.pid, ErrAlreadyRunning)
	}
	return nil
}

// beginStop marks the record for name as stopping and returns it.
func (g *registry) beginStop(name string) (*record, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rec, ok := g.records[name]
	if !ok {
		return nil, fmt.Errorf("project '%s': %w", name, ErrNotRunning)
	}
	if rec.stopping {
		return nil, fmt.Errorf("project '%s' (PID: %d): %w", name, rec.pid, ErrStopInProgress)
	}
	rec.stopping = true
	return rec, nil
}

// abortStop clears the stopping mark after a failed stop.
func (g *registry) abortStop(rec *record) {
	g.mu.Lock()
	rec.stopping = false
	g.mu.Unlock()
}

// remove drops rec if it is still the record for its name and marks the
// name stopped. It reports whether rec was removed.
func (g *registry) remove(rec *record) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.records[rec.name] != rec {
		return false
	}
	delete(g.records, rec.name)
	g.statuses[rec.name] = events.Stopped()
	return true
}

// removeIfExited is remove for the exit watcher: it leaves records that are
// being stopped to the stop path.
func (g *registry) removeIfExited(rec *record) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.records[rec.name] != rec || rec.stopping {
		return false
	}
	delete(g.records, rec.name)
	g.statuses[rec.name] = events.Stopped()
	return true
}

// running returns the records currently registered.
func (g *registry) running() []*record {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*record, 0, len(g.records))
	for _, r := range g.records {
		out = append(out, r)
	}
	return out
}

// snapshot copies the status map.
func (g *registry) snapshot() map[string]Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]Status, len(g.statuses))
	for k, v := range g.statuses {
		out[k] = v
	}
	return out
}
