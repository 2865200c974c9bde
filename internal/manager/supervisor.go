package manager

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/devrun/internal/detector"
	"github.com/loykin/devrun/internal/env"
	"github.com/loykin/devrun/internal/events"
	"github.com/loykin/devrun/internal/history"
	"github.com/loykin/devrun/internal/logger"
	"github.com/loykin/devrun/internal/metrics"
	"github.com/loykin/devrun/internal/process"
)

const historyTimeout = 5 * time.Second

// Option customises a Supervisor.
type Option func(*Supervisor)

// WithRunner sets the script runner. An empty runner runs scripts as raw
// shell command lines.
func WithRunner(runner string) Option {
	return func(s *Supervisor) { s.runner = strings.TrimSpace(runner) }
}

// WithGracePeriod sets the pause between the terminate and kill requests.
func WithGracePeriod(d time.Duration) Option {
	return func(s *Supervisor) {
		if d >= 0 {
			s.seq.gracePeriod = d
		}
	}
}

// WithReapTimeout bounds how long Stop waits for the child to be reaped.
func WithReapTimeout(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.seq.reapTimeout = d
		}
	}
}

// WithWatchExit controls whether an unexpected exit clears the record and
// publishes a stopped status. The child is reaped either way.
func WithWatchExit(v bool) Option {
	return func(s *Supervisor) { s.watchExit = v }
}

// WithTerminator replaces the platform terminator.
func WithTerminator(t process.Terminator) Option {
	return func(s *Supervisor) {
		if t != nil {
			s.seq.term = t
		}
	}
}

// WithDetector replaces the liveness check used after a stop.
func WithDetector(f detector.Factory) Option {
	return func(s *Supervisor) {
		if f != nil {
			s.seq.detect = f
		}
	}
}

// WithLogger sets the supervisor's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithEnv sets the environment composer for children.
func WithEnv(e *env.Env) Option {
	return func(s *Supervisor) { s.env = e }
}

// WithLogFiles tees project output into rotated files. Projects and
// restarts writing to the same path share one file.
func WithLogFiles(fc logger.FileConfig) Option {
	return func(s *Supervisor) { s.files = logger.NewOutputFiles(fc) }
}

// WithHistory sets the sinks receiving start/stop/exit records.
func WithHistory(sinks ...history.Sink) Option {
	return func(s *Supervisor) { s.hist = append(history.Multi(nil), sinks...) }
}

// Supervisor starts, stops and tracks one process per project name and
// publishes output and status changes to its event sink.
type Supervisor struct {
	reg       *registry
	seq       shutdownSequencer
	sink      events.Sink
	logger    *slog.Logger
	runner    string
	watchExit bool
	env       *env.Env
	files     *logger.OutputFiles
	hist      history.Multi

	wg sync.WaitGroup
}

// NewSupervisor builds a Supervisor publishing to sink.
func NewSupervisor(sink events.Sink, opts ...Option) *Supervisor {
	if sink == nil {
		sink = events.Discard
	}
	s := &Supervisor{
		reg:       newRegistry(),
		sink:      sink,
		logger:    slog.Default(),
		runner:    process.DefaultRunner,
		watchExit: true,
		seq: shutdownSequencer{
			term:        process.DefaultTerminator(),
			detect:      func(pid int) detector.Detector { return detector.PIDDetector{PID: pid} },
			gracePeriod: DefaultGracePeriod,
			reapTimeout: DefaultReapTimeout,
		},
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With("component", "supervisor")
	s.seq.logger = s.logger
	return s
}

// Start launches script for project name in directory path. The duplicate
// check, spawn and registration happen under one lock so concurrent starts
// of the same name cannot both spawn.
func (s *Supervisor) Start(name, path, script string) error {
	if strings.TrimSpace(name) == "" {
		return ErrEmptyName
	}
	spec := process.Spec{Name: name, Dir: path, Script: script, Runner: s.runner}
	if s.env != nil {
		spec.Env = s.env.Merge(nil)
	}

	s.reg.mu.Lock()
	if err := s.reg.checkFreeLocked(name); err != nil {
		s.reg.mu.Unlock()
		return err
	}
	h, err := process.Spawn(spec)
	if err != nil {
		s.reg.mu.Unlock()
		metrics.IncSpawnFailure(name)
		s.logger.Error("Failed to spawn project", "project", name, "command", spec.CommandLine(), "error", err)
		return &SpawnError{Name: name, Cause: err}
	}
	rec := &record{
		name:      name,
		runID:     uuid.NewString(),
		pid:       h.PID,
		startedAt: time.Now().UTC(),
		h:         h,
		done:      make(chan struct{}),
	}
	s.reg.insertLocked(rec)
	s.reg.mu.Unlock()

	if s.files.Enabled() {
		outW, errW, err := s.files.Writers(name)
		if err != nil {
			s.logger.Warn("Failed to open project log files", "project", name, "error", err)
		}
		rec.outW, rec.errW = outW, errW
	}

	s.logger.Info("Project started", "project", name, "pid", rec.pid, "dir", path, "command", spec.CommandLine())
	metrics.IncStart(name)
	s.sink.Publish(events.StatusUpdate(name, events.Running(rec.pid)))
	s.sendHistory(history.EventStart, rec, time.Time{}, nil)

	s.wg.Add(1)
	go s.watch(rec)
	return nil
}

// watch pumps the child's output until both pipes close, then reaps it.
func (s *Supervisor) watch(rec *record) {
	defer s.wg.Done()

	opts := process.PumpOptions{Logger: s.logger}
	if rec.outW != nil {
		opts.Stdout = rec.outW
	}
	if rec.errW != nil {
		opts.Stderr = rec.errW
	}
	if err := process.Pump(rec.name, rec.h.Stdout, rec.h.Stderr, s.sink, opts); err != nil {
		s.logger.Debug("Output stream ended with error", "project", rec.name, "error", err)
	}
	closeWriter(rec.outW)
	closeWriter(rec.errW)

	rec.waitErr = rec.h.Wait()
	// decide before signalling done so a concurrent Stop owns the record
	exited := s.watchExit && s.reg.removeIfExited(rec)
	close(rec.done)
	if !exited {
		return
	}
	s.logger.Warn("Project exited", "project", rec.name, "pid", rec.pid, "error", rec.waitErr)
	metrics.IncUnexpectedExit(rec.name)
	s.sink.Publish(events.StatusUpdate(rec.name, events.Stopped()))
	s.sendHistory(history.EventExit, rec, time.Now().UTC(), rec.waitErr)
}

// Stop terminates the process group of project name, escalates to a kill
// after the grace period, reaps the child and verifies it is gone. On
// success the record is removed and a stopped status is published. If the
// process survives, a *StillRunningError is returned and the project stays
// running.
func (s *Supervisor) Stop(name string) error {
	rec, err := s.reg.beginStop(name)
	if err != nil {
		return err
	}
	began := time.Now()
	s.logger.Info("Stopping project", "project", name, "pid", rec.pid)

	if err := s.seq.run(rec); err != nil {
		s.reg.abortStop(rec)
		metrics.IncStopFailure(name)
		s.logger.Error("Failed to stop project", "project", name, "pid", rec.pid, "error", err)
		return err
	}

	s.reg.remove(rec)
	metrics.IncStop(name)
	metrics.ObserveStopDuration(name, time.Since(began).Seconds())
	s.logger.Info("Project stopped", "project", name, "pid", rec.pid)
	s.sink.Publish(events.StatusUpdate(name, events.Stopped()))

	var exitErr error
	if rec.reaped() {
		exitErr = rec.waitErr
	}
	s.sendHistory(history.EventStop, rec, time.Now().UTC(), exitErr)
	return nil
}

// GetStatus returns the last recorded status of name. ErrNotFound means the
// name was never started through this supervisor.
func (s *Supervisor) GetStatus(name string) (Status, error) {
	st, ok := s.reg.get(name)
	if !ok {
		return Status{}, ErrNotFound
	}
	return st, nil
}

// Statuses returns the last recorded status of every name seen.
func (s *Supervisor) Statuses() map[string]Status {
	return s.reg.snapshot()
}

// PIDs returns the pid of every running project.
func (s *Supervisor) PIDs() map[string]int {
	recs := s.reg.running()
	out := make(map[string]int, len(recs))
	for _, r := range recs {
		out[r.name] = r.pid
	}
	return out
}

// Shutdown stops every running project concurrently and waits for their
// watchers to finish. Errors are logged and joined.
func (s *Supervisor) Shutdown() error {
	recs := s.reg.running()
	errs := make([]error, len(recs))
	var wg sync.WaitGroup
	for i, r := range recs {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			if err := s.Stop(name); err != nil && !errors.Is(err, ErrNotRunning) {
				errs[i] = err
			}
		}(i, r.name)
	}
	wg.Wait()
	err := errors.Join(errs...)
	if err == nil {
		s.wg.Wait()
		if cerr := s.files.Close(); cerr != nil {
			s.logger.Warn("Failed to close project log files", "error", cerr)
		}
	}
	return err
}

func (s *Supervisor) sendHistory(typ history.EventType, rec *record, stoppedAt time.Time, exitErr error) {
	if len(s.hist) == 0 {
		return
	}
	r := history.Record{
		RunID:     rec.runID,
		Name:      rec.name,
		PID:       rec.pid,
		StartedAt: rec.startedAt,
		StoppedAt: stoppedAt,
	}
	if exitErr != nil {
		r.ExitErr = exitErr.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	if err := s.hist.Send(ctx, history.Event{Type: typ, OccurredAt: time.Now().UTC(), Record: r}); err != nil {
		s.logger.Warn("Failed to record history", "project", rec.name, "event", typ, "error", err)
	}
}

func closeWriter(w interface{ Close() error }) {
	if w != nil {
		_ = w.Close()
	}
}
