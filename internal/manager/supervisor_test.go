//go:build !windows

package manager

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/devrun/internal/detector"
	"github.com/loykin/devrun/internal/env"
	"github.com/loykin/devrun/internal/events"
	"github.com/loykin/devrun/internal/history"
	"github.com/loykin/devrun/internal/logger"
	"github.com/loykin/devrun/internal/process"
)

func TestStart_DuplicateRejected(t *testing.T) {
	rec := &eventRecorder{}
	s := newTestSupervisor(t, rec)

	require.NoError(t, s.Start("web", t.TempDir(), "sleep 30"))
	pid := requireRunning(t, s, "web")

	err := s.Start("web", t.TempDir(), "sleep 30")
	require.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Equal(t, pid, requireRunning(t, s, "web"), "pid must not change")
	assert.Len(t, s.PIDs(), 1)
	assert.Len(t, rec.statuses("web"), 1, "no status event for the rejected start")

	require.NoError(t, s.Stop("web"))
}

func TestStart_ConcurrentSameNameSpawnsOnce(t *testing.T) {
	s := newTestSupervisor(t, nil)
	dir := t.TempDir()

	const n = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		oks  int
		dups int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Start("api", dir, "sleep 30")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				oks++
			case errors.Is(err, ErrAlreadyRunning):
				dups++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, oks)
	assert.Equal(t, n-1, dups)
	require.NoError(t, s.Stop("api"))
}

func TestStartStop_StatusTransitions(t *testing.T) {
	rec := &eventRecorder{}
	s := newTestSupervisor(t, rec)

	require.NoError(t, s.Start("web", t.TempDir(), "sleep 30"))
	pid := requireRunning(t, s, "web")

	require.NoError(t, s.Stop("web"))
	st, err := s.GetStatus("web")
	require.NoError(t, err)
	assert.False(t, st.Running)
	assert.Nil(t, st.PID)
	assert.False(t, processAlive(pid))

	sts := rec.statuses("web")
	require.Len(t, sts, 2)
	assert.True(t, sts[0].Running)
	assert.Equal(t, pid, *sts[0].PID)
	assert.Equal(t, events.Stopped(), sts[1])

	assert.Empty(t, s.PIDs())
	assert.Equal(t, map[string]Status{"web": events.Stopped()}, s.Statuses())

	// the name can be started again
	require.NoError(t, s.Start("web", t.TempDir(), "sleep 30"))
	assert.NotEqual(t, 0, requireRunning(t, s, "web"))
	require.NoError(t, s.Stop("web"))
}

func TestLogs_ForwardedWithPrefixInOrder(t *testing.T) {
	rec := &eventRecorder{}
	s := newTestSupervisor(t, rec)

	script := `for i in 1 2 3 4 5; do echo "out $i"; echo "err $i" >&2; done; sleep 30`
	require.NoError(t, s.Start("svc", t.TempDir(), script))

	require.Eventually(t, func() bool { return len(rec.lines("svc")) == 10 }, 5*time.Second, 20*time.Millisecond)

	var out, errs []string
	for _, l := range rec.lines("svc") {
		switch {
		case strings.HasPrefix(l, "svc: out "):
			out = append(out, l)
		case strings.HasPrefix(l, "svc: err "):
			errs = append(errs, l)
		default:
			t.Fatalf("unexpected line %q", l)
		}
	}
	assert.Equal(t, []string{"svc: out 1", "svc: out 2", "svc: out 3", "svc: out 4", "svc: out 5"}, out)
	assert.Equal(t, []string{"svc: err 1", "svc: err 2", "svc: err 3", "svc: err 4", "svc: err 5"}, errs)
	require.NoError(t, s.Stop("svc"))
}

func TestStop_IgnoredTermIsKilled(t *testing.T) {
	s := newTestSupervisor(t, nil)

	require.NoError(t, s.Start("stubborn", t.TempDir(), `trap '' TERM; echo ready; sleep 30`))
	pid := requireRunning(t, s, "stubborn")

	began := time.Now()
	require.NoError(t, s.Stop("stubborn"))
	assert.GreaterOrEqual(t, time.Since(began), 100*time.Millisecond, "grace period must elapse")
	assert.False(t, processAlive(pid))

	st, err := s.GetStatus("stubborn")
	require.NoError(t, err)
	assert.False(t, st.Running)
}

func TestStop_SurvivorReportsStillRunning(t *testing.T) {
	rec := &eventRecorder{}
	noop := process.TerminatorFunc(func(int, bool) error { return nil })
	s := newTestSupervisor(t, rec, WithTerminator(noop), WithReapTimeout(200*time.Millisecond))

	require.NoError(t, s.Start("survivor", t.TempDir(), "sleep 30"))
	pid := requireRunning(t, s, "survivor")

	err := s.Stop("survivor")
	var sre *StillRunningError
	require.ErrorAs(t, err, &sre)
	assert.ErrorIs(t, err, ErrStillRunning)
	assert.Equal(t, pid, sre.PID)
	assert.Contains(t, err.Error(), "still running")

	assert.Equal(t, pid, requireRunning(t, s, "survivor"), "status must stay running")
	assert.Len(t, rec.statuses("survivor"), 1, "no stopped event on failure")

	// a second attempt is allowed once the first one failed
	err = s.Stop("survivor")
	require.ErrorIs(t, err, ErrStillRunning)

	_ = syscall.Kill(-pid, syscall.SIGKILL)
	require.Eventually(t, func() bool {
		st, _ := s.GetStatus("survivor")
		return !st.Running
	}, 5*time.Second, 20*time.Millisecond)
}

func TestStop_DetectorDecides(t *testing.T) {
	alive := detector.Factory(func(pid int) detector.Detector {
		return detector.CommandDetector{Command: "true"}
	})
	rec := &eventRecorder{}
	s := newTestSupervisor(t, rec, WithDetector(alive))

	require.NoError(t, s.Start("web", t.TempDir(), "sleep 30"))
	pid := requireRunning(t, s, "web")
	require.ErrorIs(t, s.Stop("web"), ErrStillRunning)

	// the verdict of the detector wins: the record is kept
	assert.Equal(t, pid, requireRunning(t, s, "web"))
	assert.Len(t, rec.statuses("web"), 1)
}

func TestStop_NotRunning(t *testing.T) {
	s := newTestSupervisor(t, nil)
	require.ErrorIs(t, s.Stop("ghost"), ErrNotRunning)
}

func TestStop_ConcurrentOnlyOneRuns(t *testing.T) {
	s := newTestSupervisor(t, nil, WithGracePeriod(300*time.Millisecond))
	require.NoError(t, s.Start("web", t.TempDir(), "sleep 30"))

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Stop("web")
		}(i)
	}
	wg.Wait()

	var ok, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrStopInProgress), errors.Is(err, ErrNotRunning):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, rejected)
}

func TestGetStatus_NeverStarted(t *testing.T) {
	s := newTestSupervisor(t, nil)
	_, err := s.GetStatus("ghost")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStart_SpawnFailureLeavesNoRecord(t *testing.T) {
	rec := &eventRecorder{}
	s := newTestSupervisor(t, rec)

	missing := filepath.Join(t.TempDir(), "does-not-exist")
	err := s.Start("broken", missing, "true")
	var se *SpawnError
	require.ErrorAs(t, err, &se)
	assert.ErrorIs(t, err, ErrSpawnFailed)
	assert.Equal(t, "broken", se.Name)
	assert.Error(t, se.Cause)

	_, err = s.GetStatus("broken")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, rec.all())
	require.ErrorIs(t, s.Stop("broken"), ErrNotRunning)
}

func TestStart_EmptyName(t *testing.T) {
	s := newTestSupervisor(t, nil)
	require.ErrorIs(t, s.Start("  ", t.TempDir(), "true"), ErrEmptyName)
}

func TestWatchExit_ClearsRecord(t *testing.T) {
	rec := &eventRecorder{}
	hist := &historyRecorder{}
	s := newTestSupervisor(t, rec, WithHistory(hist))

	require.NoError(t, s.Start("oneshot", t.TempDir(), "echo done; exit 3"))
	require.Eventually(t, func() bool {
		st, _ := s.GetStatus("oneshot")
		return !st.Running
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, []string{"oneshot: done"}, rec.lines("oneshot"))
	require.ErrorIs(t, s.Stop("oneshot"), ErrNotRunning)

	require.Eventually(t, func() bool { return len(hist.all()) == 2 }, 5*time.Second, 20*time.Millisecond)
	evs := hist.all()
	assert.Equal(t, history.EventStart, evs[0].Type)
	assert.Equal(t, history.EventExit, evs[1].Type)
	assert.Equal(t, evs[0].Record.RunID, evs[1].Record.RunID)
	assert.Contains(t, evs[1].Record.ExitErr, "exit status 3")
	assert.False(t, evs[1].Record.Running())
}

func TestWatchExitDisabled_StatusStaysUntilStop(t *testing.T) {
	s := newTestSupervisor(t, nil, WithWatchExit(false))

	require.NoError(t, s.Start("oneshot", t.TempDir(), "exit 0"))
	pid := requireRunning(t, s, "oneshot")
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, pid, requireRunning(t, s, "oneshot"))

	require.NoError(t, s.Stop("oneshot"))
	st, err := s.GetStatus("oneshot")
	require.NoError(t, err)
	assert.False(t, st.Running)
}

func TestStop_SendsHistoryWithSameRunID(t *testing.T) {
	hist := &historyRecorder{}
	s := newTestSupervisor(t, nil, WithHistory(hist))

	require.NoError(t, s.Start("web", t.TempDir(), "sleep 30"))
	require.NoError(t, s.Stop("web"))

	evs := hist.all()
	require.Len(t, evs, 2)
	assert.Equal(t, history.EventStart, evs[0].Type)
	assert.True(t, evs[0].Record.Running())
	assert.Equal(t, history.EventStop, evs[1].Type)
	assert.Equal(t, evs[0].Record.RunID, evs[1].Record.RunID)
	assert.NotEmpty(t, evs[0].Record.RunID)
	assert.False(t, evs[1].Record.StoppedAt.IsZero())
}

func TestStart_RunnerEnvAndDir(t *testing.T) {
	dir := t.TempDir()
	bin := t.TempDir()
	// a fake runner that prints its arguments and environment
	runner := filepath.Join(bin, "fakenpm")
	require.NoError(t, os.WriteFile(runner, []byte("#!/bin/sh\necho \"args=$*\"\necho \"greet=$GREETING\"\npwd\n"), 0o755))

	e := env.New()
	e.UseOS(false)
	e.Set("PATH", "/usr/bin:/bin")
	e.Set("GREETING", "hello")

	rec := &eventRecorder{}
	s := newTestSupervisor(t, rec, WithRunner(runner), WithEnv(e))
	require.NoError(t, s.Start("fake", dir, "dev"))

	require.Eventually(t, func() bool { return len(rec.lines("fake")) == 3 }, 5*time.Second, 20*time.Millisecond)
	lines := rec.lines("fake")
	assert.Equal(t, "fake: args=run dev", lines[0])
	assert.Equal(t, "fake: greet=hello", lines[1])
	wantDir, _ := filepath.EvalSymlinks(dir)
	gotDir, _ := filepath.EvalSymlinks(strings.TrimPrefix(lines[2], "fake: "))
	assert.Equal(t, wantDir, gotDir)
}

func TestStart_TeesOutputToFiles(t *testing.T) {
	logDir := t.TempDir()
	s := newTestSupervisor(t, nil, WithLogFiles(logger.FileConfig{Dir: logDir}))

	require.NoError(t, s.Start("web", t.TempDir(), "echo hello; echo oops >&2"))
	require.Eventually(t, func() bool {
		st, _ := s.GetStatus("web")
		return !st.Running
	}, 5*time.Second, 20*time.Millisecond)

	out, err := os.ReadFile(filepath.Join(logDir, "web.stdout.log"))
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(out))
	errOut, err := os.ReadFile(filepath.Join(logDir, "web.stderr.log"))
	require.NoError(t, err)
	assert.Equal(t, "oops\n", string(errOut))
}

func TestStart_RestartsReuseLogFiles(t *testing.T) {
	logDir := t.TempDir()
	s := newTestSupervisor(t, nil, WithLogFiles(logger.FileConfig{Dir: logDir}))
	dir := t.TempDir()

	before := millGoroutines()
	const runs = 5
	for i := 0; i < runs; i++ {
		require.NoError(t, s.Start("web", dir, "echo run"))
		require.Eventually(t, func() bool {
			st, _ := s.GetStatus("web")
			return !st.Running
		}, 5*time.Second, 20*time.Millisecond)
	}

	out, err := os.ReadFile(filepath.Join(logDir, "web.stdout.log"))
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("run\n", runs), string(out))
	// one rotating file per path, no matter how often the project restarts
	assert.LessOrEqual(t, millGoroutines()-before, 2)
}

func TestStart_SharedLogPathKeepsEveryLine(t *testing.T) {
	shared := filepath.Join(t.TempDir(), "all.log")
	s := newTestSupervisor(t, nil, WithLogFiles(logger.FileConfig{StdoutPath: shared, StderrPath: shared}))

	const lines = 300
	script := fmt.Sprintf(`i=0; while [ $i -lt %d ]; do echo out; echo err >&2; i=$((i+1)); done`, lines)
	names := []string{"api", "web"}
	for _, n := range names {
		require.NoError(t, s.Start(n, t.TempDir(), script))
	}
	require.Eventually(t, func() bool { return len(s.PIDs()) == 0 }, 10*time.Second, 20*time.Millisecond)

	b, err := os.ReadFile(shared)
	require.NoError(t, err)
	assert.Equal(t, len(names)*lines, strings.Count(string(b), "out\n"))
	assert.Equal(t, len(names)*lines, strings.Count(string(b), "err\n"))
}

func TestStart_ConcurrentDistinctNames(t *testing.T) {
	s := newTestSupervisor(t, nil)
	dir := t.TempDir()

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.Start(fmt.Sprintf("p%d", i), dir, "sleep 30"))
		}(i)
	}
	wg.Wait()

	pids := s.PIDs()
	require.Len(t, pids, n)
	seen := make(map[int]bool, n)
	for name, pid := range pids {
		assert.False(t, seen[pid], "pid %d reused by %s", pid, name)
		seen[pid] = true
		assert.Equal(t, pid, requireRunning(t, s, name))
	}
}

func TestStop_KillsGrandchildIgnoringTerm(t *testing.T) {
	rec := &eventRecorder{}
	s := newTestSupervisor(t, rec)

	script := `sh -c 'trap "" TERM; echo $$; exec sleep 60' & wait`
	require.NoError(t, s.Start("web", t.TempDir(), script))
	require.Eventually(t, func() bool { return len(rec.lines("web")) > 0 }, 5*time.Second, 20*time.Millisecond)
	grandchild, err := strconv.Atoi(strings.TrimPrefix(rec.lines("web")[0], "web: "))
	require.NoError(t, err)
	require.True(t, processAlive(grandchild))

	require.NoError(t, s.Stop("web"))
	require.Eventually(t, func() bool { return !processAlive(grandchild) }, 3*time.Second, 20*time.Millisecond)
	st, err := s.GetStatus("web")
	require.NoError(t, err)
	assert.False(t, st.Running)
}

func TestShutdown_StopsEverything(t *testing.T) {
	s := newTestSupervisor(t, nil)
	for _, n := range []string{"a", "b", "c"} {
		require.NoError(t, s.Start(n, t.TempDir(), "sleep 30"))
	}
	pids := s.PIDs()
	require.Len(t, pids, 3)

	require.NoError(t, s.Shutdown())
	for n, pid := range pids {
		st, err := s.GetStatus(n)
		require.NoError(t, err)
		assert.False(t, st.Running, n)
		assert.False(t, processAlive(pid), n)
	}
}

func processAlive(pid int) bool {
	ok, _ := detector.PIDDetector{PID: pid}.Alive()
	return ok
}

func millGoroutines() int {
	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)
	return strings.Count(string(buf[:n]), "(*Logger).millRun(")
}
