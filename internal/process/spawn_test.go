//go:build !windows

package process

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/devrun/internal/detector"
)

func TestSpecCommandLine(t *testing.T) {
	assert.Equal(t, "npm run dev", Spec{Runner: DefaultRunner, Script: "dev"}.CommandLine())
	assert.Equal(t, "pnpm run build --watch", Spec{Runner: " pnpm ", Script: "build --watch"}.CommandLine())
	assert.Equal(t, "echo hi", Spec{Script: "echo hi"}.CommandLine())
}

func TestSpecCommand(t *testing.T) {
	dir := t.TempDir()
	cmd := Spec{Dir: dir, Script: "true", Env: []string{"A=1"}}.Command()
	assert.Equal(t, []string{"/bin/sh", "-c", "true"}, cmd.Args)
	assert.Equal(t, dir, cmd.Dir)
	assert.Equal(t, []string{"A=1"}, cmd.Env)
	require.NotNil(t, cmd.SysProcAttr)
	assert.True(t, cmd.SysProcAttr.Setpgid)
}

func TestSpawnRunsInDirWithOwnGroup(t *testing.T) {
	dir := t.TempDir()
	h, err := Spawn(Spec{Name: "pwd", Dir: dir, Script: "pwd; echo oops >&2"})
	require.NoError(t, err)

	out, _ := io.ReadAll(h.Stdout)
	errOut, _ := io.ReadAll(h.Stderr)
	pgid, pgErr := syscall.Getpgid(h.PID)
	require.NoError(t, h.Wait())

	want, _ := filepath.EvalSymlinks(dir)
	got, _ := filepath.EvalSymlinks(strings.TrimSpace(string(out)))
	assert.Equal(t, want, got)
	assert.Equal(t, "oops\n", string(errOut))
	if pgErr == nil {
		assert.Equal(t, h.PID, pgid)
	}
}

func TestSpawnBadDir(t *testing.T) {
	_, err := Spawn(Spec{Dir: filepath.Join(t.TempDir(), "missing"), Script: "true"})
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err) || strings.Contains(err.Error(), "no such file"), err.Error())
}

func TestWaitWrapsExitError(t *testing.T) {
	h, err := Spawn(Spec{Script: "exit 3"})
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, h.Stdout)
	_, _ = io.Copy(io.Discard, h.Stderr)
	err = h.Wait()
	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "wait", ioErr.Op)
	assert.Equal(t, h.PID, ioErr.PID)
}

func TestGroupTerminator(t *testing.T) {
	h, err := Spawn(Spec{Script: "sleep 30 & wait"})
	require.NoError(t, err)

	term := DefaultTerminator()
	require.NoError(t, term.Terminate(h.PID, false))

	done := make(chan struct{})
	go func() {
		_, _ = io.Copy(io.Discard, h.Stdout)
		_, _ = io.Copy(io.Discard, h.Stderr)
		_ = h.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		_ = term.Terminate(h.PID, true)
		t.Fatal("process group did not exit on SIGTERM")
	}
	alive, err := detector.PIDDetector{PID: h.PID}.Alive()
	require.NoError(t, err)
	assert.False(t, alive)
	// already gone: no error
	assert.NoError(t, term.Terminate(h.PID, true))
}
