package devrun

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/devrun/internal/auth"
	cfg "github.com/loykin/devrun/internal/config"
	"github.com/loykin/devrun/internal/events"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	c := DefaultConfig()
	c.Server.Listen = "127.0.0.1:0"
	c.Store.DSN = filepath.Join(t.TempDir(), "devrun.db")
	c.Supervisor.Runner = ""
	c.Supervisor.GracePeriod = 50 * time.Millisecond
	c.Supervisor.ReapTimeout = 3 * time.Second
	c.Log.Slog.Level = "error"
	return c
}

func newApp(t *testing.T, c Config) *App {
	t.Helper()
	app, err := New(c)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return app
}

func TestNew_InvalidConfig(t *testing.T) {
	c := testConfig(t)
	c.Supervisor.ReapTimeout = 0
	_, err := New(c)
	require.Error(t, err)

	c = testConfig(t)
	c.Store.DSN = "mysql://nope"
	_, err = New(c)
	require.Error(t, err)
}

func TestNew_SeedsProjects(t *testing.T) {
	c := testConfig(t)
	dir := t.TempDir()
	c.Projects = []cfg.ProjectConfig{
		{Name: "web", Path: dir, Script: "dev"},
		{Name: "api", Path: dir, Desc: "backend", Script: "start"},
	}

	app, err := New(c)
	require.NoError(t, err)
	ps, err := app.Store().List(t.Context())
	require.NoError(t, err)
	require.Len(t, ps, 2)
	assert.Equal(t, "api", ps[0].Name)
	assert.Equal(t, "backend", ps[0].Desc)
	require.NoError(t, app.Close())

	// a second start keeps what the store already holds
	c.Projects[0].Script = "changed"
	app = newApp(t, c)
	p, err := app.Store().Get(t.Context(), "web")
	require.NoError(t, err)
	assert.Equal(t, "dev", p.Script)
}

func TestApp_StartStop(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	c := testConfig(t)
	c.Projects = []cfg.ProjectConfig{{Name: "web", Path: t.TempDir(), Script: "sleep 30"}}
	app := newApp(t, c)

	ch, cancel := app.Subscribe()
	defer cancel()

	require.ErrorIs(t, app.Start(t.Context(), "missing"), ErrNotFound)
	require.NoError(t, app.Start(t.Context(), "web"))
	require.ErrorIs(t, app.Start(t.Context(), "web"), ErrAlreadyRunning)

	st, err := app.Status("web")
	require.NoError(t, err)
	require.True(t, st.Running)
	require.NotNil(t, st.PID)

	select {
	case e := <-ch:
		assert.Equal(t, events.TypeStatusUpdate, e.Type)
		assert.Equal(t, "web", e.Project)
	case <-time.After(2 * time.Second):
		t.Fatal("no status event")
	}

	require.NoError(t, app.Stop("web"))
	require.ErrorIs(t, app.Stop("web"), ErrNotRunning)
	st, err = app.Status("web")
	require.NoError(t, err)
	assert.False(t, st.Running)
	assert.Nil(t, st.PID)
}

func TestApp_Handler(t *testing.T) {
	c := testConfig(t)
	c.Server.BasePath = "/v1"
	c.Metrics.Enabled = true
	c.Projects = []cfg.ProjectConfig{{Name: "web", Path: t.TempDir(), Script: "dev"}}
	h := newApp(t, c).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/projects", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"web"`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestApp_HandlerWithAuth(t *testing.T) {
	c := testConfig(t)
	hash, err := auth.HashPassword("secret")
	require.NoError(t, err)
	c.Server.Auth.Enabled = true
	c.Server.Auth.Users = []auth.User{{Username: "dev", PasswordHash: hash, Roles: []string{auth.RoleViewer}}}
	h := newApp(t, c).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/projects", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	req.SetBasicAuth("dev", "secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestApp_Serve(t *testing.T) {
	app := newApp(t, testConfig(t))

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- app.Serve(ctx) }()
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestApp_ServeListenError(t *testing.T) {
	c := testConfig(t)
	c.Server.Listen = "256.0.0.1:bad"
	app := newApp(t, c)
	require.Error(t, app.Serve(t.Context()))
}
