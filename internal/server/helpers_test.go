package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/loykin/devrun/internal/events"
	mng "github.com/loykin/devrun/internal/manager"
	"github.com/loykin/devrun/internal/project"
	"github.com/loykin/devrun/internal/project/sqlite"
)

type fixture struct {
	sup   *mng.Supervisor
	store project.Store
	bus   *events.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.EnsureSchema(context.Background()))
	bus := events.NewBus()
	sup := mng.NewSupervisor(bus,
		mng.WithRunner(""),
		mng.WithGracePeriod(50*time.Millisecond),
		mng.WithReapTimeout(3*time.Second),
	)
	t.Cleanup(func() {
		_ = sup.Shutdown()
		_ = store.Close()
	})
	return &fixture{sup: sup, store: store, bus: bus}
}

func (f *fixture) handler(base string, opts ...RouterOption) http.Handler {
	return NewRouter(f.sup, f.store, f.bus, base, opts...).Handler()
}

func doReq(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}
