package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterIdempotentAndCountersWork(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))

	IncStart("web")
	IncStart("web")
	IncStop("web")
	IncStopFailure("web")
	IncSpawnFailure("api")
	IncUnexpectedExit("api")
	IncLogLine("web", StreamStdout)
	ObserveStopDuration("web", 0.6)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	want := map[string]bool{
		"devrun_project_starts_total":           false,
		"devrun_project_stops_total":            false,
		"devrun_project_stop_failures_total":    false,
		"devrun_project_spawn_failures_total":   false,
		"devrun_project_unexpected_exits_total": false,
		"devrun_project_log_lines_total":        false,
		"devrun_project_stop_duration_seconds":  false,
		"devrun_project_running":                false,
	}
	for _, mf := range mfs {
		if _, ok := want[mf.GetName()]; ok {
			want[mf.GetName()] = true
			assert.NotEmpty(t, mf.GetMetric(), mf.GetName())
		}
	}
	for n, ok := range want {
		assert.True(t, ok, "missing metric %s", n)
	}
}

func TestHandlerFor(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(projectStarts)
	regOK.Store(true)
	IncStart("handler-test")

	srv := httptest.NewServer(HandlerFor(reg))
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	assert.True(t, strings.Contains(string(body), `devrun_project_starts_total{name="handler-test"}`), string(body))
}

func TestSampleSelf(t *testing.T) {
	m, err := Sample(context.Background(), "self", os.Getpid())
	require.NoError(t, err)
	assert.Equal(t, int32(os.Getpid()), m.PID)
	assert.Greater(t, m.MemoryRSS, uint64(0))
}

func TestResourceCollector(t *testing.T) {
	c := NewResourceCollector(func() map[string]int {
		return map[string]int{"self": os.Getpid(), "gone": 1 << 30}
	}, nil)
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]int{}
	for _, mf := range mfs {
		names[mf.GetName()] = len(mf.GetMetric())
	}
	assert.Equal(t, 1, names["devrun_project_cpu_percent"])
	assert.Equal(t, 1, names["devrun_project_memory_rss_bytes"])
}
