package manager

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loykin/devrun/internal/events"
	"github.com/loykin/devrun/internal/history"
)

// eventRecorder is an events.Sink that keeps everything it receives.
type eventRecorder struct {
	mu  sync.Mutex
	evs []events.Event
}

func (r *eventRecorder) Publish(e events.Event) {
	r.mu.Lock()
	r.evs = append(r.evs, e)
	r.mu.Unlock()
}

func (r *eventRecorder) all() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.evs...)
}

func (r *eventRecorder) lines(project string) []string {
	var out []string
	for _, e := range r.all() {
		if e.Type == events.TypeTerminalLog && e.Project == project {
			out = append(out, e.Line)
		}
	}
	return out
}

func (r *eventRecorder) statuses(project string) []events.Status {
	var out []events.Status
	for _, e := range r.all() {
		if e.Type == events.TypeStatusUpdate && e.Project == project {
			out = append(out, *e.Status)
		}
	}
	return out
}

// historyRecorder is a history.Sink kept in memory.
type historyRecorder struct {
	mu  sync.Mutex
	evs []history.Event
}

func (h *historyRecorder) Send(_ context.Context, e history.Event) error {
	h.mu.Lock()
	h.evs = append(h.evs, e)
	h.mu.Unlock()
	return nil
}

func (h *historyRecorder) all() []history.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]history.Event(nil), h.evs...)
}

// newTestSupervisor runs scripts as raw shell lines with a short grace
// period and stops everything at the end of the test.
func newTestSupervisor(t *testing.T, sink events.Sink, opts ...Option) *Supervisor {
	t.Helper()
	base := []Option{WithRunner(""), WithGracePeriod(100 * time.Millisecond), WithReapTimeout(3 * time.Second)}
	s := NewSupervisor(sink, append(base, opts...)...)
	t.Cleanup(func() { _ = s.Shutdown() })
	return s
}

func requireRunning(t *testing.T, s *Supervisor, name string) int {
	t.Helper()
	st, err := s.GetStatus(name)
	require.NoError(t, err)
	require.True(t, st.Running)
	require.NotNil(t, st.PID)
	return *st.PID
}
