package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "devrun"

// Stream labels used by the log line counter.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	projectStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "project",
			Name:      "starts_total",
			Help:      "Number of successful project starts.",
		}, []string{"name"},
	)
	projectStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "project",
			Name:      "stops_total",
			Help:      "Number of stops that ended with the process gone.",
		}, []string{"name"},
	)
	stopFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "project",
			Name:      "stop_failures_total",
			Help:      "Number of stops where the process survived the kill sequence.",
		}, []string{"name"},
	)
	spawnFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "project",
			Name:      "spawn_failures_total",
			Help:      "Number of starts where the child could not be spawned.",
		}, []string{"name"},
	)
	unexpectedExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "project",
			Name:      "unexpected_exits_total",
			Help:      "Number of processes that exited without a stop request.",
		}, []string{"name"},
	)
	logLines = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "project",
			Name:      "log_lines_total",
			Help:      "Lines read from project stdout/stderr.",
		}, []string{"name", "stream"},
	)
	stopDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "project",
			Name:      "stop_duration_seconds",
			Help:      "Time spent in the terminate/kill/reap sequence.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"name"},
	)
	running = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "project",
			Name:      "running",
			Help:      "1 while the project has a live process, 0 otherwise.",
		}, []string{"name"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{projectStarts, projectStops, stopFailures, spawnFailures, unexpectedExits, logLines, stopDuration, running}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// HandlerFor serves metrics from a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart(name string) {
	if regOK.Load() {
		projectStarts.WithLabelValues(name).Inc()
		running.WithLabelValues(name).Set(1)
	}
}

func IncStop(name string) {
	if regOK.Load() {
		projectStops.WithLabelValues(name).Inc()
		running.WithLabelValues(name).Set(0)
	}
}

func IncStopFailure(name string) {
	if regOK.Load() {
		stopFailures.WithLabelValues(name).Inc()
	}
}

func IncSpawnFailure(name string) {
	if regOK.Load() {
		spawnFailures.WithLabelValues(name).Inc()
	}
}

func IncUnexpectedExit(name string) {
	if regOK.Load() {
		unexpectedExits.WithLabelValues(name).Inc()
		running.WithLabelValues(name).Set(0)
	}
}

func IncLogLine(name, stream string) {
	if regOK.Load() {
		logLines.WithLabelValues(name, stream).Inc()
	}
}

func ObserveStopDuration(name string, seconds float64) {
	if regOK.Load() {
		stopDuration.WithLabelValues(name).Observe(seconds)
	}
}
