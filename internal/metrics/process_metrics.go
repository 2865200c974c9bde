package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// ProcessMetrics is a point-in-time resource sample of one project process.
type ProcessMetrics struct {
	PID        int32     `json:"pid"`
	Name       string    `json:"name"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	MemoryRSS  uint64    `json:"memory_rss"`
	NumThreads int32     `json:"num_threads"`
	Timestamp  time.Time `json:"timestamp"`
}

// Sample reads CPU and memory usage of pid.
func Sample(ctx context.Context, name string, pid int) (ProcessMetrics, error) {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return ProcessMetrics{}, err
	}
	m := ProcessMetrics{PID: int32(pid), Name: name, Timestamp: time.Now()}
	if cpu, err := p.CPUPercentWithContext(ctx); err == nil {
		m.CPUPercent = cpu
	}
	if mem, err := p.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		m.MemoryRSS = mem.RSS
		m.MemoryMB = float64(mem.RSS) / 1024 / 1024
	}
	if n, err := p.NumThreadsWithContext(ctx); err == nil {
		m.NumThreads = n
	}
	return m, nil
}

// PIDSource lists the live project processes by name.
type PIDSource func() map[string]int

// ResourceCollector exports CPU and memory gauges for every running project
// on each scrape.
type ResourceCollector struct {
	src     PIDSource
	timeout time.Duration
	logger  *slog.Logger

	cpuDesc *prometheus.Desc
	memDesc *prometheus.Desc
}

// NewResourceCollector builds a collector reading PIDs from src.
func NewResourceCollector(src PIDSource, logger *slog.Logger) *ResourceCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResourceCollector{
		src:     src,
		timeout: 2 * time.Second,
		logger:  logger,
		cpuDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "project", "cpu_percent"),
			"CPU usage of the project's root process.",
			[]string{"name"}, nil,
		),
		memDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "project", "memory_rss_bytes"),
			"Resident memory of the project's root process.",
			[]string{"name"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *ResourceCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.cpuDesc
	ch <- c.memDesc
}

// Collect implements prometheus.Collector.
func (c *ResourceCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	for name, pid := range c.src() {
		m, err := Sample(ctx, name, pid)
		if err != nil {
			c.logger.Debug("sample process", "name", name, "pid", pid, "error", err)
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.cpuDesc, prometheus.GaugeValue, m.CPUPercent, name)
		ch <- prometheus.MustNewConstMetric(c.memDesc, prometheus.GaugeValue, float64(m.MemoryRSS), name)
	}
}
