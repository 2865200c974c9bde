// Package devrun is the embeddable face of the devrun daemon: it wires the
// project store, the supervisor, the event bus, history sinks, metrics and
// the HTTP API from a single Config.
package devrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/devrun/internal/auth"
	cfg "github.com/loykin/devrun/internal/config"
	"github.com/loykin/devrun/internal/events"
	"github.com/loykin/devrun/internal/history"
	hfactory "github.com/loykin/devrun/internal/history/factory"
	"github.com/loykin/devrun/internal/manager"
	"github.com/loykin/devrun/internal/metrics"
	"github.com/loykin/devrun/internal/project"
	pfactory "github.com/loykin/devrun/internal/project/factory"
	"github.com/loykin/devrun/internal/server"
	"github.com/loykin/devrun/internal/tls"
)

// Re-export core types for external consumers.

type Config = cfg.Config

type ProjectConfig = cfg.ProjectConfig

type Project = project.Project

type Status = manager.Status

type Event = events.Event

// Errors callers may match with errors.Is.
var (
	ErrAlreadyRunning = manager.ErrAlreadyRunning
	ErrNotRunning     = manager.ErrNotRunning
	ErrStillRunning   = manager.ErrStillRunning
	ErrSpawnFailed    = manager.ErrSpawnFailed
	ErrNotFound       = project.ErrNotFound
	ErrDuplicate      = project.ErrDuplicate
)

const (
	setupTimeout    = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

// LoadConfig reads a TOML config file; see config.Load.
func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// DefaultConfig returns a config that runs without a file.
func DefaultConfig() Config { return cfg.Default() }

// App owns every long-lived component of the daemon.
type App struct {
	cfg     Config
	logger  *slog.Logger
	store   project.Store
	bus     *events.Bus
	sup     *manager.Supervisor
	hist    history.Multi
	metrics http.Handler
	router  *server.Router
}

// New builds an App from c. The returned App owns the store and history
// sinks; release them with Close.
func New(c Config) (app *App, err error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	a := &App{cfg: c, logger: c.Log.NewSlogger(), bus: events.NewBus()}
	defer func() {
		if err != nil {
			_ = a.hist.Close()
			if a.store != nil {
				_ = a.store.Close()
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
	defer cancel()

	if a.store, err = pfactory.NewFromDSN(c.Store.DSN); err != nil {
		return nil, fmt.Errorf("open project store: %w", err)
	}
	if err = a.store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("prepare project store: %w", err)
	}
	if err = a.seed(ctx); err != nil {
		return nil, err
	}

	if c.History.Enabled {
		if a.hist, err = hfactory.NewSinks(c.History.DSNs); err != nil {
			return nil, fmt.Errorf("open history sinks: %w", err)
		}
	}

	environ, err := c.BuildEnv()
	if err != nil {
		return nil, err
	}
	detect, err := c.Supervisor.DetectorFactory()
	if err != nil {
		return nil, err
	}
	a.sup = manager.NewSupervisor(
		events.Multi(a.bus, events.SlogSink{Logger: a.logger.With("component", "events")}),
		manager.WithRunner(c.Supervisor.Runner),
		manager.WithGracePeriod(c.Supervisor.GracePeriod),
		manager.WithReapTimeout(c.Supervisor.ReapTimeout),
		manager.WithWatchExit(c.Supervisor.WatchExit),
		manager.WithDetector(detect),
		manager.WithLogger(a.logger),
		manager.WithEnv(environ),
		manager.WithLogFiles(c.Log.File),
		manager.WithHistory(a.hist...),
	)

	if c.Metrics.Enabled {
		if a.metrics, err = a.metricsHandler(); err != nil {
			return nil, err
		}
	}

	ropts := []server.RouterOption{server.WithLogger(a.logger.With("component", "http"))}
	if a.metrics != nil && c.Metrics.Listen == "" {
		ropts = append(ropts, server.WithMetricsHandler(a.metrics))
	}
	if c.Server.Auth.Enabled {
		svc, err := auth.NewService(c.Server.Auth)
		if err != nil {
			return nil, err
		}
		ropts = append(ropts, server.WithAuth(auth.NewMiddleware(svc)))
	}
	a.router = server.NewRouter(a.sup, a.store, a.bus, c.Server.BasePath, ropts...)
	return a, nil
}

// seed adds the config's [[projects]] entries that the store does not know.
func (a *App) seed(ctx context.Context) error {
	for _, pc := range a.cfg.Projects {
		p := project.Project{Name: pc.Name, Path: pc.Path, Desc: pc.Desc, Script: pc.Script}
		err := a.store.Add(ctx, p)
		switch {
		case err == nil:
			a.logger.Info("Project seeded from config", "project", p.Name)
		case errors.Is(err, project.ErrDuplicate):
		default:
			return fmt.Errorf("seed project %q: %w", p.Name, err)
		}
	}
	return nil
}

func (a *App) metricsHandler() (http.Handler, error) {
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	reg := prometheus.NewRegistry()
	if err := reg.Register(metrics.NewResourceCollector(a.sup.PIDs, a.logger)); err != nil {
		return nil, fmt.Errorf("register resource collector: %w", err)
	}
	return metrics.HandlerFor(prometheus.Gatherers{prometheus.DefaultGatherer, reg}), nil
}

// Supervisor returns the process supervisor.
func (a *App) Supervisor() *manager.Supervisor { return a.sup }

// Store returns the project store.
func (a *App) Store() project.Store { return a.store }

// Subscribe follows the event stream; call cancel to stop.
func (a *App) Subscribe() (<-chan Event, func()) { return a.bus.Subscribe(events.DefaultBuffer) }

// Handler returns the HTTP API for mounting in another server.
func (a *App) Handler() http.Handler { return a.router.Handler() }

// Logger returns the application logger.
func (a *App) Logger() *slog.Logger { return a.logger }

// Start runs the script of the stored project name.
func (a *App) Start(ctx context.Context, name string) error {
	p, err := a.store.Get(ctx, name)
	if err != nil {
		return err
	}
	return a.sup.Start(p.Name, p.Path, p.Script)
}

// Stop stops project name.
func (a *App) Stop(name string) error { return a.sup.Stop(name) }

// Status returns the last recorded status of project name.
func (a *App) Status(name string) (Status, error) { return a.sup.GetStatus(name) }

// Serve runs the HTTP API, and the metrics listener when one is configured,
// until ctx is cancelled or a listener fails. It does not stop projects;
// Close does.
func (a *App) Serve(ctx context.Context) error {
	tlsCfg, err := tls.Setup(a.cfg.Server.TLS)
	if err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	api, err := server.NewServer(a.cfg.Server.Listen, a.Handler(), tlsCfg, a.logger)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.Server.Listen, err)
	}
	servers := []*server.Server{api}

	var metricsDone <-chan error
	if a.metrics != nil && a.cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.metrics)
		ms, err := server.NewServer(a.cfg.Metrics.Listen, mux, nil, a.logger)
		if err != nil {
			a.shutdown(servers)
			return fmt.Errorf("listen %s: %w", a.cfg.Metrics.Listen, err)
		}
		servers = append(servers, ms)
		metricsDone = ms.Done()
	}

	select {
	case <-ctx.Done():
		a.shutdown(servers)
		return nil
	case err = <-api.Done():
	case err = <-metricsDone:
	}
	a.shutdown(servers)
	return err
}

func (a *App) shutdown(servers []*server.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, s := range servers {
		if err := s.Shutdown(ctx); err != nil {
			a.logger.Warn("HTTP server shutdown", "addr", s.Addr(), "error", err)
		}
	}
}

// Close stops every running project, then closes history sinks and the
// project store.
func (a *App) Close() error {
	var errs []error
	if err := a.sup.Shutdown(); err != nil {
		errs = append(errs, err)
	}
	if err := a.hist.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
