package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/devrun/internal/auth"
	"github.com/loykin/devrun/internal/detector"
	"github.com/loykin/devrun/internal/env"
	"github.com/loykin/devrun/internal/logger"
	"github.com/loykin/devrun/internal/process"
	"github.com/loykin/devrun/internal/project"
	"github.com/loykin/devrun/internal/tls"
)

// EnvPrefix is prepended to environment variables overriding config keys,
// e.g. DEVRUN_SERVER_LISTEN or DEVRUN_SUPERVISOR_GRACE_PERIOD.
const EnvPrefix = "DEVRUN"

// Config is the top-level TOML structure.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Store      StoreConfig      `mapstructure:"store"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Log        logger.Config    `mapstructure:"log"`
	Env        []string         `mapstructure:"env"`
	EnvFiles   []string         `mapstructure:"env_files"`
	UseOSEnv   bool             `mapstructure:"use_os_env"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	History    HistoryConfig    `mapstructure:"history"`
	Projects   []ProjectConfig  `mapstructure:"projects"`
}

type ServerConfig struct {
	Listen   string      `mapstructure:"listen"`
	BasePath string      `mapstructure:"base_path"`
	TLS      tls.Config  `mapstructure:"tls"`
	Auth     auth.Config `mapstructure:"auth"`
}

type StoreConfig struct {
	DSN string `mapstructure:"dsn"`
}

// SupervisorConfig tunes how projects are run and stopped.
type SupervisorConfig struct {
	Runner          string        `mapstructure:"runner"`
	GracePeriod     time.Duration `mapstructure:"grace_period"`
	ReapTimeout     time.Duration `mapstructure:"reap_timeout"`
	WatchExit       bool          `mapstructure:"watch_exit"`
	Liveness        string        `mapstructure:"liveness"`
	LivenessCommand string        `mapstructure:"liveness_command"`
}

// DetectorFactory returns the liveness check selected by Liveness.
func (s SupervisorConfig) DetectorFactory() (detector.Factory, error) {
	return detector.FactoryFor(s.Liveness, s.LivenessCommand)
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Listen serves /metrics on its own address; empty mounts it on the API server.
	Listen string `mapstructure:"listen"`
}

type HistoryConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	DSNs    []string `mapstructure:"dsns"`
}

// ProjectConfig seeds a project into the store on startup when its name is
// not registered yet.
type ProjectConfig struct {
	Name   string `mapstructure:"name"`
	Path   string `mapstructure:"path"`
	Desc   string `mapstructure:"desc"`
	Script string `mapstructure:"script"`
}

// Default returns a configuration that runs with no file at all.
func Default() Config {
	return Config{
		Server: ServerConfig{Listen: "127.0.0.1:8080", BasePath: "/api"},
		Store:  StoreConfig{DSN: "devrun.db"},
		Supervisor: SupervisorConfig{
			Runner:      process.DefaultRunner,
			GracePeriod: 500 * time.Millisecond,
			ReapTimeout: 5 * time.Second,
			WatchExit:   true,
			Liveness:    detector.ModePID,
		},
		Log: logger.Config{Slog: logger.SlogConfig{
			Level:  logger.LevelInfo,
			Format: logger.FormatText,
		}},
		UseOSEnv: true,
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server.listen", d.Server.Listen)
	v.SetDefault("server.base_path", d.Server.BasePath)
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.tls.cert_file", "")
	v.SetDefault("server.tls.key_file", "")
	v.SetDefault("server.tls.dir", "")
	v.SetDefault("server.tls.auto_generate", false)
	v.SetDefault("server.auth.enabled", false)
	v.SetDefault("server.auth.jwt_secret", "")
	v.SetDefault("server.auth.token_ttl", auth.DefaultTokenTTL)
	v.SetDefault("store.dsn", d.Store.DSN)
	v.SetDefault("supervisor.runner", d.Supervisor.Runner)
	v.SetDefault("supervisor.grace_period", d.Supervisor.GracePeriod)
	v.SetDefault("supervisor.reap_timeout", d.Supervisor.ReapTimeout)
	v.SetDefault("supervisor.watch_exit", d.Supervisor.WatchExit)
	v.SetDefault("supervisor.liveness", d.Supervisor.Liveness)
	v.SetDefault("supervisor.liveness_command", "")
	v.SetDefault("log.slog.level", d.Log.Slog.Level)
	v.SetDefault("log.slog.format", d.Log.Slog.Format)
	v.SetDefault("log.slog.color", false)
	v.SetDefault("log.slog.timestamps", false)
	v.SetDefault("log.slog.source", false)
	v.SetDefault("log.file.dir", "")
	v.SetDefault("log.file.stdout", "")
	v.SetDefault("log.file.stderr", "")
	v.SetDefault("log.file.max_size_mb", 0)
	v.SetDefault("log.file.max_backups", 0)
	v.SetDefault("log.file.max_age_days", 0)
	v.SetDefault("log.file.compress", false)
	v.SetDefault("env", []string{})
	v.SetDefault("env_files", []string{})
	v.SetDefault("use_os_env", d.UseOSEnv)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "")
	v.SetDefault("history.enabled", false)
	v.SetDefault("history.dsns", []string{})
}

// Load reads the TOML file at path on top of Default. An empty path loads
// defaults only. DEVRUN_* environment variables override both.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if p := strings.TrimSpace(path); p != "" {
		v.SetConfigFile(p)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", p, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate rejects settings the daemon cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Supervisor.GracePeriod < 0 {
		errs = append(errs, fmt.Errorf("supervisor.grace_period must not be negative, got %s", c.Supervisor.GracePeriod))
	}
	if c.Supervisor.ReapTimeout <= 0 {
		errs = append(errs, fmt.Errorf("supervisor.reap_timeout must be positive, got %s", c.Supervisor.ReapTimeout))
	}
	if _, err := c.Supervisor.DetectorFactory(); err != nil {
		errs = append(errs, err)
	}
	if c.Server.Auth.Enabled && len(c.Server.Auth.Users) == 0 {
		errs = append(errs, errors.New("server.auth.enabled requires at least one entry in server.auth.users"))
	}
	if c.History.Enabled && len(c.History.DSNs) == 0 {
		errs = append(errs, errors.New("history.enabled requires at least one entry in history.dsns"))
	}
	seen := make(map[string]struct{}, len(c.Projects))
	for i, p := range c.Projects {
		if strings.TrimSpace(p.Name) == "" {
			errs = append(errs, fmt.Errorf("projects[%d] requires name", i))
			continue
		}
		if !project.ValidName(p.Name) {
			errs = append(errs, fmt.Errorf("projects[%d]: %w", i, project.ErrInvalidName))
		}
		if _, dup := seen[p.Name]; dup {
			errs = append(errs, fmt.Errorf("duplicate project %q", p.Name))
		}
		seen[p.Name] = struct{}{}
	}
	return errors.Join(errs...)
}

// BuildEnv composes the project environment. Precedence, lowest first:
// OS environment (when use_os_env), env_files in order, then env.
func (c *Config) BuildEnv() (*env.Env, error) {
	e := env.New()
	e.UseOS(c.UseOSEnv)
	for _, p := range c.EnvFiles {
		vars, err := env.ParseFile(p)
		if err != nil {
			return nil, fmt.Errorf("env file %s: %w", p, err)
		}
		for k, val := range vars {
			e.Set(k, val)
		}
	}
	e.SetAll(c.Env)
	return e, nil
}
