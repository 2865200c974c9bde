package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/loykin/devrun"
)

// Serve runs the daemon until interrupted, then stops every running
// project.
func (c *command) Serve(ctx context.Context, f ServeFlags) error {
	conf := devrun.DefaultConfig()
	if f.ConfigPath != "" {
		loaded, err := devrun.LoadConfig(f.ConfigPath)
		if err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}
		conf = *loaded
	}

	if f.Daemonize {
		pid, err := daemonize(f.PidFile, f.LogFile)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(c.out, "Daemon started with PID %d\n", pid)
		return nil
	}
	if f.PidFile != "" {
		if err := writePidFile(f.PidFile, os.Getpid()); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = removePidFile(f.PidFile) }()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := devrun.New(conf)
	if err != nil {
		return err
	}
	scheme := "http"
	if conf.Server.TLS.Enabled {
		scheme = "https"
	}
	app.Logger().Info("Starting devrun server",
		"url", fmt.Sprintf("%s://%s%s", scheme, conf.Server.Listen, conf.Server.BasePath),
		"store", conf.Store.DSN,
		"auth", conf.Server.Auth.Enabled)

	serveErr := app.Serve(ctx)
	app.Logger().Info("Shutting down")
	return errors.Join(serveErr, app.Close())
}
