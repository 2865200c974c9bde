package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot(newCommand(os.Stdout))
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and its subcommands.
func buildRoot(c *command) *cobra.Command {
	root := createRootCommand(c.global)
	root.AddCommand(
		createServeCommand(c),
		createProjectCommand(c),
		createStartCommand(c),
		createStopCommand(c),
		createStatusCommand(c),
		createLogsCommand(c),
		createLoginCommand(c),
		createLogoutCommand(c),
		createAuthCommand(c),
	)
	root.SetOut(c.out)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "devrun",
		Short: "Run and watch local dev projects",
		Long: `devrun keeps a list of local projects and runs their dev scripts,
streaming output and status to HTTP clients.

Examples:
  devrun serve --config=devrun.toml
  devrun project add --name=web --path=/src/web --script=dev
  devrun start web
  devrun logs --project=web`,
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	pf.StringVar(&flags.APIUrl, "api-url", "", "daemon URL (default "+defaultAPIUrl+" or the saved session)")
	pf.DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	pf.StringVar(&flags.Token, "token", "", "bearer token")
	pf.StringVar(&flags.Username, "user", "", "basic auth username")
	pf.StringVar(&flags.Password, "password", "", "basic auth password")
	pf.StringVar(&flags.CACert, "ca-cert", "", "CA certificate for an HTTPS daemon")
	pf.BoolVar(&flags.Insecure, "insecure", false, "skip TLS certificate verification")
	return root
}

func createServeCommand(c *command) *cobra.Command {
	f := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the devrun daemon",
		Long: `Start the daemon serving the HTTP API. Without a config file the
defaults are used: listen on 127.0.0.1:8080, store projects in devrun.db.

Examples:
  devrun serve
  devrun serve devrun.toml
  devrun serve --config=devrun.toml --daemonize --pidfile=devrun.pid`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.ConfigPath = c.global.ConfigPath
			if len(args) > 0 {
				f.ConfigPath = args[0]
			}
			return c.Serve(cmd.Context(), *f)
		},
	}
	cmd.Flags().BoolVar(&f.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&f.PidFile, "pidfile", "", "write the daemon pid to this file")
	cmd.Flags().StringVar(&f.LogFile, "logfile", "", "redirect daemon output to this file")
	return cmd
}

func createProjectCommand(c *command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage registered projects",
	}

	add := &ProjectAddFlags{}
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Register a project",
		Long: `Register a project directory and the script to run in it.

Examples:
  devrun project add --name=web --path=/src/web --script=dev
  devrun project add --name=api --path=/src/api --script=start --desc="backend"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.ProjectAdd(cmd.Context(), *add)
		},
	}
	addCmd.Flags().StringVar(&add.Name, "name", "", "project name (required)")
	addCmd.Flags().StringVar(&add.Path, "path", "", "project directory (required, absolute)")
	addCmd.Flags().StringVar(&add.Script, "script", "", "script passed to the runner")
	addCmd.Flags().StringVar(&add.Desc, "desc", "", "description")
	mustMarkRequired(addCmd, "name", "path")

	var asJSON bool
	listCmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List projects with their status",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.ProjectList(cmd.Context(), asJSON)
		},
	}
	listCmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")

	removeCmd := &cobra.Command{
		Use:     "remove <name>",
		Aliases: []string{"rm"},
		Short:   "Remove a stopped project",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.ProjectRemove(cmd.Context(), args[0])
		},
	}

	cmd.AddCommand(addCmd, listCmd, removeCmd)
	return cmd
}

func createStartCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "start <name>",
		Short: "Start a project's script",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Start(cmd.Context(), args[0])
		},
	}
}

func createStopCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <name>",
		Short: "Stop a running project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Stop(cmd.Context(), args[0])
		},
	}
}

func createStatusCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "status <name>",
		Short: "Show whether a project is running",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Status(cmd.Context(), args[0])
		},
	}
}

func createLogsCommand(c *command) *cobra.Command {
	f := &LogsFlags{}
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Follow project output and status changes",
		Long: `Follow the daemon's event stream until interrupted.

Examples:
  devrun logs
  devrun logs --project=web
  devrun logs --project=web --status=false`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.Logs(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Project, "project", "", "only show events of this project")
	cmd.Flags().BoolVar(&f.Status, "status", true, "show status changes")
	return cmd
}

func createLoginCommand(c *command) *cobra.Command {
	f := &LoginFlags{}
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in to the daemon and save the token",
		Long: `Exchange a username and password for a token. The token is saved in
~/.devrun/session.json and used by later commands against the same URL.

Examples:
  devrun login --user=admin --password=secret
  devrun login --api-url=https://host:8443/api --user=admin --password=secret`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f.Username, f.Password = c.global.Username, c.global.Password
			return c.Login(cmd.Context(), *f)
		},
	}
	return cmd
}

func createLogoutCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved session",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return c.Logout()
		},
	}
}

func createAuthCommand(c *command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authentication helpers",
	}
	hash := &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Print a bcrypt hash for [[server.auth.users]] password_hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return c.HashPassword(args[0])
		},
	}
	cmd.AddCommand(hash)
	return cmd
}

func mustMarkRequired(cmd *cobra.Command, names ...string) {
	for _, n := range names {
		if err := cmd.MarkFlagRequired(n); err != nil {
			panic(err)
		}
	}
}
