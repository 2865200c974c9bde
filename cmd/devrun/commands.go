package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/loykin/devrun/internal/auth"
	"github.com/loykin/devrun/pkg/client"
)

const defaultAPIUrl = client.DefaultBaseURL

type command struct {
	global   *GlobalFlags
	out      io.Writer
	sessions *SessionManager
}

func newCommand(out io.Writer) *command {
	return &command{global: &GlobalFlags{}, out: out, sessions: NewSessionManager("")}
}

// baseURL picks the daemon URL: the flag, then the saved session, then the
// default.
func (c *command) baseURL(s *Session) string {
	if c.global.APIUrl != "" {
		return c.global.APIUrl
	}
	if s != nil && s.ServerURL != "" {
		return s.ServerURL
	}
	return defaultAPIUrl
}

// newClient builds an API client from the global flags. A saved session's
// token is used when no credentials were given and the URLs match.
func (c *command) newClient() (*client.Client, error) {
	sess, err := c.sessions.LoadSession()
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	cfg := client.DefaultConfig()
	cfg.BaseURL = c.baseURL(sess)
	if c.global.APITimeout > 0 {
		cfg.Timeout = c.global.APITimeout
	}
	cfg.Insecure = c.global.Insecure
	if c.global.CACert != "" {
		cfg.TLS = &client.TLSClientConfig{CACert: c.global.CACert, SkipVerify: c.global.Insecure}
	}
	cfg.Token, cfg.Username, cfg.Password = c.global.Token, c.global.Username, c.global.Password
	if cfg.Token == "" && cfg.Username == "" && sess != nil && sameURL(sess.ServerURL, cfg.BaseURL) {
		cfg.Token = sess.Token
	}
	return client.New(cfg)
}

func sameURL(a, b string) bool {
	return strings.TrimRight(a, "/") == strings.TrimRight(b, "/")
}

// describe turns API errors into CLI messages.
func (c *command) describe(err error) error {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = apiErr.Error()
		}
		if client.IsUnauthorized(err) {
			return fmt.Errorf("%s (try 'devrun login')", msg)
		}
		return errors.New(msg)
	}
	return err
}

func (c *command) ProjectAdd(ctx context.Context, f ProjectAddFlags) error {
	if strings.TrimSpace(f.Name) == "" {
		return fmt.Errorf("project name is required")
	}
	if f.Path != "" && !filepath.IsAbs(f.Path) {
		abs, err := filepath.Abs(f.Path)
		if err != nil {
			return fmt.Errorf("resolve path: %w", err)
		}
		f.Path = abs
	}
	cl, err := c.newClient()
	if err != nil {
		return err
	}
	p := client.Project{Name: f.Name, Path: f.Path, Script: f.Script, Desc: f.Desc}
	if err := cl.AddProject(ctx, p); err != nil {
		return c.describe(err)
	}
	_, _ = fmt.Fprintf(c.out, "Added project %s (%s)\n", p.Name, p.Path)
	return nil
}

func (c *command) ProjectList(ctx context.Context, asJSON bool) error {
	cl, err := c.newClient()
	if err != nil {
		return err
	}
	ps, err := cl.ListProjects(ctx)
	if err != nil {
		return c.describe(err)
	}
	if asJSON {
		return printJSON(c.out, ps)
	}
	printProjects(c.out, ps)
	return nil
}

func (c *command) ProjectRemove(ctx context.Context, name string) error {
	cl, err := c.newClient()
	if err != nil {
		return err
	}
	if err := cl.RemoveProject(ctx, name); err != nil {
		return c.describe(err)
	}
	_, _ = fmt.Fprintf(c.out, "Removed project %s\n", name)
	return nil
}

func (c *command) Start(ctx context.Context, name string) error {
	cl, err := c.newClient()
	if err != nil {
		return err
	}
	ps, err := cl.Start(ctx, name)
	if err != nil {
		return c.describe(err)
	}
	_, _ = fmt.Fprintf(c.out, "Started %s (%s)\n", name, formatStatus(ps.Status))
	return nil
}

func (c *command) Stop(ctx context.Context, name string) error {
	cl, err := c.newClient()
	if err != nil {
		return err
	}
	if err := cl.Stop(ctx, name); err != nil {
		return c.describe(err)
	}
	_, _ = fmt.Fprintf(c.out, "Stopped %s\n", name)
	return nil
}

func (c *command) Status(ctx context.Context, name string) error {
	cl, err := c.newClient()
	if err != nil {
		return err
	}
	st, err := cl.Status(ctx, name)
	if err != nil {
		return c.describe(err)
	}
	_, _ = fmt.Fprintf(c.out, "%s: %s\n", name, formatStatus(st))
	return nil
}

// Logs prints events until ctx is cancelled or the stream ends.
func (c *command) Logs(ctx context.Context, f LogsFlags) error {
	cl, err := c.newClient()
	if err != nil {
		return err
	}
	err = cl.Events(ctx, f.Project, func(e client.Event) error {
		switch e.Type {
		case client.EventTerminalLog:
			_, err := fmt.Fprintln(c.out, e.Line)
			return err
		case client.EventStatusUpdate:
			if !f.Status || e.Status == nil {
				return nil
			}
			_, err := fmt.Fprintf(c.out, "[%s] %s\n", e.Project, formatStatus(*e.Status))
			return err
		}
		return nil
	})
	return c.describe(err)
}

// Login exchanges credentials for a token and saves the session.
func (c *command) Login(ctx context.Context, f LoginFlags) error {
	if f.Username == "" || f.Password == "" {
		return fmt.Errorf("--user and --password are required")
	}
	cfg := client.DefaultConfig()
	cfg.BaseURL = c.baseURL(nil)
	if c.global.APITimeout > 0 {
		cfg.Timeout = c.global.APITimeout
	}
	cfg.Insecure = c.global.Insecure
	if c.global.CACert != "" {
		cfg.TLS = &client.TLSClientConfig{CACert: c.global.CACert, SkipVerify: c.global.Insecure}
	}
	cl, err := client.New(cfg)
	if err != nil {
		return err
	}
	tok, err := cl.Login(ctx, f.Username, f.Password)
	if err != nil {
		return fmt.Errorf("login failed: %w", c.describe(err))
	}
	sess := &Session{
		Token:     tok.Value,
		TokenType: tok.Type,
		ExpiresAt: tok.ExpiresAt,
		Username:  f.Username,
		ServerURL: cfg.BaseURL,
	}
	if err := c.sessions.SaveSession(sess); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	_, _ = fmt.Fprintf(c.out, "Logged in as %s, token expires %s\n", f.Username, tok.ExpiresAt.Local().Format("2006-01-02 15:04"))
	return nil
}

func (c *command) Logout() error {
	if !c.sessions.IsLoggedIn() {
		_, _ = fmt.Fprintln(c.out, "No active session found")
		return nil
	}
	if err := c.sessions.ClearSession(); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	_, _ = fmt.Fprintln(c.out, "Logged out")
	return nil
}

func (c *command) HashPassword(password string) error {
	h, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(c.out, h)
	return nil
}
