package server

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Server is the daemon's HTTP listener.
type Server struct {
	srv    *http.Server
	ln     net.Listener
	tls    bool
	logger *slog.Logger
	done   chan error
	cancel context.CancelFunc
}

// NewServer binds addr and serves h in the background. A non-nil tlsCfg
// switches the listener to HTTPS. WriteTimeout stays zero so /events
// streams are not cut.
func NewServer(addr string, h http.Handler, tlsCfg *tls.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	// request contexts derive from base so Shutdown can end event streams
	base, cancel := context.WithCancel(context.Background())
	s := &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           h,
			TLSConfig:         tlsCfg,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			IdleTimeout:       60 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return base },
		},
		ln:     ln,
		tls:    tlsCfg != nil,
		logger: logger,
		done:   make(chan error, 1),
		cancel: cancel,
	}
	go func() {
		var err error
		if s.tls {
			err = s.srv.ServeTLS(ln, "", "")
		} else {
			err = s.srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		if err != nil {
			s.logger.Error("HTTP server failed", "addr", s.Addr(), "error", err)
		}
		s.done <- err
	}()
	s.logger.Info("HTTP server listening", "addr", s.Addr(), "tls", s.tls)
	return s, nil
}

// Addr returns the bound address, useful with ":0".
func (s *Server) Addr() string { return s.ln.Addr().String() }

// URL returns the scheme and address of the listener.
func (s *Server) URL() string {
	if s.tls {
		return "https://" + s.Addr()
	}
	return "http://" + s.Addr()
}

// Done reports the serve loop's terminal error, nil after Shutdown.
func (s *Server) Done() <-chan error { return s.done }

// Shutdown stops accepting connections, ends open event streams and waits
// for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	err := s.srv.Shutdown(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return s.srv.Close()
	}
	return err
}
