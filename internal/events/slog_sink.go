package events

import (
	"log/slog"
)

// SlogSink writes events to a structured logger. Terminal lines go out at
// debug level so a default info logger stays quiet.
type SlogSink struct {
	Logger *slog.Logger
}

// Publish implements Sink.
func (s SlogSink) Publish(e Event) {
	l := s.Logger
	if l == nil {
		l = slog.Default()
	}
	switch e.Type {
	case TypeTerminalLog:
		l.Debug("terminal output", "project", e.Project, "line", e.Line)
	case TypeStatusUpdate:
		if e.Status == nil {
			return
		}
		attrs := []any{"project", e.Project, "running", e.Status.Running}
		if e.Status.PID != nil {
			attrs = append(attrs, "pid", *e.Status.PID)
		}
		l.Info("project status", attrs...)
	}
}
