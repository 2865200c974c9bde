// Package events defines the notifications the supervision core publishes
// to its observers and a few ready-made sinks.
package events

import "time"

// Type identifies the kind of an Event.
type Type string

const (
	// TypeTerminalLog carries one line of child output as "<name>: <line>".
	TypeTerminalLog Type = "terminal_log"
	// TypeStatusUpdate carries a project's new run state.
	TypeStatusUpdate Type = "project_status_update"
)

// Status is the run state of a project as seen by observers.
// PID is nil whenever Running is false.
type Status struct {
	Running bool `json:"running"`
	PID     *int `json:"pid"`
}

// Running builds the status of a live process.
func Running(pid int) Status {
	return Status{Running: true, PID: &pid}
}

// Stopped is the status of a project with no live process.
func Stopped() Status {
	return Status{}
}

// Event is a single notification. Line is set for TypeTerminalLog,
// Status for TypeStatusUpdate.
type Event struct {
	Type    Type      `json:"type"`
	Project string    `json:"project"`
	Line    string    `json:"line,omitempty"`
	Status  *Status   `json:"status,omitempty"`
	Time    time.Time `json:"time"`
}

// Sink receives events. Publish must not block for long; delivery is
// fire-and-forget and at-most-once.
type Sink interface {
	Publish(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Publish calls f(e).
func (f SinkFunc) Publish(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Log builds a terminal_log event for project name.
func Log(name, line string) Event {
	return Event{Type: TypeTerminalLog, Project: name, Line: name + ": " + line, Time: time.Now()}
}

// StatusUpdate builds a project_status_update event.
func StatusUpdate(name string, st Status) Event {
	return Event{Type: TypeStatusUpdate, Project: name, Status: &st, Time: time.Now()}
}

// Multi fans an event out to every non-nil sink in order.
func Multi(sinks ...Sink) Sink {
	out := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return multi(out)
}

type multi []Sink

func (m multi) Publish(e Event) {
	for _, s := range m {
		s.Publish(e)
	}
}
