package client

import "time"

// Project is a registered dev project.
type Project struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Desc   string `json:"desc"`
	Script string `json:"script"`
}

// Status is the run state of a project. PID is nil when not running.
type Status struct {
	Running bool `json:"running"`
	PID     *int `json:"pid"`
}

// ProjectStatus is a project together with its run state.
type ProjectStatus struct {
	Project
	Status Status `json:"status"`
}

// Event types delivered by Events.
const (
	EventTerminalLog  = "terminal_log"
	EventStatusUpdate = "project_status_update"
)

// Event is one notification from the daemon's event stream.
type Event struct {
	Type    string    `json:"type"`
	Project string    `json:"project"`
	Line    string    `json:"line,omitempty"`
	Status  *Status   `json:"status,omitempty"`
	Time    time.Time `json:"time"`
}

// Token is a bearer token returned by Login.
type Token struct {
	Type      string    `json:"type"`
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
