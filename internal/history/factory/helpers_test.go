package factory

import (
	"time"

	"github.com/loykin/devrun/internal/history"
)

func sampleEvent() history.Event {
	return history.Event{
		Type:       history.EventStart,
		OccurredAt: time.Now().UTC(),
		Record:     history.Record{RunID: "r", Name: "n", PID: 1, StartedAt: time.Now().UTC()},
	}
}
