package server

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/devrun/internal/events"
)

// keepAlive is the interval of comment frames on an idle event stream.
const keepAlive = 15 * time.Second

// handleEvents streams bus events as server-sent events. The event name is
// the event type; data is the JSON-encoded event. ?project=name filters to a
// single project.
func (r *Router) handleEvents(c *gin.Context) {
	filter := c.Query("project")
	ch, cancel := r.bus.Subscribe(events.DefaultBuffer)
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	_, _ = io.WriteString(c.Writer, ": connected\n\n")
	c.Writer.Flush()

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()
	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			_, err := io.WriteString(w, ": ping\n\n")
			return err == nil
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			if filter != "" && ev.Project != filter {
				return true
			}
			c.SSEvent(string(ev.Type), ev)
			return true
		}
	})
}
