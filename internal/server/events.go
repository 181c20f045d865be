package server

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/svcman/internal/events"
)

// eventBuffer bounds the per-connection queue; a client that falls this far
// behind loses events rather than slowing anyone else down.
const eventBuffer = 256

// handleEvents streams bus events as server-sent events until the client
// disconnects. A "service" query parameter filters to one service.
func (r *ManagerRouter) handleEvents(c *gin.Context) {
	filter := c.Query("service")
	if filter != "" && !r.sup.Known(filter) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid service"})
		return
	}

	ch := make(chan events.Event, eventBuffer)
	unsub := r.sup.Bus().SubscribeToChannel(ch)
	defer unsub()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()
	ctx := c.Request.Context()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev := <-ch:
			if filter == "" || ev.ServiceName() == filter {
				c.SSEvent(ev.EventName(), ev)
			}
			return true
		case <-ticker.C:
			_, err := io.WriteString(w, ": ping\n\n")
			return err == nil
		}
	})
}
