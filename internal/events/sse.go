package events

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// Heartbeat is the interval between keep-alive comments on idle streams.
var Heartbeat = 15 * time.Second

// ServeSSE streams the events that belong to userID. The optional "types"
// query parameter is a comma separated filter.
func (b *Bus) ServeSSE(c *gin.Context, userID string) {
	var types []EventType
	if raw := strings.TrimSpace(c.Query("types")); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			t, ok := ParseType(strings.TrimSpace(part))
			if !ok {
				c.JSON(http.StatusBadRequest, gin.H{"error": "unknown event type " + part})
				return
			}
			types = append(types, t)
		}
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	sub := b.Subscribe(types...)
	defer b.Unsubscribe(sub)

	ticker := time.NewTicker(Heartbeat)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = c.Writer.WriteString(": ping\n\n")
			c.Writer.Flush()
		case e, ok := <-sub.C:
			if !ok {
				return
			}
			if e.UserID != userID {
				continue
			}
			c.SSEvent(string(e.Type), e)
			c.Writer.Flush()
		}
	}
}
