package handler

import (
	"fmt"
	"time"

	"github.com/conbuild/backoffice/internal/supply/service"
	"github.com/conbuild/backoffice/internal/supply/sse"
	"github.com/gin-gonic/gin"
)

// ActivityLogHandler 操作日志处理器
type ActivityLogHandler struct {
	svc *service.ActivityLogService
}

func NewActivityLogHandler(svc *service.ActivityLogService) *ActivityLogHandler {
	return &ActivityLogHandler{svc: svc}
}

// List 操作日志
// GET /activity-logs?entity_type=&entity_id=
func (h *ActivityLogHandler) List(c *gin.Context) {
	page, pageSize := GetPagination(c)
	result, err := h.svc.List(c.Request.Context(), c.Query("entity_type"), c.Query("entity_id"), page, pageSize)
	if err != nil {
		RespondError(c, err, "")
		return
	}
	Success(c, result)
}

// SSEHandler handles SSE connections
type SSEHandler struct {
	hub *sse.Hub
}

func NewSSEHandler(hub *sse.Hub) *SSEHandler {
	return &SSEHandler{hub: hub}
}

// Stream handles the SSE endpoint
// GET /sse/events?token=xxx
func (h *SSEHandler) Stream(c *gin.Context) {
	actor := GetActor(c)
	clientID := fmt.Sprintf("%s_%d", actor.UserID, time.Now().UnixNano())

	client := &sse.Client{
		ID:           clientID,
		UserID:       actor.UserID,
		DepartmentID: actor.DepartmentID,
		Events:       make(chan sse.Event, 64),
	}

	h.hub.Register(client)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	c.Writer.WriteString("event: connected\ndata: {\"client_id\":\"" + clientID + "\"}\n\n")
	c.Writer.Flush()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	clientGone := c.Request.Context().Done()

	for {
		select {
		case <-clientGone:
			h.hub.Unregister(clientID)
			return
		case event, ok := <-client.Events:
			if !ok {
				return
			}
			c.Writer.WriteString(fmt.Sprintf("event: %s\ndata: %s\n\n", event.EventType, event.Data))
			c.Writer.Flush()
		case <-heartbeat.C:
			c.Writer.WriteString(": keepalive\n\n")
			c.Writer.Flush()
		}
	}
}
