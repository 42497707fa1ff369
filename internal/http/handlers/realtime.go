package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/lessonforge/internal/platform/logger"
	"github.com/yungbote/lessonforge/internal/realtime"
)

type RealtimeHandler struct {
	log *logger.Logger
	hub *realtime.SSEHub
}

func NewRealtimeHandler(log *logger.Logger, hub *realtime.SSEHub) *RealtimeHandler {
	return &RealtimeHandler{log: log.With("handler", "RealtimeHandler"), hub: hub}
}

// GET /api/lessons/:id/events
// Streams the document's progress events until the client disconnects.
func (h *RealtimeHandler) LessonEvents(c *gin.Context) {
	id, ok := documentID(c)
	if !ok {
		return
	}
	client := h.hub.NewSSEClient()
	h.hub.AddChannel(client, realtime.LessonChannel(id))
	h.log.Debug("progress stream open", "document_id", id, "client_id", client.ID)

	h.hub.ServeHTTP(c.Writer, c.Request, client)

	h.hub.CloseClient(client)
	h.log.Debug("progress stream closed", "document_id", id, "client_id", client.ID)
}
