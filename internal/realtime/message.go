package realtime

import (
	"github.com/google/uuid"
)

type SSEEvent string

const (
	// SSEEventProgress carries throttled stage progress without a named event.
	SSEEventProgress SSEEvent = "progress"
)

type SSEMessage struct {
	Channel string   `json:"channel"`
	Event   SSEEvent `json:"event"`
	Data    any      `json:"data,omitempty"`
}

// LessonChannel is the channel every progress event of one document is published on.
func LessonChannel(documentID uuid.UUID) string {
	return "lesson:" + documentID.String()
}
