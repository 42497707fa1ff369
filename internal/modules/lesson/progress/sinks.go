package progress

import (
	"context"
	"sync"

	"github.com/yungbote/lessonforge/internal/modules/lesson"
	"github.com/yungbote/lessonforge/internal/platform/logger"
	"github.com/yungbote/lessonforge/internal/realtime"
	"github.com/yungbote/lessonforge/internal/realtime/bus"
)

type multi []lesson.ProgressSink

// Multi delivers each event to every non-nil sink in order.
func Multi(sinks ...lesson.ProgressSink) lesson.ProgressSink {
	var out multi
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m multi) OnProgress(ctx context.Context, ev lesson.ProgressEvent) {
	for _, s := range m {
		s.OnProgress(ctx, ev)
	}
}

// BusSink publishes events on the document's realtime channel.
type BusSink struct {
	bus bus.Bus
	log *logger.Logger
}

func NewBusSink(b bus.Bus, log *logger.Logger) *BusSink {
	return &BusSink{bus: b, log: log.With("service", "ProgressBusSink")}
}

func (s *BusSink) OnProgress(ctx context.Context, ev lesson.ProgressEvent) {
	event := realtime.SSEEventProgress
	if ev.Event != "" {
		event = realtime.SSEEvent(ev.Event)
	}
	msg := realtime.SSEMessage{Channel: realtime.LessonChannel(ev.DocumentID), Event: event, Data: ev}
	// Background stages outlive the request; publishing must too.
	if err := s.bus.Publish(context.WithoutCancel(ctx), msg); err != nil {
		s.log.Warn("progress publish failed", "document_id", ev.DocumentID, "event", event, "error", err)
	}
}

// Recorder keeps every event; the CLI prints from it and tests assert on it.
type Recorder struct {
	mu     sync.Mutex
	events []lesson.ProgressEvent
}

func (r *Recorder) OnProgress(_ context.Context, ev lesson.ProgressEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *Recorder) Events() []lesson.ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]lesson.ProgressEvent(nil), r.events...)
}

// Named returns the named events in emission order.
func (r *Recorder) Named() []string {
	var out []string
	for _, ev := range r.Events() {
		if ev.Event != "" {
			out = append(out, ev.Event)
		}
	}
	return out
}
