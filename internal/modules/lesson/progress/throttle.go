package progress

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/lessonforge/internal/modules/lesson"
)

type markKey struct {
	doc     uuid.UUID
	version int
	stage   lesson.StageName
}

type stageMark struct {
	pct int
	msg string
	at  time.Time
}

// Throttled keeps each run's per-stage progress monotonic and forwards at most one milestone
// per minInterval. Named events and errors always pass and close the stage's mark.
type Throttled struct {
	next        lesson.ProgressSink
	minInterval time.Duration
	now         func() time.Time

	mu   sync.Mutex
	last map[markKey]stageMark
}

func NewThrottled(next lesson.ProgressSink, minInterval time.Duration) *Throttled {
	if minInterval <= 0 {
		minInterval = 2 * time.Second
	}
	return &Throttled{next: next, minInterval: minInterval, now: time.Now, last: map[markKey]stageMark{}}
}

func (t *Throttled) OnProgress(ctx context.Context, ev lesson.ProgressEvent) {
	if ev.Progress < 0 {
		ev.Progress = 0
	}
	if ev.Progress > 100 {
		ev.Progress = 100
	}
	now := t.now()
	t.mu.Lock()
	key := markKey{doc: ev.DocumentID, version: ev.Version, stage: ev.Stage}
	prev, seen := t.last[key]
	if seen && ev.Progress < prev.pct {
		ev.Progress = prev.pct
	}
	if strings.TrimSpace(ev.Message) == "" {
		ev.Message = prev.msg
	}
	named := ev.Event != "" || ev.Error != nil
	if !named && seen && now.Sub(prev.at) < t.minInterval {
		t.mu.Unlock()
		return
	}
	if named {
		delete(t.last, key)
	} else {
		t.last[key] = stageMark{pct: ev.Progress, msg: ev.Message, at: now}
	}
	t.mu.Unlock()
	t.next.OnProgress(ctx, ev)
}
