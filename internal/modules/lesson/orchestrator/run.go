package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/lessonforge/internal/modules/lesson"
	"github.com/yungbote/lessonforge/internal/modules/lesson/llm"
)

// Run is the state shared by the stages of one compilation.
type Run struct {
	DocumentID      uuid.UUID
	Version         int
	Descriptor      lesson.Descriptor
	Plan            *lesson.DomainPlan
	Personalization lesson.Personalization
	Requirements    lesson.Requirements
	Router          *llm.Router
	Progress        lesson.ProgressSink
	// Commit persists a terminal stage. Optional.
	Commit func(ctx context.Context, res *StageResult) error

	mu     sync.Mutex
	cards  map[string]lesson.Card
	status map[lesson.StageName]lesson.StageStatus
	done   map[lesson.StageName]chan struct{}
	review map[string][]string
}

func NewRun(doc *lesson.Document, d lesson.Descriptor, plan *lesson.DomainPlan, router *llm.Router, sink lesson.ProgressSink) *Run {
	if sink == nil {
		sink = lesson.NopProgress
	}
	r := &Run{
		DocumentID: doc.ID,
		Version:    doc.Version,
		Descriptor: d,
		Plan:       plan,
		Router:     router,
		Progress:   sink,
		cards:      map[string]lesson.Card{},
		status:     map[lesson.StageName]lesson.StageStatus{},
		done:       map[lesson.StageName]chan struct{}{},
		review:     map[string][]string{},
	}
	for _, s := range lesson.Stages {
		r.done[s] = make(chan struct{})
		r.status[s] = lesson.StageStatus{State: lesson.StatePending}
	}
	return r
}

// Seed loads cards of an already finished stage, e.g. a stored Content stage before a
// stage regeneration.
func (r *Run) Seed(stage lesson.StageName, cards []lesson.Card, st lesson.StageStatus) {
	r.mu.Lock()
	for _, c := range cards {
		r.cards[c.Type] = c
	}
	r.mu.Unlock()
	r.finish(stage, st)
}

// Upstream returns a snapshot of every card produced so far.
func (r *Run) Upstream() map[string]lesson.Card {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]lesson.Card, len(r.cards))
	for k, v := range r.cards {
		out[k] = v
	}
	return out
}

func (r *Run) Status(stage lesson.StageName) lesson.StageStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status[stage]
}

func (r *Run) Done(stage lesson.StageName) bool {
	select {
	case <-r.done[stage]:
		return true
	default:
		return false
	}
}

// Await blocks until stage is terminal or bound elapses. degraded is true when the bound
// elapsed first; the caller proceeds either way.
func (r *Run) Await(ctx context.Context, stage lesson.StageName, bound time.Duration) (degraded bool, err error) {
	ch, ok := r.done[stage]
	if !ok {
		return false, nil
	}
	select {
	case <-ch:
		return false, nil
	default:
	}
	if bound <= 0 {
		return true, nil
	}
	t := time.NewTimer(bound)
	defer t.Stop()
	select {
	case <-ch:
		return false, nil
	case <-t.C:
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// SetReviewNotes attaches reviewer feedback to the next generation of cardType.
func (r *Run) SetReviewNotes(cardType string, notes []string) {
	r.mu.Lock()
	r.review[cardType] = append([]string(nil), notes...)
	r.mu.Unlock()
}

func (r *Run) reviewNotes(cardType string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.review[cardType]
}

func (r *Run) put(c lesson.Card) {
	r.mu.Lock()
	r.cards[c.Type] = c
	r.mu.Unlock()
}

func (r *Run) setStatus(stage lesson.StageName, st lesson.StageStatus) {
	r.mu.Lock()
	r.status[stage] = st
	r.mu.Unlock()
}

func (r *Run) finish(stage lesson.StageName, st lesson.StageStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status[stage] = st
	select {
	case <-r.done[stage]:
	default:
		close(r.done[stage])
	}
}

func (r *Run) emit(ctx context.Context, ev lesson.ProgressEvent) {
	ev.DocumentID = r.DocumentID
	ev.Version = r.Version
	r.Progress.OnProgress(ctx, ev)
}
