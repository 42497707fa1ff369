package compiler

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/yungbote/lessonforge/internal/modules/lesson"
	"github.com/yungbote/lessonforge/internal/modules/lesson/orchestrator"
)

// Task is the owned handle of one background continuation.
type Task struct {
	DocumentID uuid.UUID
	Version    int

	done    chan struct{}
	mu      sync.Mutex
	err     error
	results []*orchestrator.StageResult
}

// Done is closed once every remaining stage is terminal and persisted.
func (t *Task) Done() <-chan struct{} { return t.done }

func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Task) Results() []*orchestrator.StageResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*orchestrator.StageResult(nil), t.results...)
}

// Wait blocks until the task finishes or ctx ends.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Compiler) spawn(ctx context.Context, run *orchestrator.Run, doc *lesson.Document, docKey string) *Task {
	t := &Task{DocumentID: doc.ID, Version: doc.Version, done: make(chan struct{})}
	c.mu.Lock()
	c.live[t] = struct{}{}
	c.mu.Unlock()
	c.tasks.Add(1)

	go func() {
		defer c.tasks.Done()
		defer func() {
			c.mu.Lock()
			delete(c.live, t)
			c.mu.Unlock()
			close(t.done)
		}()
		defer func() {
			if r := recover(); r != nil {
				c.log.Error("background continuation panicked", "document_id", doc.ID, "version", doc.Version, "panic", r)
				t.mu.Lock()
				t.err = fmt.Errorf("background continuation panicked: %v", r)
				t.mu.Unlock()
			}
		}()

		err := c.continueRun(ctx, run, doc, docKey, t)
		t.mu.Lock()
		t.err = err
		t.mu.Unlock()
	}()
	return t
}

// continueRun finishes the later stages of an incremental compile. Failures are recorded on
// the document and in progress events; nothing is returned to the original caller.
func (c *Compiler) continueRun(ctx context.Context, run *orchestrator.Run, doc *lesson.Document, docKey string, t *Task) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CompileTimeout)
	defer cancel()

	results, err := c.deps.Orchestrator.RunStages(ctx, run, lesson.Stages[1:]...)
	t.mu.Lock()
	t.results = results
	t.mu.Unlock()
	assemble(doc, results, run.Router)
	if err != nil {
		c.log.Error("background stages aborted", "document_id", doc.ID, "version", doc.Version, "error", err)
		return err
	}
	if err := c.finalize(ctx, doc, run); err != nil {
		c.log.Warn("background finalize failed", "document_id", doc.ID, "version", doc.Version, "error", err)
		return err
	}
	if _, err := c.remember(ctx, docKey, doc); err != nil {
		return err
	}
	c.log.Info("background stages finished", "document_id", doc.ID, "version", doc.Version, "flags", doc.Flags)
	return nil
}
