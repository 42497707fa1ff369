package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/lessonforge/internal/modules/lesson"
	"github.com/yungbote/lessonforge/internal/modules/lesson/cards"
	"github.com/yungbote/lessonforge/internal/modules/lesson/schema"
	"github.com/yungbote/lessonforge/internal/observability"
	"github.com/yungbote/lessonforge/internal/platform/envutil"
	"github.com/yungbote/lessonforge/internal/platform/logger"
)

// -------------------- Public API --------------------

type Config struct {
	// StageWait bounds how long a stage waits for its predecessor.
	StageWait time.Duration
	// RetryDelay precedes the single retry of a card that failed transiently.
	RetryDelay    time.Duration
	MaxConcurrent int
}

func ConfigFromEnv() Config {
	return Config{
		StageWait:     envutil.Seconds("LESSON_STAGE_WAIT_SECONDS", 5*time.Minute),
		RetryDelay:    envutil.Millis("LESSON_STAGE_RETRY_DELAY_MS", 1500*time.Millisecond),
		MaxConcurrent: envutil.Int("LESSON_STAGE_MAX_CONCURRENCY", 8),
	}
}

type CardGenerator interface {
	Generate(ctx context.Context, req cards.Request) (lesson.Card, error)
}

type StageResult struct {
	Stage    lesson.StageName
	Cards    []lesson.Card
	Status   lesson.StageStatus
	Errors   map[string]lesson.CardError
	Duration time.Duration
}

type Orchestrator struct {
	log     *logger.Logger
	catalog *schema.Catalog
	cards   CardGenerator
	metrics *observability.Metrics
	cfg     Config
}

func New(log *logger.Logger, catalog *schema.Catalog, gen CardGenerator, metrics *observability.Metrics, cfg Config) *Orchestrator {
	if cfg.StageWait <= 0 {
		cfg.StageWait = 5 * time.Minute
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	return &Orchestrator{
		log:     log.With("service", "StageOrchestrator"),
		catalog: catalog,
		cards:   gen,
		metrics: metrics,
		cfg:     cfg,
	}
}

// RunStages runs stages in order. It stops at the first aborting error; per-card
// failures stay inside each StageResult.
func (o *Orchestrator) RunStages(ctx context.Context, run *Run, stages ...lesson.StageName) ([]*StageResult, error) {
	out := make([]*StageResult, 0, len(stages))
	for _, s := range stages {
		res, err := o.RunStage(ctx, run, s)
		if res != nil {
			out = append(out, res)
		}
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

// RunStage waits (bounded) for the predecessor, fans the stage's cards out in waves and
// joins them. The returned error is non-nil only when the run must abort; the result is
// still returned with a failed status in that case.
func (o *Orchestrator) RunStage(ctx context.Context, run *Run, stage lesson.StageName) (res *StageResult, err error) {
	if !stage.Valid() {
		return nil, fmt.Errorf("orchestrator: %w: unknown stage %q", lesson.ErrInvalidInput, stage)
	}
	ctx, span := observability.StartSpan(ctx, "lesson.stage",
		attribute.String("stage", string(stage)),
		attribute.String("document_id", run.DocumentID.String()),
		attribute.Int("version", run.Version),
	)
	defer func() { observability.EndSpan(span, err) }()

	start := time.Now()
	res = &StageResult{Stage: stage, Errors: map[string]lesson.CardError{}}

	if pred, ok := stage.Predecessor(); ok {
		degraded, werr := run.Await(ctx, pred, o.cfg.StageWait)
		if werr != nil {
			return o.abort(ctx, run, res, start, werr)
		}
		if degraded {
			res.Status.DegradedWait = true
			o.log.Warn("predecessor still running; proceeding degraded",
				"document_id", run.DocumentID, "stage", stage, "waiting_on", pred, "bound", o.cfg.StageWait)
		}
	}

	started := time.Now().UTC()
	res.Status.State = lesson.StateGenerating
	res.Status.StartedAt = &started
	run.setStatus(stage, res.Status)
	run.emit(ctx, lesson.ProgressEvent{Stage: stage, Progress: 0, Message: "generating " + string(stage)})

	if err := o.fanOut(ctx, run, stage, res); err != nil {
		return o.abort(ctx, run, res, start, err)
	}
	o.sortCards(res.Cards)
	o.complete(ctx, run, res, start)
	return res, nil
}

// -------------------- tight helpers --------------------

func (o *Orchestrator) fanOut(ctx context.Context, run *Run, stage lesson.StageName, res *StageResult) error {
	total := len(o.catalog.StageCards(stage))
	var finished atomic.Int32
	var mu sync.Mutex

	for _, wave := range o.catalog.Waves(stage) {
		if len(wave) == 0 {
			continue
		}
		upstream := run.Upstream()
		g, gctx := errgroup.WithContext(ctx)
		if o.cfg.MaxConcurrent > 0 {
			g.SetLimit(o.cfg.MaxConcurrent)
		}
		for _, spec := range wave {
			spec := spec
			g.Go(func() error {
				c, err := o.generate(gctx, run, spec, upstream)
				n := int(finished.Add(1))
				if err != nil {
					if lesson.Aborts(err) {
						return err
					}
					o.log.Warn("card failed", "document_id", run.DocumentID, "stage", stage, "card_type", spec.Type, "error", err)
					mu.Lock()
					res.Errors[spec.Type] = lesson.NewCardError(stage, err)
					mu.Unlock()
				} else {
					run.put(c)
					mu.Lock()
					res.Cards = append(res.Cards, c)
					mu.Unlock()
				}
				// 100 is reserved for the ready event.
				run.emit(gctx, lesson.ProgressEvent{
					Stage:    stage,
					Progress: n * 95 / total,
					Message:  fmt.Sprintf("%s: %d/%d cards", stage, n, total),
				})
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

// generate runs one card, retrying exactly once after RetryDelay on a transient error.
func (o *Orchestrator) generate(ctx context.Context, run *Run, spec schema.CardSpec, upstream map[string]lesson.Card) (lesson.Card, error) {
	req := cards.Request{
		CardType:        spec.Type,
		Descriptor:      run.Descriptor,
		Plan:            run.Plan,
		Upstream:        upstream,
		Personalization: run.Personalization,
		Requirements:    run.Requirements,
		Backend:         run.Router.Backend(spec.Tier),
		ReviewNotes:     run.reviewNotes(spec.Type),
	}
	c, err := o.cards.Generate(ctx, req)
	if err == nil || !lesson.IsRetryable(err) {
		return c, err
	}
	o.log.Info("retrying card after transient error", "card_type", spec.Type, "delay", o.cfg.RetryDelay, "error", err)
	t := time.NewTimer(o.cfg.RetryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return lesson.Card{}, ctx.Err()
	case <-t.C:
	}
	return o.cards.Generate(ctx, req)
}

func (o *Orchestrator) complete(ctx context.Context, run *Run, res *StageResult, start time.Time) {
	finished := time.Now().UTC()
	res.Status.FinishedAt = &finished
	res.Duration = time.Since(start)

	if len(res.Cards) == 0 {
		res.Status.State = lesson.StateFailed
		res.Status.Reason, res.Status.Retryable = failureSummary(res.Errors)
		if res.Status.Reason == "" {
			res.Status.Reason = "stage produced no cards"
		}
	} else {
		res.Status.State = lesson.StateComplete
	}
	o.commit(ctx, run, res)
	run.finish(res.Stage, res.Status)
	o.metrics.ObserveStage(string(res.Stage), string(res.Status.State), res.Duration)

	if res.Status.State == lesson.StateFailed {
		o.emitFailed(ctx, run, res.Stage, res.Status)
		return
	}
	o.log.Info("stage complete",
		"document_id", run.DocumentID,
		"stage", res.Stage,
		"cards", len(res.Cards),
		"card_errors", len(res.Errors),
		"degraded_wait", res.Status.DegradedWait,
		"elapsed_ms", res.Duration.Milliseconds(),
	)
	run.emit(ctx, lesson.ProgressEvent{
		Stage:    res.Stage,
		Progress: 100,
		Message:  fmt.Sprintf("%s ready", res.Stage),
		Event:    lesson.ReadyEvent(res.Stage),
	})
}

func (o *Orchestrator) abort(ctx context.Context, run *Run, res *StageResult, start time.Time, err error) (*StageResult, error) {
	finished := time.Now().UTC()
	res.Duration = time.Since(start)
	res.Status.State = lesson.StateFailed
	res.Status.Reason = err.Error()
	res.Status.Retryable = lesson.IsRetryable(err)
	res.Status.FinishedAt = &finished
	ctx = context.WithoutCancel(ctx)
	o.commit(ctx, run, res)
	run.finish(res.Stage, res.Status)
	o.metrics.ObserveStage(string(res.Stage), string(lesson.StateFailed), res.Duration)
	o.log.Error("stage aborted", "document_id", run.DocumentID, "stage", res.Stage, "error", err)
	o.emitFailed(ctx, run, res.Stage, res.Status)
	return res, fmt.Errorf("stage %s: %w", res.Stage, err)
}

// commit hands a terminal stage to the run's Commit hook before successors are released
// and before the named event goes out. A failed commit fails the stage.
func (o *Orchestrator) commit(ctx context.Context, run *Run, res *StageResult) {
	if run.Commit == nil {
		return
	}
	if err := run.Commit(ctx, res); err != nil {
		o.log.Error("stage commit failed", "document_id", run.DocumentID, "stage", res.Stage, "error", err)
		res.Status.State = lesson.StateFailed
		res.Status.Reason = "persist: " + err.Error()
		res.Status.Retryable = lesson.IsRetryable(err)
	}
}

func (o *Orchestrator) emitFailed(ctx context.Context, run *Run, stage lesson.StageName, st lesson.StageStatus) {
	ev := lesson.ProgressEvent{
		Stage:    stage,
		Progress: 100,
		Message:  fmt.Sprintf("%s failed", stage),
		Error:    &lesson.EventError{Type: lesson.KindPermanent, Message: st.Reason, Retryable: st.Retryable},
	}
	if st.Retryable {
		ev.Error.Type = lesson.KindTransient
	}
	// Content failures surface to the caller directly; only later stages have a named event.
	if stage != lesson.StageContent {
		ev.Event = lesson.FailedEvent(stage)
	}
	run.emit(ctx, ev)
}

func (o *Orchestrator) sortCards(cs []lesson.Card) {
	order := map[string]int{}
	for i, t := range o.catalog.Types() {
		order[t] = i
	}
	sort.SliceStable(cs, func(i, j int) bool { return order[cs[i].Type] < order[cs[j].Type] })
}

func failureSummary(errs map[string]lesson.CardError) (reason string, retryable bool) {
	keys := make([]string, 0, len(errs))
	for k := range errs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		e := errs[k]
		if reason == "" {
			reason = k + ": " + e.Message
		}
		retryable = retryable || e.Retryable
	}
	return reason, retryable
}

// RegenerateCard produces a fresh card of cardType against the run's current cards,
// using any review notes set on the run.
func (o *Orchestrator) RegenerateCard(ctx context.Context, run *Run, cardType string) (lesson.Card, error) {
	spec, ok := o.catalog.Card(cardType)
	if !ok {
		return lesson.Card{}, fmt.Errorf("orchestrator: %w: unknown card type %q", lesson.ErrInvalidInput, cardType)
	}
	c, err := o.generate(ctx, run, spec, run.Upstream())
	if err != nil {
		return lesson.Card{}, err
	}
	run.put(c)
	return c, nil
}
