package compiler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yungbote/lessonforge/internal/modules/lesson"
	"github.com/yungbote/lessonforge/internal/modules/lesson/cache"
	"github.com/yungbote/lessonforge/internal/modules/lesson/llm"
	"github.com/yungbote/lessonforge/internal/modules/lesson/orchestrator"
	"github.com/yungbote/lessonforge/internal/modules/lesson/plan"
	"github.com/yungbote/lessonforge/internal/modules/lesson/progress"
	"github.com/yungbote/lessonforge/internal/modules/lesson/quality"
	"github.com/yungbote/lessonforge/internal/observability"
	"github.com/yungbote/lessonforge/internal/platform/envutil"
	"github.com/yungbote/lessonforge/internal/platform/logger"
)

// documentNamespace scopes name-based document ids.
var documentNamespace = uuid.MustParse("6f1c3a52-2d0e-5b7a-9c44-1b8e0f6a7d21")

type Config struct {
	// CompileTimeout bounds the synchronous part of a compile and each background continuation.
	CompileTimeout time.Duration
}

func ConfigFromEnv() Config {
	return Config{CompileTimeout: envutil.Seconds("LESSON_COMPILE_TIMEOUT_SECONDS", 10*time.Minute)}
}

type Deps struct {
	Log     *logger.Logger
	Metrics *observability.Metrics

	Store       lesson.Store
	Descriptors lesson.DescriptorSource
	Tiers       llm.Tiers

	Plans        *plan.Generator
	Orchestrator *orchestrator.Orchestrator
	Quality      *quality.Gate
	// Documents is optional; without it every compile generates.
	Documents *cache.Cache
	// Progress receives every run's events in addition to the per-request sink.
	Progress lesson.ProgressSink
}

type CompileRequest struct {
	DescriptorID    string                 `json:"descriptor_id" validate:"required,max=200"`
	Personalization lesson.Personalization `json:"personalization,omitempty" validate:"max=32"`
	Requirements    lesson.Requirements    `json:"requirements,omitempty"`
	Incremental     bool                   `json:"incremental"`
	ForceRecompile  bool                   `json:"force_recompile"`

	Progress lesson.ProgressSink `json:"-" validate:"-"`
}

type Result struct {
	DocumentID  uuid.UUID        `json:"document_id"`
	Version     int              `json:"version"`
	Document    *lesson.Document `json:"document"`
	Incremental bool             `json:"incremental"`
	CacheHit    bool             `json:"cache_hit"`
	CacheHits   int              `json:"cache_hits,omitempty"`

	// Raw is the encoded document; a document cache hit returns the cached bytes.
	Raw json.RawMessage `json:"-"`
	// Task is the background continuation of an incremental compile.
	Task *Task `json:"-"`
}

type Compiler struct {
	deps     Deps
	cfg      Config
	log      *logger.Logger
	validate *validator.Validate

	tasks sync.WaitGroup
	mu    sync.Mutex
	live  map[*Task]struct{}
}

func New(deps Deps, cfg Config) *Compiler {
	if cfg.CompileTimeout <= 0 {
		cfg.CompileTimeout = 10 * time.Minute
	}
	return &Compiler{
		deps:     deps,
		cfg:      cfg,
		log:      deps.Log.With("service", "IncrementalCompiler"),
		validate: validator.New(),
		live:     map[*Task]struct{}{},
	}
}

// DocumentID is stable for a descriptor and personalization; versions distinguish compiles.
func DocumentID(descriptorID, personalizationHash string) uuid.UUID {
	return uuid.NewSHA1(documentNamespace, []byte(descriptorID+"\x00"+personalizationHash))
}

// -------------------- Public API --------------------

// Compile builds a new document version. Incremental compiles return once Content is
// persisted and continue the remaining stages in a background Task.
func (c *Compiler) Compile(ctx context.Context, req CompileRequest) (res *Result, err error) {
	mode := "sync"
	if req.Incremental {
		mode = "incremental"
	}
	defer func() {
		outcome := "ok"
		switch {
		case err != nil:
			outcome = string(lesson.Classify(err))
		case res != nil && res.CacheHit:
			outcome = "cache_hit"
		}
		c.deps.Metrics.IncCompile(mode, outcome)
	}()

	if err := c.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("compile: %w: %v", lesson.ErrInvalidInput, err)
	}
	req.DescriptorID = strings.TrimSpace(req.DescriptorID)

	ctx, span := observability.StartSpan(ctx, "lesson.compile",
		attribute.String("descriptor_id", req.DescriptorID),
		attribute.Bool("incremental", req.Incremental),
	)
	defer func() { observability.EndSpan(span, err) }()

	d, err := c.deps.Descriptors.Descriptor(ctx, req.DescriptorID)
	if err != nil {
		return nil, fmt.Errorf("compile: descriptor %s: %w", req.DescriptorID, err)
	}
	phash := cache.HashJSON(req.Personalization)
	docID := DocumentID(d.ID, phash)
	docKey := documentKey(docID, d.Topic, req.Requirements)

	if !req.ForceRecompile {
		if hit, err := c.cached(ctx, docKey); err != nil {
			c.log.Warn("document cache read failed", "document_id", docID, "error", err)
		} else if hit != nil {
			hit.Incremental = req.Incremental
			return hit, nil
		}
	}

	syncCtx, cancel := context.WithTimeout(ctx, c.cfg.CompileTimeout)
	defer cancel()

	router := c.deps.Tiers.NewRun(c.log, c.deps.Metrics, fmt.Sprintf("%s/%s", docID, uuid.NewString()[:8]))

	pr, err := c.deps.Plans.Generate(syncCtx, plan.Request{
		Descriptor:      *d,
		Personalization: req.Personalization,
		Requirements:    req.Requirements,
		Backend:         router.Backend(llm.TierMain),
		SkipCache:       req.ForceRecompile,
	})
	if err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}
	domainPlan := pr.Plan

	doc := lesson.NewDocument(docID, 0, *d, phash)
	doc.Personalization = req.Personalization
	doc.Requirements = req.Requirements
	doc.Plan = &domainPlan
	if err := c.deps.Store.CreateDocumentVersion(syncCtx, doc); err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}
	version := doc.Version
	c.log.Info("document version created",
		"document_id", docID, "version", version, "descriptor_id", d.ID,
		"plan_cache_hit", pr.CacheHit, "plan_fallback", pr.Fallback, "incremental", req.Incremental)

	run := orchestrator.NewRun(doc, *d, &domainPlan, router, progress.Multi(c.deps.Progress, req.Progress))
	run.Personalization = req.Personalization
	run.Requirements = req.Requirements
	run.Commit = c.commitFunc(docID, version, router)

	content, err := c.deps.Orchestrator.RunStage(syncCtx, run, lesson.StageContent)
	assemble(doc, []*orchestrator.StageResult{content}, router)
	if err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}
	if err := contentError(doc); err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}

	if !req.Incremental {
		results, err := c.deps.Orchestrator.RunStages(syncCtx, run, lesson.Stages[1:]...)
		assemble(doc, results, router)
		if err != nil {
			return nil, fmt.Errorf("compile: %w", err)
		}
		if err := c.finalize(syncCtx, doc, run); err != nil {
			return nil, err
		}
		raw, err := c.remember(syncCtx, docKey, doc)
		if err != nil {
			return nil, err
		}
		return &Result{DocumentID: docID, Version: version, Document: doc, Raw: raw}, nil
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("compile: encode: %w", err)
	}
	out := &Result{DocumentID: docID, Version: version, Document: doc, Incremental: true, Raw: raw}
	// The continuation outlives the caller; it works on its own copy of the document.
	out.Task = c.spawn(context.WithoutCancel(ctx), run, cloneDocument(doc), docKey)
	return out, nil
}

// Wait blocks until every background continuation has finished or ctx ends.
func (c *Compiler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.tasks.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of live background continuations.
func (c *Compiler) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.live)
}

type StageRegeneration struct {
	DocumentID uuid.UUID                   `json:"document_id"`
	Version    int                         `json:"version"`
	Stage      lesson.StageName            `json:"stage"`
	Status     lesson.StageStatus          `json:"status"`
	Cards      []lesson.Card               `json:"cards"`
	Errors     map[string]lesson.CardError `json:"errors,omitempty"`
	Duration   time.Duration               `json:"duration"`
	// PlanRegenerated is set when the stored plan failed validation and was rebuilt.
	PlanRegenerated bool `json:"plan_regenerated,omitempty"`
}

// RegenerateStage reruns one later stage of an existing version and merges it in place.
// version <= 0 targets the latest version.
func (c *Compiler) RegenerateStage(ctx context.Context, id uuid.UUID, version int, stage lesson.StageName) (out *StageRegeneration, err error) {
	if !stage.Valid() || stage == lesson.StageContent {
		return nil, fmt.Errorf("regenerate: %w: stage must be comprehension, production or interaction, got %q", lesson.ErrInvalidInput, stage)
	}
	ctx, span := observability.StartSpan(ctx, "lesson.regenerate_stage",
		attribute.String("document_id", id.String()),
		attribute.String("stage", string(stage)),
	)
	defer func() { observability.EndSpan(span, err) }()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.CompileTimeout)
	defer cancel()

	doc, err := c.deps.Store.GetDocument(ctx, id, version)
	if err != nil {
		return nil, fmt.Errorf("regenerate: %w", err)
	}
	if doc.Status[lesson.StageContent].State != lesson.StateComplete {
		return nil, fmt.Errorf("regenerate %s: %w: content stage of %s v%d is %s",
			stage, lesson.ErrPrecondition, id, doc.Version, doc.Status[lesson.StageContent].State)
	}
	d, err := c.deps.Descriptors.Descriptor(ctx, doc.DescriptorID)
	if err != nil {
		return nil, fmt.Errorf("regenerate: descriptor %s: %w", doc.DescriptorID, err)
	}

	router := c.deps.Tiers.NewRun(c.log, c.deps.Metrics, fmt.Sprintf("%s/v%d/%s", id, doc.Version, stage))
	p, rebuilt, err := c.planFor(ctx, doc, *d, router)
	if err != nil {
		return nil, err
	}

	run := orchestrator.NewRun(doc, *d, p, router, c.deps.Progress)
	run.Personalization = doc.Personalization
	run.Requirements = doc.Requirements
	for _, s := range lesson.Stages {
		if s != stage {
			run.Seed(s, doc.StageCards(s), doc.Status[s])
		}
	}
	run.Commit = c.commitFunc(id, doc.Version, router)

	res, err := c.deps.Orchestrator.RunStage(ctx, run, stage)
	if err != nil {
		return nil, fmt.Errorf("regenerate: %w", err)
	}
	c.log.Info("stage regenerated",
		"document_id", id, "version", doc.Version, "stage", stage,
		"status", res.Status.State, "cards", len(res.Cards), "plan_regenerated", rebuilt)
	return &StageRegeneration{
		DocumentID:      id,
		Version:         doc.Version,
		Stage:           stage,
		Status:          res.Status,
		Cards:           res.Cards,
		Errors:          res.Errors,
		Duration:        res.Duration,
		PlanRegenerated: rebuilt,
	}, nil
}

// -------------------- tight helpers --------------------

// commitFunc merges a terminal stage into its document version.
func (c *Compiler) commitFunc(id uuid.UUID, version int, router *llm.Router) func(context.Context, *orchestrator.StageResult) error {
	return func(ctx context.Context, res *orchestrator.StageResult) error {
		return c.deps.Store.MergeStage(ctx, id, version, lesson.StageMerge{
			Stage:  res.Stage,
			Cards:  res.Cards,
			Status: res.Status,
			Errors: res.Errors,
			Flags:  runFlags(router),
		})
	}
}
