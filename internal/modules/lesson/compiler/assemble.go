package compiler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/yungbote/lessonforge/internal/modules/lesson"
	"github.com/yungbote/lessonforge/internal/modules/lesson/cache"
	"github.com/yungbote/lessonforge/internal/modules/lesson/llm"
	"github.com/yungbote/lessonforge/internal/modules/lesson/orchestrator"
	"github.com/yungbote/lessonforge/internal/modules/lesson/plan"
	"github.com/yungbote/lessonforge/internal/modules/lesson/quality"
)

func documentKey(id uuid.UUID, topic string, req lesson.Requirements) string {
	return cache.Key("document", id.String(), topic, cache.HashJSON(req))
}

func runFlags(router *llm.Router) []string {
	if router != nil && router.Degraded() {
		return []string{lesson.FlagFastTierDegraded}
	}
	return nil
}

// assemble folds stage results into doc, replacing each stage's cards wholesale.
func assemble(doc *lesson.Document, results []*orchestrator.StageResult, router *llm.Router) {
	for _, res := range results {
		if res == nil {
			continue
		}
		doc.Status[res.Stage] = res.Status
		kept := doc.Cards[:0]
		for _, c := range doc.Cards {
			if c.Stage != res.Stage {
				kept = append(kept, c)
			}
		}
		doc.Cards = append(kept, res.Cards...)
		for k, e := range doc.Errors {
			if e.Stage == res.Stage {
				delete(doc.Errors, k)
			}
		}
		for k, e := range res.Errors {
			doc.Errors[k] = e
		}
	}
	sortByStage(doc.Cards)
	for _, f := range runFlags(router) {
		if !doc.HasFlag(f) {
			doc.Flags = append(doc.Flags, f)
		}
	}
}

func sortByStage(cs []lesson.Card) {
	rank := map[lesson.StageName]int{}
	for i, s := range lesson.Stages {
		rank[s] = i
	}
	sort.SliceStable(cs, func(i, j int) bool { return rank[cs[i].Stage] < rank[cs[j].Stage] })
}

// contentError reports a Content stage that produced nothing. Later stages never fail a compile.
func contentError(doc *lesson.Document) error {
	st := doc.Status[lesson.StageContent]
	if st.State != lesson.StateFailed {
		return nil
	}
	return &lesson.StageError{Stage: lesson.StageContent, Reason: st.Reason, Retryable: st.Retryable}
}

// finalize runs the quality gate over a fully staged document and persists what it changed.
func (c *Compiler) finalize(ctx context.Context, doc *lesson.Document, run *orchestrator.Run) error {
	if c.deps.Quality == nil {
		return nil
	}
	touched := map[lesson.StageName]bool{}
	regen := quality.RegeneratorFunc(func(ctx context.Context, cardType string, notes []string) (lesson.Card, error) {
		run.SetReviewNotes(cardType, notes)
		card, err := c.deps.Orchestrator.RegenerateCard(ctx, run, cardType)
		if err == nil {
			touched[card.Stage] = true
		}
		return card, err
	})
	rep, gateErr := c.deps.Quality.Apply(ctx, doc, run.Requirements, regen)
	if gateErr != nil && !errors.Is(gateErr, lesson.ErrQuality) {
		return fmt.Errorf("compile: %w", gateErr)
	}
	for _, s := range lesson.Stages {
		if !touched[s] {
			continue
		}
		if err := c.deps.Store.MergeStage(ctx, doc.ID, doc.Version, stageMerge(doc, s)); err != nil {
			return fmt.Errorf("compile: persist repaired %s: %w", s, err)
		}
	}
	if rep != nil {
		if err := c.deps.Store.SetQuality(ctx, doc.ID, doc.Version, rep); err != nil {
			return fmt.Errorf("compile: persist quality: %w", err)
		}
		c.log.Info("quality scored",
			"document_id", doc.ID, "version", doc.Version, "mode", rep.Mode,
			"score", rep.Score, "issues", len(rep.Issues), "blocking", rep.HasBlocking, "attempts", rep.Attempts)
	}
	if gateErr != nil {
		return fmt.Errorf("compile: %w", gateErr)
	}
	return nil
}

func stageMerge(doc *lesson.Document, s lesson.StageName) lesson.StageMerge {
	errs := map[string]lesson.CardError{}
	for k, e := range doc.Errors {
		if e.Stage == s {
			errs[k] = e
		}
	}
	return lesson.StageMerge{
		Stage:  s,
		Cards:  doc.StageCards(s),
		Status: doc.Status[s],
		Errors: errs,
		Flags:  doc.Flags,
	}
}

// remember encodes doc and stores it in the document cache.
func (c *Compiler) remember(ctx context.Context, key string, doc *lesson.Document) ([]byte, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("compile: encode: %w", err)
	}
	if c.deps.Documents != nil {
		if err := c.deps.Documents.Put(ctx, key, raw); err != nil {
			c.log.Warn("document cache write failed", "document_id", doc.ID, "error", err)
		}
	}
	return raw, nil
}

func (c *Compiler) cached(ctx context.Context, key string) (*Result, error) {
	if c.deps.Documents == nil {
		return nil, nil
	}
	e, ok, err := c.deps.Documents.Get(ctx, key)
	if err != nil || !ok {
		return nil, err
	}
	var doc lesson.Document
	if err := json.Unmarshal(e.Payload, &doc); err != nil {
		return nil, fmt.Errorf("decode cached document: %w", err)
	}
	c.log.Debug("document cache hit", "document_id", doc.ID, "version", doc.Version, "hits", e.HitCount)
	return &Result{
		DocumentID: doc.ID,
		Version:    doc.Version,
		Document:   &doc,
		CacheHit:   true,
		CacheHits:  e.HitCount,
		Raw:        e.Payload,
	}, nil
}

// planFor reuses the stored plan when it still validates and regenerates it otherwise.
func (c *Compiler) planFor(ctx context.Context, doc *lesson.Document, d lesson.Descriptor, router *llm.Router) (*lesson.DomainPlan, bool, error) {
	p, err := c.deps.Plans.Reconstruct(doc.DescriptorID, doc.Plan)
	if err == nil {
		return p, false, nil
	}
	c.log.Warn("stored plan unusable; regenerating", "document_id", doc.ID, "version", doc.Version, "error", err)
	pr, err := c.deps.Plans.Generate(ctx, plan.Request{
		Descriptor:      d,
		Personalization: doc.Personalization,
		Requirements:    doc.Requirements,
		Backend:         router.Backend(llm.TierMain),
		SkipCache:       true,
	})
	if err != nil {
		return nil, false, fmt.Errorf("regenerate: %w", err)
	}
	return &pr.Plan, true, nil
}

func cloneDocument(doc *lesson.Document) *lesson.Document {
	cp := *doc
	cp.Cards = append([]lesson.Card(nil), doc.Cards...)
	cp.Flags = append([]string(nil), doc.Flags...)
	cp.Status = make(map[lesson.StageName]lesson.StageStatus, len(doc.Status))
	for k, v := range doc.Status {
		cp.Status[k] = v
	}
	cp.Errors = make(map[string]lesson.CardError, len(doc.Errors))
	for k, v := range doc.Errors {
		cp.Errors[k] = v
	}
	return &cp
}
