package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yungbote/lessonforge/internal/modules/lesson"
	"github.com/yungbote/lessonforge/internal/modules/lesson/cache"
	"github.com/yungbote/lessonforge/internal/modules/lesson/llm"
	"github.com/yungbote/lessonforge/internal/modules/lesson/prompts"
	"github.com/yungbote/lessonforge/internal/modules/lesson/repair"
	"github.com/yungbote/lessonforge/internal/modules/lesson/schema"
	"github.com/yungbote/lessonforge/internal/observability"
	"github.com/yungbote/lessonforge/internal/platform/logger"
)

type Generator struct {
	log         *logger.Logger
	catalog     *schema.Catalog
	cache       *cache.Cache
	metrics     *observability.Metrics
	maxAttempts int
}

func NewGenerator(log *logger.Logger, catalog *schema.Catalog, planCache *cache.Cache, metrics *observability.Metrics, maxAttempts int) *Generator {
	return &Generator{
		log:         log.With("service", "PlanGenerator"),
		catalog:     catalog,
		cache:       planCache,
		metrics:     metrics,
		maxAttempts: maxAttempts,
	}
}

type Request struct {
	Descriptor      lesson.Descriptor
	Personalization lesson.Personalization
	Requirements    lesson.Requirements
	Backend         llm.Backend
	// SkipCache forces generation; the result is still written back.
	SkipCache bool
}

type Result struct {
	Plan     lesson.DomainPlan
	CacheKey string
	CacheHit bool
	Fallback bool
	Attempts int
}

// CacheKey composes the plan cache key from everything that shapes a plan.
func CacheKey(descriptorID string, p lesson.Personalization, r lesson.Requirements) string {
	return cache.Key("plan", descriptorID, cache.HashJSON(p), cache.HashJSON(r))
}

func (g *Generator) Generate(ctx context.Context, req Request) (*Result, error) {
	d := req.Descriptor
	key := CacheKey(d.ID, req.Personalization, req.Requirements)

	if g.cache != nil && !req.SkipCache {
		var cached lesson.DomainPlan
		ok, err := g.cache.GetJSON(ctx, key, &cached)
		if err != nil {
			g.log.Warn("plan cache read failed", "descriptor_id", d.ID, "error", err)
		}
		if ok && len(g.Check(d.ID, &cached)) == 0 {
			return &Result{Plan: cached, CacheKey: key, CacheHit: true}, nil
		}
	}

	in, err := g.input(req)
	if err != nil {
		return nil, err
	}
	p, err := prompts.Build(prompts.PromptDomainPlan, in)
	if err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}
	fallback, err := json.Marshal(Fallback(d, req.Requirements))
	if err != nil {
		return nil, fmt.Errorf("plan: fallback: %w", err)
	}

	payload, err := repair.ValidateOrRepair(ctx, req.Backend.Generate, repair.Request{
		Name:        "plan",
		SchemaText:  g.catalog.Plan.Text(),
		Validate:    g.validator(d.ID),
		System:      p.System,
		User:        p.User,
		MaxAttempts: g.maxAttempts,
		Fallback:    fallback,
	})
	if err != nil {
		return nil, fmt.Errorf("plan %s: %w", d.ID, err)
	}
	g.metrics.AddRepairAttempts("plan", payload.Attempts-1)

	var out lesson.DomainPlan
	if err := payload.Decode(&out); err != nil {
		return nil, fmt.Errorf("plan %s: decode: %w", d.ID, err)
	}
	if payload.Fallback {
		g.metrics.IncFallback("plan")
		g.log.Warn("plan fell back to descriptor-derived plan", "descriptor_id", d.ID, "errors", payload.Errors)
	} else if g.cache != nil {
		// Fallback plans are never cached so the next run tries the backend again.
		if err := g.cache.PutJSON(ctx, key, out); err != nil {
			g.log.Warn("plan cache write failed", "descriptor_id", d.ID, "error", err)
		}
	}
	return &Result{Plan: out, CacheKey: key, Fallback: payload.Fallback, Attempts: payload.Attempts}, nil
}

// Reconstruct re-validates a stored plan. It returns an error when the plan no longer conforms.
func (g *Generator) Reconstruct(descriptorID string, stored *lesson.DomainPlan) (*lesson.DomainPlan, error) {
	if stored == nil {
		return nil, fmt.Errorf("plan %s: nothing stored", descriptorID)
	}
	raw, err := json.Marshal(stored)
	if err != nil {
		return nil, err
	}
	if errs := g.validator(descriptorID)(raw); len(errs) > 0 {
		return nil, fmt.Errorf("plan %s: stored plan invalid: %s", descriptorID, strings.Join(errs, "; "))
	}
	cp := *stored
	return &cp, nil
}

func (g *Generator) validator(descriptorID string) repair.Validator {
	return func(raw []byte) []string {
		if errs := g.catalog.Plan.Validate(raw); len(errs) > 0 {
			return errs
		}
		var p lesson.DomainPlan
		if err := json.Unmarshal(raw, &p); err != nil {
			return []string{err.Error()}
		}
		return g.Check(descriptorID, &p)
	}
}

// Check applies the cross-field rules the schema cannot express.
func (g *Generator) Check(descriptorID string, p *lesson.DomainPlan) []string {
	var errs []string
	if p.DescriptorID != descriptorID {
		errs = append(errs, fmt.Sprintf("descriptor_id must be %q, got %q", descriptorID, p.DescriptorID))
	}
	errs = append(errs, duplicates("scenarios", p.ScenarioIDs())...)
	errs = append(errs, duplicates("vocabulary items", p.VocabularyIDs())...)
	errs = append(errs, duplicates("grammar_functions", p.GrammarIDs())...)
	errs = append(errs, duplicates("evaluation_criteria", p.CriterionIDs())...)
	errs = append(errs, duplicates("cultural_themes", p.ThemeIDs())...)
	return errs
}

func duplicates(field string, ids []string) []string {
	seen := map[string]bool{}
	var errs []string
	for _, id := range ids {
		if seen[id] {
			errs = append(errs, fmt.Sprintf("%s: duplicate id %q", field, id))
		}
		seen[id] = true
	}
	return errs
}

func (g *Generator) input(req Request) (prompts.Input, error) {
	d := req.Descriptor
	descJSON, err := json.Marshal(d)
	if err != nil {
		return prompts.Input{}, err
	}
	in := prompts.Input{
		Language:       d.Language,
		Metalanguage:   d.Metalanguage,
		Level:          d.Level,
		Topic:          d.Topic,
		Title:          d.Title,
		DescriptorJSON: string(descJSON),
		SchemaJSON:     g.catalog.Plan.Text(),
	}
	if len(req.Personalization) > 0 {
		raw, _ := json.Marshal(req.Personalization)
		in.PersonalizationJSON = string(raw)
	}
	if !req.Requirements.Empty() {
		raw, _ := json.Marshal(req.Requirements)
		in.RequiredJSON = string(raw)
	}
	return in, nil
}
