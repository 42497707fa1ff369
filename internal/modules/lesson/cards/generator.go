package cards

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/yungbote/lessonforge/internal/modules/lesson"
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
	enricher    *Enricher
	metrics     *observability.Metrics
	maxAttempts int
}

func NewGenerator(log *logger.Logger, catalog *schema.Catalog, enricher *Enricher, metrics *observability.Metrics, maxAttempts int) *Generator {
	return &Generator{
		log:         log.With("service", "CardGenerator"),
		catalog:     catalog,
		enricher:    enricher,
		metrics:     metrics,
		maxAttempts: maxAttempts,
	}
}

type Request struct {
	CardType        string
	Descriptor      lesson.Descriptor
	Plan            *lesson.DomainPlan
	// Upstream holds every card produced so far in the run, keyed by type.
	Upstream        map[string]lesson.Card
	Personalization lesson.Personalization
	Requirements    lesson.Requirements
	Backend         llm.Backend
	ReviewNotes     []string
}

// Generate produces one validated card. It makes no retries beyond the repair loop;
// an unrepairable payload becomes the card type's deterministic fallback.
func (g *Generator) Generate(ctx context.Context, req Request) (card lesson.Card, err error) {
	spec, ok := g.catalog.Card(req.CardType)
	if !ok {
		return lesson.Card{}, fmt.Errorf("card %s: %w: unknown card type", req.CardType, lesson.ErrInvalidInput)
	}
	if req.Plan == nil {
		return lesson.Card{}, fmt.Errorf("card %s: %w: plan required", req.CardType, lesson.ErrPrecondition)
	}
	ctx, span := observability.StartSpan(ctx, "lesson.card",
		attribute.String("card.type", spec.Type), attribute.String("card.stage", string(spec.Stage)))
	defer func() { observability.EndSpan(span, err) }()

	var ex *Extracted
	if spec.Extraction {
		e := Extract(req.Plan, req.Upstream)
		ex = &e
		if e.FunctionFallback && spec.Type == "grammar" {
			g.log.Info("no plan grammar function used upstream; using fallback function",
				"descriptor_id", req.Descriptor.ID, "function_id", e.FunctionID)
		}
	}

	in, err := g.input(spec, req, ex)
	if err != nil {
		return lesson.Card{}, fmt.Errorf("card %s: %w", spec.Type, err)
	}
	p, err := prompts.Build(prompts.CardPrompt(spec.Type), in)
	if err != nil {
		return lesson.Card{}, fmt.Errorf("card %s: %w", spec.Type, err)
	}
	fallback, err := Fallback(spec.Type, req.Descriptor, req.Plan, req.Upstream, ex)
	if err != nil {
		return lesson.Card{}, fmt.Errorf("card %s: %w", spec.Type, err)
	}

	plan := req.Plan
	payload, err := repair.ValidateOrRepair(ctx, req.Backend.Generate, repair.Request{
		Name:       spec.Type,
		SchemaText: spec.Schema.Text(),
		Validate: func(raw []byte) []string {
			if errs := spec.Validate(raw); len(errs) > 0 {
				return errs
			}
			return Check(spec.Type, raw, plan, ex)
		},
		System:      p.System,
		User:        p.User,
		MaxAttempts: g.maxAttempts,
		Fallback:    fallback,
	})
	if err != nil {
		return lesson.Card{}, fmt.Errorf("card %s: %w", spec.Type, err)
	}
	g.metrics.AddRepairAttempts(spec.Type, payload.Attempts-1)
	if payload.Fallback {
		g.metrics.IncFallback(spec.Type)
		g.log.Warn("card replaced by fallback", "card_type", spec.Type, "descriptor_id", req.Descriptor.ID, "errors", payload.Errors)
	}

	card = lesson.Card{
		Type:     spec.Type,
		Stage:    spec.Stage,
		Payload:  payload.Raw,
		Tier:     spec.Tier,
		Attempts: payload.Attempts,
		Repaired: payload.Repaired,
		Fallback: payload.Fallback,
	}
	if refs, eerr := g.enricher.Enrich(ctx, req.Descriptor, card); eerr != nil {
		g.log.Warn("card enrichment failed", "card_type", spec.Type, "error", eerr)
	} else if len(refs) > 0 {
		card.Refs = refs
	}
	return card, nil
}

func (g *Generator) input(spec schema.CardSpec, req Request, ex *Extracted) (prompts.Input, error) {
	d := req.Descriptor
	planJSON, err := json.Marshal(req.Plan)
	if err != nil {
		return prompts.Input{}, err
	}
	in := prompts.Input{
		Language:     d.Language,
		Metalanguage: d.Metalanguage,
		Level:        d.Level,
		Topic:        d.Topic,
		Title:        firstNonEmpty(d.Title, req.Plan.Title),
		PlanJSON:     string(planJSON),
		SchemaJSON:   spec.Schema.Text(),
		CardType:     spec.Type,
	}
	if up := upstreamFor(spec, req.Upstream); len(up) > 0 {
		raw, err := json.Marshal(up)
		if err != nil {
			return prompts.Input{}, err
		}
		in.UpstreamJSON = string(raw)
	}
	if len(req.Personalization) > 0 {
		raw, _ := json.Marshal(req.Personalization)
		in.PersonalizationJSON = string(raw)
	}
	if !req.Requirements.Empty() {
		raw, _ := json.Marshal(req.Requirements)
		in.RequiredJSON = string(raw)
	}
	if ex != nil {
		raw, _ := json.Marshal(ex)
		in.ExtractedJSON = string(raw)
	}
	if len(req.ReviewNotes) > 0 {
		notes := append([]string(nil), req.ReviewNotes...)
		sort.Strings(notes)
		in.ReviewNotes = "- " + strings.Join(notes, "\n- ")
	}
	return in, nil
}

// upstreamFor selects the payloads a card declares it reads. json.Marshal sorts the keys.
func upstreamFor(spec schema.CardSpec, all map[string]lesson.Card) map[string]json.RawMessage {
	out := map[string]json.RawMessage{}
	for _, t := range append(append([]string(nil), spec.Upstream...), spec.After...) {
		if c, ok := all[t]; ok {
			out[t] = c.Payload
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
