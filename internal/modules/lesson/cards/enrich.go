package cards

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/yungbote/lessonforge/internal/modules/lesson"
	"github.com/yungbote/lessonforge/internal/modules/lesson/cache"
)

// Enricher resolves a validated card's surface forms to knowledge-store ids.
// Results are memoized by the section cache; the card payload is never touched.
type Enricher struct {
	resolver lesson.KnowledgeResolver
	sections *cache.Cache
}

func NewEnricher(resolver lesson.KnowledgeResolver, sections *cache.Cache) *Enricher {
	return &Enricher{resolver: resolver, sections: sections}
}

// Enrichable reports whether cards of this type carry resolvable surface forms.
func Enrichable(cardType string) bool {
	return cardType == "vocabulary" || cardType == "grammar"
}

// SectionKey identifies one enrichment pass over identical content.
func SectionKey(d lesson.Descriptor, c lesson.Card) string {
	return cache.Key("section", d.ID, d.Topic, c.Type, string(c.Payload))
}

func (e *Enricher) Enrich(ctx context.Context, d lesson.Descriptor, c lesson.Card) (map[string]string, error) {
	if e == nil || e.resolver == nil || !Enrichable(c.Type) {
		return nil, nil
	}
	load := func(ctx context.Context) ([]byte, error) {
		refs, err := e.resolve(ctx, d.Language, c)
		if err != nil {
			return nil, err
		}
		return json.Marshal(refs)
	}
	var raw []byte
	var err error
	if e.sections != nil {
		raw, _, err = e.sections.GetOrLoad(ctx, SectionKey(d, c), load)
	} else {
		raw, err = load(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("enrich %s: %w", c.Type, err)
	}
	var refs map[string]string
	if err := json.Unmarshal(raw, &refs); err != nil {
		return nil, fmt.Errorf("enrich %s: decode: %w", c.Type, err)
	}
	return refs, nil
}

func (e *Enricher) resolve(ctx context.Context, language string, c lesson.Card) (map[string]string, error) {
	switch c.Type {
	case "vocabulary":
		var p vocabularyPayload
		if err := json.Unmarshal(c.Payload, &p); err != nil {
			return nil, err
		}
		surfaces := make([]string, 0, len(p.Items))
		for _, it := range p.Items {
			surfaces = append(surfaces, it.Surface)
		}
		return e.resolver.ResolveVocabulary(ctx, language, surfaces)
	case "grammar":
		var p grammarPayload
		if err := json.Unmarshal(c.Payload, &p); err != nil {
			return nil, err
		}
		return e.resolver.ResolveGrammar(ctx, language, []string{p.Label})
	}
	return map[string]string{}, nil
}
