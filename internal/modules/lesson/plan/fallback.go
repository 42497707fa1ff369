package plan

import (
	"fmt"
	"strings"

	"github.com/yungbote/lessonforge/internal/modules/lesson"
)

// Fallback derives a minimal, schema-valid plan from the descriptor alone.
// Equal inputs give equal plans.
func Fallback(d lesson.Descriptor, r lesson.Requirements) lesson.DomainPlan {
	topic := firstNonEmpty(d.Topic, d.Title, d.ID)
	title := firstNonEmpty(d.Title, topic)

	var vocab []lesson.VocabularyItem
	surfaces := r.Vocabulary
	if len(surfaces) == 0 {
		surfaces = contentWords(topic + " " + d.Title)
	}
	if len(surfaces) == 0 {
		surfaces = []string{topic}
	}
	for i, s := range surfaces {
		vocab = append(vocab, lesson.VocabularyItem{ID: fmt.Sprintf("vocab_%d", i+1), Surface: s})
	}

	var grammar []lesson.GrammarFunction
	for i, g := range r.Grammar {
		grammar = append(grammar, lesson.GrammarFunction{ID: fmt.Sprintf("grammar_%d", i+1), Label: g})
	}
	if len(grammar) == 0 {
		grammar = []lesson.GrammarFunction{{ID: "grammar_1", Label: "Talking about " + topic}}
	}

	var criteria []lesson.Criterion
	for i, o := range d.Objectives {
		if strings.TrimSpace(o) == "" {
			continue
		}
		criteria = append(criteria, lesson.Criterion{ID: fmt.Sprintf("criterion_%d", i+1), Description: o})
	}
	if len(criteria) == 0 {
		criteria = []lesson.Criterion{{ID: "criterion_1", Description: "Completes the communicative task on " + topic}}
	}

	return lesson.DomainPlan{
		DescriptorID:       d.ID,
		Title:              title,
		Level:              d.Level,
		Scenarios:          []lesson.Scenario{{ID: "scenario_1", Title: title, Setting: topic}},
		VocabularyBuckets:  []lesson.VocabularyBucket{{ID: "core", Label: topic, Items: vocab}},
		GrammarFunctions:   grammar,
		EvaluationCriteria: criteria,
		CulturalThemes:     []lesson.Theme{},
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return "lesson"
}

func contentWords(s string) []string {
	seen := map[string]bool{}
	var out []string
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return r == ' ' || r == ',' || r == '.' || r == ':' || r == ';' || r == '-' || r == '/'
	}) {
		if len([]rune(w)) < 3 || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}
