package cards

import (
	"encoding/json"
	"strings"

	"github.com/yungbote/lessonforge/internal/modules/lesson"
)

type dialoguePayload struct {
	ScenarioID string `json:"scenario_id"`
	Title      string `json:"title"`
	Turns      []struct {
		Speaker            string   `json:"speaker"`
		Text               string   `json:"text"`
		GrammarFunctionIDs []string `json:"grammar_function_ids"`
		VocabularyIDs      []string `json:"vocabulary_ids"`
	} `json:"turns"`
}

type readingPayload struct {
	Title              string   `json:"title"`
	Passage            string   `json:"passage"`
	VocabularyIDs      []string `json:"vocabulary_ids"`
	GrammarFunctionIDs []string `json:"grammar_function_ids"`
}

// Extracted holds the plan elements already used by the dialogue and reading cards.
type Extracted struct {
	VocabularyIDs      []string `json:"vocabulary_ids"`
	GrammarFunctionIDs []string `json:"grammar_function_ids"`
	// FunctionID is the grammar function the grammar card must explain.
	FunctionID string `json:"function_id"`
	// FunctionFallback is set when no plan function was found upstream.
	FunctionFallback bool     `json:"function_fallback,omitempty"`
	Examples         []string `json:"examples,omitempty"`
}

// Extract mines plan ids from upstream dialogue/reading cards. It never fails:
// missing or malformed upstream cards contribute nothing.
func Extract(plan *lesson.DomainPlan, upstream map[string]lesson.Card) Extracted {
	vocabCount := map[string]int{}
	grammarCount := map[string]int{}
	examples := map[string]string{}

	var texts []string
	if c, ok := upstream["dialogue"]; ok {
		var d dialoguePayload
		if json.Unmarshal(c.Payload, &d) == nil {
			for _, t := range d.Turns {
				texts = append(texts, t.Text)
				for _, id := range t.GrammarFunctionIDs {
					grammarCount[id]++
					if _, seen := examples[id]; !seen {
						examples[id] = t.Text
					}
				}
				for _, id := range t.VocabularyIDs {
					vocabCount[id]++
				}
			}
		}
	}
	if c, ok := upstream["reading"]; ok {
		var r readingPayload
		if json.Unmarshal(c.Payload, &r) == nil {
			texts = append(texts, r.Passage)
			for _, id := range r.GrammarFunctionIDs {
				grammarCount[id]++
			}
			for _, id := range r.VocabularyIDs {
				vocabCount[id]++
			}
		}
	}

	// Untagged uses still count when the surface form appears in the text.
	corpus := strings.ToLower(strings.Join(texts, "\n"))
	for _, it := range plan.VocabularyItems() {
		if s := strings.ToLower(strings.TrimSpace(it.Surface)); s != "" && strings.Contains(corpus, s) {
			vocabCount[it.ID]++
		}
	}

	var out Extracted
	for _, id := range plan.VocabularyIDs() {
		if vocabCount[id] > 0 {
			out.VocabularyIDs = append(out.VocabularyIDs, id)
		}
	}
	best, bestN := "", 0
	for _, id := range plan.GrammarIDs() {
		n := grammarCount[id]
		if n == 0 {
			continue
		}
		out.GrammarFunctionIDs = append(out.GrammarFunctionIDs, id)
		if n > bestN {
			best, bestN = id, n
		}
	}
	if best == "" && len(plan.GrammarFunctions) > 0 {
		best = plan.GrammarFunctions[0].ID
		out.FunctionFallback = true
	}
	out.FunctionID = best
	if ex, ok := examples[best]; ok {
		out.Examples = []string{ex}
	}
	return out
}
