package cards

import (
	"encoding/json"
	"fmt"

	"github.com/yungbote/lessonforge/internal/modules/lesson"
)

type exercisePayload struct {
	Source string `json:"source"`
	Items  []struct {
		ID      string   `json:"id"`
		Kind    string   `json:"kind"`
		Options []string `json:"options"`
		Answer  string   `json:"answer"`
	} `json:"items"`
}

// exerciseSources maps exercise cards to the card they practice.
var exerciseSources = map[string]string{
	"reading_comprehension":   "reading",
	"listening_comprehension": "dialogue",
	"vocabulary_practice":     "vocabulary",
	"grammar_practice":        "grammar",
}

type refChecker struct {
	plan *lesson.DomainPlan
	errs []string
}

func (c *refChecker) in(field, id string, allowed []string) {
	for _, a := range allowed {
		if a == id {
			return
		}
	}
	c.errs = append(c.errs, fmt.Sprintf("%s: %q is not a plan id (allowed: %v)", field, id, allowed))
}

func (c *refChecker) all(field string, ids []string, allowed []string) {
	for _, id := range ids {
		c.in(field, id, allowed)
	}
}

// Check validates plan references inside an already schema-valid payload.
func Check(cardType string, raw []byte, plan *lesson.DomainPlan, ex *Extracted) []string {
	c := &refChecker{plan: plan}
	decode := func(v any) bool {
		if err := json.Unmarshal(raw, v); err != nil {
			c.errs = append(c.errs, err.Error())
			return false
		}
		return true
	}

	switch cardType {
	case "objective", "roleplay":
		var p struct {
			ScenarioID string `json:"scenario_id"`
		}
		if decode(&p) {
			c.in("scenario_id", p.ScenarioID, plan.ScenarioIDs())
		}
	case "dialogue":
		var p dialoguePayload
		if decode(&p) {
			c.in("scenario_id", p.ScenarioID, plan.ScenarioIDs())
			for i, t := range p.Turns {
				c.all(fmt.Sprintf("turns[%d].grammar_function_ids", i), t.GrammarFunctionIDs, plan.GrammarIDs())
				c.all(fmt.Sprintf("turns[%d].vocabulary_ids", i), t.VocabularyIDs, plan.VocabularyIDs())
			}
		}
	case "reading":
		var p readingPayload
		if decode(&p) {
			c.all("grammar_function_ids", p.GrammarFunctionIDs, plan.GrammarIDs())
			c.all("vocabulary_ids", p.VocabularyIDs, plan.VocabularyIDs())
		}
	case "vocabulary":
		var p vocabularyPayload
		if decode(&p) {
			for i, it := range p.Items {
				c.in(fmt.Sprintf("items[%d].id", i), it.ID, plan.VocabularyIDs())
			}
		}
	case "grammar":
		var p grammarPayload
		if decode(&p) {
			c.in("function_id", p.FunctionID, plan.GrammarIDs())
			if ex != nil && ex.FunctionID != "" && p.FunctionID != ex.FunctionID {
				c.errs = append(c.errs, fmt.Sprintf("function_id must be %q (the function used upstream)", ex.FunctionID))
			}
		}
	case "writing_task", "speaking_task":
		var p struct {
			CriteriaIDs []string `json:"criteria_ids"`
		}
		if decode(&p) {
			c.all("criteria_ids", p.CriteriaIDs, plan.CriterionIDs())
		}
	case "discussion":
		var p struct {
			ThemeID string `json:"theme_id"`
		}
		if decode(&p) && p.ThemeID != "" {
			c.in("theme_id", p.ThemeID, plan.ThemeIDs())
		}
	default:
		if src, ok := exerciseSources[cardType]; ok {
			var p exercisePayload
			if decode(&p) {
				checkExercises(c, src, p)
			}
		}
	}
	return c.errs
}

func checkExercises(c *refChecker, source string, p exercisePayload) {
	if p.Source != source {
		c.errs = append(c.errs, fmt.Sprintf("source must be %q, got %q", source, p.Source))
	}
	seen := map[string]bool{}
	for i, it := range p.Items {
		if seen[it.ID] {
			c.errs = append(c.errs, fmt.Sprintf("items[%d].id: duplicate %q", i, it.ID))
		}
		seen[it.ID] = true
		if it.Kind != "mcq" {
			continue
		}
		if len(it.Options) < 2 {
			c.errs = append(c.errs, fmt.Sprintf("items[%d]: mcq needs at least 2 options", i))
			continue
		}
		found := false
		for _, o := range it.Options {
			if o == it.Answer {
				found = true
				break
			}
		}
		if !found {
			c.errs = append(c.errs, fmt.Sprintf("items[%d]: answer must be one of options", i))
		}
	}
}
