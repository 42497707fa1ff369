package cards

import (
	"encoding/json"
	"fmt"

	"github.com/yungbote/lessonforge/internal/modules/lesson"
)

type vocabularyEntry struct {
	ID      string `json:"id"`
	Surface string `json:"surface"`
	Gloss   string `json:"gloss"`
	Example string `json:"example,omitempty"`
}

type vocabularyPayload struct {
	Type  string            `json:"type"`
	Items []vocabularyEntry `json:"items"`
}

type grammarPayload struct {
	Type        string   `json:"type"`
	FunctionID  string   `json:"function_id"`
	Label       string   `json:"label"`
	Explanation string   `json:"explanation"`
	Examples    []string `json:"examples"`
}

type exerciseItem struct {
	ID      string   `json:"id"`
	Prompt  string   `json:"prompt"`
	Kind    string   `json:"kind"`
	Options []string `json:"options,omitempty"`
	Answer  string   `json:"answer"`
}

type fallbackInput struct {
	cardType   string
	descriptor lesson.Descriptor
	plan       *lesson.DomainPlan
	upstream   map[string]lesson.Card
	extracted  *Extracted
}

// Fallback builds the deterministic minimal payload for a card type. The result
// satisfies the card's schema and plan-reference checks.
func Fallback(cardType string, d lesson.Descriptor, plan *lesson.DomainPlan, upstream map[string]lesson.Card, ex *Extracted) (json.RawMessage, error) {
	v, err := fallbackValue(fallbackInput{cardType: cardType, descriptor: d, plan: plan, upstream: upstream, extracted: ex})
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func fallbackValue(in fallbackInput) (any, error) {
	p := in.plan
	topic := in.descriptor.Topic
	if topic == "" {
		topic = p.Title
	}
	scenario := ""
	if len(p.Scenarios) > 0 {
		scenario = p.Scenarios[0].ID
	}
	vocab := p.VocabularyItems()
	if len(vocab) > 8 {
		vocab = vocab[:8]
	}

	switch in.cardType {
	case "objective":
		canDo := make([]string, 0, len(p.EvaluationCriteria))
		for _, c := range p.EvaluationCriteria {
			if c.Description != "" {
				canDo = append(canDo, c.Description)
			}
		}
		if len(canDo) == 0 {
			canDo = []string{"Use key phrases about " + topic}
		}
		return map[string]any{"type": "objective", "scenario_id": scenario, "summary": "Communicate about " + topic + ".", "can_do": canDo}, nil

	case "dialogue":
		turns := []map[string]any{}
		for i, it := range vocab {
			speaker := "A"
			if i%2 == 1 {
				speaker = "B"
			}
			turns = append(turns, map[string]any{"speaker": speaker, "text": it.Surface, "vocabulary_ids": []string{it.ID}})
		}
		for len(turns) < 2 {
			turns = append(turns, map[string]any{"speaker": []string{"A", "B"}[len(turns)], "text": p.Title})
		}
		if len(p.GrammarFunctions) > 0 {
			turns[0]["grammar_function_ids"] = []string{p.GrammarFunctions[0].ID}
		}
		return map[string]any{"type": "dialogue", "scenario_id": scenario, "title": p.Title, "turns": turns}, nil

	case "reading":
		passage := p.Title + "."
		ids := []string{}
		for _, it := range vocab {
			passage += " " + it.Surface + "."
			ids = append(ids, it.ID)
		}
		return map[string]any{"type": "reading", "title": p.Title, "passage": passage, "vocabulary_ids": ids}, nil

	case "vocabulary":
		byID := map[string]lesson.VocabularyItem{}
		for _, it := range p.VocabularyItems() {
			byID[it.ID] = it
		}
		var items []vocabularyEntry
		if in.extracted != nil {
			for _, id := range in.extracted.VocabularyIDs {
				it := byID[id]
				items = append(items, vocabularyEntry{ID: it.ID, Surface: it.Surface, Gloss: it.Gloss})
			}
		}
		if len(items) == 0 {
			for _, it := range vocab {
				items = append(items, vocabularyEntry{ID: it.ID, Surface: it.Surface, Gloss: it.Gloss})
			}
		}
		if len(items) == 0 {
			return nil, fmt.Errorf("vocabulary fallback: plan has no vocabulary")
		}
		return vocabularyPayload{Type: "vocabulary", Items: items}, nil

	case "grammar":
		id := ""
		if in.extracted != nil {
			id = in.extracted.FunctionID
		}
		if id == "" && len(p.GrammarFunctions) > 0 {
			id = p.GrammarFunctions[0].ID
		}
		g, ok := p.Grammar(id)
		if !ok {
			return nil, fmt.Errorf("grammar fallback: plan has no grammar functions")
		}
		explanation := g.Label
		if g.Pattern != "" {
			explanation = g.Label + ": " + g.Pattern
		}
		examples := []string{explanation}
		if in.extracted != nil && len(in.extracted.Examples) > 0 {
			examples = in.extracted.Examples
		}
		return grammarPayload{Type: "grammar", FunctionID: g.ID, Label: g.Label, Explanation: explanation, Examples: examples}, nil

	case "writing_task", "speaking_task":
		verb := "Write 3-5 sentences"
		if in.cardType == "speaking_task" {
			verb = "Speak for one minute"
		}
		return map[string]any{
			"type":         in.cardType,
			"prompt":       verb + " about " + topic + ".",
			"criteria_ids": p.CriterionIDs(),
			"scaffold":     []string{},
		}, nil

	case "roleplay":
		opening := p.Title
		if c, ok := in.upstream["dialogue"]; ok {
			var d dialoguePayload
			if json.Unmarshal(c.Payload, &d) == nil && len(d.Turns) > 0 {
				opening = d.Turns[0].Text
			}
		}
		return map[string]any{
			"type":        "roleplay",
			"scenario_id": scenario,
			"roles": []map[string]string{
				{"name": "learner", "goal": "Complete the task: " + topic},
				{"name": "partner", "goal": "Respond naturally and ask follow-up questions"},
			},
			"opening_line": opening,
		}, nil

	case "discussion":
		out := map[string]any{
			"type":      "discussion",
			"questions": []string{"What was most interesting about " + topic + "?", "How is this similar to where you live?"},
		}
		if len(p.CulturalThemes) > 0 {
			out["theme_id"] = p.CulturalThemes[0].ID
		}
		return out, nil
	}

	if src, ok := exerciseSources[in.cardType]; ok {
		items := []exerciseItem{}
		for i, it := range vocab {
			items = append(items, exerciseItem{
				ID:     fmt.Sprintf("q%d", i+1),
				Prompt: fmt.Sprintf("What does %q mean?", it.Surface),
				Kind:   "short_answer",
				Answer: it.Gloss,
			})
		}
		if len(items) == 0 {
			items = append(items, exerciseItem{ID: "q1", Prompt: "Summarize the " + src + " in one sentence.", Kind: "short_answer"})
		}
		return map[string]any{"type": in.cardType, "source": src, "items": items}, nil
	}
	return nil, fmt.Errorf("no fallback for card type %q", in.cardType)
}
