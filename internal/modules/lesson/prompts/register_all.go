package prompts

const PromptDomainPlan PromptName = "domain_plan"

// CardPrompt names the prompt for a card type.
func CardPrompt(cardType string) PromptName { return PromptName("card_" + cardType) }

const cardSystem = `
You are writing one unit of a {{.Language}} lesson for {{.Level}} learners.
Explanations, glosses and instructions are written in {{.Metalanguage}}.
Reuse ids from DOMAIN_PLAN exactly; never invent ids that are not in the plan.
Return one JSON object that conforms to JSON_SCHEMA. JSON only.`

const cardContext = `
LESSON: {{.Title}} (topic: {{.Topic}})

DOMAIN_PLAN:
{{.PlanJSON}}
{{if .UpstreamJSON}}
UPSTREAM_CARDS:
{{.UpstreamJSON}}
{{end}}{{if .PersonalizationJSON}}
LEARNER_CONTEXT (adapt examples, do not mention it explicitly):
{{.PersonalizationJSON}}
{{end}}{{if .RequiredJSON}}
REQUIRED_ELEMENTS (must appear):
{{.RequiredJSON}}
{{end}}{{if .ReviewNotes}}
REVIEW_NOTES_TO_ADDRESS:
{{.ReviewNotes}}
{{end}}
JSON_SCHEMA:
{{.SchemaJSON}}
`

func cardSpec(cardType string, task string) Spec {
	return Spec{
		Name:    CardPrompt(cardType),
		Version: 1,
		System:  cardSystem,
		User:    cardContext + "\nTask (" + cardType + "):\n" + task,
		Validators: []Validator{
			RequireNonEmpty("PlanJSON", func(in Input) string { return in.PlanJSON }),
			RequireNonEmpty("SchemaJSON", func(in Input) string { return in.SchemaJSON }),
		},
	}
}

func registerAll() {
	register(Spec{
		Name:    PromptDomainPlan,
		Version: 1,
		System: `
You are planning a {{.Language}} lesson for {{.Level}} learners; the metalanguage is {{.Metalanguage}}.
The plan is the single source of ids for every later unit, so ids must be short, stable snake_case.
Return one JSON object that conforms to JSON_SCHEMA. JSON only.`,
		User: `
DESCRIPTOR:
{{.DescriptorJSON}}
{{if .PersonalizationJSON}}
LEARNER_CONTEXT:
{{.PersonalizationJSON}}
{{end}}{{if .RequiredJSON}}
REQUIRED_ELEMENTS (each must map to a vocabulary item or grammar function):
{{.RequiredJSON}}
{{end}}
JSON_SCHEMA:
{{.SchemaJSON}}

Task:
- descriptor_id must equal the descriptor id.
- 1-3 scenarios grounded in the topic.
- 2-4 vocabulary buckets of 4-10 items each; surface in {{.Language}}, gloss in {{.Metalanguage}}.
- 2-5 grammar functions (communicative function + pattern).
- 2-5 evaluation criteria, 1-3 cultural themes.`,
		Validators: []Validator{
			RequireNonEmpty("DescriptorJSON", func(in Input) string { return in.DescriptorJSON }),
			RequireNonEmpty("SchemaJSON", func(in Input) string { return in.SchemaJSON }),
		},
	})

	register(
		cardSpec("objective", `
- Pick the scenario_id that best fits the topic.
- summary: one sentence on what the learner will be able to do.
- can_do: 2-4 concrete can-do statements.`),
		cardSpec("dialogue", `
- A natural dialogue of 6-12 turns set in one plan scenario.
- Tag each turn with the grammar_function_ids and vocabulary_ids it actually uses.
- Use at least two plan grammar functions and six plan vocabulary items.`),
		cardSpec("reading", `
- A short reading passage (120-250 words) on the topic at the learner level.
- List the plan vocabulary_ids and grammar_function_ids the passage uses.`),
		cardSpec("vocabulary", `
EXTRACTED_FROM_DIALOGUE_AND_READING:
{{.ExtractedJSON}}

- Build the vocabulary list from the extracted plan vocabulary first; add plan items only to reach 6-12 entries.
- id must be the plan vocabulary id; example should be a sentence from the dialogue or reading when possible.`),
		cardSpec("grammar", `
EXTRACTED_FROM_DIALOGUE_AND_READING:
{{.ExtractedJSON}}

- Explain the grammar function named in EXTRACTED_FROM_DIALOGUE_AND_READING.function_id; keep that id.
- 2-4 examples, preferably quoted from the dialogue.`),
		cardSpec("reading_comprehension", `
- 4-6 questions about the upstream reading; source is "reading".
- Mix mcq (with options) and true_false; answers must be unambiguous.`),
		cardSpec("listening_comprehension", `
- 4-6 questions about the upstream dialogue as if heard; source is "dialogue".`),
		cardSpec("vocabulary_practice", `
- 5-8 items practicing the upstream vocabulary; source is "vocabulary".`),
		cardSpec("grammar_practice", `
- 5-8 short_answer or mcq items practicing the upstream grammar function; source is "grammar".`),
		cardSpec("writing_task", `
- A short writing prompt applying the objective; criteria_ids are plan evaluation criteria ids.
- scaffold: 2-4 sentence starters.`),
		cardSpec("speaking_task", `
- A speaking prompt reusing the dialogue scenario; criteria_ids are plan evaluation criteria ids.`),
		cardSpec("roleplay", `
- A roleplay in the dialogue's scenario_id with 2-3 roles, each with a goal.
- opening_line in {{.Language}}.`),
		cardSpec("discussion", `
- 3-5 open discussion questions connecting the reading to one plan cultural theme (theme_id).`),
	)
}
