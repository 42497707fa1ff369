package quality

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/yungbote/lessonforge/internal/modules/lesson"
	"github.com/yungbote/lessonforge/internal/modules/lesson/schema"
)

// topicalCards must share vocabulary with the lesson topic.
var topicalCards = []string{"dialogue", "reading"}

// leakMarkers are fragments of generation instructions that must never reach learners.
var leakMarkers = []string{
	"as an ai",
	"language model",
	"json_schema",
	"domain_plan",
	"upstream_cards",
	"review_notes_to_address",
	"validation_errors_to_fix",
	"return one json",
	"```",
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "you": true, "are": true, "this": true,
	"that": true, "los": true, "las": true, "una": true, "del": true, "por": true, "con": true,
	"les": true, "des": true, "une": true, "und": true, "der": true, "die": true, "das": true,
}

// skipFields hold ids and tags rather than learner-facing text.
var skipFields = map[string]bool{"type": true, "id": true, "source": true, "kind": true, "speaker": true}

func checkStructure(cat *schema.Catalog, doc *lesson.Document) []lesson.QualityIssue {
	var out []lesson.QualityIssue
	for _, c := range doc.Cards {
		spec, ok := cat.Card(c.Type)
		if !ok {
			out = append(out, lesson.QualityIssue{
				Category: lesson.IssueStructural, Severity: lesson.SeverityBlocking, CardType: c.Type,
				Message: fmt.Sprintf("unknown card type %q", c.Type),
			})
			continue
		}
		if errs := spec.Validate(c.Payload); len(errs) > 0 {
			out = append(out, lesson.QualityIssue{
				Category: lesson.IssueStructural, Severity: lesson.SeverityBlocking, CardType: c.Type,
				Message: "payload does not match schema: " + strings.Join(errs, "; "),
			})
		}
	}
	// Missing cards of finished stages are visible but never blocking.
	for _, stage := range lesson.Stages {
		if doc.Status[stage].State != lesson.StateComplete {
			continue
		}
		for _, spec := range cat.StageCards(stage) {
			if _, ok := doc.Card(spec.Type); !ok {
				out = append(out, lesson.QualityIssue{
					Category: lesson.IssueStructural, Severity: lesson.SeverityWarning, CardType: spec.Type,
					Message: fmt.Sprintf("%s stage is missing its %s card", stage, spec.Type),
				})
			}
		}
	}
	return out
}

func checkTopic(doc *lesson.Document) []lesson.QualityIssue {
	keywords := topicKeywords(doc)
	if len(keywords) == 0 {
		return nil
	}
	var out []lesson.QualityIssue
	for _, t := range topicalCards {
		c, ok := doc.Card(t)
		if !ok {
			continue
		}
		overlap := false
		for tok := range tokens(cardText(c.Payload)) {
			if keywords[tok] {
				overlap = true
				break
			}
		}
		if !overlap {
			out = append(out, lesson.QualityIssue{
				Category: lesson.IssueTopicMismatch, Severity: lesson.SeverityBlocking, CardType: t,
				Message: fmt.Sprintf("%s shares no vocabulary with the lesson topic %q; rewrite it about %s", t, doc.Topic, keywordHint(doc)),
			})
		}
	}
	return out
}

func checkLeakage(doc *lesson.Document) []lesson.QualityIssue {
	var out []lesson.QualityIssue
	for _, c := range doc.Cards {
		text := strings.ToLower(cardText(c.Payload))
		for _, m := range leakMarkers {
			if strings.Contains(text, m) {
				out = append(out, lesson.QualityIssue{
					Category: lesson.IssueLeakage, Severity: lesson.SeverityBlocking, CardType: c.Type,
					Message: fmt.Sprintf("learner-facing text contains instruction fragment %q; remove it", m),
				})
				break
			}
		}
	}
	return out
}

func checkCoverage(doc *lesson.Document, req lesson.Requirements) []lesson.QualityIssue {
	if req.Empty() {
		return nil
	}
	var b strings.Builder
	for _, c := range doc.Cards {
		b.WriteString(cardText(c.Payload))
		b.WriteByte('\n')
	}
	corpus := fold(b.String())
	var out []lesson.QualityIssue
	check := func(kind, s string) {
		if strings.TrimSpace(s) == "" || strings.Contains(corpus, fold(s)) {
			return
		}
		out = append(out, lesson.QualityIssue{
			Category: lesson.IssueCoverage, Severity: lesson.SeverityWarning,
			Message:  fmt.Sprintf("required %s %q does not appear in the lesson", kind, s),
		})
	}
	for _, v := range req.Vocabulary {
		check("vocabulary", v)
	}
	for _, g := range req.Grammar {
		check("grammar", g)
	}
	return out
}

func topicKeywords(doc *lesson.Document) map[string]bool {
	parts := []string{doc.Topic}
	if p := doc.Plan; p != nil {
		parts = append(parts, p.Title)
		for _, s := range p.Scenarios {
			parts = append(parts, s.Title, s.Setting)
		}
		for _, it := range p.VocabularyItems() {
			parts = append(parts, it.Surface)
		}
	}
	return tokens(strings.Join(parts, " "))
}

func keywordHint(doc *lesson.Document) string {
	if doc.Topic != "" {
		return doc.Topic
	}
	if doc.Plan != nil {
		return doc.Plan.Title
	}
	return "the lesson topic"
}

// cardText concatenates the learner-facing strings of a payload.
func cardText(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	var parts []string
	var walk func(key string, v any)
	walk = func(key string, v any) {
		switch x := v.(type) {
		case string:
			if !skipFields[key] && !strings.HasSuffix(key, "_id") {
				parts = append(parts, x)
			}
		case []any:
			for _, e := range x {
				walk(key, e)
			}
		case map[string]any:
			keys := make([]string, 0, len(x))
			for k := range x {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				if strings.HasSuffix(k, "_ids") {
					continue
				}
				walk(k, x[k])
			}
		}
	}
	walk("", v)
	return strings.Join(parts, "\n")
}

// fold lowercases and strips diacritics so "Café" and "cafe" compare equal.
// Chains hold buffers, so each call builds its own.
func fold(s string) string {
	stripMarks := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(stripMarks, strings.ToLower(s))
	if err != nil {
		return strings.ToLower(s)
	}
	return out
}

func tokens(s string) map[string]bool {
	out := map[string]bool{}
	for _, f := range strings.FieldsFunc(fold(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len([]rune(f)) < 3 || stopwords[f] {
			continue
		}
		out[f] = true
	}
	return out
}
