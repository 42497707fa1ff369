package lesson

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type StageName string

const (
	StageContent       StageName = "content"
	StageComprehension StageName = "comprehension"
	StageProduction    StageName = "production"
	StageInteraction   StageName = "interaction"
)

// Stages lists every stage in execution order.
var Stages = []StageName{StageContent, StageComprehension, StageProduction, StageInteraction}

func (s StageName) Valid() bool {
	switch s {
	case StageContent, StageComprehension, StageProduction, StageInteraction:
		return true
	}
	return false
}

// Predecessor returns the stage s waits on. Content has none.
func (s StageName) Predecessor() (StageName, bool) {
	for i, st := range Stages {
		if st == s && i > 0 {
			return Stages[i-1], true
		}
	}
	return "", false
}

func ParseStage(raw string) (StageName, error) {
	s := StageName(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown stage %q", ErrInvalidInput, raw)
	}
	return s, nil
}

type StageState string

const (
	StatePending    StageState = "pending"
	StateGenerating StageState = "generating"
	StateComplete   StageState = "complete"
	StateFailed     StageState = "failed"
)

type StageStatus struct {
	State        StageState `json:"status"`
	Reason       string     `json:"reason,omitempty"`
	Retryable    bool       `json:"retryable,omitempty"`
	DegradedWait bool       `json:"degraded_wait,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

func (s StageStatus) Terminal() bool {
	return s.State == StateComplete || s.State == StateFailed
}

// Descriptor is the compact input record for one learning objective.
type Descriptor struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Language     string   `json:"language"`
	Metalanguage string   `json:"metalanguage"`
	Level        string   `json:"level"`
	Topic        string   `json:"topic"`
	Objectives   []string `json:"objectives,omitempty"`
}

// Personalization is caller-supplied learner context. Keys are sorted on encode.
type Personalization map[string]string

// Requirements lists surface forms the lesson must cover.
type Requirements struct {
	Vocabulary []string `json:"vocabulary,omitempty"`
	Grammar    []string `json:"grammar,omitempty"`
}

func (r Requirements) Empty() bool {
	return len(r.Vocabulary) == 0 && len(r.Grammar) == 0
}

type Scenario struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Setting string `json:"setting"`
}

type VocabularyItem struct {
	ID      string `json:"id"`
	Surface string `json:"surface"`
	Gloss   string `json:"gloss"`
}

type VocabularyBucket struct {
	ID    string           `json:"id"`
	Label string           `json:"label"`
	Items []VocabularyItem `json:"items"`
}

type GrammarFunction struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Pattern string `json:"pattern"`
}

type Criterion struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

type Theme struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// DomainPlan is the root artifact every card generator consumes. Treat it as immutable.
type DomainPlan struct {
	DescriptorID       string             `json:"descriptor_id"`
	Title              string             `json:"title"`
	Level              string             `json:"level"`
	Scenarios          []Scenario         `json:"scenarios"`
	VocabularyBuckets  []VocabularyBucket `json:"vocabulary_buckets"`
	GrammarFunctions   []GrammarFunction  `json:"grammar_functions"`
	EvaluationCriteria []Criterion        `json:"evaluation_criteria"`
	CulturalThemes     []Theme            `json:"cultural_themes"`
}

func (p *DomainPlan) ScenarioIDs() []string {
	out := make([]string, 0, len(p.Scenarios))
	for _, s := range p.Scenarios {
		out = append(out, s.ID)
	}
	return out
}

func (p *DomainPlan) GrammarIDs() []string {
	out := make([]string, 0, len(p.GrammarFunctions))
	for _, g := range p.GrammarFunctions {
		out = append(out, g.ID)
	}
	return out
}

func (p *DomainPlan) VocabularyItems() []VocabularyItem {
	var out []VocabularyItem
	for _, b := range p.VocabularyBuckets {
		out = append(out, b.Items...)
	}
	return out
}

func (p *DomainPlan) VocabularyIDs() []string {
	items := p.VocabularyItems()
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}

func (p *DomainPlan) CriterionIDs() []string {
	out := make([]string, 0, len(p.EvaluationCriteria))
	for _, c := range p.EvaluationCriteria {
		out = append(out, c.ID)
	}
	return out
}

func (p *DomainPlan) ThemeIDs() []string {
	out := make([]string, 0, len(p.CulturalThemes))
	for _, t := range p.CulturalThemes {
		out = append(out, t.ID)
	}
	return out
}

func (p *DomainPlan) Grammar(id string) (GrammarFunction, bool) {
	for _, g := range p.GrammarFunctions {
		if g.ID == id {
			return g, true
		}
	}
	return GrammarFunction{}, false
}

// Card is one schema-validated content unit. Payload is never mutated after validation.
type Card struct {
	Type     string            `json:"type"`
	Stage    StageName         `json:"stage"`
	Payload  json.RawMessage   `json:"payload"`
	Refs     map[string]string `json:"refs,omitempty"`
	Tier     string            `json:"tier,omitempty"`
	Attempts int               `json:"attempts,omitempty"`
	Repaired bool              `json:"repaired,omitempty"`
	Fallback bool              `json:"fallback,omitempty"`
}

type CardError struct {
	Stage     StageName `json:"stage"`
	Kind      ErrorKind `json:"type"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
}

type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityBlocking Severity = "blocking"
)

type IssueCategory string

const (
	IssueStructural    IssueCategory = "structural"
	IssueTopicMismatch IssueCategory = "topic-mismatch"
	IssueLeakage       IssueCategory = "instruction-leakage"
	IssueCoverage      IssueCategory = "required-element-coverage"
)

type QualityIssue struct {
	Category IssueCategory `json:"category"`
	Severity Severity      `json:"severity"`
	CardType string        `json:"card_type,omitempty"`
	Message  string        `json:"message"`
}

type QualityReport struct {
	Mode        string         `json:"mode"`
	Score       int            `json:"score"`
	Issues      []QualityIssue `json:"issues"`
	HasBlocking bool           `json:"has_blocking"`
	Attempts    int            `json:"attempts,omitempty"`
	Degraded    bool           `json:"degraded,omitempty"`
}

const FlagFastTierDegraded = "fast_tier_degraded"

// Document is one versioned lesson. Stage writers only ever merge into it.
type Document struct {
	ID                  uuid.UUID                 `json:"id"`
	Version             int                       `json:"version"`
	DescriptorID        string                    `json:"descriptor_id"`
	Topic               string                    `json:"topic"`
	PersonalizationHash string                    `json:"personalization_hash,omitempty"`
	Personalization     Personalization           `json:"personalization,omitempty"`
	Requirements        Requirements              `json:"requirements,omitempty"`
	Plan                *DomainPlan               `json:"plan"`
	Cards               []Card                    `json:"cards"`
	Status              map[StageName]StageStatus `json:"status"`
	Errors              map[string]CardError      `json:"errors,omitempty"`
	Quality             *QualityReport            `json:"quality,omitempty"`
	Flags               []string                  `json:"flags,omitempty"`
	CreatedAt           time.Time                 `json:"created_at"`
	UpdatedAt           time.Time                 `json:"updated_at"`
}

// NewDocument returns a document with every stage pending.
func NewDocument(id uuid.UUID, version int, d Descriptor, personalizationHash string) *Document {
	now := time.Now().UTC()
	doc := &Document{
		ID:                  id,
		Version:             version,
		DescriptorID:        d.ID,
		Topic:               d.Topic,
		PersonalizationHash: personalizationHash,
		Status:              make(map[StageName]StageStatus, len(Stages)),
		Errors:              map[string]CardError{},
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	for _, s := range Stages {
		doc.Status[s] = StageStatus{State: StatePending}
	}
	return doc
}

func (d *Document) StageCards(stage StageName) []Card {
	var out []Card
	for _, c := range d.Cards {
		if c.Stage == stage {
			out = append(out, c)
		}
	}
	return out
}

func (d *Document) Card(cardType string) (Card, bool) {
	for _, c := range d.Cards {
		if c.Type == cardType {
			return c, true
		}
	}
	return Card{}, false
}

func (d *Document) HasFlag(flag string) bool {
	for _, f := range d.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// ReplaceCard swaps a card of the same type in place, or appends it.
func (d *Document) ReplaceCard(c Card) {
	for i := range d.Cards {
		if d.Cards[i].Type == c.Type {
			d.Cards[i] = c
			return
		}
	}
	d.Cards = append(d.Cards, c)
}

type EventError struct {
	Type      ErrorKind `json:"type"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
}

// ProgressEvent is what the pipeline reports outward. Event names are forwarded verbatim.
type ProgressEvent struct {
	DocumentID uuid.UUID   `json:"document_id"`
	Version    int         `json:"version"`
	Stage      StageName   `json:"stage,omitempty"`
	Progress   int         `json:"progress"`
	Message    string      `json:"message,omitempty"`
	Event      string      `json:"event,omitempty"`
	Error      *EventError `json:"error,omitempty"`
}

// ReadyEvent returns e.g. "content_ready".
func ReadyEvent(s StageName) string { return string(s) + "_ready" }

// FailedEvent returns e.g. "production_failed".
func FailedEvent(s StageName) string { return string(s) + "_failed" }
