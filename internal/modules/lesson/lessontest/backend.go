// Package lessontest holds fixtures and a scripted generation backend for pipeline tests.
package lessontest

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/yungbote/lessonforge/internal/modules/lesson"
	"github.com/yungbote/lessonforge/internal/modules/lesson/cards"
)

const KindPlan = "plan"

var taskRe = regexp.MustCompile(`Task \(([a-z_]+)\)`)

// Kind reports which artifact a user instruction asks for: KindPlan or a card type.
func Kind(user string) string {
	if m := taskRe.FindStringSubmatch(user); m != nil {
		return m[1]
	}
	if strings.Contains(user, "DESCRIPTOR:") {
		return KindPlan
	}
	return ""
}

type Response struct {
	Text  string
	Err   error
	Delay time.Duration
}

// Backend answers every instruction with a valid artifact built from its plan, unless a
// Script entry for that kind returns a response. Calls are counted per kind, 1-based.
type Backend struct {
	Plan       lesson.DomainPlan
	Descriptor lesson.Descriptor
	Script     map[string]func(call int) *Response
	// Gates block a kind until the channel is closed.
	Gates map[string]chan struct{}

	mu    sync.Mutex
	calls map[string]int
}

func NewBackend() *Backend {
	return &Backend{Plan: Plan(), Descriptor: Descriptor()}
}

func (b *Backend) Generate(ctx context.Context, _, user string) (string, error) {
	kind := Kind(user)
	b.mu.Lock()
	if b.calls == nil {
		b.calls = map[string]int{}
	}
	b.calls[kind]++
	n := b.calls[kind]
	b.mu.Unlock()

	if gate, ok := b.Gates[kind]; ok {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if fn, ok := b.Script[kind]; ok {
		if r := fn(n); r != nil {
			if r.Delay > 0 {
				select {
				case <-time.After(r.Delay):
				case <-ctx.Done():
					return "", ctx.Err()
				}
			}
			return r.Text, r.Err
		}
	}
	if kind == KindPlan {
		raw, err := json.Marshal(b.Plan)
		return string(raw), err
	}
	p := b.Plan
	var ex *cards.Extracted
	if kind == "vocabulary" || kind == "grammar" {
		e := cards.Extract(&p, nil)
		ex = &e
	}
	raw, err := cards.Fallback(kind, b.Descriptor, &p, nil, ex)
	if err != nil {
		return "not json", nil
	}
	return "Here you go:\n" + string(raw), nil
}

func (b *Backend) Calls(kind string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[kind]
}

func (b *Backend) TotalCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.calls {
		n += c
	}
	return n
}

func Descriptor() lesson.Descriptor {
	return lesson.Descriptor{
		ID: "X:1", Title: "Ordering at a cafe", Language: "Spanish", Metalanguage: "English",
		Level: "A2", Topic: "cafe", Objectives: []string{"order a drink politely"},
	}
}

func Plan() lesson.DomainPlan {
	return lesson.DomainPlan{
		DescriptorID: "X:1", Title: "Cafe", Level: "A2",
		Scenarios: []lesson.Scenario{{ID: "counter", Title: "At the cafe counter", Setting: "cafe"}},
		VocabularyBuckets: []lesson.VocabularyBucket{{ID: "drinks", Label: "Drinks", Items: []lesson.VocabularyItem{
			{ID: "cafe_con_leche", Surface: "café con leche", Gloss: "coffee with milk"},
			{ID: "agua", Surface: "agua", Gloss: "water"},
			{ID: "la_cuenta", Surface: "la cuenta", Gloss: "the bill"},
		}}},
		GrammarFunctions: []lesson.GrammarFunction{
			{ID: "polite_request", Label: "Polite requests", Pattern: "quisiera + noun"},
			{ID: "asking_price", Label: "Asking the price", Pattern: "¿cuánto cuesta...?"},
		},
		EvaluationCriteria: []lesson.Criterion{{ID: "task", Description: "Orders a drink at the cafe"}},
		CulturalThemes:     []lesson.Theme{{ID: "sobremesa", Title: "Sobremesa"}},
	}
}
