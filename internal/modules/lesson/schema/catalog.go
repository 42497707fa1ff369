package schema

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/lessonforge/internal/modules/lesson"
)

//go:embed catalog.yaml
var defaultCatalog []byte

const (
	TierMain = "main"
	TierFast = "fast"
)

// CardSpec declares one card type.
type CardSpec struct {
	Type       string
	Stage      lesson.StageName
	Tier       string
	After      []string
	Upstream   []string
	Extraction bool
	Schema     *Schema
}

// Validate runs the JSON schema and checks the payload's type tag.
func (c CardSpec) Validate(raw []byte) []string {
	errs := c.Schema.Validate(raw)
	if len(errs) > 0 {
		return errs
	}
	var tag struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(raw, &tag)
	if tag.Type != c.Type {
		return []string{fmt.Sprintf("type must be %q, got %q", c.Type, tag.Type)}
	}
	return nil
}

type Catalog struct {
	Plan   *Schema
	cards  []CardSpec
	byType map[string]int
}

type catalogFile struct {
	Plan  map[string]any `yaml:"plan"`
	Cards []struct {
		Type       string         `yaml:"type"`
		Stage      string         `yaml:"stage"`
		Tier       string         `yaml:"tier"`
		After      []string       `yaml:"after"`
		Upstream   []string       `yaml:"upstream"`
		Extraction bool           `yaml:"extraction"`
		Schema     map[string]any `yaml:"schema"`
	} `yaml:"cards"`
}

// Default parses the embedded catalog.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// MustDefault is Default for package-level wiring and tests.
func MustDefault() *Catalog {
	c, err := Default()
	if err != nil {
		panic(err)
	}
	return c
}

func Parse(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	if len(f.Plan) == 0 {
		return nil, fmt.Errorf("catalog: missing plan schema")
	}
	planSchema, err := Compile("plan", f.Plan)
	if err != nil {
		return nil, err
	}
	cat := &Catalog{Plan: planSchema, byType: map[string]int{}}
	for _, raw := range f.Cards {
		t := strings.TrimSpace(raw.Type)
		if t == "" {
			return nil, fmt.Errorf("catalog: card with empty type")
		}
		if _, dup := cat.byType[t]; dup {
			return nil, fmt.Errorf("catalog: duplicate card type %q", t)
		}
		stage, err := lesson.ParseStage(raw.Stage)
		if err != nil {
			return nil, fmt.Errorf("catalog: card %s: %w", t, err)
		}
		tier := strings.TrimSpace(raw.Tier)
		if tier != TierMain && tier != TierFast {
			return nil, fmt.Errorf("catalog: card %s: unknown tier %q", t, tier)
		}
		s, err := Compile(t, raw.Schema)
		if err != nil {
			return nil, err
		}
		cat.byType[t] = len(cat.cards)
		cat.cards = append(cat.cards, CardSpec{
			Type:       t,
			Stage:      stage,
			Tier:       tier,
			After:      raw.After,
			Upstream:   raw.Upstream,
			Extraction: raw.Extraction,
			Schema:     s,
		})
	}
	if err := cat.check(); err != nil {
		return nil, err
	}
	return cat, nil
}

// check enforces that "after" stays inside a stage and "upstream" only points backwards.
func (c *Catalog) check() error {
	order := map[lesson.StageName]int{}
	for i, s := range lesson.Stages {
		order[s] = i
	}
	for _, spec := range c.cards {
		for _, dep := range spec.After {
			d, ok := c.Card(dep)
			if !ok || d.Stage != spec.Stage || len(d.After) > 0 {
				return fmt.Errorf("catalog: card %s: invalid after %q", spec.Type, dep)
			}
		}
		for _, up := range spec.Upstream {
			u, ok := c.Card(up)
			if !ok || order[u.Stage] >= order[spec.Stage] {
				return fmt.Errorf("catalog: card %s: invalid upstream %q", spec.Type, up)
			}
		}
	}
	return nil
}

func (c *Catalog) Card(cardType string) (CardSpec, bool) {
	i, ok := c.byType[cardType]
	if !ok {
		return CardSpec{}, false
	}
	return c.cards[i], true
}

// StageCards returns a stage's cards in catalog order.
func (c *Catalog) StageCards(stage lesson.StageName) []CardSpec {
	var out []CardSpec
	for _, spec := range c.cards {
		if spec.Stage == stage {
			out = append(out, spec)
		}
	}
	return out
}

// Waves splits a stage into the cards with no in-stage dependency and those that must follow them.
func (c *Catalog) Waves(stage lesson.StageName) [][]CardSpec {
	var first, second []CardSpec
	for _, spec := range c.StageCards(stage) {
		if len(spec.After) > 0 {
			second = append(second, spec)
		} else {
			first = append(first, spec)
		}
	}
	out := [][]CardSpec{first}
	if len(second) > 0 {
		out = append(out, second)
	}
	return out
}

func (c *Catalog) Types() []string {
	out := make([]string, 0, len(c.cards))
	for _, spec := range c.cards {
		out = append(out, spec.Type)
	}
	return out
}
