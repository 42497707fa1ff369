package graph

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/lessonforge/internal/modules/lesson"
)

// Entry is one knowledge-store item: a vocabulary surface or a grammar label.
type Entry struct {
	ID       string `yaml:"id"`
	Language string `yaml:"language"`
	Form     string `yaml:"form"`
}

// Fixture is the YAML shape used to seed either store.
type Fixture struct {
	Descriptors []lesson.Descriptor `yaml:"descriptors"`
	Vocabulary  []Entry             `yaml:"vocabulary"`
	Grammar     []Entry             `yaml:"grammar"`
}

func LoadFixture(path string) (*Fixture, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("graph: read fixture: %w", err)
	}
	var f Fixture
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("graph: parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// Memory serves descriptors and knowledge lookups from a loaded fixture.
type Memory struct {
	mu          sync.RWMutex
	descriptors map[string]lesson.Descriptor
	vocabulary  map[string]map[string]string
	grammar     map[string]map[string]string
}

var (
	_ lesson.KnowledgeResolver = (*Memory)(nil)
	_ lesson.DescriptorSource  = (*Memory)(nil)
)

func NewMemory(f *Fixture) *Memory {
	m := &Memory{
		descriptors: map[string]lesson.Descriptor{},
		vocabulary:  map[string]map[string]string{},
		grammar:     map[string]map[string]string{},
	}
	if f != nil {
		m.Load(f)
	}
	return m
}

func (m *Memory) Load(f *Fixture) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range f.Descriptors {
		m.descriptors[d.ID] = d
	}
	index(m.vocabulary, f.Vocabulary)
	index(m.grammar, f.Grammar)
}

func (m *Memory) Descriptor(_ context.Context, id string) (*lesson.Descriptor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.descriptors[id]
	if !ok {
		return nil, fmt.Errorf("graph: descriptor %q: %w", id, lesson.ErrNotFound)
	}
	return &d, nil
}

func (m *Memory) ResolveVocabulary(_ context.Context, language string, surfaces []string) (map[string]string, error) {
	return m.lookup(m.vocabulary, language, surfaces), nil
}

func (m *Memory) ResolveGrammar(_ context.Context, language string, labels []string) (map[string]string, error) {
	return m.lookup(m.grammar, language, labels), nil
}

func (m *Memory) lookup(idx map[string]map[string]string, language string, forms []string) map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := map[string]string{}
	byForm := idx[language]
	for _, f := range forms {
		if id, ok := byForm[normForm(f)]; ok {
			out[f] = id
		}
	}
	return out
}

func index(dst map[string]map[string]string, entries []Entry) {
	for _, e := range entries {
		if e.ID == "" || normForm(e.Form) == "" {
			continue
		}
		if dst[e.Language] == nil {
			dst[e.Language] = map[string]string{}
		}
		dst[e.Language][normForm(e.Form)] = e.ID
	}
}
