package plan

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/lessonforge/internal/modules/lesson"
	"github.com/yungbote/lessonforge/internal/modules/lesson/cache"
	"github.com/yungbote/lessonforge/internal/modules/lesson/llm"
	"github.com/yungbote/lessonforge/internal/modules/lesson/schema"
	"github.com/yungbote/lessonforge/internal/platform/logger"
)

var desc = lesson.Descriptor{
	ID: "X:1", Title: "Ordering at a cafe", Language: "Spanish", Metalanguage: "English",
	Level: "A2", Topic: "cafe", Objectives: []string{"order a drink"},
}

func goodPlan() lesson.DomainPlan {
	return lesson.DomainPlan{
		DescriptorID: "X:1", Title: "Cafe", Level: "A2",
		Scenarios:          []lesson.Scenario{{ID: "cafe_counter", Title: "At the counter", Setting: "cafe"}},
		VocabularyBuckets:  []lesson.VocabularyBucket{{ID: "drinks", Label: "Drinks", Items: []lesson.VocabularyItem{{ID: "cafe_con_leche", Surface: "café con leche", Gloss: "coffee with milk"}}}},
		GrammarFunctions:   []lesson.GrammarFunction{{ID: "polite_request", Label: "Polite requests", Pattern: "quisiera + noun"}},
		EvaluationCriteria: []lesson.Criterion{{ID: "task", Description: "orders"}},
		CulturalThemes:     []lesson.Theme{{ID: "sobremesa", Title: "Sobremesa"}},
	}
}

func newGen(c *cache.Cache) *Generator {
	return NewGenerator(logger.Nop(), schema.MustDefault(), c, nil, 3)
}

func TestGenerateCachesValidPlan(t *testing.T) {
	raw, _ := json.Marshal(goodPlan())
	var calls atomic.Int32
	backend := llm.Func(func(context.Context, string, string) (string, error) {
		calls.Add(1)
		return string(raw), nil
	})
	c := cache.New("plan", cache.NewMemoryStore(), time.Hour)
	g := newGen(c)
	req := Request{Descriptor: desc, Personalization: lesson.Personalization{"interest": "music"}, Backend: backend}

	first, err := g.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)
	assert.Equal(t, goodPlan(), first.Plan)

	second, err := g.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, int32(1), calls.Load())

	// A different personalization context never shares the entry.
	req.Personalization = lesson.Personalization{"interest": "sport"}
	third, err := g.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, third.CacheHit)
	assert.NotEqual(t, first.CacheKey, third.CacheKey)
}

func TestGenerateRepairsWrongDescriptorID(t *testing.T) {
	bad := goodPlan()
	bad.DescriptorID = "X:2"
	badRaw, _ := json.Marshal(bad)
	goodRaw, _ := json.Marshal(goodPlan())
	var n atomic.Int32
	backend := llm.Func(func(_ context.Context, _, user string) (string, error) {
		if n.Add(1) == 1 {
			return string(badRaw), nil
		}
		assert.Contains(t, user, `descriptor_id must be "X:1"`)
		return string(goodRaw), nil
	})
	res, err := newGen(nil).Generate(context.Background(), Request{Descriptor: desc, Backend: backend})
	require.NoError(t, err)
	assert.Equal(t, "X:1", res.Plan.DescriptorID)
	assert.Equal(t, 2, res.Attempts)
}

func TestGenerateFallsBackAndDoesNotCache(t *testing.T) {
	backend := llm.Func(func(context.Context, string, string) (string, error) { return "I cannot help", nil })
	c := cache.New("plan", cache.NewMemoryStore(), time.Hour)
	g := newGen(c)

	res, err := g.Generate(context.Background(), Request{Descriptor: desc, Backend: backend})
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.Equal(t, "X:1", res.Plan.DescriptorID)
	assert.NotEmpty(t, res.Plan.GrammarFunctions)

	_, ok, _ := c.Get(context.Background(), res.CacheKey)
	assert.False(t, ok)
}

func TestFallbackIsSchemaValidAndDeterministic(t *testing.T) {
	cat := schema.MustDefault()
	for _, d := range []lesson.Descriptor{desc, {ID: "X:9"}} {
		p := Fallback(d, lesson.Requirements{})
		raw, _ := json.Marshal(p)
		assert.Empty(t, cat.Plan.Validate(raw))
		assert.Equal(t, p, Fallback(d, lesson.Requirements{}))
	}
	withReq := Fallback(desc, lesson.Requirements{Vocabulary: []string{"leche"}, Grammar: []string{"quisiera"}})
	assert.Equal(t, "leche", withReq.VocabularyBuckets[0].Items[0].Surface)
	assert.Equal(t, "quisiera", withReq.GrammarFunctions[0].Label)
}

func TestReconstruct(t *testing.T) {
	g := newGen(nil)
	p := goodPlan()
	got, err := g.Reconstruct("X:1", &p)
	require.NoError(t, err)
	assert.Equal(t, p, *got)

	broken := goodPlan()
	broken.GrammarFunctions = nil
	_, err = g.Reconstruct("X:1", &broken)
	assert.Error(t, err)

	_, err = g.Reconstruct("X:1", nil)
	assert.Error(t, err)
}
