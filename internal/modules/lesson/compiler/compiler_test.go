package compiler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/yungbote/lessonforge/internal/data/graph"
	"github.com/yungbote/lessonforge/internal/data/repos"
	"github.com/yungbote/lessonforge/internal/data/repos/testutil"
	"github.com/yungbote/lessonforge/internal/modules/lesson"
	"github.com/yungbote/lessonforge/internal/modules/lesson/cache"
	"github.com/yungbote/lessonforge/internal/modules/lesson/cards"
	"github.com/yungbote/lessonforge/internal/modules/lesson/lessontest"
	"github.com/yungbote/lessonforge/internal/modules/lesson/llm"
	"github.com/yungbote/lessonforge/internal/modules/lesson/orchestrator"
	"github.com/yungbote/lessonforge/internal/modules/lesson/plan"
	"github.com/yungbote/lessonforge/internal/modules/lesson/progress"
	"github.com/yungbote/lessonforge/internal/modules/lesson/quality"
	"github.com/yungbote/lessonforge/internal/modules/lesson/schema"
	"github.com/yungbote/lessonforge/internal/platform/logger"
)

type statusErr int

func (e statusErr) Error() string       { return fmt.Sprintf("status %d", int(e)) }
func (e statusErr) HTTPStatusCode() int { return int(e) }

type fixture struct {
	backend  *lessontest.Backend
	store    lesson.Store
	compiler *Compiler
	recorder *progress.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureOn(t, testutil.DB(t), lessontest.NewBackend(), nil)
}

// newFixtureOn builds a compiler over db. wrap, when set, sits between the tiers and b.
func newFixtureOn(t *testing.T, db *gorm.DB, b *lessontest.Backend, wrap func(llm.Backend) llm.Backend) *fixture {
	t.Helper()
	log := logger.Nop()
	cat := schema.MustDefault()
	var tier llm.Backend = b
	if wrap != nil {
		tier = wrap(b)
	}
	store := repos.NewStore(db, log)
	knowledge := graph.NewMemory(&graph.Fixture{
		Descriptors: []lesson.Descriptor{lessontest.Descriptor()},
		Vocabulary:  []graph.Entry{{ID: "v:agua", Language: "Spanish", Form: "agua"}},
	})
	rec := &progress.Recorder{}

	sections := cache.New("section", cache.NewMemoryStore(), time.Hour)
	gen := cards.NewGenerator(log, cat, cards.NewEnricher(knowledge, sections), nil, 3)
	c := New(Deps{
		Log:         log,
		Store:       store,
		Descriptors: knowledge,
		Tiers:       llm.Tiers{Main: tier, Fast: tier},
		Plans:       plan.NewGenerator(log, cat, cache.New("plan", cache.NewPlanStore(store), 24*time.Hour), nil, 3),
		Orchestrator: orchestrator.New(log, cat, gen, nil, orchestrator.Config{
			StageWait:     5 * time.Second,
			RetryDelay:    time.Millisecond,
			MaxConcurrent: 8,
		}),
		Quality:   quality.NewGate(log, cat, nil, quality.Options{Mode: quality.ModeWarn}),
		Documents: cache.New("document", cache.NewMemoryStore(), 48*time.Hour),
		Progress:  rec,
	}, Config{CompileTimeout: time.Minute})
	return &fixture{backend: b, store: store, compiler: c, recorder: rec}
}

func states(doc *lesson.Document) map[lesson.StageName]lesson.StageState {
	out := map[lesson.StageName]lesson.StageState{}
	for s, st := range doc.Status {
		out[s] = st.State
	}
	return out
}

func TestIncrementalCompileDeliversContentFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	hold := make(chan struct{})
	f.backend.Gates = map[string]chan struct{}{"reading_comprehension": hold}

	res, err := f.compiler.Compile(ctx, CompileRequest{DescriptorID: "X:1", Incremental: true})
	require.NoError(t, err)
	require.NotNil(t, res.Task)
	assert.True(t, res.Incremental)
	assert.Equal(t, 1, res.Version)
	assert.Equal(t, map[lesson.StageName]lesson.StageState{
		lesson.StageContent:       lesson.StateComplete,
		lesson.StageComprehension: lesson.StatePending,
		lesson.StageProduction:    lesson.StatePending,
		lesson.StageInteraction:   lesson.StatePending,
	}, states(res.Document))
	assert.Len(t, res.Document.Cards, 5)

	stored, err := f.store.GetDocument(ctx, res.DocumentID, res.Version)
	require.NoError(t, err)
	assert.Equal(t, lesson.StateComplete, stored.Status[lesson.StageContent].State)
	assert.NotEqual(t, lesson.StateComplete, stored.Status[lesson.StageComprehension].State)
	assert.Equal(t, 1, f.compiler.Pending())

	close(hold)
	require.NoError(t, f.compiler.Wait(ctx))
	require.NoError(t, res.Task.Err())
	assert.Equal(t, 0, f.compiler.Pending())

	stored, err = f.store.GetDocument(ctx, res.DocumentID, 0)
	require.NoError(t, err)
	for _, s := range lesson.Stages {
		assert.Equal(t, lesson.StateComplete, stored.Status[s].State, s)
	}
	assert.Len(t, stored.Cards, 13)
	require.NotNil(t, stored.Quality)
	assert.Equal(t, "warn", stored.Quality.Mode)
	assert.Equal(t,
		[]string{"content_ready", "comprehension_ready", "production_ready", "interaction_ready"},
		f.recorder.Named())

	vocab, ok := stored.Card("vocabulary")
	require.True(t, ok)
	assert.Equal(t, "v:agua", vocab.Refs["agua"])
}

func TestWarmDocumentCacheReturnsIdenticalBytes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := CompileRequest{DescriptorID: "X:1", Personalization: lesson.Personalization{"interest": "football"}}

	first, err := f.compiler.Compile(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)
	calls := f.backend.TotalCalls()

	second, err := f.compiler.Compile(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, 1, second.CacheHits)
	assert.Equal(t, string(first.Raw), string(second.Raw))

	third, err := f.compiler.Compile(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 2, third.CacheHits)
	assert.Equal(t, calls, f.backend.TotalCalls())

	forced, err := f.compiler.Compile(ctx, CompileRequest{DescriptorID: "X:1", Personalization: req.Personalization, ForceRecompile: true})
	require.NoError(t, err)
	assert.False(t, forced.CacheHit)
	assert.Equal(t, first.DocumentID, forced.DocumentID)
	assert.Equal(t, 2, forced.Version)
}

func TestPersonalizationSeparatesDocuments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.compiler.Compile(ctx, CompileRequest{DescriptorID: "X:1"})
	require.NoError(t, err)
	b, err := f.compiler.Compile(ctx, CompileRequest{DescriptorID: "X:1", Personalization: lesson.Personalization{"interest": "music"}})
	require.NoError(t, err)
	assert.NotEqual(t, a.DocumentID, b.DocumentID)
	assert.False(t, b.CacheHit)
}

func TestCompileRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	_, err := f.compiler.Compile(context.Background(), CompileRequest{})
	assert.ErrorIs(t, err, lesson.ErrInvalidInput)

	_, err = f.compiler.Compile(context.Background(), CompileRequest{DescriptorID: "X:404"})
	assert.ErrorIs(t, err, lesson.ErrNotFound)
	assert.Equal(t, lesson.KindPermanent, lesson.Classify(err))
}

func TestContentFailureSurfacesToCaller(t *testing.T) {
	f := newFixture(t)
	fail := func(int) *lessontest.Response { return &lessontest.Response{Err: statusErr(503)} }
	f.backend.Script = map[string]func(int) *lessontest.Response{
		"objective": fail, "dialogue": fail, "reading": fail, "vocabulary": fail, "grammar": fail,
	}
	_, err := f.compiler.Compile(context.Background(), CompileRequest{DescriptorID: "X:1", Incremental: true})
	require.Error(t, err)
	assert.True(t, lesson.IsRetryable(err))
	assert.Equal(t, 0, f.compiler.Pending())
	assert.Equal(t, 0, f.backend.Calls("reading_comprehension"))
}

func TestRegenerateStageRequiresCompleteContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := lesson.NewDocument(uuid.New(), 1, lessontest.Descriptor(), "")
	p := lessontest.Plan()
	doc.Plan = &p
	require.NoError(t, f.store.UpsertDocumentVersion(ctx, doc))

	_, err := f.compiler.RegenerateStage(ctx, doc.ID, 1, lesson.StageProduction)
	assert.ErrorIs(t, err, lesson.ErrPrecondition)

	_, err = f.compiler.RegenerateStage(ctx, doc.ID, 1, lesson.StageContent)
	assert.ErrorIs(t, err, lesson.ErrInvalidInput)

	_, err = f.compiler.RegenerateStage(ctx, uuid.New(), 0, lesson.StageProduction)
	assert.ErrorIs(t, err, lesson.ErrNotFound)
}

func TestRegenerateStageMergesIntoSameVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.compiler.Compile(ctx, CompileRequest{DescriptorID: "X:1"})
	require.NoError(t, err)
	require.Equal(t, 1, f.backend.Calls("grammar_practice"))

	out, err := f.compiler.RegenerateStage(ctx, res.DocumentID, res.Version, lesson.StageProduction)
	require.NoError(t, err)
	assert.Equal(t, lesson.StateComplete, out.Status.State)
	assert.Len(t, out.Cards, 3)
	assert.False(t, out.PlanRegenerated)
	assert.Equal(t, 2, f.backend.Calls("grammar_practice"))
	assert.Equal(t, 1, f.backend.Calls(lessontest.KindPlan))

	stored, err := f.store.GetDocument(ctx, res.DocumentID, 0)
	require.NoError(t, err)
	assert.Equal(t, res.Version, stored.Version)
	assert.Len(t, stored.Cards, 13)
}

func TestRegenerateStageRebuildsInvalidStoredPlan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.compiler.Compile(ctx, CompileRequest{DescriptorID: "X:1"})
	require.NoError(t, err)

	stored, err := f.store.GetDocument(ctx, res.DocumentID, res.Version)
	require.NoError(t, err)
	stored.Plan.DescriptorID = "X:other"
	require.NoError(t, f.store.UpsertDocumentVersion(ctx, stored))

	out, err := f.compiler.RegenerateStage(ctx, res.DocumentID, res.Version, lesson.StageInteraction)
	require.NoError(t, err)
	assert.True(t, out.PlanRegenerated)
	assert.Equal(t, 2, f.backend.Calls(lessontest.KindPlan))
}

func TestConcurrentForcedCompilesGetDistinctVersions(t *testing.T) {
	b := lessontest.NewBackend()
	hold := make(chan struct{})
	b.Gates = map[string]chan struct{}{lessontest.KindPlan: hold}
	f := newFixtureOn(t, testutil.PooledDB(t), b, nil)
	ctx := context.Background()

	const n = 2
	var wg sync.WaitGroup
	results := make([]*Result, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.compiler.Compile(ctx, CompileRequest{DescriptorID: "X:1", ForceRecompile: true})
		}(i)
	}
	require.Eventually(t, func() bool { return b.Calls(lessontest.KindPlan) == n }, 5*time.Second, 5*time.Millisecond)
	close(hold)
	wg.Wait()

	var versions []int
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		versions = append(versions, results[i].Version)
	}
	sort.Ints(versions)
	assert.Equal(t, []int{1, 2}, versions)

	for _, v := range versions {
		stored, err := f.store.GetDocument(ctx, results[0].DocumentID, v)
		require.NoError(t, err)
		for _, s := range lesson.Stages {
			assert.Equal(t, lesson.StateComplete, stored.Status[s].State, "v%d %s", v, s)
		}
		assert.Len(t, stored.Cards, 13)
	}
}

// promptLog records whether each card prompt mentioned a marker string.
type promptLog struct {
	mu     sync.Mutex
	marker string
	seen   map[string][]bool
}

func (p *promptLog) wrap(next llm.Backend) llm.Backend {
	return llm.Func(func(ctx context.Context, system, user string) (string, error) {
		p.mu.Lock()
		k := lessontest.Kind(user)
		p.seen[k] = append(p.seen[k], strings.Contains(user, p.marker))
		p.mu.Unlock()
		return next.Generate(ctx, system, user)
	})
}

func (p *promptLog) last(kind string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.seen[kind]
	return len(s) > 0 && s[len(s)-1]
}

func TestRegenerateStageKeepsPersonalization(t *testing.T) {
	log := &promptLog{marker: "football", seen: map[string][]bool{}}
	b := lessontest.NewBackend()
	f := newFixtureOn(t, testutil.DB(t), b, log.wrap)
	ctx := context.Background()
	req := CompileRequest{
		DescriptorID:    "X:1",
		Personalization: lesson.Personalization{"interest": "football"},
		Requirements:    lesson.Requirements{Vocabulary: []string{"agua"}},
	}

	res, err := f.compiler.Compile(ctx, req)
	require.NoError(t, err)
	require.True(t, log.last("grammar_practice"))

	stored, err := f.store.GetDocument(ctx, res.DocumentID, res.Version)
	require.NoError(t, err)
	assert.Equal(t, req.Personalization, stored.Personalization)
	assert.Equal(t, req.Requirements, stored.Requirements)

	_, err = f.compiler.RegenerateStage(ctx, res.DocumentID, res.Version, lesson.StageProduction)
	require.NoError(t, err)
	assert.Equal(t, 2, b.Calls("grammar_practice"))
	assert.True(t, log.last("grammar_practice"))
	assert.True(t, log.last("writing_task"))

	// A rebuilt plan is generated with the stored context and cached under the document's key.
	stored.Plan.DescriptorID = "X:other"
	require.NoError(t, f.store.UpsertDocumentVersion(ctx, stored))
	out, err := f.compiler.RegenerateStage(ctx, res.DocumentID, res.Version, lesson.StageInteraction)
	require.NoError(t, err)
	require.True(t, out.PlanRegenerated)
	assert.True(t, log.last(lessontest.KindPlan))

	entry, err := f.store.GetPlanCache(ctx, plan.CacheKey("X:1", req.Personalization, req.Requirements))
	require.NoError(t, err)
	assert.Equal(t, "X:1", entry.Plan.DescriptorID)
}
