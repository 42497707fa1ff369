package lessons

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	types "github.com/yungbote/lessonforge/internal/domain"
	"github.com/yungbote/lessonforge/internal/data/repos/testutil"
	"github.com/yungbote/lessonforge/internal/platform/dbctx"
)

func TestLessonDocumentRepoVersions(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	repo := NewLessonDocumentRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	id := uuid.New()
	latest, err := repo.LatestVersion(dbc, id)
	require.NoError(t, err)
	assert.Equal(t, 0, latest)

	missing, err := repo.Get(dbc, id, 0)
	require.NoError(t, err)
	assert.Nil(t, missing)

	for v := 1; v <= 2; v++ {
		require.NoError(t, repo.UpsertVersion(dbc, &DocumentRows{
			Document: &types.LessonDocument{ID: id, Version: v, DescriptorID: "X:1", Topic: "cafe"},
			Stages:   []*types.LessonStageStatus{{DocumentID: id, Version: v, Stage: "content", Status: "pending"}},
			Cards:    []*types.LessonCard{testutil.Card(t, id, v, "content", "objective", map[string]any{"v": v})},
		}))
	}

	latest, err = repo.LatestVersion(dbc, id)
	require.NoError(t, err)
	assert.Equal(t, 2, latest)

	got, err := repo.Get(dbc, id, 0)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2, got.Document.Version)
	require.Len(t, got.Cards, 1)
	assert.JSONEq(t, `{"v":2}`, string(got.Cards[0].Payload))

	first, err := repo.Get(dbc, id, 1)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.JSONEq(t, `{"v":1}`, string(first.Cards[0].Payload))
}

func TestMergeStageReplacesOnlyItsStage(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	repo := NewLessonDocumentRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	doc := testutil.SeedDocument(t, ctx, tx, "X:1", 1)
	id := doc.ID

	found, err := repo.MergeStage(dbc, id, 1,
		&types.LessonStageStatus{DocumentID: id, Version: 1, Stage: "content", Status: "complete"},
		[]*types.LessonCard{
			testutil.Card(t, id, 1, "content", "objective", map[string]any{}),
			testutil.Card(t, id, 1, "content", "dialogue", map[string]any{}),
		})
	require.NoError(t, err)
	assert.True(t, found)

	_, err = repo.MergeStage(dbc, id, 1,
		&types.LessonStageStatus{DocumentID: id, Version: 1, Stage: "interaction", Status: "complete"},
		[]*types.LessonCard{testutil.Card(t, id, 1, "interaction", "discussion", map[string]any{})})
	require.NoError(t, err)

	// A regenerated content stage drops dialogue but leaves interaction alone.
	_, err = repo.MergeStage(dbc, id, 1,
		&types.LessonStageStatus{DocumentID: id, Version: 1, Stage: "content", Status: "complete"},
		[]*types.LessonCard{testutil.Card(t, id, 1, "content", "objective", map[string]any{"again": true})})
	require.NoError(t, err)

	// An empty merge only updates status.
	_, err = repo.MergeStage(dbc, id, 1,
		&types.LessonStageStatus{DocumentID: id, Version: 1, Stage: "interaction", Status: "failed", Reason: "boom"}, nil)
	require.NoError(t, err)

	got, err := repo.Get(dbc, id, 1)
	require.NoError(t, err)
	var typesSeen []string
	for _, c := range got.Cards {
		typesSeen = append(typesSeen, c.CardType)
	}
	assert.ElementsMatch(t, []string{"objective", "discussion"}, typesSeen)
	require.Len(t, got.Stages, 2)
	for _, st := range got.Stages {
		if st.Stage == "interaction" {
			assert.Equal(t, "failed", st.Status)
			assert.Equal(t, "boom", st.Reason)
		}
	}

	found, err = repo.MergeStage(dbc, uuid.New(), 1,
		&types.LessonStageStatus{Stage: "content", Status: "complete"}, nil)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestConcurrentMergesKeepBothStages(t *testing.T) {
	concurrentMerges(t, testutil.DB(t))
}

func TestConcurrentMergesKeepBothStagesPooled(t *testing.T) {
	concurrentMerges(t, testutil.PooledDB(t))
}

func concurrentMerges(t *testing.T, db *gorm.DB) {
	t.Helper()
	ctx := context.Background()
	repo := NewLessonDocumentRepo(db, testutil.Logger(t))
	doc := testutil.SeedDocument(t, ctx, db, "X:2", 1)
	id := doc.ID

	stages := map[string][]string{
		"comprehension": {"reading_comprehension", "listening_comprehension"},
		"production":    {"grammar_practice", "writing_task"},
	}
	var wg sync.WaitGroup
	errs := make(chan error, len(stages)*10)
	for round := 0; round < 10; round++ {
		for stage, cardTypes := range stages {
			wg.Add(1)
			go func(stage string, cardTypes []string) {
				defer wg.Done()
				var cs []*types.LessonCard
				for _, ct := range cardTypes {
					cs = append(cs, testutil.Card(t, id, 1, stage, ct, map[string]any{"stage": stage}))
				}
				_, err := repo.MergeStage(dbctx.Context{Ctx: ctx}, id, 1,
					&types.LessonStageStatus{DocumentID: id, Version: 1, Stage: stage, Status: "complete"}, cs)
				errs <- err
			}(stage, cardTypes)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := repo.Get(dbctx.Context{Ctx: ctx}, id, 1)
	require.NoError(t, err)
	assert.Len(t, got.Cards, 4)
	assert.Len(t, got.Stages, 2)
}

func TestPlanCacheEntryRepo(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := NewPlanCacheEntryRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}

	got, err := repo.Get(dbc, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, repo.Upsert(dbc, &types.PlanCacheEntry{Key: "k", Plan: []byte(`{"title":"a"}`)}))
	require.NoError(t, repo.Touch(dbc, "k"))
	require.NoError(t, repo.Touch(dbc, "k"))

	got, err = repo.Get(dbc, "k")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2, got.HitCount)

	require.NoError(t, repo.Upsert(dbc, &types.PlanCacheEntry{Key: "k", Plan: []byte(`{"title":"b"}`)}))
	got, err = repo.Get(dbc, "k")
	require.NoError(t, err)
	assert.Equal(t, 0, got.HitCount)
	assert.JSONEq(t, `{"title":"b"}`, string(got.Plan))
}

func TestCreateVersionAllocatesDistinctVersions(t *testing.T) {
	db := testutil.PooledDB(t)
	ctx := context.Background()
	repo := NewLessonDocumentRepo(db, testutil.Logger(t))
	id := uuid.New()

	const n = 6
	var wg sync.WaitGroup
	versions := make(chan int, n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rows := &DocumentRows{
				Document: &types.LessonDocument{ID: id, DescriptorID: "X:1", Topic: "cafe"},
				Stages: []*types.LessonStageStatus{
					{DocumentID: id, Stage: "content", Status: "pending"},
				},
			}
			v, err := repo.CreateVersion(dbctx.Context{Ctx: ctx}, rows)
			errs <- err
			versions <- v
		}()
	}
	wg.Wait()
	close(errs)
	close(versions)
	for err := range errs {
		require.NoError(t, err)
	}
	var got []int
	for v := range versions {
		got = append(got, v)
	}
	sort.Ints(got)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, got)

	latest, err := repo.LatestVersion(dbctx.Context{Ctx: ctx}, id)
	require.NoError(t, err)
	assert.Equal(t, n, latest)
}

func TestCreateVersionNeverOverwrites(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	repo := NewLessonDocumentRepo(db, testutil.Logger(t))
	doc := testutil.SeedDocument(t, ctx, db, "X:3", 1)

	_, err := repo.MergeStage(dbctx.Context{Ctx: ctx}, doc.ID, 1,
		&types.LessonStageStatus{DocumentID: doc.ID, Version: 1, Stage: "content", Status: "complete"}, nil)
	require.NoError(t, err)

	v, err := repo.CreateVersion(dbctx.Context{Ctx: ctx}, &DocumentRows{
		Document: &types.LessonDocument{ID: doc.ID, DescriptorID: "X:3"},
		Stages:   []*types.LessonStageStatus{{DocumentID: doc.ID, Stage: "content", Status: "pending"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	first, err := repo.Get(dbctx.Context{Ctx: ctx}, doc.ID, 1)
	require.NoError(t, err)
	require.Len(t, first.Stages, 1)
	assert.Equal(t, "complete", first.Stages[0].Status)
}
