package lessons

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/lessonforge/internal/data/repos/testutil"
	"github.com/yungbote/lessonforge/internal/modules/lesson"
)

func newStore(t *testing.T) *Store {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	return NewStore(NewLessonDocumentRepo(db, log), NewPlanCacheEntryRepo(db, log))
}

func TestStoreDocumentRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.GetDocument(ctx, uuid.New(), 0)
	assert.ErrorIs(t, err, lesson.ErrNotFound)

	d := lesson.Descriptor{ID: "X:1", Topic: "cafe"}
	doc := lesson.NewDocument(uuid.New(), 1, d, "abc")
	doc.Plan = &lesson.DomainPlan{DescriptorID: "X:1", Title: "At the cafe"}
	doc.Cards = []lesson.Card{
		{Type: "objective", Stage: lesson.StageContent, Payload: json.RawMessage(`{"type":"objective"}`)},
		{Type: "vocabulary", Stage: lesson.StageContent, Payload: json.RawMessage(`{"type":"vocabulary"}`), Refs: map[string]string{"agua": "v:1"}},
	}
	doc.Status[lesson.StageContent] = lesson.StageStatus{State: lesson.StateComplete}
	doc.Errors["dialogue"] = lesson.CardError{Stage: lesson.StageContent, Kind: lesson.KindTransient, Message: "timeout", Retryable: true}
	doc.Flags = []string{lesson.FlagFastTierDegraded}
	require.NoError(t, s.UpsertDocumentVersion(ctx, doc))

	got, err := s.GetDocument(ctx, doc.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Version)
	assert.Equal(t, "abc", got.PersonalizationHash)
	require.NotNil(t, got.Plan)
	assert.Equal(t, "At the cafe", got.Plan.Title)
	require.Len(t, got.Cards, 2)
	assert.Equal(t, "objective", got.Cards[0].Type)
	assert.Equal(t, "v:1", got.Cards[1].Refs["agua"])
	assert.Equal(t, lesson.StateComplete, got.Status[lesson.StageContent].State)
	assert.Equal(t, lesson.StatePending, got.Status[lesson.StageInteraction].State)
	assert.True(t, got.Errors["dialogue"].Retryable)
	assert.True(t, got.HasFlag(lesson.FlagFastTierDegraded))
	assert.Nil(t, got.Quality)
}

func TestStoreMergeStageAndQuality(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	doc := lesson.NewDocument(uuid.New(), 1, lesson.Descriptor{ID: "X:1"}, "")
	require.NoError(t, s.UpsertDocumentVersion(ctx, doc))

	now := time.Now().UTC()
	require.NoError(t, s.MergeStage(ctx, doc.ID, 1, lesson.StageMerge{
		Stage:  lesson.StageProduction,
		Cards:  []lesson.Card{{Type: "writing_task", Stage: lesson.StageProduction, Payload: json.RawMessage(`{}`)}},
		Status: lesson.StageStatus{State: lesson.StateComplete, FinishedAt: &now},
		Errors: map[string]lesson.CardError{"speaking_task": {Stage: lesson.StageProduction, Kind: lesson.KindPermanent, Message: "refused"}},
		Flags:  []string{lesson.FlagFastTierDegraded},
	}))
	require.NoError(t, s.SetQuality(ctx, doc.ID, 1, &lesson.QualityReport{Mode: "warn", Score: 95, Issues: []lesson.QualityIssue{}}))

	got, err := s.GetDocument(ctx, doc.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, lesson.StateComplete, got.Status[lesson.StageProduction].State)
	require.Len(t, got.Cards, 1)
	assert.Contains(t, got.Errors, "speaking_task")
	assert.Equal(t, []string{lesson.FlagFastTierDegraded}, got.Flags)
	require.NotNil(t, got.Quality)
	assert.Equal(t, 95, got.Quality.Score)

	err = s.MergeStage(ctx, uuid.New(), 1, lesson.StageMerge{Stage: lesson.StageContent})
	assert.ErrorIs(t, err, lesson.ErrNotFound)
	err = s.MergeStage(ctx, doc.ID, 1, lesson.StageMerge{Stage: "bogus"})
	assert.ErrorIs(t, err, lesson.ErrInvalidInput)
}

func TestStorePlanCache(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.GetPlanCache(ctx, "k")
	assert.ErrorIs(t, err, lesson.ErrNotFound)

	require.NoError(t, s.PutPlanCache(ctx, "k", lesson.DomainPlan{Title: "cafe"}, time.Hour))
	require.NoError(t, s.TouchPlanCache(ctx, "k"))

	e, err := s.GetPlanCache(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "cafe", e.Plan.Title)
	assert.Equal(t, 1, e.HitCount)
	assert.WithinDuration(t, time.Now().Add(time.Hour), e.ExpiresAt, time.Minute)
}
