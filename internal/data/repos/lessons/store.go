package lessons

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	types "github.com/yungbote/lessonforge/internal/domain"
	"github.com/yungbote/lessonforge/internal/modules/lesson"
	"github.com/yungbote/lessonforge/internal/platform/dbctx"
)

// Store adapts the lesson repos to the pipeline's persistence boundary.
type Store struct {
	docs  LessonDocumentRepo
	plans PlanCacheEntryRepo
}

var _ lesson.Store = (*Store)(nil)

func NewStore(docs LessonDocumentRepo, plans PlanCacheEntryRepo) *Store {
	return &Store{docs: docs, plans: plans}
}

func (s *Store) GetDocument(ctx context.Context, id uuid.UUID, version int) (*lesson.Document, error) {
	rows, err := s.docs.Get(dbctx.Context{Ctx: ctx}, id, version)
	if err != nil {
		return nil, fmt.Errorf("get document %s v%d: %w", id, version, err)
	}
	if rows == nil {
		return nil, fmt.Errorf("document %s v%d: %w", id, version, lesson.ErrNotFound)
	}
	return toDocument(rows)
}

func (s *Store) LatestVersion(ctx context.Context, id uuid.UUID) (int, error) {
	return s.docs.LatestVersion(dbctx.Context{Ctx: ctx}, id)
}

func (s *Store) UpsertDocumentVersion(ctx context.Context, doc *lesson.Document) error {
	rows, err := fromDocument(doc)
	if err != nil {
		return err
	}
	if err := s.docs.UpsertVersion(dbctx.Context{Ctx: ctx}, rows); err != nil {
		return fmt.Errorf("upsert document %s v%d: %w", doc.ID, doc.Version, err)
	}
	return nil
}

func (s *Store) CreateDocumentVersion(ctx context.Context, doc *lesson.Document) error {
	if doc == nil || doc.ID == uuid.Nil {
		return fmt.Errorf("create document: %w: id required", lesson.ErrInvalidInput)
	}
	// Row mapping needs a positive version; the repo assigns the real one.
	doc.Version = 1
	rows, err := fromDocument(doc)
	if err != nil {
		return err
	}
	version, err := s.docs.CreateVersion(dbctx.Context{Ctx: ctx}, rows)
	if err != nil {
		return fmt.Errorf("create document %s: %w", doc.ID, err)
	}
	doc.Version = version
	return nil
}

func (s *Store) MergeStage(ctx context.Context, id uuid.UUID, version int, m lesson.StageMerge) error {
	if !m.Stage.Valid() {
		return fmt.Errorf("merge stage: %w: unknown stage %q", lesson.ErrInvalidInput, m.Stage)
	}
	st, err := stageRow(id, version, m.Stage, m.Status, m.Errors, m.Flags)
	if err != nil {
		return err
	}
	cards, err := cardRows(id, version, m.Cards)
	if err != nil {
		return err
	}
	found, err := s.docs.MergeStage(dbctx.Context{Ctx: ctx}, id, version, st, cards)
	if err != nil {
		return fmt.Errorf("merge stage %s into %s v%d: %w", m.Stage, id, version, err)
	}
	if !found {
		return fmt.Errorf("merge stage %s: document %s v%d: %w", m.Stage, id, version, lesson.ErrNotFound)
	}
	return nil
}

func (s *Store) SetQuality(ctx context.Context, id uuid.UUID, version int, report *lesson.QualityReport) error {
	raw, err := json.Marshal(report)
	if err != nil {
		return err
	}
	found, err := s.docs.SetQuality(dbctx.Context{Ctx: ctx}, id, version, raw)
	if err != nil {
		return fmt.Errorf("set quality %s v%d: %w", id, version, err)
	}
	if !found {
		return fmt.Errorf("set quality: document %s v%d: %w", id, version, lesson.ErrNotFound)
	}
	return nil
}

func (s *Store) GetPlanCache(ctx context.Context, key string) (*lesson.PlanCacheEntry, error) {
	row, err := s.plans.Get(dbctx.Context{Ctx: ctx}, key)
	if err != nil {
		return nil, fmt.Errorf("get plan cache: %w", err)
	}
	if row == nil {
		return nil, fmt.Errorf("plan cache %s: %w", key, lesson.ErrNotFound)
	}
	var plan lesson.DomainPlan
	if err := json.Unmarshal(row.Plan, &plan); err != nil {
		return nil, fmt.Errorf("plan cache %s: decode: %w", key, err)
	}
	return &lesson.PlanCacheEntry{
		Key:        row.Key,
		Plan:       plan,
		CreatedAt:  row.CreatedAt,
		ExpiresAt:  row.ExpiresAt,
		HitCount:   row.HitCount,
		LastUsedAt: row.LastUsedAt,
	}, nil
}

func (s *Store) PutPlanCache(ctx context.Context, key string, plan lesson.DomainPlan, ttl time.Duration) error {
	raw, err := json.Marshal(plan)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	return s.plans.Upsert(dbctx.Context{Ctx: ctx}, &types.PlanCacheEntry{
		Key:        key,
		Plan:       datatypes.JSON(raw),
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
		LastUsedAt: now,
	})
}

func (s *Store) TouchPlanCache(ctx context.Context, key string) error {
	return s.plans.Touch(dbctx.Context{Ctx: ctx}, key)
}

// -------------------- row mapping --------------------

func toDocument(rows *DocumentRows) (*lesson.Document, error) {
	d := rows.Document
	doc := &lesson.Document{
		ID:                  d.ID,
		Version:             d.Version,
		DescriptorID:        d.DescriptorID,
		Topic:               d.Topic,
		PersonalizationHash: d.PersonalizationHash,
		Cards:               []lesson.Card{},
		Status:              map[lesson.StageName]lesson.StageStatus{},
		Errors:              map[string]lesson.CardError{},
		CreatedAt:           d.CreatedAt,
		UpdatedAt:           d.UpdatedAt,
	}
	if len(d.Personalization) > 0 && string(d.Personalization) != "null" {
		if err := json.Unmarshal(d.Personalization, &doc.Personalization); err != nil {
			return nil, fmt.Errorf("document %s: decode personalization: %w", d.ID, err)
		}
	}
	if len(d.Requirements) > 0 && string(d.Requirements) != "null" {
		if err := json.Unmarshal(d.Requirements, &doc.Requirements); err != nil {
			return nil, fmt.Errorf("document %s: decode requirements: %w", d.ID, err)
		}
	}
	if len(d.Plan) > 0 && string(d.Plan) != "null" {
		var p lesson.DomainPlan
		if err := json.Unmarshal(d.Plan, &p); err != nil {
			return nil, fmt.Errorf("document %s: decode plan: %w", d.ID, err)
		}
		doc.Plan = &p
	}
	if len(d.Quality) > 0 && string(d.Quality) != "null" {
		var q lesson.QualityReport
		if err := json.Unmarshal(d.Quality, &q); err != nil {
			return nil, fmt.Errorf("document %s: decode quality: %w", d.ID, err)
		}
		doc.Quality = &q
	}
	for _, s := range lesson.Stages {
		doc.Status[s] = lesson.StageStatus{State: lesson.StatePending}
	}
	flags := map[string]bool{}
	for _, st := range rows.Stages {
		stage := lesson.StageName(st.Stage)
		if !stage.Valid() {
			continue
		}
		doc.Status[stage] = lesson.StageStatus{
			State:        lesson.StageState(st.Status),
			Reason:       st.Reason,
			Retryable:    st.Retryable,
			DegradedWait: st.DegradedWait,
			StartedAt:    st.StartedAt,
			FinishedAt:   st.FinishedAt,
		}
		if len(st.Errors) > 0 {
			var errs map[string]lesson.CardError
			if err := json.Unmarshal(st.Errors, &errs); err == nil {
				for k, v := range errs {
					doc.Errors[k] = v
				}
			}
		}
		if len(st.Flags) > 0 {
			var fs []string
			if err := json.Unmarshal(st.Flags, &fs); err == nil {
				for _, f := range fs {
					flags[f] = true
				}
			}
		}
	}
	for f := range flags {
		doc.Flags = append(doc.Flags, f)
	}
	sort.Strings(doc.Flags)
	for _, c := range rows.Cards {
		card := lesson.Card{
			Type:     c.CardType,
			Stage:    lesson.StageName(c.Stage),
			Payload:  json.RawMessage(c.Payload),
			Tier:     c.Tier,
			Attempts: c.Attempts,
			Repaired: c.Repaired,
			Fallback: c.Fallback,
		}
		if len(c.Refs) > 0 && string(c.Refs) != "null" {
			_ = json.Unmarshal(c.Refs, &card.Refs)
		}
		doc.Cards = append(doc.Cards, card)
	}
	return doc, nil
}

func fromDocument(doc *lesson.Document) (*DocumentRows, error) {
	if doc == nil || doc.ID == uuid.Nil || doc.Version <= 0 {
		return nil, fmt.Errorf("upsert document: %w: id and version required", lesson.ErrInvalidInput)
	}
	plan, err := json.Marshal(doc.Plan)
	if err != nil {
		return nil, err
	}
	var personalization, requirements []byte
	if len(doc.Personalization) > 0 {
		if personalization, err = json.Marshal(doc.Personalization); err != nil {
			return nil, err
		}
	}
	if !doc.Requirements.Empty() {
		if requirements, err = json.Marshal(doc.Requirements); err != nil {
			return nil, err
		}
	}
	var quality []byte
	if doc.Quality != nil {
		if quality, err = json.Marshal(doc.Quality); err != nil {
			return nil, err
		}
	}
	rows := &DocumentRows{Document: &types.LessonDocument{
		ID:                  doc.ID,
		Version:             doc.Version,
		DescriptorID:        doc.DescriptorID,
		Topic:               doc.Topic,
		PersonalizationHash: doc.PersonalizationHash,
		Personalization:     datatypes.JSON(personalization),
		Requirements:        datatypes.JSON(requirements),
		Plan:                datatypes.JSON(plan),
		Quality:             datatypes.JSON(quality),
		CreatedAt:           doc.CreatedAt,
	}}
	// Document-wide errors and flags are stored on the stage that produced them; flags
	// without a stage ride on content.
	for _, s := range lesson.Stages {
		st, ok := doc.Status[s]
		if !ok {
			st = lesson.StageStatus{State: lesson.StatePending}
		}
		errs := map[string]lesson.CardError{}
		for k, e := range doc.Errors {
			if e.Stage == s {
				errs[k] = e
			}
		}
		var flags []string
		if s == lesson.StageContent {
			flags = doc.Flags
		}
		row, err := stageRow(doc.ID, doc.Version, s, st, errs, flags)
		if err != nil {
			return nil, err
		}
		rows.Stages = append(rows.Stages, row)
	}
	cards, err := cardRows(doc.ID, doc.Version, doc.Cards)
	if err != nil {
		return nil, err
	}
	rows.Cards = cards
	return rows, nil
}

func stageRow(id uuid.UUID, version int, stage lesson.StageName, st lesson.StageStatus, errs map[string]lesson.CardError, flags []string) (*types.LessonStageStatus, error) {
	state := st.State
	if state == "" {
		state = lesson.StatePending
	}
	row := &types.LessonStageStatus{
		DocumentID:   id,
		Version:      version,
		Stage:        string(stage),
		Status:       string(state),
		Reason:       st.Reason,
		Retryable:    st.Retryable,
		DegradedWait: st.DegradedWait,
		StartedAt:    st.StartedAt,
		FinishedAt:   st.FinishedAt,
	}
	if len(errs) > 0 {
		raw, err := json.Marshal(errs)
		if err != nil {
			return nil, err
		}
		row.Errors = datatypes.JSON(raw)
	}
	if len(flags) > 0 {
		raw, err := json.Marshal(flags)
		if err != nil {
			return nil, err
		}
		row.Flags = datatypes.JSON(raw)
	}
	return row, nil
}

func cardRows(id uuid.UUID, version int, cards []lesson.Card) ([]*types.LessonCard, error) {
	out := make([]*types.LessonCard, 0, len(cards))
	for i, c := range cards {
		row := &types.LessonCard{
			DocumentID: id,
			Version:    version,
			CardType:   c.Type,
			Stage:      string(c.Stage),
			Position:   stagePosition(c.Stage)*100 + i,
			Payload:    datatypes.JSON(c.Payload),
			Tier:       c.Tier,
			Attempts:   c.Attempts,
			Repaired:   c.Repaired,
			Fallback:   c.Fallback,
		}
		if len(c.Refs) > 0 {
			raw, err := json.Marshal(c.Refs)
			if err != nil {
				return nil, err
			}
			row.Refs = datatypes.JSON(raw)
		}
		out = append(out, row)
	}
	return out, nil
}

func stagePosition(s lesson.StageName) int {
	for i, st := range lesson.Stages {
		if st == s {
			return i
		}
	}
	return len(lesson.Stages)
}
