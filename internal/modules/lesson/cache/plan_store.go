package cache

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/yungbote/lessonforge/internal/modules/lesson"
)

// PlanStore persists plan cache entries through the document store so they survive restarts.
type PlanStore struct {
	store lesson.Store
}

func NewPlanStore(store lesson.Store) *PlanStore {
	return &PlanStore{store: store}
}

func (s *PlanStore) Get(ctx context.Context, key string) (*Entry, error) {
	row, err := s.store.GetPlanCache(ctx, key)
	if errors.Is(err, lesson.ErrNotFound) {
		return nil, nil
	}
	if err != nil || row == nil {
		return nil, err
	}
	raw, err := json.Marshal(row.Plan)
	if err != nil {
		return nil, err
	}
	return &Entry{
		Payload:   raw,
		CreatedAt: row.CreatedAt,
		TTL:       row.ExpiresAt.Sub(row.CreatedAt),
		HitCount:  row.HitCount,
	}, nil
}

func (s *PlanStore) Put(ctx context.Context, key string, e Entry) error {
	var plan lesson.DomainPlan
	if err := json.Unmarshal(e.Payload, &plan); err != nil {
		return err
	}
	return s.store.PutPlanCache(ctx, key, plan, e.TTL)
}

func (s *PlanStore) Hit(ctx context.Context, key string) error {
	return s.store.TouchPlanCache(ctx, key)
}
