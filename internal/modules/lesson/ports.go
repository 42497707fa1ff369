package lesson

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// StageMerge is a field-level update of one stage inside one document version.
type StageMerge struct {
	Stage  StageName
	Cards  []Card
	Status StageStatus
	Errors map[string]CardError
	Flags  []string
}

type PlanCacheEntry struct {
	Key        string
	Plan       DomainPlan
	CreatedAt  time.Time
	ExpiresAt  time.Time
	HitCount   int
	LastUsedAt time.Time
}

// Store is the persistence boundary for versioned documents and the plan cache.
type Store interface {
	// GetDocument loads a version; version <= 0 means the latest. Missing documents return ErrNotFound.
	GetDocument(ctx context.Context, id uuid.UUID, version int) (*Document, error)
	UpsertDocumentVersion(ctx context.Context, doc *Document) error
	// CreateDocumentVersion stores doc as the next free version of doc.ID and sets doc.Version.
	// Concurrent callers always receive distinct versions.
	CreateDocumentVersion(ctx context.Context, doc *Document) error
	// MergeStage must be atomic against concurrent callers merging other stages of the same version.
	MergeStage(ctx context.Context, id uuid.UUID, version int, m StageMerge) error
	SetQuality(ctx context.Context, id uuid.UUID, version int, report *QualityReport) error
	LatestVersion(ctx context.Context, id uuid.UUID) (int, error)

	GetPlanCache(ctx context.Context, key string) (*PlanCacheEntry, error)
	PutPlanCache(ctx context.Context, key string, plan DomainPlan, ttl time.Duration) error
	// TouchPlanCache bumps the hit count and last-used time of a served entry.
	TouchPlanCache(ctx context.Context, key string) error
}

// KnowledgeResolver maps surface forms to canonical ids. Unknown forms are absent from the result.
type KnowledgeResolver interface {
	ResolveVocabulary(ctx context.Context, language string, surfaces []string) (map[string]string, error)
	ResolveGrammar(ctx context.Context, language string, labels []string) (map[string]string, error)
}

type DescriptorSource interface {
	Descriptor(ctx context.Context, id string) (*Descriptor, error)
}

// ProgressSink receives pipeline progress. Implementations must not block for long.
type ProgressSink interface {
	OnProgress(ctx context.Context, ev ProgressEvent)
}

type ProgressFunc func(ctx context.Context, ev ProgressEvent)

func (f ProgressFunc) OnProgress(ctx context.Context, ev ProgressEvent) { f(ctx, ev) }

// NopProgress discards every event.
var NopProgress ProgressSink = ProgressFunc(func(context.Context, ProgressEvent) {})
