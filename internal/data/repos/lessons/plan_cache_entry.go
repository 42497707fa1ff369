package lessons

import (
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/lessonforge/internal/domain"
	"github.com/yungbote/lessonforge/internal/platform/dbctx"
	"github.com/yungbote/lessonforge/internal/platform/logger"
)

type PlanCacheEntryRepo interface {
	// Get returns nil for a missing key. Expiry is the caller's concern.
	Get(dbc dbctx.Context, key string) (*types.PlanCacheEntry, error)
	Upsert(dbc dbctx.Context, row *types.PlanCacheEntry) error
	Touch(dbc dbctx.Context, key string) error
	DeleteExpired(dbc dbctx.Context, now time.Time) (int64, error)
}

type planCacheEntryRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPlanCacheEntryRepo(db *gorm.DB, baseLog *logger.Logger) PlanCacheEntryRepo {
	return &planCacheEntryRepo{db: db, log: baseLog.With("repo", "PlanCacheEntryRepo")}
}

func (r *planCacheEntryRepo) Get(dbc dbctx.Context, key string) (*types.PlanCacheEntry, error) {
	if strings.TrimSpace(key) == "" {
		return nil, nil
	}
	var row types.PlanCacheEntry
	if err := dbc.DB(r.db).Where("key = ?", key).First(&row).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *planCacheEntryRepo) Upsert(dbc dbctx.Context, row *types.PlanCacheEntry) error {
	if row == nil || strings.TrimSpace(row.Key) == "" {
		return nil
	}
	now := time.Now().UTC()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	if row.LastUsedAt.IsZero() {
		row.LastUsedAt = now
	}
	// A refresh is a new entry: hit count restarts.
	return dbc.DB(r.db).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"plan",
				"hit_count",
				"created_at",
				"expires_at",
				"last_used_at",
			}),
		}).
		Create(row).Error
}

func (r *planCacheEntryRepo) Touch(dbc dbctx.Context, key string) error {
	return dbc.DB(r.db).Model(&types.PlanCacheEntry{}).
		Where("key = ?", key).
		Updates(map[string]any{
			"hit_count":    gorm.Expr("hit_count + 1"),
			"last_used_at": time.Now().UTC(),
		}).Error
}

func (r *planCacheEntryRepo) DeleteExpired(dbc dbctx.Context, now time.Time) (int64, error) {
	res := dbc.DB(r.db).Where("expires_at <= ?", now).Delete(&types.PlanCacheEntry{})
	return res.RowsAffected, res.Error
}
