package lessons

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/lessonforge/internal/domain"
	"github.com/yungbote/lessonforge/internal/platform/dbctx"
	"github.com/yungbote/lessonforge/internal/platform/logger"
)

// DocumentRows is one stored document version with its child rows.
type DocumentRows struct {
	Document *types.LessonDocument
	Stages   []*types.LessonStageStatus
	Cards    []*types.LessonCard
}

type LessonDocumentRepo interface {
	// Get returns nil when the version does not exist. version <= 0 loads the latest.
	Get(dbc dbctx.Context, id uuid.UUID, version int) (*DocumentRows, error)
	LatestVersion(dbc dbctx.Context, id uuid.UUID) (int, error)
	UpsertVersion(dbc dbctx.Context, rows *DocumentRows) error
	// CreateVersion inserts rows as the next free version of the document and returns it.
	// It never overwrites an existing version.
	CreateVersion(dbc dbctx.Context, rows *DocumentRows) (int, error)
	// MergeStage writes one stage's rows; found is false when the version does not exist.
	MergeStage(dbc dbctx.Context, id uuid.UUID, version int, status *types.LessonStageStatus, cards []*types.LessonCard) (found bool, err error)
	SetQuality(dbc dbctx.Context, id uuid.UUID, version int, quality []byte) (found bool, err error)
}

type lessonDocumentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewLessonDocumentRepo(db *gorm.DB, baseLog *logger.Logger) LessonDocumentRepo {
	return &lessonDocumentRepo{db: db, log: baseLog.With("repo", "LessonDocumentRepo")}
}

func (r *lessonDocumentRepo) LatestVersion(dbc dbctx.Context, id uuid.UUID) (int, error) {
	var v int
	row := dbc.DB(r.db).
		Model(&types.LessonDocument{}).
		Where("id = ?", id).
		Select("COALESCE(MAX(version), 0)").
		Row()
	if err := row.Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}

func (r *lessonDocumentRepo) Get(dbc dbctx.Context, id uuid.UUID, version int) (*DocumentRows, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	if version <= 0 {
		latest, err := r.LatestVersion(dbc, id)
		if err != nil {
			return nil, err
		}
		if latest == 0 {
			return nil, nil
		}
		version = latest
	}
	t := dbc.DB(r.db)
	var doc types.LessonDocument
	if err := t.Where("id = ? AND version = ?", id, version).First(&doc).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	out := &DocumentRows{Document: &doc}
	if err := t.Where("document_id = ? AND version = ?", id, version).
		Order("stage ASC").
		Find(&out.Stages).Error; err != nil {
		return nil, err
	}
	if err := t.Where("document_id = ? AND version = ?", id, version).
		Order("position ASC, card_type ASC").
		Find(&out.Cards).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *lessonDocumentRepo) UpsertVersion(dbc dbctx.Context, rows *DocumentRows) error {
	if rows == nil || rows.Document == nil || rows.Document.ID == uuid.Nil {
		return nil
	}
	now := time.Now().UTC()
	if rows.Document.CreatedAt.IsZero() {
		rows.Document.CreatedAt = now
	}
	rows.Document.UpdatedAt = now

	return dbc.DB(r.db).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}, {Name: "version"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"descriptor_id",
				"topic",
				"personalization_hash",
				"personalization",
				"requirements",
				"plan",
				"quality",
				"updated_at",
			}),
		}).Create(rows.Document).Error; err != nil {
			return err
		}
		for _, st := range rows.Stages {
			if err := upsertStatus(tx, st, now); err != nil {
				return err
			}
		}
		return upsertCards(tx, rows.Cards, now)
	})
}

const createVersionAttempts = 8

func (r *lessonDocumentRepo) CreateVersion(dbc dbctx.Context, rows *DocumentRows) (int, error) {
	if rows == nil || rows.Document == nil || rows.Document.ID == uuid.Nil {
		return 0, fmt.Errorf("create version: document id required")
	}
	id := rows.Document.ID
	for attempt := 1; attempt <= createVersionAttempts; attempt++ {
		var version int
		err := dbc.DB(r.db).Transaction(func(tx *gorm.DB) error {
			latest, err := r.LatestVersion(dbctx.Context{Ctx: dbc.Ctx, Tx: tx}, id)
			if err != nil {
				return err
			}
			version = latest + 1
			now := time.Now().UTC()
			setVersion(rows, version, now)
			if err := tx.Create(rows.Document).Error; err != nil {
				return err
			}
			if len(rows.Stages) > 0 {
				if err := tx.Create(&rows.Stages).Error; err != nil {
					return err
				}
			}
			if len(rows.Cards) > 0 {
				return tx.Create(&rows.Cards).Error
			}
			return nil
		})
		if err == nil {
			return version, nil
		}
		if !isUniqueViolation(err) {
			return 0, err
		}
		r.log.Debug("document version taken; retrying", "document_id", id, "version", version, "attempt", attempt)
	}
	return 0, fmt.Errorf("create version of %s: gave up after %d attempts", id, createVersionAttempts)
}

func setVersion(rows *DocumentRows, version int, now time.Time) {
	rows.Document.Version = version
	if rows.Document.CreatedAt.IsZero() {
		rows.Document.CreatedAt = now
	}
	rows.Document.UpdatedAt = now
	for _, st := range rows.Stages {
		st.ID = uuid.New()
		st.DocumentID = rows.Document.ID
		st.Version = version
		st.UpdatedAt = now
	}
	for _, c := range rows.Cards {
		c.ID = uuid.New()
		c.DocumentID = rows.Document.ID
		c.Version = version
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		c.UpdatedAt = now
	}
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}

func (r *lessonDocumentRepo) MergeStage(dbc dbctx.Context, id uuid.UUID, version int, status *types.LessonStageStatus, cards []*types.LessonCard) (bool, error) {
	if status == nil {
		return true, nil
	}
	now := time.Now().UTC()
	found := true
	err := dbc.DB(r.db).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&types.LessonDocument{}).
			Where("id = ? AND version = ?", id, version).
			Update("updated_at", now)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			found = false
			return nil
		}
		// A non-empty card set replaces the stage's cards; an empty one leaves them alone.
		if len(cards) > 0 {
			keep := make([]string, 0, len(cards))
			for _, c := range cards {
				keep = append(keep, c.CardType)
			}
			if err := tx.Where("document_id = ? AND version = ? AND stage = ? AND card_type NOT IN ?", id, version, status.Stage, keep).
				Delete(&types.LessonCard{}).Error; err != nil {
				return err
			}
		}
		if err := upsertCards(tx, cards, now); err != nil {
			return err
		}
		return upsertStatus(tx, status, now)
	})
	if err != nil {
		r.log.Error("merge stage failed", "document_id", id, "version", version, "stage", status.Stage, "error", err)
	}
	return found, err
}

func (r *lessonDocumentRepo) SetQuality(dbc dbctx.Context, id uuid.UUID, version int, quality []byte) (bool, error) {
	res := dbc.DB(r.db).Model(&types.LessonDocument{}).
		Where("id = ? AND version = ?", id, version).
		Updates(map[string]any{"quality": quality, "updated_at": time.Now().UTC()})
	return res.RowsAffected > 0, res.Error
}

func upsertStatus(tx *gorm.DB, st *types.LessonStageStatus, now time.Time) error {
	if st.ID == uuid.Nil {
		st.ID = uuid.New()
	}
	st.UpdatedAt = now
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "document_id"}, {Name: "version"}, {Name: "stage"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status",
			"reason",
			"retryable",
			"degraded_wait",
			"started_at",
			"finished_at",
			"errors",
			"flags",
			"updated_at",
		}),
	}).Create(st).Error
}

func upsertCards(tx *gorm.DB, cards []*types.LessonCard, now time.Time) error {
	if len(cards) == 0 {
		return nil
	}
	for _, c := range cards {
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		c.UpdatedAt = now
	}
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "document_id"}, {Name: "version"}, {Name: "card_type"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"stage",
			"position",
			"payload",
			"refs",
			"tier",
			"attempts",
			"repaired",
			"fallback",
			"updated_at",
		}),
	}).Create(&cards).Error
}
