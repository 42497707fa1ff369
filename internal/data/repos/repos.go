package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/lessonforge/internal/data/repos/lessons"
	"github.com/yungbote/lessonforge/internal/platform/logger"
)

type LessonDocumentRepo = lessons.LessonDocumentRepo
type PlanCacheEntryRepo = lessons.PlanCacheEntryRepo

type DocumentRows = lessons.DocumentRows

func NewLessonDocumentRepo(db *gorm.DB, baseLog *logger.Logger) LessonDocumentRepo {
	return lessons.NewLessonDocumentRepo(db, baseLog)
}
func NewPlanCacheEntryRepo(db *gorm.DB, baseLog *logger.Logger) PlanCacheEntryRepo {
	return lessons.NewPlanCacheEntryRepo(db, baseLog)
}

// NewStore builds the pipeline's persistence adapter over db.
func NewStore(db *gorm.DB, baseLog *logger.Logger) *lessons.Store {
	return lessons.NewStore(NewLessonDocumentRepo(db, baseLog), NewPlanCacheEntryRepo(db, baseLog))
}
