package domain

import "github.com/yungbote/lessonforge/internal/domain/lessons"

type (
	LessonDocument    = lessons.LessonDocument
	LessonCard        = lessons.LessonCard
	LessonStageStatus = lessons.LessonStageStatus
	PlanCacheEntry    = lessons.PlanCacheEntry
)

// Models lists every persisted row type in migration order.
func Models() []any {
	return []any{
		&LessonDocument{},
		&LessonCard{},
		&LessonStageStatus{},
		&PlanCacheEntry{},
	}
}
