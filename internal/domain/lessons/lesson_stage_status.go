package lessons

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// LessonStageStatus carries one stage's state plus the card errors and run flags that
// stage recorded.
type LessonStageStatus struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`

	DocumentID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_lesson_stage_status_key" json:"document_id"`
	Version    int       `gorm:"not null;uniqueIndex:idx_lesson_stage_status_key" json:"version"`
	Stage      string    `gorm:"type:text;not null;uniqueIndex:idx_lesson_stage_status_key" json:"stage"`

	Status       string     `gorm:"type:text;not null;default:'pending'" json:"status"`
	Reason       string     `gorm:"type:text;not null;default:''" json:"reason"`
	Retryable    bool       `gorm:"not null;default:false" json:"retryable"`
	DegradedWait bool       `gorm:"not null;default:false" json:"degraded_wait"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`

	Errors datatypes.JSON `gorm:"type:jsonb" json:"errors,omitempty"`
	Flags  datatypes.JSON `gorm:"type:jsonb" json:"flags,omitempty"`

	UpdatedAt time.Time `gorm:"not null;index" json:"updated_at"`
}

func (LessonStageStatus) TableName() string { return "lesson_stage_status" }
