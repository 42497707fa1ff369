package lessons

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type LessonCard struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`

	DocumentID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_lesson_card_key;index:idx_lesson_card_stage" json:"document_id"`
	Version    int       `gorm:"not null;uniqueIndex:idx_lesson_card_key;index:idx_lesson_card_stage" json:"version"`
	CardType   string    `gorm:"type:text;not null;uniqueIndex:idx_lesson_card_key" json:"card_type"`
	Stage      string    `gorm:"type:text;not null;index:idx_lesson_card_stage" json:"stage"`
	Position   int       `gorm:"not null;default:0" json:"position"`

	Payload  datatypes.JSON `gorm:"type:jsonb;not null" json:"payload"`
	Refs     datatypes.JSON `gorm:"type:jsonb" json:"refs,omitempty"`
	Tier     string         `gorm:"type:text;not null;default:''" json:"tier"`
	Attempts int            `gorm:"not null;default:0" json:"attempts"`
	Repaired bool           `gorm:"not null;default:false" json:"repaired"`
	Fallback bool           `gorm:"not null;default:false" json:"fallback"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (LessonCard) TableName() string { return "lesson_card" }
