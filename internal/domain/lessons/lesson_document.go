package lessons

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// LessonDocument is one version of a compiled lesson. Cards and stage status live in
// their own rows so stage writers never rewrite this one.
type LessonDocument struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Version int       `gorm:"primaryKey;autoIncrement:false" json:"version"`

	DescriptorID        string `gorm:"type:text;not null;index" json:"descriptor_id"`
	Topic               string `gorm:"type:text;not null;default:''" json:"topic"`
	PersonalizationHash string `gorm:"type:text;not null;default:''" json:"personalization_hash"`

	// Personalization and requirements are kept so stage regeneration sees the compile's context.
	Personalization datatypes.JSON `gorm:"type:jsonb" json:"personalization,omitempty"`
	Requirements    datatypes.JSON `gorm:"type:jsonb" json:"requirements,omitempty"`

	Plan    datatypes.JSON `gorm:"type:jsonb" json:"plan"`
	Quality datatypes.JSON `gorm:"type:jsonb" json:"quality,omitempty"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (LessonDocument) TableName() string { return "lesson_document" }
