package lessons

import (
	"time"

	"gorm.io/datatypes"
)

type PlanCacheEntry struct {
	Key  string         `gorm:"type:text;primaryKey" json:"key"`
	Plan datatypes.JSON `gorm:"type:jsonb;not null" json:"plan"`

	HitCount   int       `gorm:"not null;default:0" json:"hit_count"`
	CreatedAt  time.Time `gorm:"not null" json:"created_at"`
	ExpiresAt  time.Time `gorm:"not null;index" json:"expires_at"`
	LastUsedAt time.Time `gorm:"not null" json:"last_used_at"`
}

func (PlanCacheEntry) TableName() string { return "plan_cache_entry" }
