package testutil

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/yungbote/lessonforge/internal/domain"
)

// SeedDocument inserts an empty document version and returns it.
func SeedDocument(tb testing.TB, ctx context.Context, tx *gorm.DB, descriptorID string, version int) *types.LessonDocument {
	tb.Helper()
	now := time.Now().UTC()
	d := &types.LessonDocument{
		ID:           uuid.NewSHA1(uuid.NameSpaceURL, []byte(descriptorID)),
		Version:      version,
		DescriptorID: descriptorID,
		Topic:        "topic",
		Plan:         datatypes.JSON([]byte("{}")),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := tx.WithContext(ctx).Create(d).Error; err != nil {
		tb.Fatalf("seed document: %v", err)
	}
	return d
}

func Card(tb testing.TB, docID uuid.UUID, version int, stage, cardType string, payload any) *types.LessonCard {
	tb.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		tb.Fatalf("marshal card payload: %v", err)
	}
	return &types.LessonCard{
		DocumentID: docID,
		Version:    version,
		CardType:   cardType,
		Stage:      stage,
		Payload:    datatypes.JSON(raw),
	}
}

func PtrTime(v time.Time) *time.Time { return &v }
