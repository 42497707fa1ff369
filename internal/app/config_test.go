package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/yungbote/lessonforge/internal/platform/logger"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("LESSON_MAIN_MODEL", "main-x")
	t.Setenv("LESSON_FALLBACK_MODEL", "")
	t.Setenv("LESSON_CACHE_BACKEND", "Memcached")
	t.Setenv("LESSON_REPAIR_MAX_ATTEMPTS", "0")

	cfg := LoadConfig(logger.Nop())
	assert.Equal(t, "main-x", cfg.FallbackModel)
	assert.Equal(t, CacheBackendMemory, cfg.CacheBackend)
	assert.Equal(t, 1, cfg.RepairMaxAttempts)
	assert.Equal(t, 24*time.Hour, cfg.PlanCacheTTL)
	assert.Equal(t, 6*time.Hour, cfg.SectionCacheTTL)
	assert.Equal(t, 48*time.Hour, cfg.DocumentCacheTTL)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("LESSON_CACHE_BACKEND", "redis")
	t.Setenv("LESSON_DOCUMENT_CACHE_TTL_SECONDS", "60")
	t.Setenv("LESSON_FAST_RPS", "2.5")

	cfg := LoadConfig(logger.Nop())
	assert.Equal(t, CacheBackendRedis, cfg.CacheBackend)
	assert.Equal(t, time.Minute, cfg.DocumentCacheTTL)
	assert.InDelta(t, 2.5, cfg.FastRPS, 1e-9)
}
