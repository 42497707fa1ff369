package app

import (
	"strings"
	"time"

	"github.com/yungbote/lessonforge/internal/platform/envutil"
	"github.com/yungbote/lessonforge/internal/platform/logger"
)

const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

type Config struct {
	ServiceName string
	Environment string
	Version     string
	HTTPAddr    string

	MainModel     string
	FastModel     string
	FallbackModel string
	MainTimeout   time.Duration
	FastTimeout   time.Duration
	FastRPS       float64
	FastBurst     int

	RepairMaxAttempts int

	PlanCacheTTL     time.Duration
	SectionCacheTTL  time.Duration
	DocumentCacheTTL time.Duration
	CacheBackend     string

	RedisChannel     string
	DescriptorsFile  string
	ProgressInterval time.Duration
	MetricsEnabled   bool
	ShutdownTimeout  time.Duration
}

func LoadConfig(log *logger.Logger) Config {
	cfg := Config{
		ServiceName: envutil.String("SERVICE_NAME", "lessonforge"),
		Environment: envutil.String("APP_ENV", "development"),
		Version:     envutil.String("APP_VERSION", "dev"),
		HTTPAddr:    envutil.String("HTTP_ADDR", ":8080"),

		MainModel:     envutil.String("LESSON_MAIN_MODEL", envutil.String("OPENAI_MODEL", "gpt-5.2")),
		FastModel:     envutil.String("LESSON_FAST_MODEL", "gpt-5-mini"),
		FallbackModel: envutil.String("LESSON_FALLBACK_MODEL", ""),
		MainTimeout:   envutil.Seconds("LESSON_MAIN_TIMEOUT_SECONDS", 180*time.Second),
		FastTimeout:   envutil.Seconds("LESSON_FAST_TIMEOUT_SECONDS", 60*time.Second),
		FastRPS:       envutil.Float("LESSON_FAST_RPS", 0),
		FastBurst:     envutil.Int("LESSON_FAST_BURST", 4),

		RepairMaxAttempts: envutil.Int("LESSON_REPAIR_MAX_ATTEMPTS", 3),

		PlanCacheTTL:     envutil.Seconds("LESSON_PLAN_CACHE_TTL_SECONDS", 24*time.Hour),
		SectionCacheTTL:  envutil.Seconds("LESSON_SECTION_CACHE_TTL_SECONDS", 6*time.Hour),
		DocumentCacheTTL: envutil.Seconds("LESSON_DOCUMENT_CACHE_TTL_SECONDS", 48*time.Hour),
		CacheBackend:     strings.ToLower(envutil.String("LESSON_CACHE_BACKEND", CacheBackendMemory)),

		RedisChannel:     envutil.String("REDIS_CHANNEL", "lesson-progress"),
		DescriptorsFile:  envutil.String("LESSON_DESCRIPTORS_FILE", ""),
		ProgressInterval: envutil.Millis("LESSON_PROGRESS_INTERVAL_MS", 2*time.Second),
		MetricsEnabled:   envutil.Bool("METRICS_ENABLED", true),
		ShutdownTimeout:  envutil.Seconds("SHUTDOWN_TIMEOUT_SECONDS", 30*time.Second),
	}
	if cfg.FallbackModel == "" {
		cfg.FallbackModel = cfg.MainModel
	}
	if cfg.RepairMaxAttempts < 1 {
		log.Warn("LESSON_REPAIR_MAX_ATTEMPTS below 1; using 1", "value", cfg.RepairMaxAttempts)
		cfg.RepairMaxAttempts = 1
	}
	switch cfg.CacheBackend {
	case CacheBackendMemory, CacheBackendRedis:
	default:
		log.Warn("unknown LESSON_CACHE_BACKEND; using memory", "value", cfg.CacheBackend)
		cfg.CacheBackend = CacheBackendMemory
	}
	return cfg
}
