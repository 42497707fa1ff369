package app

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/yungbote/lessonforge/internal/data/db"
	"github.com/yungbote/lessonforge/internal/platform/logger"
	"github.com/yungbote/lessonforge/internal/platform/neo4jdb"
	"github.com/yungbote/lessonforge/internal/platform/openai"
	"github.com/yungbote/lessonforge/internal/platform/redisdb"
	"github.com/yungbote/lessonforge/internal/realtime/bus"
)

type Clients struct {
	DB     *gorm.DB
	Redis  *goredis.Client
	Neo4j  *neo4jdb.Client
	OpenAI openai.Client
	Bus    bus.Bus
}

func wireClients(log *logger.Logger, cfg Config) (Clients, error) {
	log.Info("Wiring clients...")

	gdb, err := db.Open(log, db.ConfigFromEnv())
	if err != nil {
		return Clients{}, fmt.Errorf("init database: %w", err)
	}
	out := Clients{DB: gdb}

	// Redis (optional)
	rdb, err := redisdb.NewFromEnv(log)
	if err != nil {
		out.Close()
		return Clients{}, fmt.Errorf("init redis: %w", err)
	}
	out.Redis = rdb
	if cfg.CacheBackend == CacheBackendRedis && rdb == nil {
		out.Close()
		return Clients{}, fmt.Errorf("LESSON_CACHE_BACKEND=redis requires REDIS_ADDR")
	}

	// Progress bus
	if rdb != nil {
		b, err := bus.NewRedisBus(log, rdb, cfg.RedisChannel)
		if err != nil {
			out.Close()
			return Clients{}, fmt.Errorf("init redis progress bus: %w", err)
		}
		out.Bus = b
	} else {
		out.Bus = bus.NewMemoryBus()
	}

	// Neo4j (optional)
	graph, err := neo4jdb.NewFromEnv(log)
	if err != nil {
		out.Close()
		return Clients{}, fmt.Errorf("init neo4j: %w", err)
	}
	out.Neo4j = graph

	// OpenAI
	oa, err := openai.NewClient(log, openai.ConfigFromEnv())
	if err != nil {
		out.Close()
		return Clients{}, fmt.Errorf("init openai client: %w", err)
	}
	out.OpenAI = oa

	return out, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Bus != nil {
		_ = c.Bus.Close()
	}
	if c.Neo4j != nil {
		_ = c.Neo4j.Close(context.Background())
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if c.DB != nil {
		if sqlDB, err := c.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
