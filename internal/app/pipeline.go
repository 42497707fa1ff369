package app

import (
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/yungbote/lessonforge/internal/data/graph"
	"github.com/yungbote/lessonforge/internal/data/repos"
	"github.com/yungbote/lessonforge/internal/modules/lesson"
	"github.com/yungbote/lessonforge/internal/modules/lesson/cache"
	"github.com/yungbote/lessonforge/internal/modules/lesson/cards"
	"github.com/yungbote/lessonforge/internal/modules/lesson/compiler"
	"github.com/yungbote/lessonforge/internal/modules/lesson/llm"
	"github.com/yungbote/lessonforge/internal/modules/lesson/orchestrator"
	"github.com/yungbote/lessonforge/internal/modules/lesson/plan"
	"github.com/yungbote/lessonforge/internal/modules/lesson/progress"
	"github.com/yungbote/lessonforge/internal/modules/lesson/quality"
	"github.com/yungbote/lessonforge/internal/modules/lesson/schema"
	"github.com/yungbote/lessonforge/internal/observability"
	"github.com/yungbote/lessonforge/internal/platform/logger"
	"github.com/yungbote/lessonforge/internal/platform/neo4jdb"
	"github.com/yungbote/lessonforge/internal/platform/openai"
	"github.com/yungbote/lessonforge/internal/realtime/bus"
)

// PipelineDeps are the process-wide collaborators the lesson pipeline is built on.
type PipelineDeps struct {
	DB      *gorm.DB
	Redis   *goredis.Client
	Neo4j   *neo4jdb.Client
	Tiers   llm.Tiers
	Bus     bus.Bus
	Metrics *observability.Metrics
}

type Pipeline struct {
	Catalog     *schema.Catalog
	Store       lesson.Store
	Knowledge   lesson.KnowledgeResolver
	Descriptors lesson.DescriptorSource
	Caches      cache.Layer

	Plans        *plan.Generator
	Cards        *cards.Generator
	Orchestrator *orchestrator.Orchestrator
	Quality      *quality.Gate
	Compiler     *compiler.Compiler
}

// tiers binds the three generation tiers to one OpenAI client. Only the fast tier is rate limited.
func tiers(cfg Config, client openai.Client) llm.Tiers {
	return llm.Tiers{
		Main:     llm.NewOpenAI(client, cfg.MainModel, cfg.MainTimeout),
		Fast:     llm.Limited(llm.NewOpenAI(client, cfg.FastModel, cfg.FastTimeout), cfg.FastRPS, cfg.FastBurst),
		Fallback: llm.NewOpenAI(client, cfg.FallbackModel, cfg.MainTimeout),
	}
}

func wirePipeline(log *logger.Logger, cfg Config, deps PipelineDeps) (*Pipeline, error) {
	log.Info("Wiring lesson pipeline...")
	catalog, err := schema.Default()
	if err != nil {
		return nil, fmt.Errorf("load card catalog: %w", err)
	}
	p := &Pipeline{Catalog: catalog, Store: repos.NewStore(deps.DB, log)}

	// Knowledge store: neo4j when configured, else the fixture file (possibly empty).
	if deps.Neo4j != nil {
		p.Knowledge = graph.NewKnowledge(deps.Neo4j, log)
		p.Descriptors = graph.NewDescriptors(deps.Neo4j, log)
	} else {
		var fixture *graph.Fixture
		if cfg.DescriptorsFile != "" {
			if fixture, err = graph.LoadFixture(cfg.DescriptorsFile); err != nil {
				return nil, err
			}
		}
		mem := graph.NewMemory(fixture)
		p.Knowledge, p.Descriptors = mem, mem
		log.Info("using in-memory knowledge store", "fixture", cfg.DescriptorsFile)
	}

	opts := []cache.Option{cache.WithMetrics(deps.Metrics), cache.WithLogger(log)}
	p.Caches = cache.Layer{
		Plan:     cache.New("plan", cache.NewPlanStore(p.Store), cfg.PlanCacheTTL, opts...),
		Section:  cache.New("section", kvStore(cfg, deps.Redis, "section"), cfg.SectionCacheTTL, opts...),
		Document: cache.New("document", kvStore(cfg, deps.Redis, "document"), cfg.DocumentCacheTTL, opts...),
	}

	p.Plans = plan.NewGenerator(log, catalog, p.Caches.Plan, deps.Metrics, cfg.RepairMaxAttempts)
	p.Cards = cards.NewGenerator(log, catalog, cards.NewEnricher(p.Knowledge, p.Caches.Section), deps.Metrics, cfg.RepairMaxAttempts)
	p.Orchestrator = orchestrator.New(log, catalog, p.Cards, deps.Metrics, orchestrator.ConfigFromEnv())
	p.Quality = quality.NewGate(log, catalog, deps.Metrics, quality.OptionsFromEnv())

	var sink lesson.ProgressSink
	if deps.Bus != nil {
		sink = progress.NewThrottled(progress.NewBusSink(deps.Bus, log), cfg.ProgressInterval)
	}
	p.Compiler = compiler.New(compiler.Deps{
		Log:          log,
		Metrics:      deps.Metrics,
		Store:        p.Store,
		Descriptors:  p.Descriptors,
		Tiers:        deps.Tiers,
		Plans:        p.Plans,
		Orchestrator: p.Orchestrator,
		Quality:      p.Quality,
		Documents:    p.Caches.Document,
		Progress:     sink,
	}, compiler.ConfigFromEnv())
	return p, nil
}

// kvStore picks the backend of a cache that does not live in the relational store.
func kvStore(cfg Config, rdb *goredis.Client, name string) cache.Store {
	if cfg.CacheBackend == CacheBackendRedis && rdb != nil {
		return cache.NewRedisStore(rdb, "lesson:"+name+":")
	}
	return cache.NewMemoryStore()
}
