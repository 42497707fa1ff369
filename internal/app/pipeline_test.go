package app

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/yungbote/lessonforge/internal/data/graph"
	"github.com/yungbote/lessonforge/internal/data/repos/testutil"
	"github.com/yungbote/lessonforge/internal/modules/lesson"
	"github.com/yungbote/lessonforge/internal/modules/lesson/cache"
	"github.com/yungbote/lessonforge/internal/modules/lesson/compiler"
	"github.com/yungbote/lessonforge/internal/modules/lesson/lessontest"
	"github.com/yungbote/lessonforge/internal/modules/lesson/llm"
	"github.com/yungbote/lessonforge/internal/platform/logger"
	"github.com/yungbote/lessonforge/internal/realtime"
	"github.com/yungbote/lessonforge/internal/realtime/bus"
)

func writeFixture(t *testing.T) string {
	t.Helper()
	raw, err := yaml.Marshal(graph.Fixture{
		Descriptors: []lesson.Descriptor{lessontest.Descriptor()},
		Vocabulary:  []graph.Entry{{ID: "v:agua", Language: "Spanish", Form: "agua"}},
	})
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "descriptors.yaml")
	require.NoError(t, os.WriteFile(path, raw, 0o600))
	return path
}

func TestWiredPipelineCompilesAndPublishesProgress(t *testing.T) {
	log := logger.Nop()
	cfg := LoadConfig(log)
	cfg.DescriptorsFile = writeFixture(t)
	cfg.ProgressInterval = time.Millisecond

	b := bus.NewMemoryBus()
	var mu sync.Mutex
	var msgs []realtime.SSEMessage
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, b.StartForwarder(ctx, func(m realtime.SSEMessage) {
		mu.Lock()
		msgs = append(msgs, m)
		mu.Unlock()
	}))

	backend := lessontest.NewBackend()
	p, err := wirePipeline(log, cfg, PipelineDeps{
		DB:    testutil.DB(t),
		Tiers: llm.Tiers{Main: backend, Fast: backend},
		Bus:   b,
	})
	require.NoError(t, err)
	assert.Equal(t, "plan", p.Caches.Plan.Name())
	assert.Equal(t, "section", p.Caches.Section.Name())
	assert.Equal(t, "document", p.Caches.Document.Name())

	res, err := p.Compiler.Compile(ctx, compiler.CompileRequest{DescriptorID: "X:1", Incremental: true})
	require.NoError(t, err)
	require.NoError(t, p.Compiler.Wait(ctx))

	doc, err := p.Store.GetDocument(ctx, res.DocumentID, 0)
	require.NoError(t, err)
	for _, s := range lesson.Stages {
		assert.Equal(t, lesson.StateComplete, doc.Status[s].State, s)
	}
	vocab, ok := doc.Card("vocabulary")
	require.True(t, ok)
	assert.Equal(t, "v:agua", vocab.Refs["agua"])

	mu.Lock()
	var named []string
	for _, m := range msgs {
		assert.Equal(t, realtime.LessonChannel(res.DocumentID), m.Channel)
		if m.Event != realtime.SSEEventProgress {
			named = append(named, string(m.Event))
		}
	}
	mu.Unlock()
	assert.Equal(t, []string{"content_ready", "comprehension_ready", "production_ready", "interaction_ready"}, named)

	again, err := p.Compiler.Compile(ctx, compiler.CompileRequest{DescriptorID: "X:1", Incremental: true})
	require.NoError(t, err)
	assert.True(t, again.CacheHit)
	assert.Nil(t, again.Task)
}

func TestKVStoreFallsBackToMemory(t *testing.T) {
	cfg := Config{CacheBackend: CacheBackendRedis}
	_, ok := kvStore(cfg, nil, "section").(*cache.MemoryStore)
	assert.True(t, ok)
}

type recordingClient struct {
	mu     sync.Mutex
	models []string
}

func (c *recordingClient) GenerateText(_ context.Context, _, _, model string, _ time.Duration) (string, error) {
	c.mu.Lock()
	c.models = append(c.models, model)
	c.mu.Unlock()
	return "{}", nil
}

func TestTiersBindModels(t *testing.T) {
	client := &recordingClient{}
	ts := tiers(Config{MainModel: "m", FastModel: "f", FallbackModel: "fb", FastRPS: 100, FastBurst: 1}, client)
	ctx := context.Background()
	for _, b := range []llm.Backend{ts.Main, ts.Fast, ts.Fallback} {
		_, err := b.Generate(ctx, "sys", "user")
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"m", "f", "fb"}, client.models)
}
