package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	lessonhttp "github.com/yungbote/lessonforge/internal/http"
	httpH "github.com/yungbote/lessonforge/internal/http/handlers"
	"github.com/yungbote/lessonforge/internal/observability"
	"github.com/yungbote/lessonforge/internal/platform/envutil"
	"github.com/yungbote/lessonforge/internal/platform/logger"
	"github.com/yungbote/lessonforge/internal/realtime"
)

type App struct {
	Log      *logger.Logger
	Cfg      Config
	Clients  Clients
	Metrics  *observability.Metrics
	Pipeline *Pipeline
	SSEHub   *realtime.SSEHub
	Server   *lessonhttp.Server

	otelShutdown func(context.Context) error
	cancel       context.CancelFunc
}

// New wires the whole service from the environment.
func New(ctx context.Context) (*App, error) {
	log, err := logger.New(envutil.String("LOG_MODE", "development"))
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)

	shutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
		Version:     cfg.Version,
	})

	var metrics *observability.Metrics
	if cfg.MetricsEnabled {
		metrics = observability.NewMetrics(prometheus.NewRegistry()).WithRuntimeCollectors()
	}

	clients, err := wireClients(log, cfg)
	if err != nil {
		log.Sync()
		return nil, err
	}

	pipeline, err := wirePipeline(log, cfg, PipelineDeps{
		DB:      clients.DB,
		Redis:   clients.Redis,
		Neo4j:   clients.Neo4j,
		Tiers:   tiers(cfg, clients.OpenAI),
		Bus:     clients.Bus,
		Metrics: metrics,
	})
	if err != nil {
		clients.Close()
		log.Sync()
		return nil, err
	}

	hub := realtime.NewSSEHub(log)
	server := lessonhttp.NewServer(lessonhttp.RouterConfig{
		Log:             log,
		Metrics:         metrics,
		ServiceName:     cfg.ServiceName,
		LessonHandler:   httpH.NewLessonHandler(log, pipeline.Compiler, pipeline.Store),
		RealtimeHandler: httpH.NewRealtimeHandler(log, hub),
		HealthHandler:   httpH.NewHealthHandler(),
	})

	return &App{
		Log:          log,
		Cfg:          cfg,
		Clients:      clients,
		Metrics:      metrics,
		Pipeline:     pipeline,
		SSEHub:       hub,
		Server:       server,
		otelShutdown: shutdown,
	}, nil
}

// Start forwards bus messages to this instance's SSE subscribers.
func (a *App) Start() error {
	if a == nil || a.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	if a.Clients.Bus != nil {
		if err := a.Clients.Bus.StartForwarder(ctx, a.SSEHub.Broadcast); err != nil {
			return fmt.Errorf("start progress forwarder: %w", err)
		}
	}
	return nil
}

func (a *App) Run() error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	a.Log.Info("HTTP server listening", "addr", a.Cfg.HTTPAddr)
	return a.Server.Run(a.Cfg.HTTPAddr)
}

// Shutdown stops accepting requests, then waits for background stages before closing clients.
func (a *App) Shutdown(ctx context.Context) error {
	if a == nil {
		return nil
	}
	var errs []error
	if a.Server != nil {
		errs = append(errs, a.Server.Shutdown(ctx))
	}
	if a.Pipeline != nil {
		if n := a.Pipeline.Compiler.Pending(); n > 0 {
			a.Log.Info("waiting for background stages", "pending", n)
		}
		errs = append(errs, a.Pipeline.Compiler.Wait(ctx))
	}
	a.Close()
	if a.otelShutdown != nil {
		errs = append(errs, a.otelShutdown(ctx))
	}
	return errors.Join(errs...)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.Clients.Close()
	a.Clients = Clients{}
	if a.Log != nil {
		a.Log.Sync()
	}
}
