package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/lessonforge/internal/http/handlers"
	httpMW "github.com/yungbote/lessonforge/internal/http/middleware"
	"github.com/yungbote/lessonforge/internal/observability"
	"github.com/yungbote/lessonforge/internal/platform/logger"
)

type RouterConfig struct {
	Log     *logger.Logger
	Metrics *observability.Metrics
	// ServiceName names the otelgin server spans.
	ServiceName string

	LessonHandler   *httpH.LessonHandler
	RealtimeHandler *httpH.RealtimeHandler
	HealthHandler   *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS())

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	api := r.Group("/api")
	{
		// Lessons
		if cfg.LessonHandler != nil {
			api.POST("/lessons/compile", cfg.LessonHandler.Compile)
			api.GET("/lessons/:id", cfg.LessonHandler.GetDocument)
			api.POST("/lessons/:id/stages/:stage/regenerate", cfg.LessonHandler.RegenerateStage)
		}

		// Progress (SSE)
		if cfg.RealtimeHandler != nil {
			api.GET("/lessons/:id/events", cfg.RealtimeHandler.LessonEvents)
		}
	}

	return r
}
