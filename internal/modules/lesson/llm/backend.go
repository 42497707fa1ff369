package llm

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/yungbote/lessonforge/internal/platform/openai"
)

// Backend is one generation tier: a model id bound to its timeout.
type Backend interface {
	Generate(ctx context.Context, system, user string) (string, error)
}

// Func adapts a function to Backend; tests script backends with it.
type Func func(ctx context.Context, system, user string) (string, error)

func (f Func) Generate(ctx context.Context, system, user string) (string, error) {
	return f(ctx, system, user)
}

type openAIBackend struct {
	client  openai.Client
	model   string
	timeout time.Duration
}

func NewOpenAI(client openai.Client, model string, timeout time.Duration) Backend {
	return &openAIBackend{client: client, model: model, timeout: timeout}
}

func (b *openAIBackend) Generate(ctx context.Context, system, user string) (string, error) {
	return b.client.GenerateText(ctx, system, user, b.model, b.timeout)
}

type limited struct {
	next    Backend
	limiter *rate.Limiter
}

// Limited throttles next to rps requests per second with the given burst. rps <= 0 disables throttling.
func Limited(next Backend, rps float64, burst int) Backend {
	if rps <= 0 {
		return next
	}
	if burst <= 0 {
		burst = 1
	}
	return &limited{next: next, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (l *limited) Generate(ctx context.Context, system, user string) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return l.next.Generate(ctx, system, user)
}
