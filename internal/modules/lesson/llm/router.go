package llm

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"github.com/yungbote/lessonforge/internal/observability"
	"github.com/yungbote/lessonforge/internal/platform/logger"
)

const (
	TierMain     = "main"
	TierFast     = "fast"
	TierFallback = "fallback"
)

// Tiers are the process-wide backends. A Router is built from them per run.
type Tiers struct {
	Main     Backend
	Fast     Backend
	Fallback Backend
}

// Router routes one run's calls. Once the fast tier fails, every later fast call
// in the same run goes to the fallback tier.
type Router struct {
	log      *logger.Logger
	metrics  *observability.Metrics
	tiers    Tiers
	breaker  *gobreaker.CircuitBreaker
	degraded atomic.Bool
}

func (t Tiers) NewRun(log *logger.Logger, metrics *observability.Metrics, runID string) *Router {
	if t.Fallback == nil {
		t.Fallback = t.Main
	}
	r := &Router{log: log.With("service", "LLMRouter", "run_id", runID), metrics: metrics, tiers: t}
	r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "fast-tier:" + runID,
		// Never half-open inside a run.
		Timeout: 365 * 24 * time.Hour,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 1
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen && r.degraded.CompareAndSwap(false, true) {
				r.metrics.IncTierDegraded()
				r.log.Warn("fast tier degraded; using fallback for the rest of the run", "breaker", name)
			}
		},
	})
	return r
}

// Degraded reports whether the sticky fallback engaged.
func (r *Router) Degraded() bool { return r.degraded.Load() }

func (r *Router) Backend(tier string) Backend {
	switch tier {
	case TierMain:
		return Func(func(ctx context.Context, system, user string) (string, error) {
			return r.call(ctx, TierMain, r.tiers.Main, system, user)
		})
	default:
		return Func(r.generateFast)
	}
}

func (r *Router) generateFast(ctx context.Context, system, user string) (string, error) {
	out, err := r.breaker.Execute(func() (interface{}, error) {
		return r.call(ctx, TierFast, r.tiers.Fast, system, user)
	})
	if err == nil {
		return out.(string), nil
	}
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return "", err
	}
	return r.call(ctx, TierFallback, r.tiers.Fallback, system, user)
}

func (r *Router) call(ctx context.Context, tier string, b Backend, system, user string) (string, error) {
	if b == nil {
		return "", fmt.Errorf("llm: %s tier not configured", tier)
	}
	start := time.Now()
	out, err := b.Generate(ctx, system, user)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		r.log.Warn("llm call finished", "tier", tier, "elapsed_ms", time.Since(start).Milliseconds(), "error", err.Error())
	} else {
		r.log.Debug("llm call finished", "tier", tier, "elapsed_ms", time.Since(start).Milliseconds())
	}
	r.metrics.ObserveLLMCall(tier, outcome, time.Since(start))
	return out, err
}
