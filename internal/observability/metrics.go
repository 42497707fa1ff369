package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	llmCalls       *prometheus.CounterVec
	llmLatency     *prometheus.HistogramVec
	repairAttempts *prometheus.CounterVec
	fallbacks      *prometheus.CounterVec
	tierDegraded   prometheus.Counter
	cacheLookups   *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	stageOutcomes  *prometheus.CounterVec
	qualityIssues  *prometheus.CounterVec
	compiles       *prometheus.CounterVec
	apiRequests    *prometheus.CounterVec
	apiLatency     *prometheus.HistogramVec
}

// NewMetrics registers every collector on reg. Pass prometheus.NewRegistry() in tests.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: reg,
		llmCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lesson_llm_calls_total",
			Help: "Generation backend calls by tier and outcome.",
		}, []string{"tier", "outcome"}),
		llmLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lesson_llm_call_seconds",
			Help:    "Generation backend call latency.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		}, []string{"tier"}),
		repairAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lesson_repair_attempts_total",
			Help: "Follow-up repair calls issued after a validation failure.",
		}, []string{"name"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lesson_fallbacks_total",
			Help: "Deterministic fallback payloads used after repair was exhausted.",
		}, []string{"name"}),
		tierDegraded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lesson_fast_tier_degraded_total",
			Help: "Runs whose fast tier switched to the fallback backend.",
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lesson_cache_lookups_total",
			Help: "Cache lookups by cache and result.",
		}, []string{"cache", "result"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lesson_stage_seconds",
			Help:    "Stage wall time.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}, []string{"stage", "status"}),
		stageOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lesson_stage_outcomes_total",
			Help: "Stage terminal states.",
		}, []string{"stage", "status"}),
		qualityIssues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lesson_quality_issues_total",
			Help: "Quality gate issues by category and severity.",
		}, []string{"category", "severity"}),
		compiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lesson_compiles_total",
			Help: "Compile requests by mode and result.",
		}, []string{"mode", "result"}),
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lesson_api_requests_total",
			Help: "HTTP requests.",
		}, []string{"method", "route", "status"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lesson_api_request_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(
		m.llmCalls, m.llmLatency, m.repairAttempts, m.fallbacks, m.tierDegraded,
		m.cacheLookups, m.stageDuration, m.stageOutcomes, m.qualityIssues, m.compiles,
		m.apiRequests, m.apiLatency,
	)
	return m
}

// WithRuntimeCollectors adds go runtime and process collectors.
func (m *Metrics) WithRuntimeCollectors() *Metrics {
	if m == nil {
		return nil
	}
	m.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveLLMCall(tier, outcome string, dur time.Duration) {
	if m == nil {
		return
	}
	m.llmCalls.WithLabelValues(tier, outcome).Inc()
	m.llmLatency.WithLabelValues(tier).Observe(dur.Seconds())
}

func (m *Metrics) AddRepairAttempts(name string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.repairAttempts.WithLabelValues(name).Add(float64(n))
}

func (m *Metrics) IncFallback(name string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(name).Inc()
}

func (m *Metrics) IncTierDegraded() {
	if m == nil {
		return
	}
	m.tierDegraded.Inc()
}

func (m *Metrics) ObserveCache(cache string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(cache, result).Inc()
}

func (m *Metrics) ObserveStage(stage, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage, status).Observe(dur.Seconds())
	m.stageOutcomes.WithLabelValues(stage, status).Inc()
}

func (m *Metrics) IncQualityIssue(category, severity string) {
	if m == nil {
		return
	}
	m.qualityIssues.WithLabelValues(category, severity).Inc()
}

func (m *Metrics) IncCompile(mode, result string) {
	if m == nil {
		return
	}
	m.compiles.WithLabelValues(mode, result).Inc()
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.apiRequests.WithLabelValues(method, route, status).Inc()
	m.apiLatency.WithLabelValues(method, route).Observe(dur.Seconds())
}
