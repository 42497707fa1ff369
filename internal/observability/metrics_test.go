package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveLLMCall("fast", "ok", time.Second)
	m.ObserveCache("plan", true)
	m.IncTierDegraded()
	assert.NotNil(t, m.Handler())
}

func TestCacheCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.ObserveCache("document", true)
	m.ObserveCache("document", true)
	m.ObserveCache("document", false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("document", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("document", "miss")))
}
