package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	JobsTotal        *prometheus.CounterVec
	ActiveJobs       prometheus.Gauge
	SynthesisLatency *prometheus.HistogramVec
	SynthesisRetries prometheus.Counter
	CacheLookups     *prometheus.CounterVec
	ProviderErrors   *prometheus.CounterVec
	WSMessages       *prometheus.CounterVec

	stages *stageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		JobsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Synthesis jobs by outcome.",
		}, []string{"outcome"}),
		ActiveJobs: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_jobs",
			Help:      "Number of jobs currently rendering.",
		}),
		SynthesisLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "synthesis_latency_ms",
			Help:      "Per-sentence synthesis latency in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000},
		}, []string{"backend"}),
		SynthesisRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesis_retries_total",
			Help:      "Synthesis attempts that were retried.",
		}),
		CacheLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Sentence cache lookups by result.",
		}, []string{"result"}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Backend errors by backend name.",
		}, []string{"backend"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "Progress websocket messages by type.",
		}, []string{"type"}),
		stages: newStageWindow(256),
	}
}

// ObserveSynthesis records one completed synthesis call. Nil-safe so the
// CLI can run without a metrics registry.
func (m *Metrics) ObserveSynthesis(backend string, d time.Duration) {
	if m == nil {
		return
	}
	m.SynthesisLatency.WithLabelValues(backend).Observe(float64(d.Milliseconds()))
	m.stages.Observe("synthesize", float64(d.Milliseconds()))
}

// ObserveStage records a pipeline stage duration in the rolling window.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stages.Observe(stage, float64(d.Milliseconds()))
}

// StageSnapshot reports rolling-window latency stats for the perf
// endpoint.
func (m *Metrics) StageSnapshot() StageSnapshot {
	if m == nil {
		return StageSnapshot{}
	}
	return m.stages.Snapshot()
}

// ResetStages clears the rolling window, e.g. before a perf run.
func (m *Metrics) ResetStages() {
	if m == nil {
		return
	}
	m.stages.Reset()
}

func (m *Metrics) CountCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheLookups.WithLabelValues("hit").Inc()
		m.stages.ObserveIndicator("cache_hit")
	} else {
		m.CacheLookups.WithLabelValues("miss").Inc()
		m.stages.ObserveIndicator("cache_miss")
	}
}

func (m *Metrics) CountRetry() {
	if m == nil {
		return
	}
	m.SynthesisRetries.Inc()
	m.stages.ObserveIndicator("retry")
}

func (m *Metrics) CountProviderError(backend string) {
	if m == nil {
		return
	}
	m.ProviderErrors.WithLabelValues(backend).Inc()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
