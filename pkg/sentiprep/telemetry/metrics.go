// Package telemetry exports Prometheus metrics for the preparation pipeline.
// A nil *Metrics is valid and records nothing.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sentiprep"

// Metrics holds all pipeline Prometheus metrics
type Metrics struct {
	// Cache metrics
	CacheHits      *prometheus.CounterVec
	CacheMisses    *prometheus.CounterVec
	CacheEvictions *prometheus.CounterVec

	// External capability calls
	Calls        *prometheus.CounterVec
	CallDuration *prometheus.HistogramVec
	InFlight     *prometheus.GaugeVec

	// Recovered per-unit failures
	UnitErrors *prometheus.CounterVec

	// Job-level
	JobsTotal   *prometheus.CounterVec
	JobDuration prometheus.Histogram
}

// NewMetrics registers the metrics with reg. Pass prometheus.NewRegistry()
// in tests to avoid duplicate registration on the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CacheHits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Fingerprint cache hits by operation",
		}, []string{"op"}),
		CacheMisses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Fingerprint cache misses by operation",
		}, []string{"op"}),
		CacheEvictions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "LRU evictions by operation",
		}, []string{"op"}),
		Calls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capability_calls_total",
			Help:      "External capability calls by operation and outcome",
		}, []string{"op", "outcome"}),
		CallDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "capability_call_duration_seconds",
			Help:      "Latency of external capability calls",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"op"}),
		InFlight: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "capability_calls_in_flight",
			Help:      "External capability calls currently running",
		}, []string{"op"}),
		UnitErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unit_errors_total",
			Help:      "Recovered per-unit errors by kind",
		}, []string{"kind"}),
		JobsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Pipeline invocations by outcome",
		}, []string{"outcome"}),
		JobDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "End-to-end pipeline duration",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		}),
	}
}

func (m *Metrics) CacheHit(op string) {
	if m != nil {
		m.CacheHits.WithLabelValues(op).Inc()
	}
}

// AddCacheHits adds n hits at once.
func (m *Metrics) AddCacheHits(op string, n int) {
	if m != nil && n > 0 {
		m.CacheHits.WithLabelValues(op).Add(float64(n))
	}
}

func (m *Metrics) CacheMiss(op string) {
	if m != nil {
		m.CacheMisses.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) CacheEvict(op string) {
	if m != nil {
		m.CacheEvictions.WithLabelValues(op).Inc()
	}
}

// StartCall marks a capability call in flight and returns a func that records
// its outcome and duration.
func (m *Metrics) StartCall(op string) func(outcome string) {
	if m == nil {
		return func(string) {}
	}
	start := time.Now()
	g := m.InFlight.WithLabelValues(op)
	g.Inc()
	return func(outcome string) {
		g.Dec()
		m.Calls.WithLabelValues(op, outcome).Inc()
		m.CallDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) UnitError(kind string) {
	if m != nil {
		m.UnitErrors.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) JobDone(outcome string, d time.Duration) {
	if m != nil {
		m.JobsTotal.WithLabelValues(outcome).Inc()
		m.JobDuration.Observe(d.Seconds())
	}
}
