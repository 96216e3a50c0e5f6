package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.CacheHit("infer")
	m.CacheMiss("infer")
	m.CacheEvict("infer")
	m.UnitError("timeout")
	m.StartCall("infer")("success")
	m.JobDone("success", time.Second)
}

func TestCountersRecord(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.CacheHit("infer")
	m.CacheHit("infer")
	m.CacheMiss("translate")
	done := m.StartCall("infer")
	if got := testutil.ToFloat64(m.InFlight.WithLabelValues("infer")); got != 1 {
		t.Fatalf("in flight = %v", got)
	}
	done("error")

	if got := testutil.ToFloat64(m.CacheHits.WithLabelValues("infer")); got != 2 {
		t.Errorf("hits = %v", got)
	}
	if got := testutil.ToFloat64(m.CacheMisses.WithLabelValues("translate")); got != 1 {
		t.Errorf("misses = %v", got)
	}
	if got := testutil.ToFloat64(m.Calls.WithLabelValues("infer", "error")); got != 1 {
		t.Errorf("calls = %v", got)
	}
	if got := testutil.ToFloat64(m.InFlight.WithLabelValues("infer")); got != 0 {
		t.Errorf("in flight after done = %v", got)
	}
}
