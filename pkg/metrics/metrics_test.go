package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounterGetOrCreate(t *testing.T) {
	r := New()
	c := r.Counter("test_total", "help")
	c.Inc()
	r.Counter("test_total", "help").Add(2)
	if got := testutil.ToFloat64(c); got != 3 {
		t.Fatalf("expected 3, got %v", got)
	}
}

func TestCounterVecLabels(t *testing.T) {
	r := New()
	v := r.CounterVec("runs_total", "runs", "outcome")
	v.WithLabelValues("ok").Inc()
	r.CounterVec("runs_total", "runs", "outcome").WithLabelValues("error").Add(2)
	if got := testutil.ToFloat64(v.WithLabelValues("error")); got != 2 {
		t.Fatalf("expected 2, got %v", got)
	}
}

func TestTypeConflictPanics(t *testing.T) {
	r := New()
	r.Counter("dup", "x")
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on type conflict")
		}
	}()
	r.Gauge("dup", "x")
}

func TestHandlerRendersMetrics(t *testing.T) {
	r := New()
	r.Gauge("queue_depth", "depth").Set(4)
	h := r.Histogram("stage_seconds", "latency", nil)
	Since(h, time.Now().Add(-time.Second))
	r.HistogramVec("step_seconds", "steps", []float64{1, 2}, "step").WithLabelValues("a").Observe(1.5)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	out := string(body)
	for _, want := range []string{
		"queue_depth 4",
		"stage_seconds_count 1",
		`step_seconds_bucket{step="a",le="2"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}
}
