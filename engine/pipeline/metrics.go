package pipeline

import (
	"errors"
	"time"

	"github.com/WessleyAI/storyboard/engine/domain"
	"github.com/WessleyAI/storyboard/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the pipeline's Prometheus series. A nil *Metrics records nothing.
type Metrics struct {
	runs     *prometheus.CounterVec
	stages   *prometheus.HistogramVec
	run      prometheus.Histogram
	attempts *prometheus.CounterVec
}

// NewMetrics registers the pipeline series on reg.
func NewMetrics(reg *metrics.Registry) *Metrics {
	return &Metrics{
		runs:     reg.CounterVec("storyboard_pipeline_runs_total", "Pipeline runs by outcome", "outcome"),
		stages:   reg.HistogramVec("storyboard_pipeline_stage_duration_seconds", "Duration of each pipeline stage", nil, "stage"),
		run:      reg.Histogram("storyboard_pipeline_run_duration_seconds", "Duration of a full pipeline run", nil),
		attempts: reg.CounterVec("storyboard_generation_attempts_total", "Generation attempts by outcome", "outcome"),
	}
}

func (m *Metrics) observeStage(name string, start time.Time) {
	if m == nil {
		return
	}
	metrics.Since(m.stages.WithLabelValues(name), start)
}

func (m *Metrics) observeRun(err error, start time.Time) {
	if m == nil {
		return
	}
	metrics.Since(m.run, start)
	m.runs.WithLabelValues(outcome(err)).Inc()
}

// ObserveAttempt records one generation attempt. It fits
// generation.Options.OnAttempt.
func (m *Metrics) ObserveAttempt(_ int, err error) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(outcome(err)).Inc()
}

func outcome(err error) string {
	var pe *domain.ParseError
	var te *domain.TransportError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrEmptySelection):
		return "empty_selection"
	case errors.Is(err, domain.ErrGenerationFailed):
		return "generation_failed"
	case errors.As(err, &te):
		return "transport_error"
	case errors.As(err, &pe):
		return "parse_error"
	case errors.Is(err, domain.ErrNoUsableContent):
		return "no_usable_content"
	default:
		return "error"
	}
}
