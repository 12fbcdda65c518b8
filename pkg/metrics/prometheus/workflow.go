// Package prometheus implements the workflow metrics on the Prometheus
// client library. Importing it installs the constructor into
// pkg/metrics; the blank import in cmd/nwbd is what wires it up.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/metrics"
)

func init() {
	metrics.RegisterWorkflowMetricsConstructor(NewWorkflowMetrics)
}

// workflowMetrics is the Prometheus implementation of
// metrics.WorkflowMetrics.
type workflowMetrics struct {
	transitions   *prometheus.CounterVec
	validations   *prometheus.CounterVec
	finalized     *prometheus.CounterVec
	eventsDropped prometheus.Counter
	llmCalls      *prometheus.CounterVec
	llmDuration   prometheus.Histogram
}

// NewWorkflowMetrics creates a new Prometheus-backed WorkflowMetrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewWorkflowMetrics() metrics.WorkflowMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &workflowMetrics{
		transitions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "nwbd_session_transitions_total",
				Help: "Total session status transitions by target status",
			},
			[]string{"status"},
		),
		validations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "nwbd_validation_outcomes_total",
				Help: "Total validation passes by outcome",
			},
			[]string{"outcome"},
		),
		finalized: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "nwbd_workflow_finalized_total",
				Help: "Total finalised workflows by terminal status",
			},
			[]string{"terminal_status"},
		),
		eventsDropped: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "nwbd_events_dropped_total",
				Help: "Total events dropped from slow event stream subscribers",
			},
		),
		llmCalls: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "nwbd_llm_calls_total",
				Help: "Total language model calls by status",
			},
			[]string{"status"}, // "ok", "error"
		),
		llmDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "nwbd_llm_call_duration_seconds",
				Help: "Duration of language model calls in seconds",
				Buckets: []float64{
					0.5,
					1,
					2,
					5,
					10,
					30,
					60,
					120,
					180, // the default call deadline
				},
			},
		),
	}
}

func (m *workflowMetrics) ObserveTransition(status string) {
	m.transitions.WithLabelValues(status).Inc()
}

func (m *workflowMetrics) ObserveValidation(outcome string) {
	m.validations.WithLabelValues(outcome).Inc()
}

func (m *workflowMetrics) ObserveFinalized(terminalStatus string) {
	m.finalized.WithLabelValues(terminalStatus).Inc()
}

func (m *workflowMetrics) ObserveEventsDropped(n uint64) {
	m.eventsDropped.Add(float64(n))
}

func (m *workflowMetrics) ObserveLLMCall(duration time.Duration, failed bool) {
	status := "ok"
	if failed {
		status = "error"
	}
	m.llmCalls.WithLabelValues(status).Inc()
	m.llmDuration.Observe(duration.Seconds())
}
