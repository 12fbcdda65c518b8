// Package metrics provides the Prometheus instrumentation surface for
// the conversion workflow.
//
// The registry is gated: until InitRegistry is called, all constructors
// return nil and the nil-safe helpers are no-ops, so a deployment with
// metrics disabled pays zero overhead.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	registryMu sync.Mutex
	registry   *prometheus.Registry
)

// InitRegistry creates the process registry with the standard Go and
// process collectors. Safe to call more than once.
func InitRegistry() {
	registryMu.Lock()
	defer registryMu.Unlock()
	if registry != nil {
		return
	}
	registry = prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	registryMu.Lock()
	defer registryMu.Unlock()
	return registry != nil
}

// GetRegistry returns the process registry, or nil when metrics are
// disabled.
func GetRegistry() *prometheus.Registry {
	registryMu.Lock()
	defer registryMu.Unlock()
	return registry
}

// WorkflowMetrics records workflow-level observations. A nil value is
// valid and means metrics are disabled; use the package helpers to stay
// nil-safe at call sites.
type WorkflowMetrics interface {
	ObserveTransition(status string)
	ObserveValidation(outcome string)
	ObserveFinalized(terminalStatus string)
	ObserveEventsDropped(n uint64)
	ObserveLLMCall(duration time.Duration, failed bool)
}

// newPrometheusWorkflowMetrics is installed by pkg/metrics/prometheus
// during package initialization. The indirection avoids an import cycle
// while keeping this package's API free of prometheus types.
var newPrometheusWorkflowMetrics func() WorkflowMetrics

// RegisterWorkflowMetricsConstructor registers the Prometheus workflow
// metrics constructor. Called by pkg/metrics/prometheus.
func RegisterWorkflowMetricsConstructor(constructor func() WorkflowMetrics) {
	newPrometheusWorkflowMetrics = constructor
}

// NewWorkflowMetrics creates a Prometheus-backed WorkflowMetrics.
// Returns nil if metrics are not enabled (InitRegistry not called) or
// the prometheus subpackage was not imported.
func NewWorkflowMetrics() WorkflowMetrics {
	if !IsEnabled() || newPrometheusWorkflowMetrics == nil {
		return nil
	}
	return newPrometheusWorkflowMetrics()
}

// ObserveTransition records a session status transition.
func ObserveTransition(m WorkflowMetrics, status string) {
	if m != nil {
		m.ObserveTransition(status)
	}
}

// ObserveValidation records one validation outcome.
func ObserveValidation(m WorkflowMetrics, outcome string) {
	if m != nil {
		m.ObserveValidation(outcome)
	}
}

// ObserveFinalized records a workflow finalisation.
func ObserveFinalized(m WorkflowMetrics, terminalStatus string) {
	if m != nil {
		m.ObserveFinalized(terminalStatus)
	}
}

// ObserveEventsDropped records events dropped from a slow subscriber.
func ObserveEventsDropped(m WorkflowMetrics, n uint64) {
	if m != nil {
		m.ObserveEventsDropped(n)
	}
}

// ObserveLLMCall records one language model call.
func ObserveLLMCall(m WorkflowMetrics, duration time.Duration, failed bool) {
	if m != nil {
		m.ObserveLLMCall(duration, failed)
	}
}
