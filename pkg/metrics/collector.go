package metrics

import (
	"context"
	"time"

	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/events"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/llm"
)

// Collector drives WorkflowMetrics from the event bus, so the workflow
// itself needs no metrics plumbing: transitions, validation outcomes,
// and finalisations are all observable as events, and drop counts come
// from the bus's drop hook.
type Collector struct {
	metrics WorkflowMetrics
	cancel  func()
	done    chan struct{}
}

// NewCollector subscribes to the event bus and starts recording. It
// returns nil when metrics are disabled.
func NewCollector(bus *events.Bus, m WorkflowMetrics) *Collector {
	if m == nil {
		return nil
	}

	bus.OnDrop(func(n uint64) { m.ObserveEventsDropped(n) })

	ch, cancel := bus.Subscribe(
		events.KindStatusUpdate,
		events.KindValidationReport,
		events.KindFinalized,
	)

	c := &Collector{metrics: m, cancel: cancel, done: make(chan struct{})}
	go c.run(ch)
	return c
}

func (c *Collector) run(ch <-chan events.Event) {
	defer close(c.done)
	for event := range ch {
		switch payload := event.Payload.(type) {
		case events.StatusUpdate:
			c.metrics.ObserveTransition(payload.Status)
		case events.ValidationReportSummary:
			c.metrics.ObserveValidation(payload.Outcome)
		case events.Finalized:
			c.metrics.ObserveFinalized(payload.TerminalStatus)
		}
	}
}

// Close detaches the collector from the bus.
func (c *Collector) Close() {
	if c == nil {
		return
	}
	c.cancel()
	<-c.done
}

// InstrumentedModel wraps a LanguageModel and records call durations and
// failures. A nil WorkflowMetrics returns the model unwrapped.
func InstrumentedModel(model llm.LanguageModel, m WorkflowMetrics) llm.LanguageModel {
	if m == nil {
		return model
	}
	return &instrumentedModel{model: model, metrics: m}
}

type instrumentedModel struct {
	model   llm.LanguageModel
	metrics WorkflowMetrics
}

func (i *instrumentedModel) Generate(ctx context.Context, req llm.Request) (string, error) {
	start := time.Now()
	out, err := i.model.Generate(ctx, req)
	i.metrics.ObserveLLMCall(time.Since(start), err != nil)
	return out, err
}

func (i *instrumentedModel) GenerateStructured(ctx context.Context, req llm.Request, out any) error {
	start := time.Now()
	err := i.model.GenerateStructured(ctx, req, out)
	i.metrics.ObserveLLMCall(time.Since(start), err != nil)
	return err
}
