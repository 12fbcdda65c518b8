// Package app assembles the workflow: session store, event bus, message
// bus, capabilities, and the three agents. Everything is carried by an
// Application value; there are no package-level singletons, so tests can
// build as many isolated instances as they need.
package app

import (
	"fmt"

	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/agents/conversation"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/agents/conversion"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/agents/evaluation"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/config"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/events"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/llm"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/llm/anthropic"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/metrics"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/nwb"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/nwb/tools"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/session"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/workflow/bus"
)

// Application holds the wired workflow.
type Application struct {
	Config    *config.Config
	Store     *session.Store
	Events    *events.Bus
	Bus       *bus.Bus
	Model     llm.LanguageModel
	Converter nwb.Converter
	Validator nwb.Validator
	Reporter  nwb.Reporter
}

// Option overrides a capability, primarily for tests and alternative
// deployments.
type Option func(*Application)

// WithModel overrides the language model.
func WithModel(model llm.LanguageModel) Option {
	return func(a *Application) { a.Model = model }
}

// WithConverter overrides the converter capability.
func WithConverter(c nwb.Converter) Option {
	return func(a *Application) { a.Converter = c }
}

// WithValidator overrides the validator capability.
func WithValidator(v nwb.Validator) Option {
	return func(a *Application) { a.Validator = v }
}

// WithReporter overrides the report renderer.
func WithReporter(r nwb.Reporter) Option {
	return func(a *Application) { a.Reporter = r }
}

// New builds the application from configuration and registers the three
// agents on the message bus.
func New(cfg *config.Config, opts ...Option) (*Application, error) {
	eventBus := events.NewBus(cfg.Workflow.EventQueueSize)
	store := session.NewStore(eventBus)

	a := &Application{
		Config:   cfg,
		Store:    store,
		Events:   eventBus,
		Bus:      bus.New(),
		Reporter: nwb.FileReporter{},
	}

	for _, opt := range opts {
		opt(a)
	}

	if a.Model == nil {
		model, err := buildModel(cfg)
		if err != nil {
			return nil, err
		}
		a.Model = model
	}
	if m := metrics.NewWorkflowMetrics(); m != nil {
		a.Model = metrics.InstrumentedModel(a.Model, m)
	}
	if a.Converter == nil {
		converter, err := tools.NewExecConverter(cfg.Tools.ConverterCommand)
		if err != nil {
			return nil, err
		}
		a.Converter = converter
	}
	if a.Validator == nil {
		validator, err := tools.NewExecValidator(cfg.Tools.ValidatorCommand)
		if err != nil {
			return nil, err
		}
		a.Validator = validator
	}

	conversation.New(a.Store, a.Bus, a.Model, cfg.Workflow.PipelineTimeout).Register()
	conversion.New(a.Store, a.Bus, a.Converter, a.Model, cfg.Storage.OutputDir).Register()
	evaluation.New(a.Store, a.Bus, a.Validator, a.Model, a.Reporter).Register()

	return a, nil
}

// buildModel constructs the configured language model provider, wrapped
// in the circuit breaker when enabled.
func buildModel(cfg *config.Config) (llm.LanguageModel, error) {
	if cfg.LLM.Provider != "anthropic" {
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.LLM.Provider)
	}

	apiKey, err := cfg.LLM.APIKey()
	if err != nil {
		return nil, fmt.Errorf("llm provider: %w", err)
	}

	provider, err := anthropic.New(anthropic.Config{
		APIKey: apiKey,
		Model:  cfg.LLM.Model,
	})
	if err != nil {
		return nil, err
	}

	if !cfg.LLM.Breaker.Enabled {
		return provider, nil
	}
	return llm.NewBreakerWith(provider, cfg.LLM.Breaker.Failures, cfg.LLM.Breaker.Cooldown), nil
}
