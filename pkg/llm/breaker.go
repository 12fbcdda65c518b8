package llm

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/internal/logger"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/workflow/werr"
)

// Breaker wraps a LanguageModel with a circuit breaker so a failing
// provider degrades to fast, typed errors instead of piling up blocked
// chat pipelines behind the single-flight guard.
type Breaker struct {
	model   LanguageModel
	breaker *gobreaker.CircuitBreaker
}

// NewBreaker wraps the model. The circuit opens after five consecutive
// failures and probes again after 30 seconds.
func NewBreaker(model LanguageModel) *Breaker {
	return NewBreakerWith(model, 5, 30*time.Second)
}

// NewBreakerWith wraps the model with an explicit failure threshold and
// open-state cooldown.
func NewBreakerWith(model LanguageModel, failures uint32, cooldown time.Duration) *Breaker {
	if failures == 0 {
		failures = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	settings := gobreaker.Settings{
		Name:    "language-model",
		Timeout: cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("language model circuit state change",
				logger.KeyCapability, "llm",
				"from", from.String(),
				"to", to.String(),
			)
		},
	}
	return &Breaker{model: model, breaker: gobreaker.NewCircuitBreaker(settings)}
}

// Generate implements LanguageModel.
func (b *Breaker) Generate(ctx context.Context, req Request) (string, error) {
	result, err := b.breaker.Execute(func() (any, error) {
		return b.model.Generate(ctx, req)
	})
	if err != nil {
		return "", classify(err)
	}
	return result.(string), nil
}

// GenerateStructured implements LanguageModel.
func (b *Breaker) GenerateStructured(ctx context.Context, req Request, out any) error {
	_, err := b.breaker.Execute(func() (any, error) {
		return nil, b.model.GenerateStructured(ctx, req, out)
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

// classify maps provider and breaker errors onto the workflow taxonomy.
func classify(err error) error {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return werr.Wrap(werr.KindDependencyFailed, "language model circuit open", err)
	case errors.Is(err, context.DeadlineExceeded):
		return werr.Wrap(werr.KindTimeout, "language model call timed out", err)
	default:
		return werr.Wrap(werr.KindDependencyFailed, "language model call failed", err)
	}
}
