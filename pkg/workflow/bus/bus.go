// Package bus routes typed requests between the three workflow agents.
// Agents never call each other directly: conversation -> conversion ->
// evaluation -> conversation are all Bus.Send calls, so implementations
// can be swapped and every hop is traced uniformly.
package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/internal/logger"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/internal/telemetry"
)

// Agent identifies a registered agent.
type Agent string

const (
	AgentConversation Agent = "conversation"
	AgentConversion   Agent = "conversion"
	AgentEvaluation   Agent = "evaluation"
)

// Action is an operation exposed by an agent.
type Action string

// Request is one bus message. Payload is the action's typed payload
// struct; handlers assert the concrete type.
type Request struct {
	Target  Agent
	Action  Action
	Payload any
}

// Handler processes one action. It receives the request payload and
// returns the typed response payload.
type Handler func(ctx context.Context, payload any) (any, error)

// ErrNoHandler is returned for an unregistered (agent, action) pair.
type ErrNoHandler struct {
	Target Agent
	Action Action
}

func (e *ErrNoHandler) Error() string {
	return fmt.Sprintf("no handler registered for %s.%s", e.Target, e.Action)
}

type handlerKey struct {
	agent  Agent
	action Action
}

// Bus is the handler registry. Registration happens once at application
// construction; Send is safe for concurrent use.
type Bus struct {
	mu       sync.RWMutex
	handlers map[handlerKey]Handler
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{handlers: make(map[handlerKey]Handler)}
}

// Register binds a handler to (agent, action). Registering the same pair
// twice panics: it is a programming error caught at startup.
func (b *Bus) Register(agent Agent, action Action, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := handlerKey{agent: agent, action: action}
	if _, dup := b.handlers[key]; dup {
		panic(fmt.Sprintf("bus: duplicate handler for %s.%s", agent, action))
	}
	b.handlers[key] = handler
}

// Send dispatches the request to its handler and returns the typed
// response. The context carries the deadline and cancellation; a span
// wraps the dispatch so agent hops appear in traces.
func (b *Bus) Send(ctx context.Context, req Request) (any, error) {
	b.mu.RLock()
	handler, ok := b.handlers[handlerKey{agent: req.Target, action: req.Action}]
	b.mu.RUnlock()
	if !ok {
		return nil, &ErrNoHandler{Target: req.Target, Action: req.Action}
	}

	if lc := logger.FromContext(ctx); lc != nil {
		lc = lc.Clone()
		lc.Agent = string(req.Target)
		lc.Action = string(req.Action)
		ctx = logger.WithContext(ctx, lc)
	}

	ctx, span := telemetry.StartAgentSpan(ctx, string(req.Target), string(req.Action))
	defer span.End()

	start := time.Now()
	resp, err := handler(ctx, req.Payload)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		logger.DebugCtx(ctx, "bus dispatch failed",
			logger.KeyDurationMS, time.Since(start).Milliseconds(),
			logger.KeyError, err.Error(),
		)
		return nil, err
	}
	logger.DebugCtx(ctx, "bus dispatch complete",
		logger.KeyDurationMS, time.Since(start).Milliseconds(),
	)
	return resp, nil
}
