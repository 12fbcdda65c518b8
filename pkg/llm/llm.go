// Package llm defines the language-model capability the workflow
// consumes: free-text generation plus structured output decoded into Go
// values via a JSON schema derived from the target type.
package llm

import (
	"context"
	"time"
)

// DefaultTimeout is the deadline applied to model calls when the caller
// supplies none.
const DefaultTimeout = 180 * time.Second

// Message is one prior conversation turn handed to the model.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// Request is a single model invocation.
type Request struct {
	System    string    // system prompt; empty for none
	Prompt    string    // the user turn
	History   []Message // bounded history snapshot, oldest first
	MaxTokens int       // 0 means the provider default
}

// LanguageModel is the external model capability.
//
// GenerateStructured derives a JSON schema from out (a pointer to a
// struct), forces the model to emit a conforming object, and decodes the
// result into out. Implementations must honour the context deadline.
type LanguageModel interface {
	Generate(ctx context.Context, req Request) (string, error)
	GenerateStructured(ctx context.Context, req Request, out any) error
}
