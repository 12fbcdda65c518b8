// Package anthropic implements the LanguageModel capability on the
// Anthropic Messages API. Structured output is obtained by forcing a
// single tool call whose input schema is derived from the target type.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/internal/logger"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/llm"
)

// emitToolName is the forced tool used for structured output.
const emitToolName = "emit_result"

// DefaultMaxTokens bounds model responses when the request leaves
// MaxTokens unset.
const DefaultMaxTokens = 4096

// Config holds provider configuration.
type Config struct {
	APIKey string
	Model  string // e.g. "claude-sonnet-4-5"
}

// Provider is the Anthropic-backed LanguageModel.
type Provider struct {
	client sdk.Client
	model  sdk.Model
}

// New creates a Provider. The API key is required.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("anthropic: model is required")
	}
	return &Provider{
		client: sdk.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:  sdk.Model(cfg.Model),
	}, nil
}

// Generate implements llm.LanguageModel.
func (p *Provider) Generate(ctx context.Context, req llm.Request) (string, error) {
	ctx, cancel := withDefaultDeadline(ctx)
	defer cancel()

	message, err := p.client.Messages.New(ctx, p.params(req))
	if err != nil {
		return "", fmt.Errorf("anthropic generate: %w", err)
	}

	for _, block := range message.Content {
		if text, ok := block.AsAny().(sdk.TextBlock); ok {
			return text.Text, nil
		}
	}
	return "", errors.New("anthropic generate: response carried no text block")
}

// GenerateStructured implements llm.LanguageModel.
func (p *Provider) GenerateStructured(ctx context.Context, req llm.Request, out any) error {
	ctx, cancel := withDefaultDeadline(ctx)
	defer cancel()

	schema := llm.SchemaFor(out)
	params := p.params(req)
	params.Tools = []sdk.ToolUnionParam{{
		OfTool: &sdk.ToolParam{
			Name:        emitToolName,
			Description: sdk.String("Emit the structured result."),
			InputSchema: sdk.ToolInputSchemaParam{
				Properties: schema.Properties,
				Required:   schema.Required,
			},
		},
	}}
	params.ToolChoice = sdk.ToolChoiceUnionParam{
		OfTool: &sdk.ToolChoiceToolParam{Name: emitToolName},
	}

	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return fmt.Errorf("anthropic structured: %w", err)
	}

	for _, block := range message.Content {
		use, ok := block.AsAny().(sdk.ToolUseBlock)
		if !ok || use.Name != emitToolName {
			continue
		}
		if err := json.Unmarshal([]byte(use.JSON.Input.Raw()), out); err != nil {
			return fmt.Errorf("anthropic structured: decode tool input: %w", err)
		}
		return nil
	}

	logger.Warn("anthropic structured response carried no tool call",
		logger.KeyModel, string(p.model),
	)
	return errors.New("anthropic structured: response carried no tool call")
}

// params builds the shared request parameters.
func (p *Provider) params(req llm.Request) sdk.MessageNewParams {
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	messages := make([]sdk.MessageParam, 0, len(req.History)+1)
	for _, turn := range req.History {
		if turn.Role == "assistant" {
			messages = append(messages, sdk.NewAssistantMessage(sdk.NewTextBlock(turn.Content)))
		} else {
			messages = append(messages, sdk.NewUserMessage(sdk.NewTextBlock(turn.Content)))
		}
	}
	messages = append(messages, sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt)))

	params := sdk.MessageNewParams{
		Model:     p.model,
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	return params
}

// withDefaultDeadline applies llm.DefaultTimeout when the caller set none.
func withDefaultDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, has := ctx.Deadline(); has {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, llm.DefaultTimeout)
}
