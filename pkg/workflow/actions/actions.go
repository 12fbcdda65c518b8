// Package actions declares the bus vocabulary: every (agent, action)
// pair and its typed request/response payloads. Centralising the wire
// types here keeps the agent packages free of cross-imports.
package actions

import (
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/nwb"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/workflow/bus"
)

// Conversation agent actions.
const (
	StartConversion         bus.Action = "start_conversion"
	ChatMessage             bus.Action = "chat_message"
	RetryDecision           bus.Action = "retry_decision"
	ImprovementDecision     bus.Action = "improvement_decision"
	UserInput               bus.Action = "user_input"
	ReceiveValidationResult bus.Action = "receive_validation_result"
)

// Conversion agent actions.
const (
	DetectFormat     bus.Action = "detect_format"
	RunConversion    bus.Action = "run_conversion"
	ApplyCorrections bus.Action = "apply_corrections"
)

// Evaluation agent actions.
const (
	RunValidation bus.Action = "run_validation"
)

// Chat response statuses. Exactly these four; handlers never fall
// through to a default.
const (
	ChatStatusContinues = "conversation_continues"
	ChatStatusReady     = "ready_to_convert"
	ChatStatusBusy      = "busy"
	ChatStatusError     = "error"
)

// StartConversionPayload begins the workflow.
type StartConversionPayload struct{}

// StartConversionResponse reports how the workflow began.
type StartConversionResponse struct {
	Status          string           `json:"status"` // "converting" or "awaiting_user_input"
	MetadataRequest *MetadataRequest `json:"metadata_request,omitempty"`
}

// ChatMessagePayload is one user chat turn.
type ChatMessagePayload struct {
	Message string `json:"message"`
}

// ChatResponse is the typed chat result. Status is one of the four
// ChatStatus constants.
type ChatResponse struct {
	Status            string         `json:"status"`
	Message           string         `json:"message"`
	NeedsMoreInfo     bool           `json:"needs_more_info"`
	ReadyToProceed    bool           `json:"ready_to_proceed"`
	ExtractedMetadata map[string]any `json:"extracted_metadata,omitempty"`
}

// RetryDecisionPayload approves or declines a correction retry.
type RetryDecisionPayload struct {
	Approve     bool `json:"approve"`
	RetryAnyway bool `json:"retry_anyway"`
}

// RetryDecisionResponse reports the retry outcome. When NoProgressWarning
// is set without RetryAnyway, no new attempt was started.
type RetryDecisionResponse struct {
	Status            string `json:"status"`
	NoProgressWarning bool   `json:"no_progress_warning,omitempty"`
	Message           string `json:"message,omitempty"`
}

// Improvement decision actions.
const (
	ImprovementAcceptAsIs = "accept_as_is"
	ImprovementImprove    = "improve"
)

// ImprovementDecisionPayload resolves a PASSED_WITH_ISSUES outcome.
type ImprovementDecisionPayload struct {
	Action string `json:"action"` // accept_as_is | improve
}

// ImprovementDecisionResponse reports the decision result.
type ImprovementDecisionResponse struct {
	Status string `json:"status"`
}

// UserInputPayload submits structured metadata, or cancels the workflow.
type UserInputPayload struct {
	Fields map[string]any `json:"fields,omitempty"`
	Cancel bool           `json:"cancel,omitempty"`
}

// UserInputResponse reports what the submission triggered.
type UserInputResponse struct {
	Status string `json:"status"`
}

// DetectFormatPayload asks the conversion agent to identify the input
// format and, on success, run the conversion.
type DetectFormatPayload struct{}

// ApplyCorrectionsPayload carries the correction-loop changes into the
// next conversion attempt.
type ApplyCorrectionsPayload struct {
	ParameterChanges   map[string]any `json:"parameter_changes,omitempty"`
	AdditionalMetadata map[string]any `json:"additional_metadata,omitempty"`
}

// RunValidationPayload validates one conversion output.
type RunValidationPayload struct {
	OutputPath string `json:"output_path"`
	Attempt    int    `json:"attempt"`
}

// ValidationResultPayload delivers the evaluation result back to the
// conversation agent.
type ValidationResultPayload struct {
	Outcome nwb.Outcome          `json:"outcome"`
	Report  nwb.ValidationReport `json:"report"`
}

// Ack is the minimal response for actions whose result is carried by
// session state and events rather than a payload.
type Ack struct {
	Status string `json:"status"`
}

// MetadataField describes one missing metadata field in a
// metadata-request event.
type MetadataField struct {
	Name          string `json:"name"`
	DisplayName   string `json:"display_name"`
	Description   string `json:"description"`
	WhyNeeded     string `json:"why_needed"`
	Example       string `json:"example"`
	FieldType     string `json:"field_type"`
	InferredValue any    `json:"inferred_value,omitempty"`
}

// MetadataRequest lists the fields the workflow needs from the user.
type MetadataRequest struct {
	Fields           []MetadataField `json:"fields"`
	Suggestions      string          `json:"suggestions,omitempty"`
	DetectedDataType string          `json:"detected_data_type,omitempty"`
}

// UserError is the user-facing rendering of a workflow error, produced
// by the LLM explanation helper (or its deterministic fallback).
type UserError struct {
	Explanation string   `json:"explanation"`
	LikelyCause string   `json:"likely_cause"`
	Actions     []string `json:"actions"`
	Recoverable bool     `json:"recoverable"`
}
