package apiclient

import (
	"context"
)

// UploadResponse is returned by a successful upload.
type UploadResponse struct {
	SessionID string   `json:"session_id"`
	Status    string   `json:"status"`
	Checksum  string   `json:"checksum"`
	Files     []string `json:"files"`
}

// StatusResponse is the session snapshot from GET /api/status.
type StatusResponse struct {
	SessionID         string         `json:"session_id"`
	Status            string         `json:"status"`
	Phase             string         `json:"phase"`
	ValidationOutcome string         `json:"validation_outcome,omitempty"`
	TerminalStatus    string         `json:"terminal_status,omitempty"`
	MetadataPolicy    string         `json:"metadata_policy"`
	CorrectionAttempt int            `json:"correction_attempt"`
	CanRetry          bool           `json:"can_retry"`
	InputPath         string         `json:"input_path,omitempty"`
	InputChecksum     string         `json:"input_checksum,omitempty"`
	DetectedFormat    string         `json:"detected_format,omitempty"`
	OutputPath        string         `json:"output_path,omitempty"`
	EffectiveMetadata map[string]any `json:"effective_metadata,omitempty"`
	MissingFields     []string       `json:"missing_fields,omitempty"`
	ValidationSummary string         `json:"validation_summary,omitempty"`
}

// MetadataField describes one metadata field the daemon is asking for.
type MetadataField struct {
	Name          string `json:"name"`
	DisplayName   string `json:"display_name"`
	Description   string `json:"description"`
	WhyNeeded     string `json:"why_needed"`
	Example       string `json:"example"`
	FieldType     string `json:"field_type"`
	InferredValue any    `json:"inferred_value,omitempty"`
}

// MetadataRequest is the daemon's request for missing metadata.
type MetadataRequest struct {
	Fields           []MetadataField `json:"fields"`
	Suggestions      string          `json:"suggestions,omitempty"`
	DetectedDataType string          `json:"detected_data_type,omitempty"`
}

// StartConversionResponse is returned by POST /api/start-conversion.
type StartConversionResponse struct {
	Status          string           `json:"status"`
	MetadataRequest *MetadataRequest `json:"metadata_request,omitempty"`
}

// ChatResponse is one conversational turn. Status "busy" means another
// turn is still being processed.
type ChatResponse struct {
	Status            string         `json:"status"`
	Message           string         `json:"message"`
	NeedsMoreInfo     bool           `json:"needs_more_info"`
	ReadyToProceed    bool           `json:"ready_to_proceed"`
	ExtractedMetadata map[string]any `json:"extracted_metadata,omitempty"`
}

// UserInputResponse is returned by POST /api/user-input.
type UserInputResponse struct {
	Status string `json:"status"`
}

// RetryDecisionResponse is returned by POST /api/retry-approval.
type RetryDecisionResponse struct {
	Status            string `json:"status"`
	NoProgressWarning bool   `json:"no_progress_warning,omitempty"`
	Message           string `json:"message,omitempty"`
}

// ImprovementDecisionResponse is returned by POST /api/improvement-decision.
type ImprovementDecisionResponse struct {
	Status string `json:"status"`
}

// Issue is one validation finding.
type Issue struct {
	Severity string `json:"severity"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Location string `json:"location"`
}

// EnrichedIssue is an issue with the daemon's triage attached.
type EnrichedIssue struct {
	Issue
	Priority         string `json:"priority"`
	UserFixable      bool   `json:"user_fixable"`
	DandiRequirement string `json:"dandi_requirement,omitempty"`
	Explanation      string `json:"explanation,omitempty"`
	FixAction        string `json:"fix_action,omitempty"`
}

// ValidationReport is the full report from GET /api/validation.
type ValidationReport struct {
	OutputPath string          `json:"output_path"`
	Attempt    int             `json:"attempt"`
	Outcome    string          `json:"outcome"`
	Issues     []Issue         `json:"issues"`
	Enriched   []EnrichedIssue `json:"enriched_issues,omitempty"`
	Counts     map[string]int  `json:"counts_by_severity"`
}

// Status returns the current session snapshot.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.get(ctx, "/api/status", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StartConversion kicks off the workflow on the uploaded recording.
func (c *Client) StartConversion(ctx context.Context) (*StartConversionResponse, error) {
	var resp StartConversionResponse
	if err := c.post(ctx, "/api/start-conversion", struct{}{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Chat sends one conversational message.
func (c *Client) Chat(ctx context.Context, message string) (*ChatResponse, error) {
	body := map[string]string{"message": message}
	var resp ChatResponse
	if err := c.post(ctx, "/api/chat", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UserInput submits structured metadata fields, or cancels the workflow
// when cancel is true.
func (c *Client) UserInput(ctx context.Context, fields map[string]any, cancel bool) (*UserInputResponse, error) {
	body := map[string]any{}
	if len(fields) > 0 {
		body["fields"] = fields
	}
	if cancel {
		body["cancel"] = true
	}
	var resp UserInputResponse
	if err := c.post(ctx, "/api/user-input", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RetryApproval approves or declines a correction retry. retryAnyway
// overrides the no-progress guard.
func (c *Client) RetryApproval(ctx context.Context, approve, retryAnyway bool) (*RetryDecisionResponse, error) {
	body := map[string]bool{"approve": approve}
	if retryAnyway {
		body["retry_anyway"] = true
	}
	var resp RetryDecisionResponse
	if err := c.post(ctx, "/api/retry-approval", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ImprovementDecision resolves a passed-with-issues outcome. Action is
// "accept_as_is" or "improve".
func (c *Client) ImprovementDecision(ctx context.Context, action string) (*ImprovementDecisionResponse, error) {
	body := map[string]string{"action": action}
	var resp ImprovementDecisionResponse
	if err := c.post(ctx, "/api/improvement-decision", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Validation returns the last validation report.
func (c *Client) Validation(ctx context.Context) (*ValidationReport, error) {
	var resp ValidationReport
	if err := c.get(ctx, "/api/validation", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Reset clears the session.
func (c *Client) Reset(ctx context.Context) error {
	return c.post(ctx, "/api/reset", struct{}{}, nil)
}
