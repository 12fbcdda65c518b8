// Package session owns the single active workflow session: the data
// model, the workflow enumerations, and the Store that serialises every
// mutation. All other packages read snapshots and mutate exclusively
// through the Store's transition methods.
package session

import (
	"time"

	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/nwb"
)

// Status is the workflow status of the session.
type Status string

const (
	StatusIdle                        Status = "IDLE"
	StatusUploading                   Status = "UPLOADING"
	StatusUploaded                    Status = "UPLOADED"
	StatusDetectingFormat             Status = "DETECTING_FORMAT"
	StatusAwaitingUserInput           Status = "AWAITING_USER_INPUT"
	StatusConverting                  Status = "CONVERTING"
	StatusValidating                  Status = "VALIDATING"
	StatusAwaitingRetryApproval       Status = "AWAITING_RETRY_APPROVAL"
	StatusAwaitingImprovementDecision Status = "AWAITING_IMPROVEMENT_DECISION"
	StatusCompleted                   Status = "COMPLETED"
	StatusFailed                      Status = "FAILED"

	// StatusAny is the wildcard precondition for Store.Transition.
	StatusAny Status = "*"
)

// IsTerminal reports whether the status is a terminal workflow state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// InFlight reports whether the orchestrator is actively working, i.e. the
// statuses during which uploads and resets are rejected.
func (s Status) InFlight() bool {
	switch s {
	case StatusUploading, StatusDetectingFormat, StatusConverting, StatusValidating:
		return true
	}
	return false
}

// Phase is the conversation phase within AWAITING_USER_INPUT and around
// validation analysis.
type Phase string

const (
	PhaseIdle                Phase = "IDLE"
	PhaseMetadataCollection  Phase = "METADATA_COLLECTION"
	PhaseValidationAnalysis  Phase = "VALIDATION_ANALYSIS"
	PhaseImprovementDecision Phase = "IMPROVEMENT_DECISION"
)

// MetadataPolicy tracks how metadata collection has been handled.
type MetadataPolicy string

const (
	MetadataNotAsked          MetadataPolicy = "NOT_ASKED"
	MetadataAskedOnce         MetadataPolicy = "ASKED_ONCE"
	MetadataUserProvided      MetadataPolicy = "USER_PROVIDED"
	MetadataUserDeclined      MetadataPolicy = "USER_DECLINED"
	MetadataProceedingMinimal MetadataPolicy = "PROCEEDING_MINIMAL"
)

// TerminalStatus is the user-decision outcome recorded in the Finalized
// event. It is distinct from the live validation outcome.
type TerminalStatus string

const (
	TerminalPassed             TerminalStatus = "PASSED"
	TerminalPassedImproved     TerminalStatus = "PASSED_IMPROVED"
	TerminalPassedAccepted     TerminalStatus = "PASSED_ACCEPTED"
	TerminalFailedUserDeclined TerminalStatus = "FAILED_USER_DECLINED"
	TerminalFailedUserAbandon  TerminalStatus = "FAILED_USER_ABANDONED"
)

// Passed reports whether the terminal status counts as a success, which
// decides the final Status (COMPLETED vs FAILED).
func (t TerminalStatus) Passed() bool {
	switch t {
	case TerminalPassed, TerminalPassedImproved, TerminalPassedAccepted:
		return true
	}
	return false
}

// Message is one conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Session is the single process-wide workflow session. Fields are grouped
// the way the store's locks guard them; conversation history lives on the
// Store under its own lock.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Status            Status         `json:"status"`
	ValidationOutcome nwb.Outcome    `json:"validation_outcome,omitempty"`
	Phase             Phase          `json:"conversation_phase"`
	MetadataPolicy    MetadataPolicy `json:"metadata_policy"`
	TerminalStatus    TerminalStatus `json:"terminal_status,omitempty"`

	// Inputs
	InputPath                  string   `json:"input_path,omitempty"`
	UploadedFilenames          []string `json:"uploaded_filenames,omitempty"`
	PendingConversionInputPath string   `json:"pending_conversion_input_path,omitempty"`
	InputChecksum              string   `json:"input_checksum,omitempty"`
	DetectedFormat             string   `json:"detected_format,omitempty"`

	// Metadata layers; effective = auto merged with user, user wins.
	AutoExtractedMetadata map[string]any `json:"auto_extracted_metadata,omitempty"`
	UserProvidedMetadata  map[string]any `json:"user_provided_metadata,omitempty"`

	// Conversion output
	OutputPath        string            `json:"output_path,omitempty"`
	OutputChecksums   map[string]string `json:"output_checksums,omitempty"`
	ReportPaths       []string          `json:"report_paths,omitempty"`
	CorrectionAttempt int               `json:"correction_attempt"`

	// Converter parameter overrides accumulated by the correction loop.
	ConversionOptions map[string]any `json:"conversion_options,omitempty"`

	// Validation result
	ValidationReport *nwb.ValidationReport `json:"validation_report,omitempty"`

	// Retry / no-progress tracking
	PreviousValidationIssues          []string `json:"previous_validation_issues,omitempty"`
	UserProvidedInputThisAttempt      bool     `json:"user_provided_input_this_attempt"`
	AutoCorrectionsAppliedThisAttempt bool     `json:"auto_corrections_applied_this_attempt"`

	// Fields the user refused to provide.
	DeclinedFields []string `json:"declined_fields,omitempty"`
}

// EffectiveMetadata merges auto-extracted and user-provided metadata; a
// key present in both resolves to the user's value. The derivation is
// pure and computed per call, never stored back on the session.
func (s *Session) EffectiveMetadata() map[string]any {
	merged := make(map[string]any, len(s.AutoExtractedMetadata)+len(s.UserProvidedMetadata))
	for k, v := range s.AutoExtractedMetadata {
		merged[k] = v
	}
	for k, v := range s.UserProvidedMetadata {
		merged[k] = v
	}
	return merged
}

// HasDeclined reports whether the user refused to provide the field.
func (s *Session) HasDeclined(field string) bool {
	for _, f := range s.DeclinedFields {
		if f == field {
			return true
		}
	}
	return false
}

// clone returns a deep copy of the session.
func (s *Session) clone() Session {
	cp := *s
	cp.UploadedFilenames = append([]string(nil), s.UploadedFilenames...)
	cp.AutoExtractedMetadata = cloneMap(s.AutoExtractedMetadata)
	cp.UserProvidedMetadata = cloneMap(s.UserProvidedMetadata)
	cp.ConversionOptions = cloneMap(s.ConversionOptions)
	cp.PreviousValidationIssues = append([]string(nil), s.PreviousValidationIssues...)
	cp.DeclinedFields = append([]string(nil), s.DeclinedFields...)
	cp.ReportPaths = append([]string(nil), s.ReportPaths...)
	if s.OutputChecksums != nil {
		cp.OutputChecksums = make(map[string]string, len(s.OutputChecksums))
		for k, v := range s.OutputChecksums {
			cp.OutputChecksums[k] = v
		}
	}
	if s.ValidationReport != nil {
		report := *s.ValidationReport
		report.Issues = append([]nwb.Issue(nil), s.ValidationReport.Issues...)
		report.Enriched = append([]nwb.EnrichedIssue(nil), s.ValidationReport.Enriched...)
		if s.ValidationReport.Counts != nil {
			report.Counts = make(map[nwb.Severity]int, len(s.ValidationReport.Counts))
			for k, v := range s.ValidationReport.Counts {
				report.Counts[k] = v
			}
		}
		cp.ValidationReport = &report
	}
	return cp
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
