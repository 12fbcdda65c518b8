// Package policy is the sole authority over workflow guards. Every
// function is pure over a session snapshot; agents and handlers call
// these instead of duplicating guard logic.
package policy

import (
	"errors"

	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/session"
)

// DandiRequiredFields are the metadata fields the DANDI archive requires.
// The set is fixed by DANDI rules; the language model never decides it.
var DandiRequiredFields = []string{
	"experimenter",
	"institution",
	"session_description",
	"session_start_time",
	"subject_id",
	"species",
	"sex",
}

// RetrySafetyValve is the soft cap on correction attempts. It is a
// safety valve, not the contract: termination is the user's choice, and
// hitting the valve surfaces ErrRetrySafetyValve, never a silent stop.
const RetrySafetyValve = 5

// ErrRetrySafetyValve is returned when the safety valve trips.
var ErrRetrySafetyValve = errors.New("retry safety valve reached; reset the session to continue")

// MissingDandiFields returns the DANDI-required fields absent from the
// session's effective metadata, in canonical order. Declined fields are
// still reported missing; the caller decides whether to re-ask.
func MissingDandiFields(s *session.Session) []string {
	effective := s.EffectiveMetadata()
	var missing []string
	for _, field := range DandiRequiredFields {
		v, ok := effective[field]
		if !ok || v == nil || v == "" {
			missing = append(missing, field)
		}
	}
	return missing
}

// ShouldRequestMetadata reports whether the workflow should pause to ask
// the user for metadata: only when the user has never been asked and a
// DANDI-required field is actually missing.
func ShouldRequestMetadata(s *session.Session) bool {
	return s.MetadataPolicy == session.MetadataNotAsked && len(MissingDandiFields(s)) > 0
}

// CanAcceptUpload reports whether a new upload may replace the input.
func CanAcceptUpload(s *session.Session) bool {
	return !s.Status.InFlight()
}

// startableStatuses are the statuses from which a conversion may begin.
var startableStatuses = map[session.Status]struct{}{
	session.StatusIdle:              {},
	session.StatusUploaded:          {},
	session.StatusAwaitingUserInput: {},
	session.StatusCompleted:         {},
	session.StatusFailed:            {},
}

// CanStartConversion reports whether start_conversion is valid: an input
// exists and no conversion is already in flight.
func CanStartConversion(s *session.Session) bool {
	if s.InputPath == "" {
		return false
	}
	_, ok := startableStatuses[s.Status]
	return ok
}

// IsInActiveConversation reports whether the session is mid-conversation
// with the user. historyLen is the conversation history length, owned by
// the store under a separate lock.
func IsInActiveConversation(s *session.Session, historyLen int) bool {
	if s.Status != session.StatusAwaitingUserInput {
		return false
	}
	return historyLen > 0 || s.Phase == session.PhaseMetadataCollection
}

// HasProposedChanges reports whether anything changed since the last
// attempt: user input arrived or auto-corrections were applied.
func HasProposedChanges(s *session.Session) bool {
	return s.UserProvidedInputThisAttempt || s.AutoCorrectionsAppliedThisAttempt
}

// CanRetry reports whether a retry is permitted without the explicit
// "retry anyway" flag. There is no hard attempt cap; the safety valve is
// checked separately via SafetyValve.
func CanRetry(s *session.Session) bool {
	return HasProposedChanges(s)
}

// SafetyValve returns ErrRetrySafetyValve when the soft cap is reached,
// nil otherwise.
func SafetyValve(s *session.Session) error {
	if s.CorrectionAttempt >= RetrySafetyValve {
		return ErrRetrySafetyValve
	}
	return nil
}

// DetectNoProgress reports whether a retry would repeat the previous
// attempt verbatim: the canonical issue set is unchanged and neither
// per-attempt change flag is set. newIssueKeys is the canonical sorted
// (code, location) key set of the new validation result.
func DetectNoProgress(s *session.Session, newIssueKeys []string) bool {
	if HasProposedChanges(s) {
		return false
	}
	if len(newIssueKeys) != len(s.PreviousValidationIssues) {
		return false
	}
	previous := make(map[string]struct{}, len(s.PreviousValidationIssues))
	for _, k := range s.PreviousValidationIssues {
		previous[k] = struct{}{}
	}
	for _, k := range newIssueKeys {
		if _, ok := previous[k]; !ok {
			return false
		}
	}
	return true
}
