// Package nwb defines the domain types shared by the conversion workflow:
// validation issues and outcomes, versioned output naming, and the
// interfaces of the external capabilities (converter, validator, reporter)
// the orchestrator drives.
package nwb

import (
	"fmt"
	"sort"
)

// Severity classifies a validation issue.
type Severity string

const (
	SeverityInfo         Severity = "INFO"
	SeverityBestPractice Severity = "BEST_PRACTICE"
	SeverityWarning      Severity = "WARNING"
	SeverityError        Severity = "ERROR"
	SeverityCritical     Severity = "CRITICAL"
)

// rank orders severities from least to most severe.
var severityRank = map[Severity]int{
	SeverityInfo:         0,
	SeverityBestPractice: 1,
	SeverityWarning:      2,
	SeverityError:        3,
	SeverityCritical:     4,
}

// Rank returns the ordering of the severity. Unknown severities rank
// alongside WARNING so that a misbehaving validator cannot silently
// produce a passing outcome.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return severityRank[SeverityWarning]
}

// Blocking reports whether the severity fails validation outright.
func (s Severity) Blocking() bool {
	return s.Rank() >= severityRank[SeverityError]
}

// Outcome is the validation outcome of a conversion attempt.
type Outcome string

const (
	OutcomePassed           Outcome = "PASSED"
	OutcomePassedWithIssues Outcome = "PASSED_WITH_ISSUES"
	OutcomeFailed           Outcome = "FAILED"
)

// DeriveOutcome computes the outcome from a raw issue list:
// FAILED if any issue is ERROR or worse, PASSED on an empty list,
// PASSED_WITH_ISSUES otherwise (including INFO-only lists).
func DeriveOutcome(issues []Issue) Outcome {
	if len(issues) == 0 {
		return OutcomePassed
	}
	for _, issue := range issues {
		if issue.Severity.Blocking() {
			return OutcomeFailed
		}
	}
	return OutcomePassedWithIssues
}

// Issue is a single finding from the external validator.
type Issue struct {
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Location string   `json:"location"`
}

// Key returns the canonical identity of the issue used for no-progress
// detection: equality is on (code, location), never on message text.
func (i Issue) Key() string {
	return i.Code + "\x00" + i.Location
}

// IssuePriority buckets an issue by how urgently it should be fixed.
type IssuePriority string

const (
	PriorityDandiBlocking IssuePriority = "dandi_blocking"
	PriorityBestPractices IssuePriority = "best_practices"
	PriorityNiceToHave    IssuePriority = "nice_to_have"
)

// EnrichedIssue is an Issue annotated by the language model. The raw
// issue is always retained verbatim; enrichment is advisory.
type EnrichedIssue struct {
	Issue
	Priority         IssuePriority `json:"priority"`
	UserFixable      bool          `json:"user_fixable"`
	DandiRequirement string        `json:"dandi_requirement,omitempty"`
	Explanation      string        `json:"explanation,omitempty"`
	FixAction        string        `json:"fix_action,omitempty"`
}

// ValidationReport is the stored result of one validation pass.
type ValidationReport struct {
	OutputPath string           `json:"output_path"`
	Attempt    int              `json:"attempt"`
	Outcome    Outcome          `json:"outcome"`
	Issues     []Issue          `json:"issues"`
	Enriched   []EnrichedIssue  `json:"enriched_issues,omitempty"`
	Counts     map[Severity]int `json:"counts_by_severity"`
}

// NewValidationReport builds a report from the raw validator issues,
// computing severity counts and the derived outcome.
func NewValidationReport(outputPath string, attempt int, issues []Issue) ValidationReport {
	counts := make(map[Severity]int, len(severityRank))
	for _, issue := range issues {
		counts[issue.Severity]++
	}
	return ValidationReport{
		OutputPath: outputPath,
		Attempt:    attempt,
		Outcome:    DeriveOutcome(issues),
		Issues:     issues,
		Counts:     counts,
	}
}

// IssueKeySet returns the canonical sorted (code, location) keys of the
// report's raw issues.
func (r ValidationReport) IssueKeySet() []string {
	keys := make([]string, 0, len(r.Issues))
	seen := make(map[string]struct{}, len(r.Issues))
	for _, issue := range r.Issues {
		k := issue.Key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Summary returns a short human-readable description of the report.
func (r ValidationReport) Summary() string {
	return fmt.Sprintf("%s: %d issue(s) (critical=%d error=%d warning=%d best_practice=%d info=%d)",
		r.Outcome, len(r.Issues),
		r.Counts[SeverityCritical], r.Counts[SeverityError], r.Counts[SeverityWarning],
		r.Counts[SeverityBestPractice], r.Counts[SeverityInfo])
}
