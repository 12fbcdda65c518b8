package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/internal/logger"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/llm"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/nwb"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/session"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/workflow/actions"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/workflow/werr"
)

// explainError turns a workflow error into user-facing guidance. The
// model rewrites the technical message; when the model itself is the
// problem (or fails here too), the deterministic fallback applies, so an
// explanation is always produced.
func (a *Agent) explainError(ctx context.Context, failure error) actions.UserError {
	fallback := fallbackExplanation(failure)

	var explained actions.UserError
	req := llm.Request{
		System: "You explain conversion-service failures to neuroscientists. " +
			"Write a short plain-language explanation, the likely cause, and up to three concrete next steps. " +
			"Set recoverable to true unless the failure clearly cannot be retried.",
		Prompt: "Explain this failure:\n\n" + errorDetail(failure),
	}
	if err := a.model.GenerateStructured(ctx, req, &explained); err != nil {
		logger.WarnCtx(ctx, "error explanation failed, using fallback", logger.Err(err))
		return fallback
	}
	if explained.Explanation == "" {
		return fallback
	}
	return explained
}

// errorDetail renders the technical error, including any structured
// context the workflow attached.
func errorDetail(failure error) string {
	var b strings.Builder
	b.WriteString(failure.Error())

	var we *werr.Error
	if errors.As(failure, &we) && len(we.Context) > 0 {
		b.WriteString("\ncontext:")
		for k, v := range we.Context {
			fmt.Fprintf(&b, " %s=%v", k, v)
		}
	}
	var ce *nwb.ConversionError
	if errors.As(failure, &ce) && len(ce.Context) > 0 {
		b.WriteString("\nconverter context:")
		for k, v := range ce.Context {
			fmt.Fprintf(&b, " %s=%v", k, v)
		}
	}
	return b.String()
}

// fallbackExplanation maps the error taxonomy to canned guidance.
func fallbackExplanation(failure error) actions.UserError {
	var ce *nwb.ConversionError
	if errors.As(failure, &ce) {
		switch ce.Kind {
		case nwb.ConversionErrorInput:
			return actions.UserError{
				Explanation: "The converter could not read the uploaded recording.",
				LikelyCause: "The files may be incomplete, corrupted, or missing their companion metadata files.",
				Actions:     []string{"Check that every file of the recording was uploaded", "Re-upload the recording"},
				Recoverable: true,
			}
		case nwb.ConversionErrorMetadata:
			return actions.UserError{
				Explanation: "The conversion stopped because required metadata is missing or malformed.",
				LikelyCause: "A required field was not provided or could not be parsed.",
				Actions:     []string{"Provide the missing metadata in chat", "Approve a retry"},
				Recoverable: true,
			}
		case nwb.ConversionErrorWrite, nwb.ConversionErrorTruncated:
			return actions.UserError{
				Explanation: "The output file could not be written completely.",
				LikelyCause: "The server may have run out of disk space, or the converter stopped mid-write.",
				Actions:     []string{"Approve a retry", "Contact the operator if it happens again"},
				Recoverable: true,
			}
		case nwb.ConversionErrorUnsupport:
			return actions.UserError{
				Explanation: "This recording format cannot be converted.",
				LikelyCause: "The detected format is not one the converter supports.",
				Actions:     []string{"Check the recording format", "Upload a supported format (SpikeGLX, OpenEphys, Neuropixels)"},
				Recoverable: false,
			}
		}
	}

	switch werr.KindOf(failure) {
	case werr.KindTimeout:
		return actions.UserError{
			Explanation: "The operation took too long and was stopped.",
			LikelyCause: "The recording may be very large, or an external service is slow.",
			Actions:     []string{"Approve a retry", "Try again later"},
			Recoverable: true,
		}
	case werr.KindFatal:
		return actions.UserError{
			Explanation: "The workflow hit an internal inconsistency and stopped to protect your data.",
			LikelyCause: "An output file that should not exist was already present.",
			Actions:     []string{"Reset the session and start again", "Contact the operator"},
			Recoverable: false,
		}
	default:
		return actions.UserError{
			Explanation: "The conversion failed unexpectedly.",
			LikelyCause: "An external tool (converter, validator, or language model) returned an error.",
			Actions:     []string{"Approve a retry", "Reset the session if the problem persists"},
			Recoverable: true,
		}
	}
}

// renderUserError flattens a UserError into one chat message.
func renderUserError(ue actions.UserError) string {
	var b strings.Builder
	b.WriteString(ue.Explanation)
	if ue.LikelyCause != "" {
		b.WriteString("\nLikely cause: ")
		b.WriteString(ue.LikelyCause)
	}
	if len(ue.Actions) > 0 {
		b.WriteString("\nWhat you can do:")
		for _, act := range ue.Actions {
			b.WriteString("\n- ")
			b.WriteString(act)
		}
	}
	return b.String()
}

// correctionPlan is the structured model output when planning the next
// attempt from the latest validation report.
type correctionPlan struct {
	ParameterChanges   map[string]any `json:"parameter_changes" jsonschema_description:"Converter parameter overrides that would resolve issues, empty if none apply"`
	AdditionalMetadata map[string]any `json:"additional_metadata" jsonschema_description:"Metadata values derivable from the issues themselves, empty if none; never invent subject facts"`
	Rationale          string         `json:"rationale" jsonschema_description:"One sentence on why these changes should help"`
}

// deriveCorrections asks the model for machine-applicable fixes based on
// the latest validation report. Everything the user supplied directly is
// already on the session; this only covers derivable converter changes,
// and an empty plan on failure means the retry reuses the accumulated
// inputs as is.
func (a *Agent) deriveCorrections(ctx context.Context, snap *session.Session) actions.ApplyCorrectionsPayload {
	if snap.ValidationReport == nil || len(snap.ValidationReport.Issues) == 0 {
		return actions.ApplyCorrectionsPayload{}
	}

	var issueText strings.Builder
	for _, e := range snap.ValidationReport.Enriched {
		fmt.Fprintf(&issueText, "- [%s] %s at %s: %s", e.Severity, e.Code, e.Location, e.Message)
		if e.FixAction != "" {
			fmt.Fprintf(&issueText, " (suggested: %s)", e.FixAction)
		}
		issueText.WriteString("\n")
	}
	if issueText.Len() == 0 {
		for _, issue := range snap.ValidationReport.Issues {
			fmt.Fprintf(&issueText, "- [%s] %s at %s: %s\n", issue.Severity, issue.Code, issue.Location, issue.Message)
		}
	}

	var plan correctionPlan
	req := llm.Request{
		System: "You plan corrections for a failed NWB conversion attempt. " +
			"Propose only converter parameter changes and metadata values that follow mechanically from the issues. " +
			"Never invent facts about the subject or the experiment.",
		Prompt: "Latest validation issues:\n" + issueText.String(),
	}
	if err := a.model.GenerateStructured(ctx, req, &plan); err != nil {
		logger.WarnCtx(ctx, "correction planning failed, retrying without auto-corrections", logger.Err(err))
		return actions.ApplyCorrectionsPayload{}
	}
	if plan.Rationale != "" && (len(plan.ParameterChanges) > 0 || len(plan.AdditionalMetadata) > 0) {
		logger.InfoCtx(ctx, "auto-corrections planned", "rationale", plan.Rationale)
	}
	return actions.ApplyCorrectionsPayload{
		ParameterChanges:   plan.ParameterChanges,
		AdditionalMetadata: plan.AdditionalMetadata,
	}
}

// describeResult renders the validation report into a chat message,
// letting the model phrase it and falling back to the deterministic
// summary.
func (a *Agent) describeResult(ctx context.Context, report *nwb.ValidationReport, lead string) string {
	var b strings.Builder
	b.WriteString(lead)
	b.WriteString("\n\n")
	b.WriteString(report.Summary())

	issues := report.Enriched
	if len(issues) == 0 {
		for _, issue := range report.Issues {
			fmt.Fprintf(&b, "\n- [%s] %s: %s", issue.Severity, issue.Code, issue.Message)
		}
		return b.String()
	}
	for _, e := range issues {
		fmt.Fprintf(&b, "\n- [%s] %s: %s", e.Priority, e.Code, e.Message)
		if e.Explanation != "" {
			fmt.Fprintf(&b, "\n  %s", e.Explanation)
		}
		if e.FixAction != "" {
			fmt.Fprintf(&b, "\n  Fix: %s", e.FixAction)
		}
	}
	return b.String()
}
