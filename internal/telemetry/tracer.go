package telemetry

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys for workflow operations.
// These follow OpenTelemetry semantic conventions where applicable.
// Workflow-wide keys use "workflow." prefix, component-specific keys
// use their own prefix.
const (
	// ========================================================================
	// Client attributes
	// ========================================================================
	AttrClientIP   = "client.ip"
	AttrClientAddr = "client.address"

	// ========================================================================
	// Workflow attributes
	// ========================================================================
	AttrSessionStatus     = "workflow.status"      // Session status name
	AttrWorkflowPhase     = "workflow.phase"       // Conversational phase
	AttrCorrectionAttempt = "workflow.attempt"     // Correction loop attempt
	AttrBusAgent          = "bus.agent"            // Dispatch target agent
	AttrBusAction         = "bus.action"           // Dispatch action name

	// ========================================================================
	// Recording/upload attributes
	// ========================================================================
	AttrRecordingFormat = "recording.format" // spikeglx, openephys, ...
	AttrInputPath       = "recording.path"
	AttrUploadFiles     = "upload.files" // Number of files received
	AttrUploadBytes     = "upload.bytes"
	AttrUploadChecksum  = "upload.checksum"

	// ========================================================================
	// Conversion/validation attributes
	// ========================================================================
	AttrOutputPath        = "nwb.output_path"
	AttrValidationOutcome = "validation.outcome" // passed, passed_with_issues, failed
	AttrIssueCount        = "validation.issues"
	AttrToolCommand       = "tool.command"

	// ========================================================================
	// LLM attributes
	// ========================================================================
	AttrLLMProvider = "llm.provider"
	AttrLLMModel    = "llm.model"
)

// Span names for operations.
// Format: <component>.<operation>
const (
	SpanUpload          = "api.upload"
	SpanStartConversion = "conversation.start_conversion"
	SpanChat            = "conversation.chat"
	SpanDetectFormat    = "conversion.detect_format"
	SpanConvert         = "conversion.convert"
	SpanValidate        = "evaluation.validate"
	SpanReport          = "evaluation.report"
	SpanLLMGenerate     = "llm.generate"
	SpanToolConvert     = "tool.convert"
	SpanToolValidate    = "tool.validate"
)

// ClientIP returns an attribute for client IP address
func ClientIP(ip string) attribute.KeyValue {
	return attribute.String(AttrClientIP, ip)
}

// ClientAddr returns an attribute for full client address
func ClientAddr(addr string) attribute.KeyValue {
	return attribute.String(AttrClientAddr, addr)
}

// SessionStatus returns an attribute for the session status
func SessionStatus(status string) attribute.KeyValue {
	return attribute.String(AttrSessionStatus, status)
}

// WorkflowPhase returns an attribute for the conversational phase
func WorkflowPhase(phase string) attribute.KeyValue {
	return attribute.String(AttrWorkflowPhase, phase)
}

// CorrectionAttempt returns an attribute for the correction loop attempt
func CorrectionAttempt(attempt int) attribute.KeyValue {
	return attribute.Int(AttrCorrectionAttempt, attempt)
}

// BusAgent returns an attribute for the dispatch target agent
func BusAgent(agent string) attribute.KeyValue {
	return attribute.String(AttrBusAgent, agent)
}

// BusAction returns an attribute for the dispatch action
func BusAction(action string) attribute.KeyValue {
	return attribute.String(AttrBusAction, action)
}

// RecordingFormat returns an attribute for the detected recording format
func RecordingFormat(format string) attribute.KeyValue {
	return attribute.String(AttrRecordingFormat, format)
}

// InputPath returns an attribute for the recording input path
func InputPath(path string) attribute.KeyValue {
	return attribute.String(AttrInputPath, path)
}

// UploadFiles returns an attribute for the number of uploaded files
func UploadFiles(n int) attribute.KeyValue {
	return attribute.Int(AttrUploadFiles, n)
}

// UploadBytes returns an attribute for uploaded byte count
func UploadBytes(n int64) attribute.KeyValue {
	return attribute.Int64(AttrUploadBytes, n)
}

// UploadChecksum returns an attribute for the upload checksum
func UploadChecksum(sum string) attribute.KeyValue {
	return attribute.String(AttrUploadChecksum, sum)
}

// OutputPath returns an attribute for the NWB output path
func OutputPath(path string) attribute.KeyValue {
	return attribute.String(AttrOutputPath, path)
}

// ValidationOutcome returns an attribute for the validation outcome
func ValidationOutcome(outcome string) attribute.KeyValue {
	return attribute.String(AttrValidationOutcome, outcome)
}

// IssueCount returns an attribute for the number of validation issues
func IssueCount(n int) attribute.KeyValue {
	return attribute.Int(AttrIssueCount, n)
}

// ToolCommand returns an attribute for an external tool command line
func ToolCommand(argv []string) attribute.KeyValue {
	return attribute.String(AttrToolCommand, strings.Join(argv, " "))
}

// LLMProvider returns an attribute for the LLM provider name
func LLMProvider(name string) attribute.KeyValue {
	return attribute.String(AttrLLMProvider, name)
}

// LLMModel returns an attribute for the LLM model identifier
func LLMModel(model string) attribute.KeyValue {
	return attribute.String(AttrLLMModel, model)
}

// StartAgentSpan starts a span for a bus dispatch to an agent action.
// The span is named <agent>.<action> so agent hops read naturally in a
// trace view.
func StartAgentSpan(ctx context.Context, agent, action string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		BusAgent(agent),
		BusAction(action),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, agent+"."+action, trace.WithAttributes(allAttrs...))
}

// StartToolSpan starts a span for an external tool invocation.
func StartToolSpan(ctx context.Context, name string, argv []string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{}
	if len(argv) > 0 {
		allAttrs = append(allAttrs, ToolCommand(argv))
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, "tool."+name, trace.WithAttributes(allAttrs...))
}

// StartLLMSpan starts a span for a model call.
func StartLLMSpan(ctx context.Context, provider, model string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		LLMProvider(provider),
		LLMModel(model),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, SpanLLMGenerate, trace.WithAttributes(allAttrs...))
}
