package logger

import (
	"fmt"
	"log/slog"
)

// Standard field keys for structured logging.
// Use these keys consistently across all log statements so that log
// aggregation and querying stay uniform across agents and the API layer.
const (
	// Distributed tracing
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// Workflow
	KeySessionID = "session_id" // Workflow session identifier
	KeyStatus    = "status"     // Conversion status (IDLE, CONVERTING, ...)
	KeyPhase     = "phase"      // Conversation phase
	KeyOutcome   = "outcome"    // Validation outcome
	KeyAttempt   = "attempt"    // Correction attempt number
	KeyFormat    = "format"     // Detected recording format

	// Message bus
	KeyAgent  = "agent"  // Target agent: conversation, conversion, evaluation
	KeyAction = "action" // Bus action name

	// Files
	KeyPath     = "path"     // Full file path
	KeyFilename = "filename" // File basename
	KeySize     = "size"     // File size in bytes
	KeyChecksum = "checksum" // SHA-256 hex digest
	KeyVersion  = "version"  // Output version number

	// External capabilities
	KeyCapability = "capability" // converter, validator, llm, reporter
	KeyModel      = "model"      // LLM model identifier

	// Client identification
	KeyClientIP  = "client_ip"  // Client IP address
	KeyRequestID = "request_id" // HTTP request ID

	// Event bus
	KeyEventKind  = "event_kind" // Published event kind
	KeySubscriber = "subscriber" // Event subscriber identifier
	KeyDropped    = "dropped"    // Events dropped due to lag

	// Errors & performance
	KeyError      = "error"       // Error message
	KeyErrorKind  = "error_kind"  // Workflow error taxonomy kind
	KeyDurationMS = "duration_ms" // Operation duration in milliseconds
)

// Err returns a slog attribute for an error value.
// Safe to call with a nil error (logs an empty string).
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}

// Checksum returns a slog attribute with a truncated digest for readability.
func Checksum(sum string) slog.Attr {
	if len(sum) > 12 {
		sum = sum[:12]
	}
	return slog.String(KeyChecksum, sum)
}

// FormatBytes renders a byte count human-readably for log output.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
