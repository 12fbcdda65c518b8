package nwb

import (
	"context"
	"fmt"
)

// ProgressFunc receives conversion progress. Implementations must be safe
// to call from the converter's goroutine; percent is within [0, 100].
type ProgressFunc func(percent int, message string)

// ConversionRequest carries everything an external converter needs for one
// attempt. Metadata is the effective (auto merged with user, user wins)
// metadata map; Options carries converter parameter overrides accumulated
// by the correction loop.
type ConversionRequest struct {
	InputPath  string
	OutputPath string
	Format     string
	Metadata   map[string]any
	Options    map[string]any
	OnProgress ProgressFunc
}

// Converter is the external format-detection/NWB-writing capability.
// Convert must write exactly to req.OutputPath and never touch any other
// path; the orchestrator guarantees the path does not exist yet.
type Converter interface {
	Convert(ctx context.Context, req ConversionRequest) error
}

// Validator is the external NWB validation capability.
type Validator interface {
	Validate(ctx context.Context, path string) ([]Issue, error)
}

// Reporter renders validation reports alongside an output file.
// It returns the paths of the report files it wrote.
type Reporter interface {
	Render(ctx context.Context, report ValidationReport, outputPath string) ([]string, error)
}

// ConversionErrorKind classifies converter failures for user surfacing.
type ConversionErrorKind string

const (
	ConversionErrorInput     ConversionErrorKind = "input"       // unreadable or unrecognised input
	ConversionErrorMetadata  ConversionErrorKind = "metadata"    // missing or malformed metadata
	ConversionErrorWrite     ConversionErrorKind = "write"       // output file could not be written
	ConversionErrorCrash     ConversionErrorKind = "crash"       // converter terminated abnormally
	ConversionErrorTruncated ConversionErrorKind = "truncated"   // partial output file was produced
	ConversionErrorUnsupport ConversionErrorKind = "unsupported" // format not convertible
	ConversionErrorUnknown   ConversionErrorKind = "unknown"
)

// ConversionError is the structured failure returned by the conversion
// path. Context carries free-form diagnostic keys for the LLM explainer.
type ConversionError struct {
	Kind             ConversionErrorKind
	TechnicalMessage string
	Context          map[string]any
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("conversion failed (%s): %s", e.Kind, e.TechnicalMessage)
}

// NewConversionError builds a ConversionError with optional context pairs.
func NewConversionError(kind ConversionErrorKind, msg string, kv ...any) *ConversionError {
	ctx := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			ctx[k] = kv[i+1]
		}
	}
	return &ConversionError{Kind: kind, TechnicalMessage: msg, Context: ctx}
}
