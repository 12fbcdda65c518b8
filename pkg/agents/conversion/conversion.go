// Package conversion implements the conversion agent: format detection
// (filesystem heuristics first, language model as fallback), invocation
// of the external NWB converter, and application of correction-loop
// changes to the next attempt.
package conversion

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/internal/logger"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/events"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/llm"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/nwb"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/nwb/formats"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/session"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/workflow/actions"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/workflow/bus"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/workflow/werr"
)

// MinDetectionConfidence is the acceptance threshold for format
// detection, heuristic and model alike.
const MinDetectionConfidence = 70

// maxEvidenceFiles bounds the file listing handed to the model during
// the detection fallback.
const maxEvidenceFiles = 40

// Agent is the conversion agent. It owns no session fields; every
// mutation goes through the store's transition methods.
type Agent struct {
	store     *session.Store
	bus       *bus.Bus
	converter nwb.Converter
	model     llm.LanguageModel
	outputDir string
}

// New creates the conversion agent. outputDir is where versioned NWB
// outputs are written.
func New(store *session.Store, b *bus.Bus, converter nwb.Converter, model llm.LanguageModel, outputDir string) *Agent {
	return &Agent{
		store:     store,
		bus:       b,
		converter: converter,
		model:     model,
		outputDir: outputDir,
	}
}

// Register binds the agent's actions on the bus.
func (a *Agent) Register() {
	a.bus.Register(bus.AgentConversion, actions.DetectFormat, a.handleDetectFormat)
	a.bus.Register(bus.AgentConversion, actions.RunConversion, a.handleRunConversion)
	a.bus.Register(bus.AgentConversion, actions.ApplyCorrections, a.handleApplyCorrections)
}

// llmDetection is the structured fallback result when filesystem
// heuristics cannot identify the format.
type llmDetection struct {
	Format       string   `json:"format" jsonschema_description:"One of spikeglx, openephys, neuropixels, nwb, or empty when unidentifiable"`
	Confidence   int      `json:"confidence" jsonschema_description:"0-100 confidence in the identification"`
	Indicators   []string `json:"indicators" jsonschema_description:"File names or patterns supporting the identification"`
	Alternatives []string `json:"alternatives" jsonschema_description:"Other plausible formats, if any"`
	Ambiguous    bool     `json:"ambiguous" jsonschema_description:"True when more than one format is plausible"`
}

func (a *Agent) handleDetectFormat(ctx context.Context, _ any) (any, error) {
	snap := a.store.Snapshot()
	input := snap.InputPath
	if input == "" {
		return nil, werr.New(werr.KindBadRequest, "no input uploaded")
	}

	if err := a.store.Transition(session.StatusAny, session.StatusDetectingFormat, nil); err != nil {
		return nil, werr.Wrap(werr.KindBadRequest, "cannot begin format detection", err)
	}

	det := a.detect(ctx, &snap, input)
	if !det.Detected() || det.Confidence < MinDetectionConfidence {
		return a.askForFormat(ctx, input, det)
	}

	logger.InfoCtx(ctx, "format detected",
		logger.KeyFormat, det.Format,
		"confidence", det.Confidence,
	)

	auto := formats.ExtractMetadata(input, det)
	a.store.Mutate(func(s *session.Session) {
		s.DetectedFormat = det.Format
		if s.AutoExtractedMetadata == nil {
			s.AutoExtractedMetadata = make(map[string]any, len(auto))
		}
		for k, v := range auto {
			s.AutoExtractedMetadata[k] = v
		}
		s.PendingConversionInputPath = ""
	})

	if err := a.store.Transition(session.StatusDetectingFormat, session.StatusConverting, nil); err != nil {
		return nil, werr.Wrap(werr.KindFatal, "detection raced with another transition", err)
	}
	return a.runConversion(ctx)
}

// detect runs the heuristic scan, honours a user-specified format, and
// falls back to the language model on a miss.
func (a *Agent) detect(ctx context.Context, snap *session.Session, input string) formats.Detection {
	// A format named by the user overrides everything.
	if v, ok := snap.UserProvidedMetadata["format"]; ok {
		if f, ok := v.(string); ok && f != "" {
			return formats.Detection{Format: f, Confidence: 100, Indicators: []string{"user_specified"}}
		}
	}

	det := formats.Detect(input)
	if det.Detected() && det.Confidence >= MinDetectionConfidence {
		return det
	}
	return a.detectWithModel(ctx, input, det)
}

func (a *Agent) detectWithModel(ctx context.Context, input string, heuristic formats.Detection) formats.Detection {
	files, err := formats.ListFiles(input, maxEvidenceFiles)
	if err != nil || len(files) == 0 {
		return heuristic
	}

	var listing string
	for _, f := range files {
		listing += fmt.Sprintf("%s (%d bytes)\n", f.Name, f.Size)
	}

	var guess llmDetection
	req := llm.Request{
		System: "You identify neurophysiology recording formats from file listings. " +
			"Known formats: spikeglx (.ap.bin/.ap.meta pairs), openephys (structure.oebin), " +
			"neuropixels (raw .ap.bin/.lf.bin streams), nwb (.nwb files). " +
			"Set ambiguous when more than one format plausibly matches.",
		Prompt: "Identify the recording format from this file listing:\n\n" + listing,
	}
	if err := a.model.GenerateStructured(ctx, req, &guess); err != nil {
		logger.WarnCtx(ctx, "model format detection failed, keeping heuristic result",
			logger.Err(err),
		)
		return heuristic
	}

	switch guess.Format {
	case formats.FormatSpikeGLX, formats.FormatOpenEphys, formats.FormatNeuropixels, formats.FormatNWB:
	default:
		return heuristic
	}
	if guess.Ambiguous || guess.Confidence < MinDetectionConfidence {
		return formats.Detection{Format: guess.Format, Confidence: guess.Confidence, Indicators: guess.Indicators}
	}
	return formats.Detection{Format: guess.Format, Confidence: guess.Confidence, Indicators: guess.Indicators}
}

// askForFormat pauses the workflow and asks the user to name the format
// instead of guessing on low confidence.
func (a *Agent) askForFormat(ctx context.Context, input string, det formats.Detection) (any, error) {
	request := &actions.MetadataRequest{
		Fields: []actions.MetadataField{{
			Name:        "format",
			DisplayName: "Recording format",
			Description: "The acquisition system that produced this recording (spikeglx, openephys, neuropixels, or nwb).",
			WhyNeeded:   "The converter needs the source format to parse the input correctly.",
			Example:     "spikeglx",
			FieldType:   "string",
		}},
		DetectedDataType: det.Format,
	}
	if det.Detected() {
		request.Suggestions = fmt.Sprintf("The files look like %s but the confidence is too low to proceed automatically.", det.Format)
		request.Fields[0].InferredValue = det.Format
	}

	err := a.store.Transition(session.StatusDetectingFormat, session.StatusAwaitingUserInput, func(s *session.Session) {
		s.Phase = session.PhaseMetadataCollection
		s.PendingConversionInputPath = input
	})
	if err != nil {
		return nil, werr.Wrap(werr.KindFatal, "detection raced with another transition", err)
	}

	logger.InfoCtx(ctx, "format ambiguous, asking user",
		logger.KeyFormat, det.Format,
		"confidence", det.Confidence,
	)
	a.store.Events().Publish(events.Event{Kind: events.KindMetadataRequest, Payload: request})
	return &actions.StartConversionResponse{Status: "awaiting_user_input", MetadataRequest: request}, nil
}

func (a *Agent) handleRunConversion(ctx context.Context, _ any) (any, error) {
	if err := a.store.Transition(session.StatusAny, session.StatusConverting, nil); err != nil {
		return nil, werr.Wrap(werr.KindBadRequest, "cannot begin conversion", err)
	}
	return a.runConversion(ctx)
}

// runConversion performs one conversion attempt. The session must
// already be in CONVERTING.
func (a *Agent) runConversion(ctx context.Context) (any, error) {
	snap := a.store.Snapshot()

	outPath, err := nwb.NextVersionPath(a.outputDir, nwb.Stem(snap.InputPath), snap.OutputPath)
	if err != nil {
		if errors.Is(err, nwb.ErrVersionExists) {
			return nil, werr.Wrap(werr.KindFatal, "output version already exists", err).
				WithContext(logger.KeyPath, outPath)
		}
		return nil, werr.Wrap(werr.KindDependencyFailed, "cannot allocate output path", err)
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return nil, werr.Wrap(werr.KindDependencyFailed, "cannot create output directory", err)
	}

	eventBus := a.store.Events()
	progress := func(percent int, message string) {
		if percent < 0 {
			percent = 0
		}
		if percent > 100 {
			percent = 100
		}
		eventBus.Publish(events.Event{Kind: events.KindProgress, Payload: events.Progress{Percent: percent, Message: message}})
	}

	logger.InfoCtx(ctx, "conversion attempt starting",
		logger.KeyFormat, snap.DetectedFormat,
		logger.KeyAttempt, snap.CorrectionAttempt,
		logger.KeyVersion, nwb.VersionOf(outPath),
		logger.KeyPath, outPath,
	)
	progress(0, "starting conversion")

	req := nwb.ConversionRequest{
		InputPath:  snap.InputPath,
		OutputPath: outPath,
		Format:     snap.DetectedFormat,
		Metadata:   snap.EffectiveMetadata(),
		Options:    snap.ConversionOptions,
		OnProgress: progress,
	}
	if err := a.converter.Convert(ctx, req); err != nil {
		// Never leave a partial file where the next attempt could trip
		// over it.
		if _, statErr := os.Stat(outPath); statErr == nil {
			if rmErr := os.Remove(outPath); rmErr != nil {
				logger.WarnCtx(ctx, "could not remove partial output", logger.Err(rmErr))
			}
		}
		kind := werr.KindDependencyFailed
		if errors.Is(err, context.DeadlineExceeded) {
			kind = werr.KindTimeout
		}
		return nil, werr.Wrap(kind, "converter failed", err).
			WithContext(logger.KeyFormat, snap.DetectedFormat).
			WithContext(logger.KeyAttempt, snap.CorrectionAttempt)
	}

	checksum, err := nwb.ChecksumFile(outPath)
	if err != nil {
		return nil, werr.Wrap(werr.KindDependencyFailed, "cannot checksum output", err)
	}
	progress(100, "conversion complete")

	attempt := snap.CorrectionAttempt
	a.store.Mutate(func(s *session.Session) {
		s.OutputPath = outPath
		if s.OutputChecksums == nil {
			s.OutputChecksums = make(map[string]string)
		}
		s.OutputChecksums[filepath.Base(outPath)] = checksum
	})

	logger.InfoCtx(ctx, "conversion attempt complete",
		logger.KeyPath, outPath,
		logger.KeyChecksum, checksum,
		logger.KeyAttempt, attempt,
	)

	if err := a.store.Transition(session.StatusConverting, session.StatusValidating, nil); err != nil {
		return nil, werr.Wrap(werr.KindFatal, "conversion raced with another transition", err)
	}
	return a.bus.Send(ctx, bus.Request{
		Target:  bus.AgentEvaluation,
		Action:  actions.RunValidation,
		Payload: actions.RunValidationPayload{OutputPath: outPath, Attempt: attempt},
	})
}

func (a *Agent) handleApplyCorrections(ctx context.Context, payload any) (any, error) {
	p, ok := payload.(actions.ApplyCorrectionsPayload)
	if !ok {
		return nil, werr.New(werr.KindBadRequest, "apply_corrections: unexpected payload type")
	}

	applied := len(p.ParameterChanges) > 0 || len(p.AdditionalMetadata) > 0
	err := a.store.Transition(session.StatusAny, session.StatusConverting, func(s *session.Session) {
		if len(p.ParameterChanges) > 0 {
			if s.ConversionOptions == nil {
				s.ConversionOptions = make(map[string]any, len(p.ParameterChanges))
			}
			for k, v := range p.ParameterChanges {
				s.ConversionOptions[k] = v
			}
		}
		if len(p.AdditionalMetadata) > 0 {
			if s.AutoExtractedMetadata == nil {
				s.AutoExtractedMetadata = make(map[string]any, len(p.AdditionalMetadata))
			}
			for k, v := range p.AdditionalMetadata {
				// User-provided values always win over derived fixes.
				if _, userSet := s.UserProvidedMetadata[k]; !userSet {
					s.AutoExtractedMetadata[k] = v
				}
			}
		}
		if applied {
			s.AutoCorrectionsAppliedThisAttempt = true
		}
	})
	if err != nil {
		return nil, werr.Wrap(werr.KindBadRequest, "cannot begin corrected attempt", err)
	}

	if applied {
		logger.InfoCtx(ctx, "corrections applied",
			"parameter_changes", len(p.ParameterChanges),
			"metadata_additions", len(p.AdditionalMetadata),
		)
	}
	return a.runConversion(ctx)
}
