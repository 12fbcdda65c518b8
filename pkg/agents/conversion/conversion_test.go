package conversion

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/events"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/llm"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/nwb"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/session"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/workflow/actions"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/workflow/bus"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/workflow/werr"
)

type fakeConverter struct {
	err      error
	partial  bool
	requests []nwb.ConversionRequest
}

func (c *fakeConverter) Convert(_ context.Context, req nwb.ConversionRequest) error {
	c.requests = append(c.requests, req)
	if c.err != nil {
		if c.partial {
			_ = os.WriteFile(req.OutputPath, []byte("partial"), 0o644)
		}
		return c.err
	}
	if req.OnProgress != nil {
		req.OnProgress(50, "writing")
	}
	return os.WriteFile(req.OutputPath, []byte("nwb-content"), 0o644)
}

type erroringModel struct{}

func (erroringModel) Generate(context.Context, llm.Request) (string, error) {
	return "", errors.New("model unavailable")
}

func (erroringModel) GenerateStructured(context.Context, llm.Request, any) error {
	return errors.New("model unavailable")
}

type capturedValidation struct {
	payloads chan actions.RunValidationPayload
}

func stubEvaluation(t *testing.T, b *bus.Bus) *capturedValidation {
	t.Helper()
	captured := &capturedValidation{payloads: make(chan actions.RunValidationPayload, 4)}
	b.Register(bus.AgentEvaluation, actions.RunValidation, func(_ context.Context, payload any) (any, error) {
		captured.payloads <- payload.(actions.RunValidationPayload)
		return &actions.Ack{Status: "validated"}, nil
	})
	return captured
}

func newAgent(t *testing.T, converter nwb.Converter) (*Agent, *session.Store, *bus.Bus, *capturedValidation, string) {
	t.Helper()
	store := session.NewStore(events.NewBus(0))
	b := bus.New()
	outDir := t.TempDir()
	agent := New(store, b, converter, erroringModel{}, outDir)
	agent.Register()
	return agent, store, b, stubEvaluation(t, b), outDir
}

func writeSpikeGLXInput(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	bin := filepath.Join(dir, "rec_g0_t0.imec0.ap.bin")
	require.NoError(t, os.WriteFile(bin, []byte("binary"), 0o644))
	meta := "imSampRate=30000\nnSavedChans=385\nfileCreateTime=2026-03-14T09:30:00\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rec_g0_t0.imec0.ap.meta"), []byte(meta), 0o644))
	return bin
}

func TestDetectFormat_ConvertsAndHandsOffToValidation(t *testing.T) {
	conv := &fakeConverter{}
	_, store, b, validations, outDir := newAgent(t, conv)

	input := writeSpikeGLXInput(t)
	require.NoError(t, store.Transition(session.StatusAny, session.StatusUploaded, func(s *session.Session) {
		s.InputPath = input
	}))

	_, err := b.Send(context.Background(), bus.Request{
		Target: bus.AgentConversion,
		Action: actions.DetectFormat,
	})
	require.NoError(t, err)

	snap := store.Snapshot()
	assert.Equal(t, session.StatusValidating, snap.Status)
	assert.Equal(t, "spikeglx", snap.DetectedFormat)
	assert.Equal(t, filepath.Join(outDir, "rec_g0_t0.imec0_v1.nwb"), snap.OutputPath)
	assert.NotEmpty(t, snap.OutputChecksums[filepath.Base(snap.OutputPath)])
	assert.Equal(t, "30000", snap.AutoExtractedMetadata["sampling_rate_hz"])

	select {
	case p := <-validations.payloads:
		assert.Equal(t, snap.OutputPath, p.OutputPath)
		assert.Equal(t, 0, p.Attempt)
	default:
		t.Fatal("validation was not requested")
	}

	require.Len(t, conv.requests, 1)
	assert.Equal(t, "spikeglx", conv.requests[0].Format)
}

func TestDetectFormat_AmbiguousAsksForFormat(t *testing.T) {
	_, store, b, _, _ := newAgent(t, &fakeConverter{})

	dir := t.TempDir()
	input := filepath.Join(dir, "stream.ap.bin")
	require.NoError(t, os.WriteFile(input, []byte("binary"), 0o644))
	require.NoError(t, store.Transition(session.StatusAny, session.StatusUploaded, func(s *session.Session) {
		s.InputPath = input
	}))

	resp, err := b.Send(context.Background(), bus.Request{
		Target: bus.AgentConversion,
		Action: actions.DetectFormat,
	})
	require.NoError(t, err)

	start := resp.(*actions.StartConversionResponse)
	assert.Equal(t, "awaiting_user_input", start.Status)
	require.NotNil(t, start.MetadataRequest)
	require.Len(t, start.MetadataRequest.Fields, 1)
	assert.Equal(t, "format", start.MetadataRequest.Fields[0].Name)

	snap := store.Snapshot()
	assert.Equal(t, session.StatusAwaitingUserInput, snap.Status)
	assert.Equal(t, input, snap.PendingConversionInputPath)
}

func TestDetectFormat_UserSpecifiedFormatWins(t *testing.T) {
	conv := &fakeConverter{}
	_, store, b, validations, _ := newAgent(t, conv)

	dir := t.TempDir()
	input := filepath.Join(dir, "stream.ap.bin")
	require.NoError(t, os.WriteFile(input, []byte("binary"), 0o644))
	require.NoError(t, store.Transition(session.StatusAny, session.StatusAwaitingUserInput, func(s *session.Session) {
		s.InputPath = input
		s.UserProvidedMetadata = map[string]any{"format": "neuropixels"}
	}))

	_, err := b.Send(context.Background(), bus.Request{
		Target: bus.AgentConversion,
		Action: actions.DetectFormat,
	})
	require.NoError(t, err)

	snap := store.Snapshot()
	assert.Equal(t, "neuropixels", snap.DetectedFormat)
	assert.Len(t, validations.payloads, 1)
}

func TestDetectFormat_NoInput(t *testing.T) {
	_, _, b, _, _ := newAgent(t, &fakeConverter{})

	_, err := b.Send(context.Background(), bus.Request{
		Target: bus.AgentConversion,
		Action: actions.DetectFormat,
	})
	require.Error(t, err)
	assert.True(t, werr.Is(err, werr.KindBadRequest))
}

func TestRunConversion_FailureRemovesPartialOutput(t *testing.T) {
	conv := &fakeConverter{err: errors.New("converter exploded"), partial: true}
	_, store, b, _, outDir := newAgent(t, conv)

	input := writeSpikeGLXInput(t)
	require.NoError(t, store.Transition(session.StatusAny, session.StatusUploaded, func(s *session.Session) {
		s.InputPath = input
		s.DetectedFormat = "spikeglx"
	}))

	_, err := b.Send(context.Background(), bus.Request{
		Target: bus.AgentConversion,
		Action: actions.RunConversion,
	})
	require.Error(t, err)
	assert.True(t, werr.Is(err, werr.KindDependencyFailed))

	_, statErr := os.Stat(filepath.Join(outDir, "rec_g0_t0.imec0_v1.nwb"))
	assert.True(t, os.IsNotExist(statErr), "partial output must be removed")
	assert.Empty(t, store.Snapshot().OutputPath)
}

func TestRunConversion_VersionsNeverCollide(t *testing.T) {
	conv := &fakeConverter{}
	_, store, b, validations, outDir := newAgent(t, conv)

	input := writeSpikeGLXInput(t)
	require.NoError(t, store.Transition(session.StatusAny, session.StatusUploaded, func(s *session.Session) {
		s.InputPath = input
		s.DetectedFormat = "spikeglx"
	}))

	for range 2 {
		_, err := b.Send(context.Background(), bus.Request{
			Target: bus.AgentConversion,
			Action: actions.RunConversion,
		})
		require.NoError(t, err)
		<-validations.payloads
	}

	snap := store.Snapshot()
	assert.Equal(t, filepath.Join(outDir, "rec_g0_t0.imec0_v2.nwb"), snap.OutputPath)
	assert.Len(t, snap.OutputChecksums, 2)
	for _, p := range []string{"rec_g0_t0.imec0_v1.nwb", "rec_g0_t0.imec0_v2.nwb"} {
		_, err := os.Stat(filepath.Join(outDir, p))
		assert.NoError(t, err, p)
	}
}

func TestApplyCorrections_MergesAndFlags(t *testing.T) {
	conv := &fakeConverter{}
	_, store, b, validations, _ := newAgent(t, conv)

	input := writeSpikeGLXInput(t)
	require.NoError(t, store.Transition(session.StatusAny, session.StatusAwaitingRetryApproval, func(s *session.Session) {
		s.InputPath = input
		s.DetectedFormat = "spikeglx"
		s.UserProvidedMetadata = map[string]any{"species": "Mus musculus"}
	}))

	_, err := b.Send(context.Background(), bus.Request{
		Target: bus.AgentConversion,
		Action: actions.ApplyCorrections,
		Payload: actions.ApplyCorrectionsPayload{
			ParameterChanges:   map[string]any{"compression": "gzip"},
			AdditionalMetadata: map[string]any{"species": "invented", "institution": "Inferred U"},
		},
	})
	require.NoError(t, err)
	<-validations.payloads

	snap := store.Snapshot()
	assert.True(t, snap.AutoCorrectionsAppliedThisAttempt)
	assert.Equal(t, "gzip", snap.ConversionOptions["compression"])
	// Derived metadata never overrides what the user stated.
	assert.Equal(t, "Mus musculus", snap.EffectiveMetadata()["species"])
	assert.Equal(t, "Inferred U", snap.AutoExtractedMetadata["institution"])

	require.Len(t, conv.requests, 1)
	assert.Equal(t, "gzip", conv.requests[0].Options["compression"])
}

func TestApplyCorrections_EmptyPayloadStillConverts(t *testing.T) {
	conv := &fakeConverter{}
	_, store, b, validations, _ := newAgent(t, conv)

	input := writeSpikeGLXInput(t)
	require.NoError(t, store.Transition(session.StatusAny, session.StatusAwaitingRetryApproval, func(s *session.Session) {
		s.InputPath = input
		s.DetectedFormat = "spikeglx"
	}))

	_, err := b.Send(context.Background(), bus.Request{
		Target:  bus.AgentConversion,
		Action:  actions.ApplyCorrections,
		Payload: actions.ApplyCorrectionsPayload{},
	})
	require.NoError(t, err)
	<-validations.payloads

	snap := store.Snapshot()
	assert.False(t, snap.AutoCorrectionsAppliedThisAttempt)
	assert.Len(t, conv.requests, 1)
}
