package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/session"
)

// fullMetadata returns metadata covering every DANDI-required field.
func fullMetadata() map[string]any {
	m := make(map[string]any, len(DandiRequiredFields))
	for _, f := range DandiRequiredFields {
		m[f] = "value"
	}
	return m
}

func TestShouldRequestMetadata(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		s    session.Session
		want bool
	}{
		{
			name: "not asked and fields missing",
			s:    session.Session{MetadataPolicy: session.MetadataNotAsked},
			want: true,
		},
		{
			name: "not asked but everything auto-extracted",
			s: session.Session{
				MetadataPolicy:        session.MetadataNotAsked,
				AutoExtractedMetadata: fullMetadata(),
			},
			want: false,
		},
		{
			name: "already asked once",
			s:    session.Session{MetadataPolicy: session.MetadataAskedOnce},
			want: false,
		},
		{
			name: "user declined",
			s:    session.Session{MetadataPolicy: session.MetadataUserDeclined},
			want: false,
		},
		{
			name: "empty string counts as missing",
			s: session.Session{
				MetadataPolicy:       session.MetadataNotAsked,
				UserProvidedMetadata: map[string]any{"species": ""},
			},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ShouldRequestMetadata(&tt.s))
		})
	}
}

func TestMissingDandiFields_UserValuesFillGaps(t *testing.T) {
	t.Parallel()

	s := session.Session{
		AutoExtractedMetadata: map[string]any{"session_start_time": "2024-03-01T12:30:00Z"},
		UserProvidedMetadata:  map[string]any{"species": "Mus musculus", "sex": "M"},
	}
	missing := MissingDandiFields(&s)
	assert.NotContains(t, missing, "species")
	assert.NotContains(t, missing, "sex")
	assert.NotContains(t, missing, "session_start_time")
	assert.Contains(t, missing, "experimenter")
	assert.Contains(t, missing, "subject_id")
}

func TestCanAcceptUpload(t *testing.T) {
	t.Parallel()

	busy := []session.Status{
		session.StatusUploading, session.StatusDetectingFormat,
		session.StatusConverting, session.StatusValidating,
	}
	for _, status := range busy {
		s := session.Session{Status: status}
		assert.False(t, CanAcceptUpload(&s), "status %s", status)
	}

	idle := []session.Status{
		session.StatusIdle, session.StatusUploaded, session.StatusAwaitingUserInput,
		session.StatusAwaitingRetryApproval, session.StatusAwaitingImprovementDecision,
		session.StatusCompleted, session.StatusFailed,
	}
	for _, status := range idle {
		s := session.Session{Status: status}
		assert.True(t, CanAcceptUpload(&s), "status %s", status)
	}
}

func TestCanStartConversion(t *testing.T) {
	t.Parallel()

	s := session.Session{Status: session.StatusUploaded}
	assert.False(t, CanStartConversion(&s), "no input path")

	s.InputPath = "/uploads/rec.ap.bin"
	assert.True(t, CanStartConversion(&s))

	for _, status := range []session.Status{
		session.StatusIdle, session.StatusAwaitingUserInput,
		session.StatusCompleted, session.StatusFailed,
	} {
		s.Status = status
		assert.True(t, CanStartConversion(&s), "status %s", status)
	}

	for _, status := range []session.Status{
		session.StatusConverting, session.StatusValidating,
		session.StatusDetectingFormat, session.StatusUploading,
		session.StatusAwaitingRetryApproval,
	} {
		s.Status = status
		assert.False(t, CanStartConversion(&s), "status %s", status)
	}
}

func TestIsInActiveConversation(t *testing.T) {
	t.Parallel()

	s := session.Session{Status: session.StatusAwaitingUserInput, Phase: session.PhaseIdle}
	assert.False(t, IsInActiveConversation(&s, 0))
	assert.True(t, IsInActiveConversation(&s, 3))

	s.Phase = session.PhaseMetadataCollection
	assert.True(t, IsInActiveConversation(&s, 0))

	s.Status = session.StatusConverting
	assert.False(t, IsInActiveConversation(&s, 3))
}

func TestCanRetry(t *testing.T) {
	t.Parallel()

	s := session.Session{}
	assert.False(t, CanRetry(&s), "no changes proposed")

	s.UserProvidedInputThisAttempt = true
	assert.True(t, CanRetry(&s))

	s = session.Session{AutoCorrectionsAppliedThisAttempt: true}
	assert.True(t, CanRetry(&s))
}

func TestSafetyValve(t *testing.T) {
	t.Parallel()

	s := session.Session{CorrectionAttempt: RetrySafetyValve - 1}
	assert.NoError(t, SafetyValve(&s))

	s.CorrectionAttempt = RetrySafetyValve
	require.ErrorIs(t, SafetyValve(&s), ErrRetrySafetyValve)
}

func TestDetectNoProgress(t *testing.T) {
	t.Parallel()

	keys := []string{"E001\x00/subject/sex", "W001\x00/general"}

	tests := []struct {
		name string
		s    session.Session
		new  []string
		want bool
	}{
		{
			name: "same issues, no changes",
			s:    session.Session{PreviousValidationIssues: keys},
			new:  []string{"W001\x00/general", "E001\x00/subject/sex"},
			want: true,
		},
		{
			name: "same issues but user provided input",
			s: session.Session{
				PreviousValidationIssues:     keys,
				UserProvidedInputThisAttempt: true,
			},
			new:  keys,
			want: false,
		},
		{
			name: "same issues but auto-corrections applied",
			s: session.Session{
				PreviousValidationIssues:          keys,
				AutoCorrectionsAppliedThisAttempt: true,
			},
			new:  keys,
			want: false,
		},
		{
			name: "issue resolved",
			s:    session.Session{PreviousValidationIssues: keys},
			new:  []string{"E001\x00/subject/sex"},
			want: false,
		},
		{
			name: "new issue appeared",
			s:    session.Session{PreviousValidationIssues: keys},
			new:  append([]string{"C009\x00/acquisition"}, keys...),
			want: false,
		},
		{
			name: "first attempt has no previous issues",
			s:    session.Session{},
			new:  keys,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, DetectNoProgress(&tt.s, tt.new))
		})
	}
}
