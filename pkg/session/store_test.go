package session

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/events"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/nwb"
)

func newTestStore(t *testing.T) (*Store, *events.Bus) {
	t.Helper()
	bus := events.NewBus(128)
	return NewStore(bus), bus
}

func TestNewStore_StartsIdle(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	snap := store.Snapshot()

	assert.NotEmpty(t, snap.ID)
	assert.Equal(t, StatusIdle, snap.Status)
	assert.Equal(t, PhaseIdle, snap.Phase)
	assert.Equal(t, MetadataNotAsked, snap.MetadataPolicy)
	assert.Zero(t, snap.CorrectionAttempt)
}

func TestTransition_PreconditionEnforced(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)

	require.NoError(t, store.Transition(StatusIdle, StatusUploading, nil))
	err := store.Transition(StatusIdle, StatusUploading, nil)
	require.ErrorIs(t, err, ErrBadTransition)

	// Wildcard always applies.
	require.NoError(t, store.Transition(StatusAny, StatusUploaded, nil))
	assert.Equal(t, StatusUploaded, store.Snapshot().Status)
}

func TestTransition_MutatesUnderLockAndPublishes(t *testing.T) {
	t.Parallel()

	store, bus := newTestStore(t)
	ch, cancel := bus.Subscribe(events.KindStatusUpdate)
	defer cancel()

	err := store.Transition(StatusIdle, StatusAwaitingUserInput, func(s *Session) {
		s.Phase = PhaseMetadataCollection
		s.MetadataPolicy = MetadataAskedOnce
	})
	require.NoError(t, err)

	snap := store.Snapshot()
	assert.Equal(t, StatusAwaitingUserInput, snap.Status)
	assert.Equal(t, PhaseMetadataCollection, snap.Phase)
	assert.True(t, snap.UpdatedAt.After(snap.CreatedAt) || snap.UpdatedAt.Equal(snap.CreatedAt))

	event := <-ch
	update := event.Payload.(events.StatusUpdate)
	assert.Equal(t, string(StatusAwaitingUserInput), update.Status)
	assert.Equal(t, string(PhaseMetadataCollection), update.Phase)
}

func TestSnapshot_IsDeepCopy(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	store.Mutate(func(s *Session) {
		s.UserProvidedMetadata = map[string]any{"species": "Mus musculus"}
		s.UploadedFilenames = []string{"rec.ap.bin"}
	})

	snap := store.Snapshot()
	snap.UserProvidedMetadata["species"] = "tampered"
	snap.UploadedFilenames[0] = "tampered"

	fresh := store.Snapshot()
	assert.Equal(t, "Mus musculus", fresh.UserProvidedMetadata["species"])
	assert.Equal(t, "rec.ap.bin", fresh.UploadedFilenames[0])
}

func TestSetValidationResult_DoesNotChangeStatus(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	require.NoError(t, store.Transition(StatusIdle, StatusValidating, nil))

	report := nwb.NewValidationReport("/out/rec_v1.nwb", 0, []nwb.Issue{
		{Severity: nwb.SeverityError, Code: "E001", Location: "/subject/sex"},
	})
	store.SetValidationResult(report, report.Outcome)

	snap := store.Snapshot()
	assert.Equal(t, StatusValidating, snap.Status)
	require.NotNil(t, snap.ValidationReport)
	assert.Equal(t, nwb.OutcomeFailed, snap.ValidationOutcome)
	assert.Len(t, snap.ValidationReport.Issues, 1)
}

func TestAppendMessage_RollingWindow(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	for i := 0; i < MaxHistory+10; i++ {
		store.AppendMessage("user", fmt.Sprintf("turn %d", i))
	}

	history := store.HistorySnapshot()
	require.Len(t, history, MaxHistory)
	assert.Equal(t, "turn 10", history[0].Content, "oldest messages drop from the head")
	assert.Equal(t, fmt.Sprintf("turn %d", MaxHistory+9), history[len(history)-1].Content)
}

func TestHistorySnapshot_IsCopy(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	store.AppendMessage("user", "hello")

	snap := store.HistorySnapshot()
	snap[0].Content = "tampered"
	assert.Equal(t, "hello", store.HistorySnapshot()[0].Content)
}

func TestReset_ZeroesEverything(t *testing.T) {
	t.Parallel()

	store, bus := newTestStore(t)
	ch, cancel := bus.Subscribe(events.KindReset)
	defer cancel()

	before := store.Snapshot()
	require.NoError(t, store.Transition(StatusIdle, StatusUploaded, func(s *Session) {
		s.InputPath = "/uploads/rec.ap.bin"
		s.InputChecksum = "abc"
		s.UserProvidedMetadata = map[string]any{"sex": "M"}
		s.CorrectionAttempt = 3
		s.OutputPath = "/out/rec_v3.nwb"
		s.DeclinedFields = []string{"experimenter"}
	}))
	store.AppendMessage("user", "hi")

	require.NoError(t, store.Reset())
	snap := store.Snapshot()

	assert.NotEqual(t, before.ID, snap.ID, "reset mints a new session identity")
	assert.Equal(t, StatusIdle, snap.Status)
	assert.Empty(t, snap.InputPath)
	assert.Empty(t, snap.InputChecksum)
	assert.Empty(t, snap.UserProvidedMetadata)
	assert.Empty(t, snap.OutputPath)
	assert.Empty(t, snap.DeclinedFields)
	assert.Zero(t, snap.CorrectionAttempt)
	assert.Zero(t, store.HistoryLen())

	event := <-ch
	assert.Equal(t, events.KindReset, event.Kind)
}

func TestReset_RejectedWhileActive(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	for _, status := range []Status{StatusUploading, StatusDetectingFormat, StatusConverting, StatusValidating} {
		require.NoError(t, store.Transition(StatusAny, status, nil))
		require.ErrorIs(t, store.Reset(), ErrResetActive, "status %s", status)
	}

	require.NoError(t, store.Transition(StatusAny, StatusFailed, nil))
	assert.NoError(t, store.Reset())
}

func TestLLMSingleFlight(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)

	const callers = 16
	var wg sync.WaitGroup
	acquired := make(chan struct{}, callers)
	release := make(chan struct{})

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if store.TryBeginLLM() {
				acquired <- struct{}{}
				<-release
				store.EndLLM()
			}
		}()
	}

	// Exactly one goroutine wins the guard while it is held.
	<-acquired
	assert.True(t, store.LLMInFlight())
	select {
	case <-acquired:
		t.Fatal("second caller acquired the single-flight guard")
	default:
	}

	close(release)
	wg.Wait()
	assert.False(t, store.LLMInFlight())
	assert.True(t, store.TryBeginLLM())
	store.EndLLM()
}

func TestEffectiveMetadata_UserWins(t *testing.T) {
	t.Parallel()

	s := Session{
		AutoExtractedMetadata: map[string]any{"species": "auto", "sampling_rate_hz": 30000},
		UserProvidedMetadata:  map[string]any{"species": "Mus musculus", "sex": "M"},
	}

	merged := s.EffectiveMetadata()
	assert.Equal(t, "Mus musculus", merged["species"])
	assert.Equal(t, 30000, merged["sampling_rate_hz"])
	assert.Equal(t, "M", merged["sex"])
}
