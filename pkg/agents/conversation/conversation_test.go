package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/events"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/llm"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/nwb"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/session"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/workflow/actions"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/workflow/bus"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/workflow/policy"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/workflow/werr"
)

const waitFor = 2 * time.Second

// scriptModel replays a queue of structured responses; an exhausted or
// unscripted model fails, which exercises the deterministic fallbacks.
type scriptModel struct {
	mu    sync.Mutex
	fills []func(out any) error
}

func (m *scriptModel) push(fill func(out any) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fills = append(m.fills, fill)
}

func (m *scriptModel) Generate(context.Context, llm.Request) (string, error) {
	return "", errors.New("not scripted")
}

func (m *scriptModel) GenerateStructured(_ context.Context, _ llm.Request, out any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.fills) == 0 {
		return errors.New("model unavailable")
	}
	fill := m.fills[0]
	m.fills = m.fills[1:]
	return fill(out)
}

type fixture struct {
	agent *Agent
	store *session.Store
	bus   *bus.Bus
	model *scriptModel

	mu      sync.Mutex
	sent    []bus.Request
	sentCh  chan bus.Request
	sendErr error
}

// newFixture wires the conversation agent against stub conversion
// handlers so pipeline launches are observable without real conversions.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  session.NewStore(events.NewBus(0)),
		bus:    bus.New(),
		model:  &scriptModel{},
		sentCh: make(chan bus.Request, 8),
	}
	record := func(action bus.Action) bus.Handler {
		return func(_ context.Context, payload any) (any, error) {
			req := bus.Request{Target: bus.AgentConversion, Action: action, Payload: payload}
			f.mu.Lock()
			f.sent = append(f.sent, req)
			err := f.sendErr
			f.mu.Unlock()
			f.sentCh <- req
			if err != nil {
				return nil, err
			}
			return &actions.Ack{Status: "ok"}, nil
		}
	}
	f.bus.Register(bus.AgentConversion, actions.DetectFormat, record(actions.DetectFormat))
	f.bus.Register(bus.AgentConversion, actions.ApplyCorrections, record(actions.ApplyCorrections))

	f.agent = New(f.store, f.bus, f.model, time.Minute)
	f.agent.Register()
	return f
}

func (f *fixture) failPipelines(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

func (f *fixture) waitPipeline(t *testing.T) bus.Request {
	t.Helper()
	select {
	case req := <-f.sentCh:
		return req
	case <-time.After(waitFor):
		t.Fatal("no pipeline was launched")
		return bus.Request{}
	}
}

func (f *fixture) send(t *testing.T, action bus.Action, payload any) (any, error) {
	t.Helper()
	return f.bus.Send(context.Background(), bus.Request{
		Target:  bus.AgentConversation,
		Action:  action,
		Payload: payload,
	})
}

func (f *fixture) seed(t *testing.T, status session.Status, mutate func(*session.Session)) {
	t.Helper()
	require.NoError(t, f.store.Transition(session.StatusAny, status, mutate))
}

func fullMetadata() map[string]any {
	m := make(map[string]any, len(policy.DandiRequiredFields))
	for _, field := range policy.DandiRequiredFields {
		m[field] = "supplied"
	}
	return m
}

func TestStartConversion_NoInput(t *testing.T) {
	f := newFixture(t)

	_, err := f.send(t, actions.StartConversion, actions.StartConversionPayload{})
	require.Error(t, err)
	assert.True(t, werr.Is(err, werr.KindBadRequest))
}

func TestStartConversion_RejectedWhileBusy(t *testing.T) {
	f := newFixture(t)
	f.seed(t, session.StatusConverting, func(s *session.Session) { s.InputPath = "/in/rec.bin" })

	_, err := f.send(t, actions.StartConversion, actions.StartConversionPayload{})
	require.Error(t, err)
	assert.True(t, werr.Is(err, werr.KindBadRequest))
}

func TestStartConversion_PausesForMissingMetadata(t *testing.T) {
	f := newFixture(t)
	f.seed(t, session.StatusUploaded, func(s *session.Session) { s.InputPath = "/in/rec.bin" })

	resp, err := f.send(t, actions.StartConversion, actions.StartConversionPayload{})
	require.NoError(t, err)

	start := resp.(*actions.StartConversionResponse)
	assert.Equal(t, "awaiting_user_input", start.Status)
	require.NotNil(t, start.MetadataRequest)
	assert.Len(t, start.MetadataRequest.Fields, len(policy.DandiRequiredFields))
	// Catalog text survives a failing model.
	assert.Equal(t, "Experimenter", start.MetadataRequest.Fields[0].DisplayName)

	snap := f.store.Snapshot()
	assert.Equal(t, session.StatusAwaitingUserInput, snap.Status)
	assert.Equal(t, session.PhaseMetadataCollection, snap.Phase)
	assert.Equal(t, session.MetadataAskedOnce, snap.MetadataPolicy)
	assert.Equal(t, "/in/rec.bin", snap.PendingConversionInputPath)
	assert.Zero(t, len(f.sentCh), "no pipeline may start while awaiting metadata")
}

func TestStartConversion_AsksOnlyOnce(t *testing.T) {
	f := newFixture(t)
	f.seed(t, session.StatusUploaded, func(s *session.Session) {
		s.InputPath = "/in/rec.bin"
		s.MetadataPolicy = session.MetadataUserDeclined
	})

	resp, err := f.send(t, actions.StartConversion, actions.StartConversionPayload{})
	require.NoError(t, err)

	assert.Equal(t, "converting", resp.(*actions.StartConversionResponse).Status)
	assert.Equal(t, actions.DetectFormat, f.waitPipeline(t).Action)
}

func TestStartConversion_CompleteMetadataProceeds(t *testing.T) {
	f := newFixture(t)
	f.seed(t, session.StatusUploaded, func(s *session.Session) {
		s.InputPath = "/in/rec.bin"
		s.UserProvidedMetadata = fullMetadata()
	})

	resp, err := f.send(t, actions.StartConversion, actions.StartConversionPayload{})
	require.NoError(t, err)

	assert.Equal(t, "converting", resp.(*actions.StartConversionResponse).Status)
	assert.Equal(t, actions.DetectFormat, f.waitPipeline(t).Action)
}

func TestChat_BusyWhileAnotherTurnRuns(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.store.TryBeginLLM())
	defer f.store.EndLLM()

	resp, err := f.send(t, actions.ChatMessage, actions.ChatMessagePayload{Message: "hello"})
	require.NoError(t, err)
	assert.Equal(t, actions.ChatStatusBusy, resp.(*actions.ChatResponse).Status)
}

func TestChat_EmptyMessageRejected(t *testing.T) {
	f := newFixture(t)

	_, err := f.send(t, actions.ChatMessage, actions.ChatMessagePayload{})
	require.Error(t, err)
	assert.True(t, werr.Is(err, werr.KindBadRequest))
}

func TestChat_ExtractsMetadataThenProceeds(t *testing.T) {
	f := newFixture(t)
	f.seed(t, session.StatusAwaitingUserInput, func(s *session.Session) {
		s.InputPath = "/in/rec.bin"
		s.Phase = session.PhaseMetadataCollection
		s.MetadataPolicy = session.MetadataAskedOnce
	})
	f.model.push(func(out any) error {
		*(out.(*chatTurn)) = chatTurn{
			Reply:             "Recorded. Starting the conversion now.",
			ExtractedMetadata: map[string]any{"species": "Mus musculus", "sex": "F"},
			ReadyToProceed:    true,
		}
		return nil
	})

	resp, err := f.send(t, actions.ChatMessage, actions.ChatMessagePayload{Message: "Mouse, female. Go ahead."})
	require.NoError(t, err)

	chat := resp.(*actions.ChatResponse)
	assert.Equal(t, actions.ChatStatusReady, chat.Status)
	assert.Equal(t, "Mus musculus", chat.ExtractedMetadata["species"])

	snap := f.store.Snapshot()
	assert.Equal(t, "Mus musculus", snap.UserProvidedMetadata["species"])
	assert.Equal(t, "F", snap.UserProvidedMetadata["sex"])
	assert.True(t, snap.UserProvidedInputThisAttempt)
	assert.Equal(t, session.MetadataUserProvided, snap.MetadataPolicy)
	assert.Equal(t, actions.DetectFormat, f.waitPipeline(t).Action)
	assert.False(t, f.store.LLMInFlight(), "single-flight guard must be released")
}

func TestChat_ContinuesWhenMoreInfoNeeded(t *testing.T) {
	f := newFixture(t)
	f.seed(t, session.StatusAwaitingUserInput, func(s *session.Session) {
		s.InputPath = "/in/rec.bin"
		s.Phase = session.PhaseMetadataCollection
	})
	f.model.push(func(out any) error {
		*(out.(*chatTurn)) = chatTurn{
			Reply:         "What species is the subject?",
			NeedsMoreInfo: true,
		}
		return nil
	})

	resp, err := f.send(t, actions.ChatMessage, actions.ChatMessagePayload{Message: "The experimenter was Dr. Vega."})
	require.NoError(t, err)

	chat := resp.(*actions.ChatResponse)
	assert.Equal(t, actions.ChatStatusContinues, chat.Status)
	assert.True(t, chat.NeedsMoreInfo)
	assert.Zero(t, len(f.sentCh))
	assert.Equal(t, 2, f.store.HistoryLen(), "user and assistant turns recorded")
}

func TestChat_DeclinedFieldsRecorded(t *testing.T) {
	f := newFixture(t)
	f.seed(t, session.StatusAwaitingUserInput, func(s *session.Session) {
		s.InputPath = "/in/rec.bin"
	})
	f.model.push(func(out any) error {
		*(out.(*chatTurn)) = chatTurn{
			Reply:          "Understood, I will not ask about sex again.",
			DeclinedFields: []string{"sex"},
		}
		return nil
	})

	_, err := f.send(t, actions.ChatMessage, actions.ChatMessagePayload{Message: "I don't want to share the sex."})
	require.NoError(t, err)

	snap := f.store.Snapshot()
	assert.True(t, snap.HasDeclined("sex"))
	assert.Equal(t, session.MetadataUserDeclined, snap.MetadataPolicy)
}

func TestChat_ModelFailureSurfacesErrorStatus(t *testing.T) {
	f := newFixture(t)
	f.seed(t, session.StatusAwaitingUserInput, func(s *session.Session) {
		s.InputPath = "/in/rec.bin"
	})

	resp, err := f.send(t, actions.ChatMessage, actions.ChatMessagePayload{Message: "hello"})
	require.NoError(t, err)

	chat := resp.(*actions.ChatResponse)
	assert.Equal(t, actions.ChatStatusError, chat.Status)
	assert.NotEmpty(t, chat.Message)
	assert.False(t, f.store.LLMInFlight())
}

func TestUserInput_RejectedOutsideInputPhases(t *testing.T) {
	f := newFixture(t)
	f.seed(t, session.StatusConverting, nil)

	_, err := f.send(t, actions.UserInput, actions.UserInputPayload{Fields: map[string]any{"sex": "M"}})
	require.Error(t, err)
	assert.True(t, werr.Is(err, werr.KindBadRequest))
}

func TestUserInput_CancelAbandonsWorkflow(t *testing.T) {
	f := newFixture(t)
	f.seed(t, session.StatusAwaitingUserInput, func(s *session.Session) { s.InputPath = "/in/rec.bin" })

	finalized, cancel := f.store.Events().Subscribe(events.KindFinalized)
	defer cancel()

	resp, err := f.send(t, actions.UserInput, actions.UserInputPayload{Cancel: true})
	require.NoError(t, err)
	assert.Equal(t, "cancelled", resp.(*actions.UserInputResponse).Status)

	snap := f.store.Snapshot()
	assert.Equal(t, session.StatusFailed, snap.Status)
	assert.Equal(t, session.TerminalFailedUserAbandon, snap.TerminalStatus)

	select {
	case ev := <-finalized:
		assert.Equal(t, string(session.TerminalFailedUserAbandon), ev.Payload.(events.Finalized).TerminalStatus)
	case <-time.After(waitFor):
		t.Fatal("no finalized event")
	}
}

func TestUserInput_CancelRejectedOnTerminalSession(t *testing.T) {
	f := newFixture(t)
	f.seed(t, session.StatusCompleted, func(s *session.Session) {
		s.TerminalStatus = session.TerminalPassed
	})

	finalized, cancel := f.store.Events().Subscribe(events.KindFinalized)
	defer cancel()

	_, err := f.send(t, actions.UserInput, actions.UserInputPayload{Cancel: true})
	require.Error(t, err)
	assert.True(t, werr.Is(err, werr.KindBadRequest))

	snap := f.store.Snapshot()
	assert.Equal(t, session.StatusCompleted, snap.Status, "a completed session stays completed")
	assert.Equal(t, session.TerminalPassed, snap.TerminalStatus)

	select {
	case <-finalized:
		t.Fatal("a terminal session must not be finalized again")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUserInput_CancelRejectedWhileConverting(t *testing.T) {
	f := newFixture(t)
	f.seed(t, session.StatusConverting, func(s *session.Session) { s.InputPath = "/in/rec.bin" })

	_, err := f.send(t, actions.UserInput, actions.UserInputPayload{Cancel: true})
	require.Error(t, err)
	assert.True(t, werr.Is(err, werr.KindBadRequest))
	assert.Equal(t, session.StatusConverting, f.store.Snapshot().Status)
}

func TestUserInput_ResumesPendingConversion(t *testing.T) {
	f := newFixture(t)
	f.seed(t, session.StatusAwaitingUserInput, func(s *session.Session) {
		s.InputPath = "/in/rec.bin"
		s.PendingConversionInputPath = "/in/rec.bin"
		s.DeclinedFields = []string{"sex"}
	})

	resp, err := f.send(t, actions.UserInput, actions.UserInputPayload{Fields: map[string]any{"sex": "M"}})
	require.NoError(t, err)
	assert.Equal(t, "converting", resp.(*actions.UserInputResponse).Status)

	snap := f.store.Snapshot()
	assert.Equal(t, "M", snap.UserProvidedMetadata["sex"])
	assert.False(t, snap.HasDeclined("sex"), "providing a value clears the refusal")
	assert.True(t, snap.UserProvidedInputThisAttempt)
	assert.Equal(t, actions.DetectFormat, f.waitPipeline(t).Action)
}

func TestUserInput_HeldDuringRetryApproval(t *testing.T) {
	f := newFixture(t)
	f.seed(t, session.StatusAwaitingRetryApproval, func(s *session.Session) { s.InputPath = "/in/rec.bin" })

	resp, err := f.send(t, actions.UserInput, actions.UserInputPayload{Fields: map[string]any{"sex": "M"}})
	require.NoError(t, err)
	assert.Equal(t, "recorded", resp.(*actions.UserInputResponse).Status)
	assert.Zero(t, len(f.sentCh), "retry input must not start a conversion by itself")
	assert.True(t, f.store.Snapshot().UserProvidedInputThisAttempt)
}

func failedReport() *nwb.ValidationReport {
	report := nwb.NewValidationReport("/out/rec_v1.nwb", 0, []nwb.Issue{
		{Severity: nwb.SeverityError, Code: "missing_subject", Location: "/general/subject"},
	})
	return &report
}

func TestRetryDecision_DeclineFinalizes(t *testing.T) {
	f := newFixture(t)
	f.seed(t, session.StatusAwaitingRetryApproval, func(s *session.Session) {
		s.ValidationReport = failedReport()
	})

	resp, err := f.send(t, actions.RetryDecision, actions.RetryDecisionPayload{Approve: false})
	require.NoError(t, err)
	assert.Equal(t, "declined", resp.(*actions.RetryDecisionResponse).Status)

	snap := f.store.Snapshot()
	assert.Equal(t, session.StatusFailed, snap.Status)
	assert.Equal(t, session.TerminalFailedUserDeclined, snap.TerminalStatus)
}

func TestRetryDecision_NoProgressWarnsWithoutStarting(t *testing.T) {
	f := newFixture(t)
	report := failedReport()
	f.seed(t, session.StatusAwaitingRetryApproval, func(s *session.Session) {
		s.ValidationReport = report
		s.PreviousValidationIssues = report.IssueKeySet()
	})

	resp, err := f.send(t, actions.RetryDecision, actions.RetryDecisionPayload{Approve: true})
	require.NoError(t, err)

	rd := resp.(*actions.RetryDecisionResponse)
	assert.True(t, rd.NoProgressWarning)
	assert.Equal(t, "no_progress", rd.Status)
	assert.Zero(t, len(f.sentCh), "a warned retry must not start")
	assert.Equal(t, 0, f.store.Snapshot().CorrectionAttempt)
}

func TestRetryDecision_RetryAnywayOverridesWarning(t *testing.T) {
	f := newFixture(t)
	report := failedReport()
	f.seed(t, session.StatusAwaitingRetryApproval, func(s *session.Session) {
		s.ValidationReport = report
		s.PreviousValidationIssues = report.IssueKeySet()
	})

	resp, err := f.send(t, actions.RetryDecision, actions.RetryDecisionPayload{Approve: true, RetryAnyway: true})
	require.NoError(t, err)

	rd := resp.(*actions.RetryDecisionResponse)
	assert.Equal(t, "retrying", rd.Status)
	assert.True(t, rd.NoProgressWarning)

	req := f.waitPipeline(t)
	assert.Equal(t, actions.ApplyCorrections, req.Action)

	snap := f.store.Snapshot()
	assert.Equal(t, 1, snap.CorrectionAttempt)
	assert.False(t, snap.UserProvidedInputThisAttempt)
	assert.False(t, snap.AutoCorrectionsAppliedThisAttempt)
	assert.Equal(t, report.IssueKeySet(), snap.PreviousValidationIssues)
}

func TestRetryDecision_ProgressRetriesSilently(t *testing.T) {
	f := newFixture(t)
	f.seed(t, session.StatusAwaitingRetryApproval, func(s *session.Session) {
		s.ValidationReport = failedReport()
		s.UserProvidedInputThisAttempt = true
	})

	resp, err := f.send(t, actions.RetryDecision, actions.RetryDecisionPayload{Approve: true})
	require.NoError(t, err)

	rd := resp.(*actions.RetryDecisionResponse)
	assert.Equal(t, "retrying", rd.Status)
	assert.False(t, rd.NoProgressWarning)
	assert.Equal(t, actions.ApplyCorrections, f.waitPipeline(t).Action)
}

func TestRetryDecision_ApprovalConsumedAtomically(t *testing.T) {
	f := newFixture(t)
	f.seed(t, session.StatusAwaitingRetryApproval, func(s *session.Session) {
		s.ValidationReport = failedReport()
		s.UserProvidedInputThisAttempt = true
	})

	resp, err := f.send(t, actions.RetryDecision, actions.RetryDecisionPayload{Approve: true})
	require.NoError(t, err)
	assert.Equal(t, "retrying", resp.(*actions.RetryDecisionResponse).Status)

	// The approval itself moved the session out of the decision state;
	// it does not wait for the background pipeline to do so.
	assert.Equal(t, session.StatusConverting, f.store.Snapshot().Status)

	_, err = f.send(t, actions.RetryDecision, actions.RetryDecisionPayload{Approve: true})
	require.Error(t, err, "a second approval must not start a second attempt")
	assert.True(t, werr.Is(err, werr.KindBadRequest))

	assert.Equal(t, actions.ApplyCorrections, f.waitPipeline(t).Action)
	assert.Zero(t, len(f.sentCh), "exactly one pipeline may launch per approval")
	assert.Equal(t, 1, f.store.Snapshot().CorrectionAttempt)
}

func TestRetryDecision_SafetyValve(t *testing.T) {
	f := newFixture(t)
	f.seed(t, session.StatusAwaitingRetryApproval, func(s *session.Session) {
		s.ValidationReport = failedReport()
		s.CorrectionAttempt = policy.RetrySafetyValve
	})

	_, err := f.send(t, actions.RetryDecision, actions.RetryDecisionPayload{Approve: true, RetryAnyway: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, policy.ErrRetrySafetyValve)
}

func TestRetryDecision_WrongPhase(t *testing.T) {
	f := newFixture(t)

	_, err := f.send(t, actions.RetryDecision, actions.RetryDecisionPayload{Approve: true})
	require.Error(t, err)
	assert.True(t, werr.Is(err, werr.KindBadRequest))
}

func TestImprovementDecision_AcceptAsIs(t *testing.T) {
	f := newFixture(t)
	f.seed(t, session.StatusAwaitingImprovementDecision, func(s *session.Session) {
		s.ValidationOutcome = nwb.OutcomePassedWithIssues
	})

	resp, err := f.send(t, actions.ImprovementDecision, actions.ImprovementDecisionPayload{Action: actions.ImprovementAcceptAsIs})
	require.NoError(t, err)
	assert.Equal(t, "completed", resp.(*actions.ImprovementDecisionResponse).Status)

	snap := f.store.Snapshot()
	assert.Equal(t, session.StatusCompleted, snap.Status)
	assert.Equal(t, session.TerminalPassedAccepted, snap.TerminalStatus)
}

func TestImprovementDecision_Improve(t *testing.T) {
	f := newFixture(t)
	f.seed(t, session.StatusAwaitingImprovementDecision, func(s *session.Session) {
		s.ValidationReport = failedReport()
	})

	resp, err := f.send(t, actions.ImprovementDecision, actions.ImprovementDecisionPayload{Action: actions.ImprovementImprove})
	require.NoError(t, err)
	assert.Equal(t, "retrying", resp.(*actions.ImprovementDecisionResponse).Status)
	assert.Equal(t, actions.ApplyCorrections, f.waitPipeline(t).Action)
	assert.Equal(t, 1, f.store.Snapshot().CorrectionAttempt)
}

func TestImprovementDecision_SecondDecisionRejected(t *testing.T) {
	f := newFixture(t)
	f.seed(t, session.StatusAwaitingImprovementDecision, func(s *session.Session) {
		s.ValidationReport = failedReport()
	})

	resp, err := f.send(t, actions.ImprovementDecision, actions.ImprovementDecisionPayload{Action: actions.ImprovementImprove})
	require.NoError(t, err)
	assert.Equal(t, "retrying", resp.(*actions.ImprovementDecisionResponse).Status)
	assert.Equal(t, session.StatusConverting, f.store.Snapshot().Status)

	_, err = f.send(t, actions.ImprovementDecision, actions.ImprovementDecisionPayload{Action: actions.ImprovementImprove})
	require.Error(t, err)
	assert.True(t, werr.Is(err, werr.KindBadRequest))

	assert.Equal(t, actions.ApplyCorrections, f.waitPipeline(t).Action)
	assert.Zero(t, len(f.sentCh), "exactly one pipeline may launch per decision")
	assert.Equal(t, 1, f.store.Snapshot().CorrectionAttempt)
}

func TestImprovementDecision_AcceptFinalizesOnce(t *testing.T) {
	f := newFixture(t)
	f.seed(t, session.StatusAwaitingImprovementDecision, func(s *session.Session) {
		s.ValidationOutcome = nwb.OutcomePassedWithIssues
	})

	finalized, cancel := f.store.Events().Subscribe(events.KindFinalized)
	defer cancel()

	_, err := f.send(t, actions.ImprovementDecision, actions.ImprovementDecisionPayload{Action: actions.ImprovementAcceptAsIs})
	require.NoError(t, err)

	_, err = f.send(t, actions.ImprovementDecision, actions.ImprovementDecisionPayload{Action: actions.ImprovementAcceptAsIs})
	require.Error(t, err)
	assert.True(t, werr.Is(err, werr.KindBadRequest))

	select {
	case ev := <-finalized:
		assert.Equal(t, string(session.TerminalPassedAccepted), ev.Payload.(events.Finalized).TerminalStatus)
	case <-time.After(waitFor):
		t.Fatal("no finalized event")
	}
	select {
	case <-finalized:
		t.Fatal("finalized must be emitted exactly once")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestImprovementDecision_UnknownAction(t *testing.T) {
	f := newFixture(t)
	f.seed(t, session.StatusAwaitingImprovementDecision, nil)

	_, err := f.send(t, actions.ImprovementDecision, actions.ImprovementDecisionPayload{Action: "shrug"})
	require.Error(t, err)
	assert.True(t, werr.Is(err, werr.KindBadRequest))
}

func TestReceiveValidationResult_PassedFirstAttempt(t *testing.T) {
	f := newFixture(t)
	f.seed(t, session.StatusValidating, nil)

	_, err := f.send(t, actions.ReceiveValidationResult, actions.ValidationResultPayload{
		Outcome: nwb.OutcomePassed,
		Report:  nwb.NewValidationReport("/out/rec_v1.nwb", 0, nil),
	})
	require.NoError(t, err)

	snap := f.store.Snapshot()
	assert.Equal(t, session.StatusCompleted, snap.Status)
	assert.Equal(t, session.TerminalPassed, snap.TerminalStatus)
}

func TestReceiveValidationResult_PassedAfterCorrections(t *testing.T) {
	f := newFixture(t)
	f.seed(t, session.StatusValidating, func(s *session.Session) { s.CorrectionAttempt = 2 })

	_, err := f.send(t, actions.ReceiveValidationResult, actions.ValidationResultPayload{
		Outcome: nwb.OutcomePassed,
		Report:  nwb.NewValidationReport("/out/rec_v3.nwb", 2, nil),
	})
	require.NoError(t, err)

	assert.Equal(t, session.TerminalPassedImproved, f.store.Snapshot().TerminalStatus)
}

func TestReceiveValidationResult_WithIssuesAwaitsDecision(t *testing.T) {
	f := newFixture(t)
	f.seed(t, session.StatusValidating, nil)

	report := nwb.NewValidationReport("/out/rec_v1.nwb", 0, []nwb.Issue{
		{Severity: nwb.SeverityWarning, Code: "short_description", Location: "/session_description"},
	})
	_, err := f.send(t, actions.ReceiveValidationResult, actions.ValidationResultPayload{
		Outcome: report.Outcome,
		Report:  report,
	})
	require.NoError(t, err)

	snap := f.store.Snapshot()
	assert.Equal(t, session.StatusAwaitingImprovementDecision, snap.Status)
	assert.Equal(t, session.PhaseImprovementDecision, snap.Phase)
	assert.Greater(t, f.store.HistoryLen(), 0, "the result is explained in chat")
}

func TestReceiveValidationResult_FailedAwaitsRetryApproval(t *testing.T) {
	f := newFixture(t)
	f.seed(t, session.StatusValidating, nil)

	report := *failedReport()
	_, err := f.send(t, actions.ReceiveValidationResult, actions.ValidationResultPayload{
		Outcome: report.Outcome,
		Report:  report,
	})
	require.NoError(t, err)

	snap := f.store.Snapshot()
	assert.Equal(t, session.StatusAwaitingRetryApproval, snap.Status)
	assert.Equal(t, session.PhaseValidationAnalysis, snap.Phase)
}

func TestPipelineFailure_ParksForRetryApproval(t *testing.T) {
	f := newFixture(t)
	f.seed(t, session.StatusUploaded, func(s *session.Session) {
		s.InputPath = "/in/rec.bin"
		s.MetadataPolicy = session.MetadataProceedingMinimal
	})
	f.failPipelines(werr.New(werr.KindDependencyFailed, "converter failed"))

	logCh, cancel := f.store.Events().Subscribe(events.KindLog)
	defer cancel()

	_, err := f.send(t, actions.StartConversion, actions.StartConversionPayload{})
	require.NoError(t, err)
	f.waitPipeline(t)

	require.Eventually(t, func() bool {
		return f.store.Snapshot().Status == session.StatusAwaitingRetryApproval
	}, waitFor, 10*time.Millisecond)

	select {
	case ev := <-logCh:
		logEvent := ev.Payload.(events.Log)
		assert.Equal(t, "error", logEvent.Level)
		assert.NotEmpty(t, logEvent.Message)
	case <-time.After(waitFor):
		t.Fatal("no error log event")
	}
}

func TestPipelineFailure_FatalEndsSession(t *testing.T) {
	f := newFixture(t)
	f.seed(t, session.StatusUploaded, func(s *session.Session) {
		s.InputPath = "/in/rec.bin"
		s.MetadataPolicy = session.MetadataProceedingMinimal
	})
	f.failPipelines(werr.New(werr.KindFatal, "output version already exists"))

	_, err := f.send(t, actions.StartConversion, actions.StartConversionPayload{})
	require.NoError(t, err)
	f.waitPipeline(t)

	require.Eventually(t, func() bool {
		return f.store.Snapshot().Status == session.StatusFailed
	}, waitFor, 10*time.Millisecond)
}
