// Package conversation implements the conversation agent: the single
// entry point for user interaction. It enforces the workflow guards,
// drives the metadata-collection dialogue, owns the retry and
// improvement decisions, and receives validation results from the
// evaluation agent.
package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/internal/logger"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/events"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/llm"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/nwb"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/session"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/workflow/actions"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/workflow/bus"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/workflow/policy"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/workflow/werr"
)

// DefaultPipelineTimeout bounds one detect-convert-validate pass. Large
// recordings convert slowly, so this is deliberately generous.
const DefaultPipelineTimeout = 30 * time.Minute

// Agent is the conversation agent.
type Agent struct {
	store *session.Store
	bus   *bus.Bus
	model llm.LanguageModel

	pipelineTimeout time.Duration
}

// New creates the conversation agent. pipelineTimeout bounds a full
// background conversion pass; zero selects DefaultPipelineTimeout.
func New(store *session.Store, b *bus.Bus, model llm.LanguageModel, pipelineTimeout time.Duration) *Agent {
	if pipelineTimeout <= 0 {
		pipelineTimeout = DefaultPipelineTimeout
	}
	return &Agent{
		store:           store,
		bus:             b,
		model:           model,
		pipelineTimeout: pipelineTimeout,
	}
}

// Register binds the agent's actions on the bus.
func (a *Agent) Register() {
	a.bus.Register(bus.AgentConversation, actions.StartConversion, a.handleStartConversion)
	a.bus.Register(bus.AgentConversation, actions.ChatMessage, a.handleChatMessage)
	a.bus.Register(bus.AgentConversation, actions.UserInput, a.handleUserInput)
	a.bus.Register(bus.AgentConversation, actions.RetryDecision, a.handleRetryDecision)
	a.bus.Register(bus.AgentConversation, actions.ImprovementDecision, a.handleImprovementDecision)
	a.bus.Register(bus.AgentConversation, actions.ReceiveValidationResult, a.handleReceiveValidationResult)
}

func (a *Agent) handleStartConversion(ctx context.Context, _ any) (any, error) {
	snap := a.store.Snapshot()
	if !policy.CanStartConversion(&snap) {
		if snap.InputPath == "" {
			return nil, werr.New(werr.KindBadRequest, "no input uploaded")
		}
		return nil, werr.New(werr.KindBadRequest,
			fmt.Sprintf("cannot start a conversion while the session is %s", snap.Status))
	}

	if policy.ShouldRequestMetadata(&snap) {
		return a.pauseForMetadata(ctx, &snap)
	}

	// Consume the start atomically: the CAS rejects a second
	// start_conversion racing in before the pipeline picks up.
	if err := a.store.Transition(snap.Status, session.StatusDetectingFormat, nil); err != nil {
		return nil, werr.Wrap(werr.KindBadRequest, "start_conversion raced with another transition", err)
	}
	a.launchPipeline(ctx, bus.Request{Target: bus.AgentConversion, Action: actions.DetectFormat})
	return &actions.StartConversionResponse{Status: "converting"}, nil
}

// pauseForMetadata parks the workflow in AWAITING_USER_INPUT and asks
// the user once for the missing DANDI-required fields.
func (a *Agent) pauseForMetadata(ctx context.Context, snap *session.Session) (any, error) {
	request := a.buildMetadataRequest(ctx, snap)

	err := a.store.Transition(snap.Status, session.StatusAwaitingUserInput, func(s *session.Session) {
		s.Phase = session.PhaseMetadataCollection
		s.MetadataPolicy = session.MetadataAskedOnce
		s.PendingConversionInputPath = s.InputPath
	})
	if err != nil {
		return nil, werr.Wrap(werr.KindBadRequest, "start_conversion raced with another transition", err)
	}

	logger.InfoCtx(ctx, "pausing for metadata collection",
		"missing_fields", len(request.Fields),
	)
	a.store.Events().Publish(events.Event{Kind: events.KindMetadataRequest, Payload: request})
	a.store.AppendMessage("assistant", metadataIntro(request))
	return &actions.StartConversionResponse{Status: "awaiting_user_input", MetadataRequest: request}, nil
}

// chatTurn is the structured model output for one chat exchange.
type chatTurn struct {
	Reply             string         `json:"reply" jsonschema_description:"The assistant's conversational reply to the user"`
	ExtractedMetadata map[string]any `json:"extracted_metadata" jsonschema_description:"Metadata field values stated by the user in this message, keyed by canonical field name"`
	DeclinedFields    []string       `json:"declined_fields" jsonschema_description:"Fields the user explicitly refused to provide"`
	ReadyToProceed    bool           `json:"ready_to_proceed" jsonschema_description:"True when the user asked to proceed with the conversion"`
	NeedsMoreInfo     bool           `json:"needs_more_info" jsonschema_description:"True when required metadata is still missing"`
}

func (a *Agent) handleChatMessage(ctx context.Context, payload any) (any, error) {
	p, ok := payload.(actions.ChatMessagePayload)
	if !ok {
		return nil, werr.New(werr.KindBadRequest, "chat_message: unexpected payload type")
	}
	if p.Message == "" {
		return nil, werr.New(werr.KindBadRequest, "empty chat message")
	}

	if !a.store.TryBeginLLM() {
		return &actions.ChatResponse{
			Status:  actions.ChatStatusBusy,
			Message: "A previous message is still being processed. Please wait for it to finish.",
		}, nil
	}
	defer a.store.EndLLM()

	snap := a.store.Snapshot()
	history := a.store.HistorySnapshot()
	a.store.AppendMessage("user", p.Message)

	var turn chatTurn
	req := llm.Request{
		System:  chatSystemPrompt(&snap),
		Prompt:  p.Message,
		History: toModelHistory(history),
	}
	if err := a.model.GenerateStructured(ctx, req, &turn); err != nil {
		explanation := a.explainError(ctx, err)
		a.store.AppendMessage("assistant", explanation.Explanation)
		logger.ErrorCtx(ctx, "chat turn failed", logger.Err(err))
		return &actions.ChatResponse{
			Status:  actions.ChatStatusError,
			Message: explanation.Explanation,
		}, nil
	}

	// Persist whatever the user stated before deciding whether to
	// proceed, so an immediate crash cannot lose their answers.
	extracted := a.persistChatTurn(&turn)
	a.store.AppendMessage("assistant", turn.Reply)

	if turn.ReadyToProceed && snap.Status == session.StatusAwaitingUserInput && snap.InputPath != "" {
		err := a.store.Transition(session.StatusAwaitingUserInput, session.StatusDetectingFormat, func(s *session.Session) {
			if s.MetadataPolicy == session.MetadataAskedOnce && len(s.UserProvidedMetadata) == 0 {
				s.MetadataPolicy = session.MetadataProceedingMinimal
			}
		})
		if err != nil {
			return nil, werr.Wrap(werr.KindBadRequest, "chat proceed raced with another transition", err)
		}
		a.launchPipeline(ctx, bus.Request{Target: bus.AgentConversion, Action: actions.DetectFormat})
		return &actions.ChatResponse{
			Status:            actions.ChatStatusReady,
			Message:           turn.Reply,
			ReadyToProceed:    true,
			ExtractedMetadata: extracted,
		}, nil
	}

	return &actions.ChatResponse{
		Status:            actions.ChatStatusContinues,
		Message:           turn.Reply,
		NeedsMoreInfo:     turn.NeedsMoreInfo,
		ExtractedMetadata: extracted,
	}, nil
}

// persistChatTurn writes extracted metadata and declined fields to the
// session and returns the metadata that was actually recorded.
func (a *Agent) persistChatTurn(turn *chatTurn) map[string]any {
	extracted := make(map[string]any, len(turn.ExtractedMetadata))
	for k, v := range turn.ExtractedMetadata {
		if v == nil || v == "" {
			continue
		}
		extracted[k] = v
	}
	if len(extracted) == 0 && len(turn.DeclinedFields) == 0 {
		return nil
	}

	a.store.Mutate(func(s *session.Session) {
		if len(extracted) > 0 {
			if s.UserProvidedMetadata == nil {
				s.UserProvidedMetadata = make(map[string]any, len(extracted))
			}
			for k, v := range extracted {
				s.UserProvidedMetadata[k] = v
			}
			s.UserProvidedInputThisAttempt = true
			s.MetadataPolicy = session.MetadataUserProvided
		}
		for _, f := range turn.DeclinedFields {
			if !s.HasDeclined(f) {
				s.DeclinedFields = append(s.DeclinedFields, f)
			}
		}
		if len(turn.DeclinedFields) > 0 && len(extracted) == 0 {
			s.MetadataPolicy = session.MetadataUserDeclined
		}
	})
	return extracted
}

func (a *Agent) handleUserInput(ctx context.Context, payload any) (any, error) {
	p, ok := payload.(actions.UserInputPayload)
	if !ok {
		return nil, werr.New(werr.KindBadRequest, "user_input: unexpected payload type")
	}

	// Cancellation obeys the same guard as field input: anything else,
	// terminal sessions included, is not cancellable. A finalized session
	// must never be re-finalized.
	snap := a.store.Snapshot()
	switch snap.Status {
	case session.StatusAwaitingUserInput, session.StatusAwaitingRetryApproval, session.StatusAwaitingImprovementDecision:
	default:
		if p.Cancel {
			return nil, werr.New(werr.KindBadRequest,
				fmt.Sprintf("nothing to cancel while the session is %s", snap.Status))
		}
		return nil, werr.New(werr.KindBadRequest,
			fmt.Sprintf("no user input is expected while the session is %s", snap.Status))
	}

	if p.Cancel {
		if err := a.finalize(ctx, snap.Status, session.TerminalFailedUserAbandon); err != nil {
			return nil, werr.Wrap(werr.KindBadRequest, "cancel raced with another transition", err)
		}
		return &actions.UserInputResponse{Status: "cancelled"}, nil
	}

	if len(p.Fields) == 0 {
		return nil, werr.New(werr.KindBadRequest, "user_input: no fields provided")
	}

	a.store.Mutate(func(s *session.Session) {
		if s.UserProvidedMetadata == nil {
			s.UserProvidedMetadata = make(map[string]any, len(p.Fields))
		}
		for k, v := range p.Fields {
			if v == nil || v == "" {
				continue
			}
			s.UserProvidedMetadata[k] = v
			// A provided value supersedes an earlier refusal.
			for i, f := range s.DeclinedFields {
				if f == k {
					s.DeclinedFields = append(s.DeclinedFields[:i], s.DeclinedFields[i+1:]...)
					break
				}
			}
		}
		s.UserProvidedInputThisAttempt = true
		s.MetadataPolicy = session.MetadataUserProvided
	})
	logger.InfoCtx(ctx, "user input recorded", "fields", len(p.Fields))

	// Metadata collection resumes the pending conversion; during the
	// retry and improvement phases the input is held for the next
	// attempt the user triggers explicitly.
	if snap.Status == session.StatusAwaitingUserInput {
		if err := a.store.Transition(session.StatusAwaitingUserInput, session.StatusDetectingFormat, nil); err != nil {
			return nil, werr.Wrap(werr.KindBadRequest, "user_input raced with another transition", err)
		}
		a.launchPipeline(ctx, bus.Request{Target: bus.AgentConversion, Action: actions.DetectFormat})
		return &actions.UserInputResponse{Status: "converting"}, nil
	}
	return &actions.UserInputResponse{Status: "recorded"}, nil
}

func (a *Agent) handleRetryDecision(ctx context.Context, payload any) (any, error) {
	p, ok := payload.(actions.RetryDecisionPayload)
	if !ok {
		return nil, werr.New(werr.KindBadRequest, "retry_decision: unexpected payload type")
	}

	snap := a.store.Snapshot()
	if snap.Status != session.StatusAwaitingRetryApproval {
		return nil, werr.New(werr.KindBadRequest,
			fmt.Sprintf("no retry decision is pending while the session is %s", snap.Status))
	}

	if !p.Approve {
		if err := a.finalize(ctx, session.StatusAwaitingRetryApproval, session.TerminalFailedUserDeclined); err != nil {
			return nil, werr.Wrap(werr.KindBadRequest, "retry decision raced with another decision", err)
		}
		return &actions.RetryDecisionResponse{Status: "declined"}, nil
	}

	if err := policy.SafetyValve(&snap); err != nil {
		return nil, werr.Wrap(werr.KindBadRequest, "retry limit reached", err).
			WithContext(logger.KeyAttempt, snap.CorrectionAttempt)
	}

	var newKeys []string
	if snap.ValidationReport != nil {
		newKeys = snap.ValidationReport.IssueKeySet()
	}
	noProgress := policy.DetectNoProgress(&snap, newKeys)
	if noProgress && !p.RetryAnyway {
		return &actions.RetryDecisionResponse{
			Status:            "no_progress",
			NoProgressWarning: true,
			Message: "Nothing has changed since the last attempt: the same issues would be reported again. " +
				"Provide additional metadata, or set retry_anyway to force the retry.",
		}, nil
	}

	if err := a.beginNextAttempt(ctx, &snap, newKeys); err != nil {
		return nil, werr.Wrap(werr.KindBadRequest, "retry decision raced with another decision", err)
	}
	return &actions.RetryDecisionResponse{Status: "retrying", NoProgressWarning: noProgress}, nil
}

func (a *Agent) handleImprovementDecision(ctx context.Context, payload any) (any, error) {
	p, ok := payload.(actions.ImprovementDecisionPayload)
	if !ok {
		return nil, werr.New(werr.KindBadRequest, "improvement_decision: unexpected payload type")
	}

	snap := a.store.Snapshot()
	if snap.Status != session.StatusAwaitingImprovementDecision {
		return nil, werr.New(werr.KindBadRequest,
			fmt.Sprintf("no improvement decision is pending while the session is %s", snap.Status))
	}

	switch p.Action {
	case actions.ImprovementAcceptAsIs:
		if err := a.finalize(ctx, session.StatusAwaitingImprovementDecision, session.TerminalPassedAccepted); err != nil {
			return nil, werr.Wrap(werr.KindBadRequest, "improvement decision raced with another decision", err)
		}
		return &actions.ImprovementDecisionResponse{Status: "completed"}, nil

	case actions.ImprovementImprove:
		if err := policy.SafetyValve(&snap); err != nil {
			return nil, werr.Wrap(werr.KindBadRequest, "retry limit reached", err).
				WithContext(logger.KeyAttempt, snap.CorrectionAttempt)
		}
		var newKeys []string
		if snap.ValidationReport != nil {
			newKeys = snap.ValidationReport.IssueKeySet()
		}
		if err := a.beginNextAttempt(ctx, &snap, newKeys); err != nil {
			return nil, werr.Wrap(werr.KindBadRequest, "improvement decision raced with another decision", err)
		}
		return &actions.ImprovementDecisionResponse{Status: "retrying"}, nil

	default:
		return nil, werr.New(werr.KindBadRequest,
			fmt.Sprintf("unknown improvement action %q", p.Action))
	}
}

// beginNextAttempt consumes an approval: one CAS from the awaiting
// status to CONVERTING advances the correction loop bookkeeping, so a
// second decision racing in the same window fails the precondition
// instead of launching a second pipeline. Correction planning happens
// inside the pipeline goroutine so the decision endpoint stays fast.
func (a *Agent) beginNextAttempt(ctx context.Context, snap *session.Session, issueKeys []string) error {
	err := a.store.Transition(snap.Status, session.StatusConverting, func(s *session.Session) {
		s.CorrectionAttempt++
		s.PreviousValidationIssues = append([]string(nil), issueKeys...)
		s.UserProvidedInputThisAttempt = false
		s.AutoCorrectionsAppliedThisAttempt = false
		s.Phase = session.PhaseValidationAnalysis
	})
	if err != nil {
		return err
	}
	logger.InfoCtx(ctx, "correction attempt approved",
		logger.KeyAttempt, snap.CorrectionAttempt+1,
	)
	a.launchPipelineFunc(ctx, func(ctx context.Context) bus.Request {
		return bus.Request{
			Target:  bus.AgentConversion,
			Action:  actions.ApplyCorrections,
			Payload: a.deriveCorrections(ctx, snap),
		}
	})
	return nil
}

func (a *Agent) handleReceiveValidationResult(ctx context.Context, payload any) (any, error) {
	p, ok := payload.(actions.ValidationResultPayload)
	if !ok {
		return nil, werr.New(werr.KindBadRequest, "receive_validation_result: unexpected payload type")
	}

	snap := a.store.Snapshot()
	switch p.Outcome {
	case nwb.OutcomePassed:
		terminal := session.TerminalPassed
		if snap.CorrectionAttempt > 0 {
			terminal = session.TerminalPassedImproved
		}
		if err := a.finalize(ctx, session.StatusValidating, terminal); err != nil {
			return nil, werr.Wrap(werr.KindFatal, "validation result raced with another transition", err)
		}
		return &actions.Ack{Status: string(terminal)}, nil

	case nwb.OutcomePassedWithIssues:
		err := a.store.Transition(session.StatusValidating, session.StatusAwaitingImprovementDecision, func(s *session.Session) {
			s.Phase = session.PhaseImprovementDecision
		})
		if err != nil {
			return nil, werr.Wrap(werr.KindFatal, "validation result raced with another transition", err)
		}
		a.store.AppendMessage("assistant", a.describeResult(ctx, &p.Report,
			"The file is valid and can be used as is. You can accept it, or let me try to resolve the remaining findings."))
		return &actions.Ack{Status: string(session.StatusAwaitingImprovementDecision)}, nil

	case nwb.OutcomeFailed:
		err := a.store.Transition(session.StatusValidating, session.StatusAwaitingRetryApproval, func(s *session.Session) {
			s.Phase = session.PhaseValidationAnalysis
		})
		if err != nil {
			return nil, werr.Wrap(werr.KindFatal, "validation result raced with another transition", err)
		}
		a.store.AppendMessage("assistant", a.describeResult(ctx, &p.Report,
			"Validation failed. Review the issues below and approve a retry when you are ready."))
		return &actions.Ack{Status: string(session.StatusAwaitingRetryApproval)}, nil

	default:
		return nil, werr.New(werr.KindFatal, fmt.Sprintf("unknown validation outcome %q", p.Outcome))
	}
}

// finalize terminates the workflow with the user-decision outcome and
// announces it. The CAS from the expected source status makes
// finalization happen at most once: a session that already reached
// COMPLETED or FAILED fails the precondition and emits nothing.
func (a *Agent) finalize(ctx context.Context, from session.Status, terminal session.TerminalStatus) error {
	target := session.StatusFailed
	if terminal.Passed() {
		target = session.StatusCompleted
	}
	if err := a.store.Transition(from, target, func(s *session.Session) {
		s.TerminalStatus = terminal
		s.Phase = session.PhaseIdle
	}); err != nil {
		logger.ErrorCtx(ctx, "finalize transition failed", logger.Err(err))
		return err
	}
	logger.InfoCtx(ctx, "workflow finalized",
		logger.KeyStatus, string(target),
		"terminal_status", string(terminal),
	)
	a.store.Events().Publish(events.Event{
		Kind:    events.KindFinalized,
		Payload: events.Finalized{TerminalStatus: string(terminal)},
	})
	return nil
}

// launchPipeline runs one detect-convert-validate pass in the
// background. Failures are surfaced through handlePipelineFailure, never
// dropped.
func (a *Agent) launchPipeline(parent context.Context, req bus.Request) {
	a.launchPipelineFunc(parent, func(context.Context) bus.Request { return req })
}

// launchPipelineFunc is launchPipeline with a deferred request builder,
// for pipelines that need a model call to assemble their payload.
func (a *Agent) launchPipelineFunc(parent context.Context, build func(context.Context) bus.Request) {
	ctx := context.Background()
	if lc := logger.FromContext(parent); lc != nil {
		ctx = logger.WithContext(ctx, lc.Clone())
	}

	go func() {
		ctx, cancel := context.WithTimeout(ctx, a.pipelineTimeout)
		defer cancel()
		if _, err := a.bus.Send(ctx, build(ctx)); err != nil {
			a.handlePipelineFailure(ctx, err)
		}
	}()
}

// handlePipelineFailure turns a background pipeline error into user
// guidance. Fatal errors end the session; everything else parks it in
// AWAITING_RETRY_APPROVAL so the user decides what happens next.
func (a *Agent) handlePipelineFailure(ctx context.Context, err error) {
	kind := werr.KindOf(err)
	explanation := a.explainError(ctx, err)

	logger.ErrorCtx(ctx, "conversion pipeline failed",
		logger.KeyErrorKind, string(kind),
		logger.Err(err),
	)
	a.store.Events().Publish(events.Event{
		Kind: events.KindLog,
		Payload: events.Log{
			Level:   "error",
			Message: explanation.Explanation,
			Context: map[string]any{"error_kind": string(kind), "recoverable": explanation.Recoverable},
		},
	})
	a.store.AppendMessage("assistant", renderUserError(explanation))

	if kind == werr.KindFatal {
		if terr := a.store.Transition(session.StatusAny, session.StatusFailed, func(s *session.Session) {
			s.Phase = session.PhaseIdle
		}); terr != nil {
			logger.ErrorCtx(ctx, "could not mark session failed", logger.Err(terr))
		}
		return
	}

	if terr := a.store.Transition(session.StatusAny, session.StatusAwaitingRetryApproval, func(s *session.Session) {
		s.Phase = session.PhaseValidationAnalysis
	}); terr != nil {
		logger.ErrorCtx(ctx, "could not park session for retry approval", logger.Err(terr))
	}
}

func toModelHistory(history []session.Message) []llm.Message {
	out := make([]llm.Message, 0, len(history))
	for _, m := range history {
		out = append(out, llm.Message{Role: m.Role, Content: m.Content})
	}
	return out
}
