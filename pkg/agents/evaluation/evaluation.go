// Package evaluation implements the evaluation agent: it runs the
// external NWB validator over a conversion output, derives the outcome,
// enriches the issue list with model-generated explanations and
// priorities, renders report files, and hands the result back to the
// conversation agent over the bus.
package evaluation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/internal/logger"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/events"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/llm"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/nwb"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/session"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/workflow/actions"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/workflow/bus"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/workflow/werr"
)

// CodeValidatorUnavailable is the synthetic issue code recorded when the
// validator itself cannot run. A crash is never reported as a pass.
const CodeValidatorUnavailable = "validator_unavailable"

// Agent is the evaluation agent.
type Agent struct {
	store     *session.Store
	bus       *bus.Bus
	validator nwb.Validator
	model     llm.LanguageModel
	reporter  nwb.Reporter
}

// New creates the evaluation agent.
func New(store *session.Store, b *bus.Bus, validator nwb.Validator, model llm.LanguageModel, reporter nwb.Reporter) *Agent {
	return &Agent{
		store:     store,
		bus:       b,
		validator: validator,
		model:     model,
		reporter:  reporter,
	}
}

// Register binds the agent's actions on the bus.
func (a *Agent) Register() {
	a.bus.Register(bus.AgentEvaluation, actions.RunValidation, a.handleRunValidation)
}

func (a *Agent) handleRunValidation(ctx context.Context, payload any) (any, error) {
	p, ok := payload.(actions.RunValidationPayload)
	if !ok {
		return nil, werr.New(werr.KindBadRequest, "run_validation: unexpected payload type")
	}

	// Narrate the hand-off: the converter's own progress stream ended at
	// 100, so clients watching /events see the pipeline is still alive.
	a.store.Events().Publish(events.Event{
		Kind:    events.KindProgress,
		Payload: events.Progress{Percent: 100, Message: "inspecting NWB output"},
	})

	issues, err := a.validator.Validate(ctx, p.OutputPath)
	if err != nil {
		logger.ErrorCtx(ctx, "validator failed, recording synthetic error",
			logger.KeyPath, p.OutputPath,
			logger.Err(err),
		)
		issues = []nwb.Issue{{
			Severity: nwb.SeverityError,
			Code:     CodeValidatorUnavailable,
			Message:  fmt.Sprintf("the validator could not inspect the file: %v", err),
			Location: "/",
		}}
	}

	report := nwb.NewValidationReport(p.OutputPath, p.Attempt, issues)
	report.Enriched = a.enrich(ctx, report.Issues)

	if paths, renderErr := a.reporter.Render(ctx, report, p.OutputPath); renderErr != nil {
		logger.WarnCtx(ctx, "report rendering failed",
			logger.KeyPath, p.OutputPath,
			logger.Err(renderErr),
		)
	} else if len(paths) > 0 {
		a.store.Mutate(func(s *session.Session) {
			s.ReportPaths = append(s.ReportPaths, paths...)
		})
	}

	a.store.SetValidationResult(report, report.Outcome)

	logger.InfoCtx(ctx, "validation complete",
		logger.KeyOutcome, string(report.Outcome),
		logger.KeyAttempt, p.Attempt,
		"issues", len(report.Issues),
	)
	a.store.Events().Publish(events.Event{
		Kind: events.KindValidationReport,
		Payload: events.ValidationReportSummary{
			Outcome: string(report.Outcome),
			Summary: report.Summary(),
			Issues:  len(report.Issues),
		},
	})

	return a.bus.Send(ctx, bus.Request{
		Target:  bus.AgentConversation,
		Action:  actions.ReceiveValidationResult,
		Payload: actions.ValidationResultPayload{Outcome: report.Outcome, Report: report},
	})
}

// enrichment is the per-issue structured model output.
type enrichment struct {
	Code             string `json:"code"`
	Location         string `json:"location"`
	Explanation      string `json:"explanation" jsonschema_description:"Plain-language explanation of the issue for a neuroscientist"`
	FixAction        string `json:"fix_action" jsonschema_description:"Concrete action the user or converter could take"`
	Priority         string `json:"priority" jsonschema_description:"One of dandi_blocking, best_practices, nice_to_have"`
	UserFixable      bool   `json:"user_fixable" jsonschema_description:"True when the user can resolve the issue by supplying metadata"`
	DandiRequirement string `json:"dandi_requirement" jsonschema_description:"The DANDI rule the issue maps to, empty if none"`
}

type enrichmentResult struct {
	Issues []enrichment `json:"issues"`
}

// enrich asks the model to explain and prioritise the raw issues. The
// raw list is always retained verbatim; on any model failure the
// deterministic severity mapping is used instead.
func (a *Agent) enrich(ctx context.Context, issues []nwb.Issue) []nwb.EnrichedIssue {
	if len(issues) == 0 {
		return nil
	}

	enriched := make([]nwb.EnrichedIssue, len(issues))
	for i, issue := range issues {
		enriched[i] = nwb.EnrichedIssue{
			Issue:    issue,
			Priority: fallbackPriority(issue.Severity),
		}
	}

	raw, err := json.Marshal(issues)
	if err != nil {
		return enriched
	}

	var result enrichmentResult
	req := llm.Request{
		System: "You explain NWB validation issues to neuroscientists preparing data for the DANDI archive. " +
			"For every issue produce a plain-language explanation, a concrete suggested fix, and a priority: " +
			"dandi_blocking for issues that prevent archive acceptance, best_practices for standard-compliance " +
			"warnings, nice_to_have for cosmetic findings.",
		Prompt: "Explain and prioritise these validation issues:\n\n" + string(raw),
	}
	if err := a.model.GenerateStructured(ctx, req, &result); err != nil {
		logger.WarnCtx(ctx, "issue enrichment failed, using severity mapping", logger.Err(err))
		return enriched
	}

	byKey := make(map[string]enrichment, len(result.Issues))
	for _, e := range result.Issues {
		byKey[e.Code+"\x00"+e.Location] = e
	}
	for i := range enriched {
		e, ok := byKey[enriched[i].Issue.Key()]
		if !ok {
			continue
		}
		enriched[i].Explanation = e.Explanation
		enriched[i].FixAction = e.FixAction
		enriched[i].UserFixable = e.UserFixable
		enriched[i].DandiRequirement = e.DandiRequirement
		switch p := nwb.IssuePriority(e.Priority); p {
		case nwb.PriorityDandiBlocking, nwb.PriorityBestPractices, nwb.PriorityNiceToHave:
			enriched[i].Priority = p
		}
	}
	return enriched
}

func fallbackPriority(sev nwb.Severity) nwb.IssuePriority {
	switch {
	case sev.Blocking():
		return nwb.PriorityDandiBlocking
	case sev == nwb.SeverityBestPractice, sev == nwb.SeverityWarning:
		return nwb.PriorityBestPractices
	default:
		return nwb.PriorityNiceToHave
	}
}
