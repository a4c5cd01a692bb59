// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package turn drives one conversational turn through the full
// investigation pipeline: structured extraction, safety annotation,
// evidence classification, lifecycle update, counter maintenance, stall
// detection, summarization, and closure.
//
// All mutation happens on a clone of the case; the clone is persisted
// only when the whole turn succeeds, so model failures are retryable
// with no state change.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianOncall/services/copilot"
	"github.com/AleutianAI/AleutianOncall/services/copilot/classifier"
	"github.com/AleutianAI/AleutianOncall/services/copilot/knowledge"
	"github.com/AleutianAI/AleutianOncall/services/copilot/lifecycle"
	"github.com/AleutianAI/AleutianOncall/services/copilot/model"
	"github.com/AleutianAI/AleutianOncall/services/copilot/safety"
	"github.com/AleutianAI/AleutianOncall/services/copilot/stall"
	"github.com/AleutianAI/AleutianOncall/services/copilot/store"
)

// Config configures the turn controller.
type Config struct {
	// SummarizeThresholdBytes triggers context summarization when the
	// accumulated history exceeds it.
	SummarizeThresholdBytes int

	// HistoryKeepAfterSummarize is how many recent messages survive a
	// summarization pass.
	HistoryKeepAfterSummarize int

	// ClosureConfidence is the implicit-closure threshold: Solution
	// phase with at least this much confidence closes the case.
	ClosureConfidence float64

	// KnowledgeLimit is how many knowledge documents enrich the prompt.
	KnowledgeLimit int

	// ExtractMaxTokens bounds the extraction completion.
	ExtractMaxTokens int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		SummarizeThresholdBytes:   16 * 1024,
		HistoryKeepAfterSummarize: 4,
		ClosureConfidence:         0.8,
		KnowledgeLimit:            3,
		ExtractMaxTokens:          2000,
	}
}

// Controller processes turns.
//
// Thread Safety: Controller is safe for concurrent use across cases;
// the case registry guarantees at most one in-flight turn per case.
type Controller struct {
	client     model.Client
	classifier *classifier.Classifier
	lifecycle  *lifecycle.Manager
	detector   *stall.Detector
	validator  *safety.Validator
	retriever  knowledge.Retriever
	store      store.Store
	config     Config
	logger     *slog.Logger
}

// NewController wires the pipeline.
func NewController(
	client model.Client,
	cls *classifier.Classifier,
	lm *lifecycle.Manager,
	det *stall.Detector,
	val *safety.Validator,
	ret knowledge.Retriever,
	st store.Store,
	config Config,
	logger *slog.Logger,
) *Controller {
	def := DefaultConfig()
	if config.SummarizeThresholdBytes <= 0 {
		config.SummarizeThresholdBytes = def.SummarizeThresholdBytes
	}
	if config.HistoryKeepAfterSummarize <= 0 {
		config.HistoryKeepAfterSummarize = def.HistoryKeepAfterSummarize
	}
	if config.ClosureConfidence <= 0 {
		config.ClosureConfidence = def.ClosureConfidence
	}
	if config.KnowledgeLimit <= 0 {
		config.KnowledgeLimit = def.KnowledgeLimit
	}
	if config.ExtractMaxTokens <= 0 {
		config.ExtractMaxTokens = def.ExtractMaxTokens
	}
	if ret == nil {
		ret = knowledge.NoopRetriever{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		client:     client,
		classifier: cls,
		lifecycle:  lm,
		detector:   det,
		validator:  val,
		retriever:  ret,
		store:      st,
		config:     config,
		logger:     logger,
	}
}

// ProcessTurn runs one turn for the case.
//
// Description:
//
//	Loads nothing itself; the caller passes the current case. The turn
//	runs against a clone: extraction, safety annotation, classification
//	of submitted evidence, lifecycle application, counter maintenance,
//	stall detection, optional summarization, and closure detection. The
//	clone is saved and returned only when every step succeeded. Model
//	failures surface as retryable ErrModelInvocation (or
//	ErrMalformedExtraction) with the stored case untouched.
//
// Outputs:
//
//	*copilot.TurnResult - The operator-facing result.
//	error - ErrCaseTerminated, ErrEmptyMessage, ErrModelInvocation,
//	        ErrMalformedExtraction, or a storage error.
func (c *Controller) ProcessTurn(ctx context.Context, cs *copilot.Case, userText string, form copilot.EvidenceForm) (*copilot.TurnResult, error) {
	if cs.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: case %s is %s", copilot.ErrCaseTerminated, cs.ID, cs.Status)
	}
	if strings.TrimSpace(userText) == "" {
		return nil, copilot.ErrEmptyMessage
	}
	if form == "" {
		form = copilot.FormUserInput
	}

	clone := cs.Clone()

	// Knowledge retrieval is advisory; a failure costs only context.
	docs := c.searchKnowledge(ctx, clone, userText)

	ex, err := c.extract(ctx, clone, docs, userText)
	if err != nil {
		return nil, err
	}

	commands := c.annotateCommands(ex.SuggestedCommands)

	c.applyExtraction(clone, ex)

	for _, ruling := range ex.RefutationRulings {
		c.lifecycle.ConfirmRefutation(clone, ruling.HypothesisID, ruling.Confirmed)
	}

	// Classification runs against the requests that were open before
	// this turn added new ones.
	preTurnActive := activeBefore(cs)
	if ex.EvidenceSubmitted {
		c.recordEvidence(ctx, clone, preTurnActive, userText, form)
	}

	// Phase movement is forward-only and one step at a time; the
	// extracted value is clamped on ingestion.
	extracted := copilot.ClampPhase(copilot.Phase(ex.Phase))
	newPhase, advanced := copilot.AdvancePhase(clone.Phase, extracted)
	clone.Phase = newPhase

	stall.MaintainCounters(clone, advanced)

	detection, err := c.detector.Check(clone)
	if err != nil {
		// Invalid phase past ingestion clamping is a bug, not a
		// business outcome.
		return nil, err
	}

	responseText := ex.ResponseText
	if detection != nil {
		clone.StallReason = string(detection.Reason)
		switch detection.Decision {
		case stall.DecisionAbandon:
			clone.Status = copilot.StatusAbandoned
		default:
			clone.Status = copilot.StatusStalled
		}
		responseText = responseText + "\n\n" + detection.Message
	} else if clone.Status == copilot.StatusIntake {
		clone.Status = copilot.StatusInProgress
	}

	clone.History = append(clone.History,
		"operator: "+userText,
		"copilot: "+ex.ResponseText,
	)

	if err := c.maybeSummarize(ctx, clone); err != nil {
		return nil, err
	}

	if detection == nil {
		if err := c.maybeClose(ctx, clone, ex, userText); err != nil {
			return nil, err
		}
	}

	clone.Turn++
	clone.UpdatedAt = time.Now().UTC()

	if err := c.store.Save(ctx, clone); err != nil {
		return nil, fmt.Errorf("persist turn: %w", err)
	}
	*cs = *clone

	return &copilot.TurnResult{
		ResponseText:      responseText,
		EvidenceRequests:  clone.ActiveRequests(),
		Phase:             clone.Phase,
		CaseStatus:        clone.Status,
		SuggestedCommands: commands,
	}, nil
}

// searchKnowledge retrieves prompt context, degrading silently.
func (c *Controller) searchKnowledge(ctx context.Context, cs *copilot.Case, userText string) []knowledge.Document {
	query := cs.Problem
	if query == "" {
		query = userText
	}
	docs, err := c.retriever.Search(ctx, query, c.config.KnowledgeLimit)
	if err != nil {
		c.logger.Warn("knowledge retrieval failed", "case_id", cs.ID, "error", err)
		return nil
	}
	return docs
}

// extract runs the single structured-extraction call for the turn.
func (c *Controller) extract(ctx context.Context, cs *copilot.Case, docs []knowledge.Document, userText string) (*extraction, error) {
	resp, err := c.client.Invoke(ctx, &model.InvokeRequest{
		Mode:      model.ModeExtractState,
		System:    extractSystemPrompt,
		Prompt:    buildExtractPrompt(cs, docs, userText),
		MaxTokens: c.config.ExtractMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: extraction: %v", copilot.ErrModelInvocation, err)
	}

	ex, err := parseExtraction(resp.Content)
	if err != nil {
		return nil, err
	}
	return ex, nil
}

// annotateCommands attaches safety verdicts. Annotation never drops a
// command.
func (c *Controller) annotateCommands(cmds []extractedCommand) []copilot.SuggestedCommand {
	var out []copilot.SuggestedCommand
	for _, cmd := range cmds {
		if strings.TrimSpace(cmd.Command) == "" {
			continue
		}
		verdict := c.validator.Validate(cmd.Command)
		out = append(out, copilot.SuggestedCommand{
			Command:          cmd.Command,
			Rationale:        cmd.Rationale,
			SafetyLevel:      string(verdict.Level),
			SaferAlternative: verdict.SaferAlternative,
		})
	}
	return out
}

// applyExtraction folds validated extraction output into the clone.
func (c *Controller) applyExtraction(cs *copilot.Case, ex *extraction) {
	if ex.ProblemStatement != "" {
		cs.Problem = ex.ProblemStatement
	}
	for _, s := range ex.Symptoms {
		if s != "" && !containsString(cs.Symptoms, s) {
			cs.Symptoms = append(cs.Symptoms, s)
		}
	}
	if ex.Confidence != nil {
		cs.Confidence = ex.Confidence
	}

	for _, h := range ex.NewHypotheses {
		if strings.TrimSpace(h.Statement) == "" {
			continue
		}
		cs.Hypotheses = append(cs.Hypotheses, copilot.Hypothesis{
			ID:        uuid.NewString(),
			Statement: h.Statement,
			Status:    copilot.HypothesisActive,
		})
	}

	for _, r := range ex.NewEvidenceRequests {
		category, _ := parseCategory(r.Category)
		hypothesisID := r.HypothesisID
		if hypothesisID != "" && cs.HypothesisByID(hypothesisID) == nil {
			hypothesisID = ""
		}
		cs.EvidenceRequests = append(cs.EvidenceRequests, copilot.EvidenceRequest{
			ID:           uuid.NewString(),
			Category:     category,
			Description:  r.Description,
			Status:       copilot.RequestPending,
			Guidance:     r.Guidance,
			HypothesisID: hypothesisID,
			// Turn is advanced at commit time, so the request
			// belongs to the turn in flight.
			CreatedTurn: cs.Turn + 1,
		})
	}
}

// recordEvidence classifies and applies one evidence submission.
func (c *Controller) recordEvidence(ctx context.Context, cs *copilot.Case, active []copilot.EvidenceRequest, userText string, form copilot.EvidenceForm) {
	cls := c.classifier.Classify(ctx, classifier.Input{
		UserText:       userText,
		ActiveRequests: active,
		History:        cs.History,
		Form:           form,
	})

	// Off-topic submissions move no evidence or counter state.
	if cls.UserIntent == copilot.IntentOffTopic {
		return
	}

	ev := copilot.EvidenceProvided{
		ID:          uuid.NewString(),
		Content:     userText,
		Form:        form,
		Turn:        cs.Turn + 1,
		SubmittedAt: time.Now().UTC(),
	}
	cs.EvidenceProvided = append(cs.EvidenceProvided, ev)
	cs.EvidenceSubmissionsInWindow++

	c.lifecycle.Apply(cls, ev, cs)
}

// maybeSummarize compresses history once it exceeds the threshold.
func (c *Controller) maybeSummarize(ctx context.Context, cs *copilot.Case) error {
	size := len(cs.ContextSummary)
	for _, msg := range cs.History {
		size += len(msg)
	}
	if size < c.config.SummarizeThresholdBytes {
		return nil
	}

	resp, err := c.client.Invoke(ctx, &model.InvokeRequest{
		Mode:   model.ModeSummarize,
		System: summarizeSystemPrompt,
		Prompt: buildSummarizePrompt(cs),
	})
	if err != nil {
		return fmt.Errorf("%w: summarize: %v", copilot.ErrModelInvocation, err)
	}

	cs.ContextSummary = strings.TrimSpace(resp.Content)
	if keep := c.config.HistoryKeepAfterSummarize; len(cs.History) > keep {
		cs.History = append([]string(nil), cs.History[len(cs.History)-keep:]...)
	}
	return nil
}

// explicitClosureMarkers are operator phrasings that close a case.
var explicitClosureMarkers = []string{
	"this is resolved",
	"issue is resolved",
	"incident is resolved",
	"that fixed it",
	"this fixed it",
	"problem is fixed",
	"we're good now",
	"incident is over",
	"mitigated the issue",
	"issue is mitigated",
}

// maybeClose detects closure signals and generates the closure summary.
func (c *Controller) maybeClose(ctx context.Context, cs *copilot.Case, ex *extraction, userText string) error {
	signal := ex.ResolutionSignal
	if signal == "" {
		lower := strings.ToLower(userText)
		for _, marker := range explicitClosureMarkers {
			if strings.Contains(lower, marker) {
				signal = "resolved"
				if strings.Contains(marker, "mitigat") {
					signal = "mitigated"
				}
				break
			}
		}
	}
	if signal == "" &&
		cs.Phase == copilot.PhaseSolution &&
		cs.Confidence != nil && *cs.Confidence >= c.config.ClosureConfidence {
		signal = "resolved"
	}
	if signal == "" {
		return nil
	}

	resp, err := c.client.Invoke(ctx, &model.InvokeRequest{
		Mode:   model.ModeGenerateClosure,
		System: closureSystemPrompt,
		Prompt: buildClosurePrompt(cs, signal),
	})
	if err != nil {
		return fmt.Errorf("%w: closure: %v", copilot.ErrModelInvocation, err)
	}

	cs.ClosureSummary = strings.TrimSpace(resp.Content)
	if signal == "mitigated" {
		cs.Status = copilot.StatusMitigated
	} else {
		cs.Status = copilot.StatusResolved
	}
	return nil
}

// Reopen resets a terminal case for a fresh investigation pass.
//
// Description:
//
//	Allowed only from resolved, mitigated, or abandoned. The phase
//	resets to intake and the stall counters clear; gathered evidence
//	and hypotheses survive, and non-obsolete requests are solicitable
//	again.
//
// Outputs:
//
//	error - ErrCaseNotReopenable when the status does not allow it.
func (c *Controller) Reopen(ctx context.Context, cs *copilot.Case) error {
	switch cs.Status {
	case copilot.StatusResolved, copilot.StatusMitigated, copilot.StatusAbandoned:
	default:
		return fmt.Errorf("%w: case %s is %s", copilot.ErrCaseNotReopenable, cs.ID, cs.Status)
	}

	clone := cs.Clone()
	clone.Status = copilot.StatusInProgress
	clone.Phase = copilot.PhaseIntake
	clone.TurnsWithoutPhaseAdvance = 0
	clone.TurnsInCurrentPhase = 0
	clone.EvidenceSubmissionsInWindow = 0
	clone.StallReason = ""
	clone.UpdatedAt = time.Now().UTC()

	if err := c.store.Save(ctx, clone); err != nil {
		return fmt.Errorf("persist reopen: %w", err)
	}
	*cs = *clone
	return nil
}

// activeBefore snapshots the requests open before the turn mutated
// anything.
func activeBefore(cs *copilot.Case) []copilot.EvidenceRequest {
	return cs.ActiveRequests()
}

// containsString reports whether list contains s.
func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Unwrappable sentinel check used by callers deciding whether a failed
// turn is retryable.
func IsRetryable(err error) bool {
	return errors.Is(err, copilot.ErrModelInvocation) ||
		errors.Is(err, copilot.ErrMalformedExtraction)
}
