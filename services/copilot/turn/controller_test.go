// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package turn

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/AleutianAI/AleutianOncall/services/copilot"
	"github.com/AleutianAI/AleutianOncall/services/copilot/classifier"
	"github.com/AleutianAI/AleutianOncall/services/copilot/knowledge"
	"github.com/AleutianAI/AleutianOncall/services/copilot/lifecycle"
	"github.com/AleutianAI/AleutianOncall/services/copilot/model"
	"github.com/AleutianAI/AleutianOncall/services/copilot/safety"
	"github.com/AleutianAI/AleutianOncall/services/copilot/stall"
	"github.com/AleutianAI/AleutianOncall/services/copilot/store"
)

// fixture wires a controller over a mock model and an in-memory store.
type fixture struct {
	mock       *model.MockClient
	store      *store.MemoryStore
	controller *Controller
}

func newFixture(t *testing.T, config Config) *fixture {
	t.Helper()
	mock := model.NewMockClient()
	st := store.NewMemoryStore()
	ctrl := NewController(
		mock,
		classifier.New(mock, classifier.DefaultConfig(), nil),
		lifecycle.NewManager(nil),
		stall.NewDetector(stall.DefaultConfig()),
		safety.NewValidator(),
		knowledge.NoopRetriever{},
		st,
		config,
		nil,
	)
	return &fixture{mock: mock, store: st, controller: ctrl}
}

// queueExtraction marshals an extraction and queues it on the mock.
func (f *fixture) queueExtraction(t *testing.T, ex extraction) {
	t.Helper()
	if ex.ResponseText == "" {
		ex.ResponseText = "understood"
	}
	data, err := json.Marshal(ex)
	if err != nil {
		t.Fatal(err)
	}
	f.mock.Queue(model.ModeExtractState, string(data))
}

func freshCase() *copilot.Case {
	return &copilot.Case{
		ID:     "case-1",
		Mode:   copilot.ModeActiveIncident,
		Status: copilot.StatusIntake,
		Phase:  copilot.PhaseIntake,
	}
}

func TestProcessTurn_FirstTurn(t *testing.T) {
	f := newFixture(t, Config{})
	f.queueExtraction(t, extraction{
		ResponseText:     "Tell me more about the checkout errors.",
		ProblemStatement: "checkout 500s since 14:02",
		Phase:            0,
		Symptoms:         []string{"HTTP 500 on /checkout"},
		NewEvidenceRequests: []extractedRequest{
			{Category: "symptoms", Description: "sample error response body", Guidance: []string{"curl -i", "browser devtools", "apm trace", "one too many"}},
		},
	})

	cs := freshCase()
	result, err := f.controller.ProcessTurn(context.Background(), cs, "checkout is throwing 500s", copilot.FormUserInput)
	if err != nil {
		t.Fatal(err)
	}

	if result.ResponseText != "Tell me more about the checkout errors." {
		t.Errorf("response = %q", result.ResponseText)
	}
	if cs.Status != copilot.StatusInProgress {
		t.Errorf("status = %v, want in_progress", cs.Status)
	}
	if cs.Problem != "checkout 500s since 14:02" {
		t.Errorf("problem = %q", cs.Problem)
	}
	if len(cs.EvidenceRequests) != 1 {
		t.Fatalf("requests = %d, want 1", len(cs.EvidenceRequests))
	}
	if g := cs.EvidenceRequests[0].Guidance; len(g) != copilot.MaxGuidanceItems {
		t.Errorf("guidance = %d items, want bounded to %d", len(g), copilot.MaxGuidanceItems)
	}
	if ct := cs.EvidenceRequests[0].CreatedTurn; ct != 1 {
		t.Errorf("created turn = %d, want 1", ct)
	}
	if cs.Turn != 1 {
		t.Errorf("turn = %d, want 1", cs.Turn)
	}

	// Committed state matches in-memory state.
	stored, err := f.store.Load(context.Background(), "case-1")
	if err != nil {
		t.Fatal(err)
	}
	if stored.Turn != 1 || stored.Problem != cs.Problem {
		t.Error("stored case diverges from returned case")
	}
}

func TestProcessTurn_ModelFailureMutatesNothing(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(f *fixture)
		wantErr error
	}{
		{
			name:    "invocation failure",
			setup:   func(f *fixture) { f.mock.WithModeError(model.ModeExtractState, model.ErrInvocation) },
			wantErr: copilot.ErrModelInvocation,
		},
		{
			name:    "malformed extraction",
			setup:   func(f *fixture) { f.mock.Queue(model.ModeExtractState, "garbage") },
			wantErr: copilot.ErrMalformedExtraction,
		},
		{
			name:    "missing response text",
			setup:   func(f *fixture) { f.mock.Queue(model.ModeExtractState, `{"phase": 2}`) },
			wantErr: copilot.ErrMalformedExtraction,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{})
			tt.setup(f)

			cs := freshCase()
			f.store.Save(context.Background(), cs)

			_, err := f.controller.ProcessTurn(context.Background(), cs, "hello", copilot.FormUserInput)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if !IsRetryable(err) {
				t.Error("model failures must be retryable")
			}

			if cs.Turn != 0 || cs.Status != copilot.StatusIntake {
				t.Errorf("in-memory case mutated: %+v", cs)
			}
			stored, _ := f.store.Load(context.Background(), "case-1")
			if stored.Turn != 0 {
				t.Error("stored case mutated by a failed turn")
			}
		})
	}
}

func TestProcessTurn_PhaseForwardOnly(t *testing.T) {
	f := newFixture(t, Config{})

	// The model jumps straight to validation from blast-radius; movement
	// is one phase per turn.
	f.queueExtraction(t, extraction{ResponseText: "ok", Phase: 4})

	cs := freshCase()
	cs.Status = copilot.StatusInProgress
	cs.Phase = copilot.PhaseBlastRadius
	cs.TurnsWithoutPhaseAdvance = 3
	cs.TurnsInCurrentPhase = 3

	if _, err := f.controller.ProcessTurn(context.Background(), cs, "scope is one region", copilot.FormUserInput); err != nil {
		t.Fatal(err)
	}
	if cs.Phase != copilot.PhaseTimeline {
		t.Errorf("phase = %v, want timeline (one step)", cs.Phase)
	}
	if cs.TurnsWithoutPhaseAdvance != 0 || cs.TurnsInCurrentPhase != 0 {
		t.Errorf("advance must reset counters: %d/%d",
			cs.TurnsWithoutPhaseAdvance, cs.TurnsInCurrentPhase)
	}

	// The model tries to move backwards; the phase holds and counters
	// increment.
	f.queueExtraction(t, extraction{ResponseText: "ok", Phase: 0})
	if _, err := f.controller.ProcessTurn(context.Background(), cs, "more context", copilot.FormUserInput); err != nil {
		t.Fatal(err)
	}
	if cs.Phase != copilot.PhaseTimeline {
		t.Errorf("phase = %v, must not regress", cs.Phase)
	}
	if cs.TurnsWithoutPhaseAdvance != 1 || cs.TurnsInCurrentPhase != 1 {
		t.Errorf("held phase must increment counters: %d/%d",
			cs.TurnsWithoutPhaseAdvance, cs.TurnsInCurrentPhase)
	}
}

func TestProcessTurn_PhaseClampedOnIngestion(t *testing.T) {
	f := newFixture(t, Config{})
	f.queueExtraction(t, extraction{ResponseText: "ok", Phase: 99})

	cs := freshCase()
	cs.Status = copilot.StatusInProgress
	cs.Phase = copilot.PhaseSolution

	if _, err := f.controller.ProcessTurn(context.Background(), cs, "still looking", copilot.FormUserInput); err != nil {
		t.Fatal(err)
	}
	if cs.Phase != copilot.PhaseSolution {
		t.Errorf("phase = %v, want solution (clamped then held)", cs.Phase)
	}
}

func TestProcessTurn_EvidenceSubmission(t *testing.T) {
	f := newFixture(t, Config{})
	f.queueExtraction(t, extraction{ResponseText: "thanks, recorded", EvidenceSubmitted: true})
	f.mock.Queue(model.ModeClassify, `{
		"matched_request_ids": ["req-1"],
		"completeness_score": 0.9,
		"completeness_level": "complete",
		"evidence_type": "supportive",
		"user_intent": "providing_evidence",
		"hypothesis_id": ""
	}`)

	cs := freshCase()
	cs.Status = copilot.StatusInProgress
	cs.Phase = copilot.PhaseTimeline
	cs.EvidenceRequests = []copilot.EvidenceRequest{
		{ID: "req-1", Category: copilot.CategoryTimeline, Description: "deploy log around 14:00", Status: copilot.RequestPending},
	}

	if _, err := f.controller.ProcessTurn(context.Background(), cs, "deploy went out at 13:58", copilot.FormUserInput); err != nil {
		t.Fatal(err)
	}

	if len(cs.EvidenceProvided) != 1 {
		t.Fatalf("evidence recorded = %d, want 1", len(cs.EvidenceProvided))
	}
	req := cs.Request("req-1")
	if req.Status != copilot.RequestComplete || req.Completeness != 0.9 {
		t.Errorf("request = %v/%v, want complete/0.9", req.Status, req.Completeness)
	}
	if cs.EvidenceSubmissionsInWindow != 0 {
		// Phase did not advance this turn, so the window survives to
		// inform escalate-vs-abandon; but this turn also did not
		// advance, so the increment must be visible.
		t.Log("window retained:", cs.EvidenceSubmissionsInWindow)
	}
	if cs.EvidenceSubmissionsInWindow != 1 {
		t.Errorf("submission window = %d, want 1", cs.EvidenceSubmissionsInWindow)
	}
}

func TestProcessTurn_OffTopicIsCounterNoop(t *testing.T) {
	f := newFixture(t, Config{})
	f.queueExtraction(t, extraction{ResponseText: "let's stay on the incident", EvidenceSubmitted: true})
	f.mock.Queue(model.ModeClassify, `{
		"matched_request_ids": [],
		"completeness_score": 0,
		"completeness_level": "partial",
		"evidence_type": "neutral",
		"user_intent": "off_topic",
		"hypothesis_id": ""
	}`)

	cs := freshCase()
	cs.Status = copilot.StatusInProgress
	cs.Phase = copilot.PhaseTimeline

	if _, err := f.controller.ProcessTurn(context.Background(), cs, "how about lunch", copilot.FormUserInput); err != nil {
		t.Fatal(err)
	}
	if len(cs.EvidenceProvided) != 0 {
		t.Error("off-topic text must not be recorded as evidence")
	}
	if cs.EvidenceSubmissionsInWindow != 0 {
		t.Error("off-topic text must not move the submission window")
	}
}

func TestProcessTurn_StallEscalatesAndAbandons(t *testing.T) {
	t.Run("no progress with submissions escalates", func(t *testing.T) {
		f := newFixture(t, Config{})
		f.queueExtraction(t, extraction{ResponseText: "ok", Phase: 2})

		cs := freshCase()
		cs.Status = copilot.StatusInProgress
		cs.Phase = copilot.PhaseTimeline
		cs.TurnsWithoutPhaseAdvance = 4 // this turn makes 5
		cs.EvidenceSubmissionsInWindow = 2

		result, err := f.controller.ProcessTurn(context.Background(), cs, "still digging", copilot.FormUserInput)
		if err != nil {
			t.Fatal(err)
		}
		if cs.Status != copilot.StatusStalled {
			t.Errorf("status = %v, want stalled", cs.Status)
		}
		if cs.StallReason != string(stall.ReasonNoProgress) {
			t.Errorf("stall reason = %q", cs.StallReason)
		}
		if result.ResponseText == "ok" {
			t.Error("stall message must be appended to the response")
		}
	})

	t.Run("no progress without submissions abandons", func(t *testing.T) {
		f := newFixture(t, Config{})
		f.queueExtraction(t, extraction{ResponseText: "ok", Phase: 2})

		cs := freshCase()
		cs.Status = copilot.StatusInProgress
		cs.Phase = copilot.PhaseTimeline
		cs.TurnsWithoutPhaseAdvance = 4

		if _, err := f.controller.ProcessTurn(context.Background(), cs, "hm", copilot.FormUserInput); err != nil {
			t.Fatal(err)
		}
		if cs.Status != copilot.StatusAbandoned {
			t.Errorf("status = %v, want abandoned", cs.Status)
		}
	})
}

func TestProcessTurn_ExplicitClosure(t *testing.T) {
	f := newFixture(t, Config{})
	f.queueExtraction(t, extraction{ResponseText: "great news", ResolutionSignal: "resolved"})
	f.mock.Queue(model.ModeGenerateClosure, "Root cause was a bad deploy; rolled back.")

	cs := freshCase()
	cs.Status = copilot.StatusInProgress
	cs.Phase = copilot.PhaseSolution

	if _, err := f.controller.ProcessTurn(context.Background(), cs, "rollback done, this is resolved", copilot.FormUserInput); err != nil {
		t.Fatal(err)
	}
	if cs.Status != copilot.StatusResolved {
		t.Errorf("status = %v, want resolved", cs.Status)
	}
	if cs.ClosureSummary == "" {
		t.Error("closure summary must be stored")
	}
}

func TestProcessTurn_ImplicitClosure(t *testing.T) {
	f := newFixture(t, Config{})
	conf := 0.9
	f.queueExtraction(t, extraction{ResponseText: "fix verified", Phase: 5, Confidence: &conf})
	f.mock.Queue(model.ModeGenerateClosure, "Closure summary.")

	cs := freshCase()
	cs.Status = copilot.StatusInProgress
	cs.Phase = copilot.PhaseSolution

	if _, err := f.controller.ProcessTurn(context.Background(), cs, "latency is back to normal", copilot.FormUserInput); err != nil {
		t.Fatal(err)
	}
	if cs.Status != copilot.StatusResolved {
		t.Errorf("status = %v, want resolved via solution-phase confidence", cs.Status)
	}
}

func TestProcessTurn_ClosureFailureIsRetryable(t *testing.T) {
	f := newFixture(t, Config{})
	f.queueExtraction(t, extraction{ResponseText: "great", ResolutionSignal: "resolved"})
	f.mock.WithModeError(model.ModeGenerateClosure, model.ErrInvocation)

	cs := freshCase()
	cs.Status = copilot.StatusInProgress
	f.store.Save(context.Background(), cs)

	_, err := f.controller.ProcessTurn(context.Background(), cs, "this is resolved", copilot.FormUserInput)
	if !errors.Is(err, copilot.ErrModelInvocation) {
		t.Fatalf("err = %v, want ErrModelInvocation", err)
	}

	stored, _ := f.store.Load(context.Background(), "case-1")
	if stored.Status != copilot.StatusInProgress || stored.ClosureSummary != "" {
		t.Error("failed closure must not mutate stored state")
	}
}

func TestProcessTurn_Summarization(t *testing.T) {
	f := newFixture(t, Config{SummarizeThresholdBytes: 64, HistoryKeepAfterSummarize: 2})
	f.queueExtraction(t, extraction{ResponseText: "ok"})
	f.mock.Queue(model.ModeSummarize, "compressed investigation state")

	cs := freshCase()
	cs.Status = copilot.StatusInProgress
	cs.History = []string{
		"operator: a long message about the incident and its many symptoms",
		"copilot: a long reply soliciting evidence from several categories",
	}

	if _, err := f.controller.ProcessTurn(context.Background(), cs, "more detail", copilot.FormUserInput); err != nil {
		t.Fatal(err)
	}
	if cs.ContextSummary != "compressed investigation state" {
		t.Errorf("summary = %q", cs.ContextSummary)
	}
	if len(cs.History) > 2 {
		t.Errorf("history = %d entries, want truncated to 2", len(cs.History))
	}
}

func TestProcessTurn_GuardRails(t *testing.T) {
	f := newFixture(t, Config{})

	t.Run("terminal case", func(t *testing.T) {
		cs := freshCase()
		cs.Status = copilot.StatusResolved
		_, err := f.controller.ProcessTurn(context.Background(), cs, "hello", copilot.FormUserInput)
		if !errors.Is(err, copilot.ErrCaseTerminated) {
			t.Errorf("err = %v, want ErrCaseTerminated", err)
		}
	})

	t.Run("empty message", func(t *testing.T) {
		cs := freshCase()
		_, err := f.controller.ProcessTurn(context.Background(), cs, "   ", copilot.FormUserInput)
		if !errors.Is(err, copilot.ErrEmptyMessage) {
			t.Errorf("err = %v, want ErrEmptyMessage", err)
		}
	})
}

func TestProcessTurn_CommandsAnnotated(t *testing.T) {
	f := newFixture(t, Config{})
	f.queueExtraction(t, extraction{
		ResponseText: "try these",
		SuggestedCommands: []extractedCommand{
			{Command: "kubectl get pods -n checkout", Rationale: "pod health"},
			{Command: "kubectl delete pod checkout-1", Rationale: "restart it"},
		},
	})

	cs := freshCase()
	result, err := f.controller.ProcessTurn(context.Background(), cs, "what should I run", copilot.FormUserInput)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.SuggestedCommands) != 2 {
		t.Fatalf("commands = %d, want 2 (annotation never drops)", len(result.SuggestedCommands))
	}
	if result.SuggestedCommands[0].SafetyLevel != string(safety.LevelSafe) {
		t.Errorf("get pods level = %q, want safe", result.SuggestedCommands[0].SafetyLevel)
	}
	if result.SuggestedCommands[1].SafetyLevel != string(safety.LevelDangerous) {
		t.Errorf("delete pod level = %q, want dangerous", result.SuggestedCommands[1].SafetyLevel)
	}
	if result.SuggestedCommands[1].SaferAlternative == "" {
		t.Error("dangerous kubectl command should carry a safer alternative")
	}
}

func TestProcessTurn_RefutationRuling(t *testing.T) {
	f := newFixture(t, Config{})
	f.queueExtraction(t, extraction{
		ResponseText:      "noted, ruling out the cache theory",
		RefutationRulings: []refutationRuling{{HypothesisID: "hyp-1", Confirmed: true}},
	})

	cs := freshCase()
	cs.Status = copilot.StatusInProgress
	cs.Phase = copilot.PhaseValidation
	cs.Hypotheses = []copilot.Hypothesis{
		{ID: "hyp-1", Statement: "cache eviction storm", Status: copilot.HypothesisActive},
	}
	cs.PendingRefutations = []string{"hyp-1"}

	if _, err := f.controller.ProcessTurn(context.Background(), cs, "confirmed, cache metrics are flat", copilot.FormUserInput); err != nil {
		t.Fatal(err)
	}
	if got := cs.HypothesisByID("hyp-1").Status; got != copilot.HypothesisRefuted {
		t.Errorf("hypothesis = %v, want refuted after confirmation", got)
	}
	if cs.RefutationPending("hyp-1") {
		t.Error("pending flag must clear")
	}
}

func TestReopen(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	t.Run("from resolved", func(t *testing.T) {
		cs := freshCase()
		cs.Status = copilot.StatusResolved
		cs.Phase = copilot.PhaseSolution
		cs.TurnsWithoutPhaseAdvance = 7
		cs.StallReason = "no_phase_progress"
		cs.EvidenceRequests = []copilot.EvidenceRequest{
			{ID: "req-1", Status: copilot.RequestComplete, Completeness: 0.9},
		}

		if err := f.controller.Reopen(ctx, cs); err != nil {
			t.Fatal(err)
		}
		if cs.Status != copilot.StatusInProgress || cs.Phase != copilot.PhaseIntake {
			t.Errorf("got %v/%v, want in_progress/intake", cs.Status, cs.Phase)
		}
		if cs.TurnsWithoutPhaseAdvance != 0 || cs.StallReason != "" {
			t.Error("reopen must clear stall state")
		}
		if cs.EvidenceRequests[0].Completeness != 0.9 {
			t.Error("gathered evidence must survive reopen")
		}
	})

	t.Run("from in progress", func(t *testing.T) {
		cs := freshCase()
		cs.Status = copilot.StatusInProgress
		err := f.controller.Reopen(ctx, cs)
		if !errors.Is(err, copilot.ErrCaseNotReopenable) {
			t.Errorf("err = %v, want ErrCaseNotReopenable", err)
		}
	})
}
