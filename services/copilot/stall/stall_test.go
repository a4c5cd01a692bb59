// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stall

import (
	"errors"
	"testing"

	"github.com/AleutianAI/AleutianOncall/services/copilot"
)

func blockedCritical(n int) []copilot.EvidenceRequest {
	cats := []copilot.EvidenceCategory{
		copilot.CategorySymptoms,
		copilot.CategoryConfiguration,
		copilot.CategoryMetrics,
	}
	var out []copilot.EvidenceRequest
	for i := 0; i < n; i++ {
		out = append(out, copilot.EvidenceRequest{
			ID:       "req",
			Category: cats[i%len(cats)],
			Status:   copilot.RequestBlocked,
		})
	}
	return out
}

func refuted(n int) []copilot.Hypothesis {
	var out []copilot.Hypothesis
	for i := 0; i < n; i++ {
		out = append(out, copilot.Hypothesis{ID: "hyp", Status: copilot.HypothesisRefuted})
	}
	return out
}

func TestCheck_InvalidPhase(t *testing.T) {
	d := NewDetector(DefaultConfig())
	for _, phase := range []copilot.Phase{-1, 6, 99} {
		_, err := d.Check(&copilot.Case{Phase: phase})
		if !errors.Is(err, copilot.ErrInvalidPhase) {
			t.Errorf("phase %d: err = %v, want ErrInvalidPhase", phase, err)
		}
	}
}

func TestCheck_Conditions(t *testing.T) {
	tests := []struct {
		name       string
		cs         copilot.Case
		wantReason Reason
		wantNone   bool
	}{
		{
			name: "blocked critical at threshold",
			cs: copilot.Case{
				Phase:            copilot.PhaseTimeline,
				EvidenceRequests: blockedCritical(3),
			},
			wantReason: ReasonBlockedCritical,
		},
		{
			name: "blocked critical below threshold is healthy",
			cs: copilot.Case{
				Phase:            copilot.PhaseTimeline,
				EvidenceRequests: blockedCritical(2),
			},
			wantNone: true,
		},
		{
			name: "blocked non-critical never counts",
			cs: copilot.Case{
				Phase: copilot.PhaseTimeline,
				EvidenceRequests: []copilot.EvidenceRequest{
					{Category: copilot.CategoryTimeline, Status: copilot.RequestBlocked},
					{Category: copilot.CategoryChanges, Status: copilot.RequestBlocked},
					{Category: copilot.CategoryScope, Status: copilot.RequestBlocked},
				},
			},
			wantNone: true,
		},
		{
			name: "all refuted in validation",
			cs: copilot.Case{
				Phase:      copilot.PhaseValidation,
				Hypotheses: refuted(3),
			},
			wantReason: ReasonAllRefuted,
		},
		{
			name: "all refuted outside validation is healthy",
			cs: copilot.Case{
				Phase:      copilot.PhaseHypothesis,
				Hypotheses: refuted(3),
			},
			wantNone: true,
		},
		{
			name: "too few hypotheses for refuted stall",
			cs: copilot.Case{
				Phase:      copilot.PhaseValidation,
				Hypotheses: refuted(2),
			},
			wantNone: true,
		},
		{
			name: "validation with zero hypotheses is not all-refuted",
			cs: copilot.Case{
				Phase: copilot.PhaseValidation,
			},
			wantNone: true,
		},
		{
			name: "no phase progress",
			cs: copilot.Case{
				Phase:                    copilot.PhaseBlastRadius,
				TurnsWithoutPhaseAdvance: 5,
			},
			wantReason: ReasonNoProgress,
		},
		{
			name: "cannot theorize",
			cs: copilot.Case{
				Phase:               copilot.PhaseHypothesis,
				TurnsInCurrentPhase: 3,
			},
			wantReason: ReasonCannotTheorize,
		},
		{
			name: "hypothesis phase with hypotheses is healthy",
			cs: copilot.Case{
				Phase:               copilot.PhaseHypothesis,
				TurnsInCurrentPhase: 4,
				Hypotheses: []copilot.Hypothesis{
					{Status: copilot.HypothesisActive},
				},
			},
			wantNone: true,
		},
		{
			name:     "fresh case is healthy",
			cs:       copilot.Case{Phase: copilot.PhaseIntake},
			wantNone: true,
		},
	}

	d := NewDetector(DefaultConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.Check(&tt.cs)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantNone {
				if got != nil {
					t.Fatalf("expected healthy, got %v", got.Reason)
				}
				return
			}
			if got == nil {
				t.Fatalf("expected %v, got healthy", tt.wantReason)
			}
			if got.Reason != tt.wantReason {
				t.Errorf("reason = %v, want %v", got.Reason, tt.wantReason)
			}
			if got.Message == "" {
				t.Error("detection must carry a message")
			}
		})
	}
}

func TestCheck_PriorityOrder(t *testing.T) {
	// All four raw conditions hold at once; blocked-critical must win.
	cs := copilot.Case{
		Phase:                    copilot.PhaseValidation,
		EvidenceRequests:         blockedCritical(3),
		Hypotheses:               refuted(3),
		TurnsWithoutPhaseAdvance: 9,
		TurnsInCurrentPhase:      9,
	}

	d := NewDetector(DefaultConfig())
	got, err := d.Check(&cs)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Reason != ReasonBlockedCritical {
		t.Fatalf("got %+v, want blocked_critical first", got)
	}

	// Drop blocked-critical; all-refuted is next.
	cs.EvidenceRequests = nil
	got, _ = d.Check(&cs)
	if got == nil || got.Reason != ReasonAllRefuted {
		t.Fatalf("got %+v, want all_hypotheses_refuted second", got)
	}

	// Drop the refuted set; no-progress is next.
	cs.Hypotheses = nil
	got, _ = d.Check(&cs)
	if got == nil || got.Reason != ReasonNoProgress {
		t.Fatalf("got %+v, want no_phase_progress third", got)
	}
}

func TestCheck_Idempotent(t *testing.T) {
	cs := copilot.Case{
		Phase:                    copilot.PhaseTimeline,
		TurnsWithoutPhaseAdvance: 5,
	}

	d := NewDetector(DefaultConfig())
	first, err := d.Check(&cs)
	if err != nil {
		t.Fatal(err)
	}
	second, err := d.Check(&cs)
	if err != nil {
		t.Fatal(err)
	}
	if first.Reason != second.Reason || first.Decision != second.Decision {
		t.Errorf("detection diverged on unmutated state: %+v vs %+v", first, second)
	}
}

func TestDecide(t *testing.T) {
	d := NewDetector(DefaultConfig())

	tests := []struct {
		name   string
		cs     copilot.Case
		reason Reason
		want   Decision
	}{
		{"blocked critical escalates", copilot.Case{}, ReasonBlockedCritical, DecisionEscalate},
		{"all refuted escalates", copilot.Case{}, ReasonAllRefuted, DecisionEscalate},
		{
			"no progress with submissions escalates",
			copilot.Case{EvidenceSubmissionsInWindow: 2},
			ReasonNoProgress, DecisionEscalate,
		},
		{
			"no progress without submissions abandons",
			copilot.Case{},
			ReasonNoProgress, DecisionAbandon,
		},
		{"unknown reason escalates", copilot.Case{}, Reason("mystery"), DecisionEscalate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.Decide(&tt.cs, tt.reason); got != tt.want {
				t.Errorf("Decide(%v) = %v, want %v", tt.reason, got, tt.want)
			}
		})
	}
}

func TestMaintainCounters(t *testing.T) {
	cs := copilot.Case{
		TurnsWithoutPhaseAdvance:    3,
		TurnsInCurrentPhase:         2,
		EvidenceSubmissionsInWindow: 4,
	}

	MaintainCounters(&cs, false)
	if cs.TurnsWithoutPhaseAdvance != 4 || cs.TurnsInCurrentPhase != 3 {
		t.Errorf("increment: got %d/%d, want 4/3",
			cs.TurnsWithoutPhaseAdvance, cs.TurnsInCurrentPhase)
	}
	if cs.EvidenceSubmissionsInWindow != 4 {
		t.Errorf("submission window must not change without an advance")
	}

	MaintainCounters(&cs, true)
	if cs.TurnsWithoutPhaseAdvance != 0 || cs.TurnsInCurrentPhase != 0 ||
		cs.EvidenceSubmissionsInWindow != 0 {
		t.Errorf("advance must reset all counters: %+v", cs)
	}
}

func TestMessage_FramingDiffers(t *testing.T) {
	cs := copilot.Case{Phase: copilot.PhaseTimeline, TurnsWithoutPhaseAdvance: 5}
	esc := Message(&cs, ReasonNoProgress, DecisionEscalate)
	aba := Message(&cs, ReasonNoProgress, DecisionAbandon)
	if esc == aba {
		t.Error("escalate and abandon framing must differ")
	}
}
