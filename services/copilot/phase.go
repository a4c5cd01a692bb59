// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package copilot

import "fmt"

// Phase is one of six ordered investigation stages.
//
// Phases form a directed, mostly-forward progression:
//
//	Intake(0) → BlastRadius(1) → Timeline(2) → Hypothesis(3) → Validation(4) → Solution(5)
//
// Backward movement is allowed only through an explicit case reopen, which
// resets the phase to Intake. Terminal outcomes are case statuses, not
// phases; a case can hold at Solution across many turns while in progress.
type Phase int

const (
	// PhaseIntake gathers the initial problem statement.
	PhaseIntake Phase = iota

	// PhaseBlastRadius establishes scope and impact.
	PhaseBlastRadius

	// PhaseTimeline establishes when things started and what changed.
	PhaseTimeline

	// PhaseHypothesis generates candidate root causes.
	PhaseHypothesis

	// PhaseValidation tests hypotheses against evidence.
	PhaseValidation

	// PhaseSolution converges on a fix or mitigation.
	PhaseSolution
)

// MinPhase and MaxPhase bound the valid phase range.
const (
	MinPhase = PhaseIntake
	MaxPhase = PhaseSolution
)

// Valid reports whether the phase is inside [MinPhase, MaxPhase].
func (p Phase) Valid() bool {
	return p >= MinPhase && p <= MaxPhase
}

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIntake:
		return "intake"
	case PhaseBlastRadius:
		return "blast_radius"
	case PhaseTimeline:
		return "timeline"
	case PhaseHypothesis:
		return "hypothesis"
	case PhaseValidation:
		return "validation"
	case PhaseSolution:
		return "solution"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// ClampPhase clamps an extracted phase value into the valid range.
//
// Only the ingestion path may clamp. The stall detector treats an
// out-of-range phase as a programming error and fails instead.
func ClampPhase(p Phase) Phase {
	if p < MinPhase {
		return MinPhase
	}
	if p > MaxPhase {
		return MaxPhase
	}
	return p
}

// AdvancePhase decides the phase after a turn given the phase the model
// extracted.
//
// Description:
//
//	Movement is forward-only: an extracted phase behind the current one is
//	ignored and the case holds. Forward movement is taken one phase at a
//	time even when the extraction jumps further ahead, so each stage's
//	evidence gathering cannot be skipped by an eager extraction.
//
// Inputs:
//
//	current - The case's phase before the turn.
//	extracted - The phase from model extraction, already clamped.
//
// Outputs:
//
//	Phase - The phase to hold for the next turn.
//	bool - True if the phase advanced.
func AdvancePhase(current, extracted Phase) (Phase, bool) {
	if extracted <= current {
		return current, false
	}
	next := current + 1
	return next, true
}
