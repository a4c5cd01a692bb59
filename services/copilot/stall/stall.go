// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stall detects investigations that have stopped making progress
// and decides whether to hand the case to a human or close it out.
//
// Detection runs once per turn, after the lifecycle manager. Counter
// maintenance is a separate entry point and runs every turn regardless of
// the detection outcome.
package stall

import (
	"context"
	"fmt"
	"sync"

	"github.com/AleutianAI/AleutianOncall/services/copilot"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level meter for stall metrics.
var stallMeter = otel.Meter("aleutian.copilot.stall")

// Reason identifies which stall condition fired.
type Reason string

const (
	// ReasonBlockedCritical fires when too many critical-category
	// evidence requests are blocked to keep investigating.
	ReasonBlockedCritical Reason = "blocked_critical"

	// ReasonAllRefuted fires in validation when every candidate
	// hypothesis has been refuted.
	ReasonAllRefuted Reason = "all_hypotheses_refuted"

	// ReasonNoProgress fires after too many turns without a phase
	// advance.
	ReasonNoProgress Reason = "no_phase_progress"

	// ReasonCannotTheorize fires when the hypothesis phase produces
	// nothing for several turns.
	ReasonCannotTheorize Reason = "cannot_theorize"
)

// Decision is what to do about a stalled case.
type Decision string

const (
	// DecisionEscalate hands the case to a human.
	DecisionEscalate Decision = "escalate"

	// DecisionAbandon closes out a case whose operator disengaged.
	DecisionAbandon Decision = "abandon"
)

// Detection is one fired stall condition.
type Detection struct {
	Reason   Reason   `json:"reason"`
	Decision Decision `json:"decision"`

	// Message is operator-facing framing for the decision.
	Message string `json:"message"`
}

// Config holds the detection thresholds.
type Config struct {
	// BlockedCriticalThreshold is the count of blocked critical-category
	// requests that stalls a case.
	BlockedCriticalThreshold int

	// MinHypothesesForRefutedStall is how many hypotheses must exist
	// before all-refuted counts as a stall rather than an early state.
	MinHypothesesForRefutedStall int

	// NoProgressTurns is how many turns without a phase advance stall a
	// case.
	NoProgressTurns int

	// CannotTheorizeTurns is how many turns in the hypothesis phase with
	// zero hypotheses stall a case.
	CannotTheorizeTurns int
}

// DefaultConfig returns production thresholds.
func DefaultConfig() Config {
	return Config{
		BlockedCriticalThreshold:     3,
		MinHypothesesForRefutedStall: 3,
		NoProgressTurns:              5,
		CannotTheorizeTurns:          3,
	}
}

// Detector evaluates the stall conditions.
//
// Thread Safety: Detector is stateless and safe for concurrent use; all
// mutation happens on the caller-owned Case.
type Detector struct {
	config Config
}

// NewDetector creates a detector. Zero thresholds take defaults.
func NewDetector(config Config) *Detector {
	def := DefaultConfig()
	if config.BlockedCriticalThreshold <= 0 {
		config.BlockedCriticalThreshold = def.BlockedCriticalThreshold
	}
	if config.MinHypothesesForRefutedStall <= 0 {
		config.MinHypothesesForRefutedStall = def.MinHypothesesForRefutedStall
	}
	if config.NoProgressTurns <= 0 {
		config.NoProgressTurns = def.NoProgressTurns
	}
	if config.CannotTheorizeTurns <= 0 {
		config.CannotTheorizeTurns = def.CannotTheorizeTurns
	}
	return &Detector{config: config}
}

// Check evaluates the stall conditions in fixed priority order.
//
// Description:
//
//	The conditions are not mutually exclusive in raw data; the first
//	match wins and only one detection is ever returned. A phase outside
//	the valid range is a programming error upstream (ingestion clamps),
//	so it fails rather than guessing.
//
// Outputs:
//
//	*Detection - nil when the case is progressing normally.
//	error - copilot.ErrInvalidPhase when the phase is out of range.
func (d *Detector) Check(cs *copilot.Case) (*Detection, error) {
	if !cs.Phase.Valid() {
		return nil, fmt.Errorf("%w: phase %d", copilot.ErrInvalidPhase, int(cs.Phase))
	}

	reason, ok := d.firstReason(cs)
	if !ok {
		return nil, nil
	}

	decision := d.Decide(cs, reason)
	recordStallMetric(reason, decision)
	return &Detection{
		Reason:   reason,
		Decision: decision,
		Message:  Message(cs, reason, decision),
	}, nil
}

// firstReason returns the highest-priority condition that holds.
func (d *Detector) firstReason(cs *copilot.Case) (Reason, bool) {
	if d.blockedCriticalCount(cs) >= d.config.BlockedCriticalThreshold {
		return ReasonBlockedCritical, true
	}

	if cs.Phase == copilot.PhaseValidation &&
		len(cs.Hypotheses) >= d.config.MinHypothesesForRefutedStall &&
		allRefuted(cs.Hypotheses) {
		return ReasonAllRefuted, true
	}

	if cs.TurnsWithoutPhaseAdvance >= d.config.NoProgressTurns {
		return ReasonNoProgress, true
	}

	if cs.Phase == copilot.PhaseHypothesis &&
		len(cs.Hypotheses) == 0 &&
		cs.TurnsInCurrentPhase >= d.config.CannotTheorizeTurns {
		return ReasonCannotTheorize, true
	}

	return "", false
}

// blockedCriticalCount counts blocked requests in critical categories.
func (d *Detector) blockedCriticalCount(cs *copilot.Case) int {
	n := 0
	for _, r := range cs.EvidenceRequests {
		if r.Status == copilot.RequestBlocked && r.Category.Critical() {
			n++
		}
	}
	return n
}

// allRefuted reports whether every hypothesis is refuted. False for an
// empty slice: validation with zero hypotheses is a different state.
func allRefuted(hs []copilot.Hypothesis) bool {
	if len(hs) == 0 {
		return false
	}
	for _, h := range hs {
		if h.Status != copilot.HypothesisRefuted {
			return false
		}
	}
	return true
}

// Decide maps a stall reason to escalate or abandon.
//
// Blocked-critical and all-refuted always escalate. No-progress
// escalates when the operator submitted evidence in the stalled window
// and abandons when they went silent. Anything unrecognized escalates:
// fail toward more human attention, never toward silent abandonment.
func (d *Detector) Decide(cs *copilot.Case, reason Reason) Decision {
	switch reason {
	case ReasonBlockedCritical, ReasonAllRefuted, ReasonCannotTheorize:
		return DecisionEscalate
	case ReasonNoProgress:
		if cs.EvidenceSubmissionsInWindow > 0 {
			return DecisionEscalate
		}
		return DecisionAbandon
	default:
		return DecisionEscalate
	}
}

// MaintainCounters updates the stall counters for a completed turn.
//
// Called every turn regardless of the detection outcome. A phase advance
// resets both counters and the evidence-submission window; otherwise
// both counters increment.
func MaintainCounters(cs *copilot.Case, phaseAdvanced bool) {
	if phaseAdvanced {
		cs.TurnsWithoutPhaseAdvance = 0
		cs.TurnsInCurrentPhase = 0
		cs.EvidenceSubmissionsInWindow = 0
		return
	}
	cs.TurnsWithoutPhaseAdvance++
	cs.TurnsInCurrentPhase++
}

// Message renders the operator-facing stall explanation. Wording differs
// between escalation and abandonment but carries no business logic.
func Message(cs *copilot.Case, reason Reason, decision Decision) string {
	var what string
	switch reason {
	case ReasonBlockedCritical:
		what = "too much of the critical evidence for this investigation is unavailable"
	case ReasonAllRefuted:
		what = "every candidate root cause has been ruled out"
	case ReasonNoProgress:
		what = fmt.Sprintf("the investigation has not advanced past the %s phase in %d turns",
			cs.Phase, cs.TurnsWithoutPhaseAdvance)
	case ReasonCannotTheorize:
		what = "the evidence gathered so far does not support any root-cause hypothesis"
	default:
		what = "the investigation has stalled"
	}

	if decision == DecisionAbandon {
		return fmt.Sprintf(
			"Closing this case: %s, and no new evidence has arrived. Reopen it any time to pick the investigation back up.",
			what)
	}
	return fmt.Sprintf(
		"Escalating this case to a human responder: %s. A teammate with broader access should take it from here.",
		what)
}

// Stall metrics.
var (
	stallTotal metric.Int64Counter

	stallMetricsOnce sync.Once
	stallMetricsErr  error
)

// initStallMetrics initializes metrics.
func initStallMetrics() error {
	stallMetricsOnce.Do(func() {
		stallTotal, stallMetricsErr = stallMeter.Int64Counter(
			"oncall_stalls_total",
			metric.WithDescription("Stall detections by reason and decision"),
		)
	})
	return stallMetricsErr
}

// recordStallMetric records a stall detection.
func recordStallMetric(reason Reason, decision Decision) {
	if err := initStallMetrics(); err != nil {
		return
	}
	stallTotal.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("reason", string(reason)),
			attribute.String("decision", string(decision)),
		),
	)
}
