// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package copilot implements the Aleutian Oncall incident-troubleshooting
// copilot service.
//
// An operator describes a problem; the copilot solicits specific pieces of
// evidence, classifies whatever the operator supplies, tracks competing
// root-cause hypotheses, and recognizes when an investigation can no longer
// progress so it escalates to a human or terminates instead of looping.
//
// The service is organized around four components, dependency order
// leaves-first:
//
//	classifier - classifies one operator submission against open requests
//	lifecycle  - applies a classification to the case's evidence state
//	stall      - detects unrecoverable investigations and picks a policy
//	turn       - drives one conversational turn end to end
//
// Thread Safety:
//
//	A Case is processed strictly turn-by-turn. The case registry enforces
//	at most one in-flight turn per case id; a concurrent turn for the same
//	case is rejected, never interleaved.
package copilot

import (
	"time"
)

// Mode is the investigation mode for a case.
type Mode string

const (
	// ModeActiveIncident investigates a live, ongoing incident.
	ModeActiveIncident Mode = "active_incident"

	// ModePostMortem reconstructs a past incident from records.
	ModePostMortem Mode = "post_mortem"
)

// CaseStatus is the lifecycle status of a case.
//
// Terminal statuses are resolved, mitigated, abandoned, and closed. A case
// can sit at the Solution phase across many turns while still in_progress;
// phases are never terminal, statuses are.
type CaseStatus string

const (
	// StatusIntake is the status before the first full turn completes.
	StatusIntake CaseStatus = "intake"

	// StatusInProgress is an investigation that is actively advancing.
	StatusInProgress CaseStatus = "in_progress"

	// StatusResolved means the root cause was found and fixed.
	StatusResolved CaseStatus = "resolved"

	// StatusMitigated means impact was contained without full resolution.
	StatusMitigated CaseStatus = "mitigated"

	// StatusStalled means a stall condition fired and a human was engaged.
	StatusStalled CaseStatus = "stalled"

	// StatusAbandoned means the operator disengaged and the case was closed
	// without human hand-off.
	StatusAbandoned CaseStatus = "abandoned"

	// StatusClosed is an administrative close.
	StatusClosed CaseStatus = "closed"
)

// IsTerminal reports whether the status ends the investigation.
func (s CaseStatus) IsTerminal() bool {
	switch s {
	case StatusResolved, StatusMitigated, StatusAbandoned, StatusClosed:
		return true
	default:
		return false
	}
}

// EvidenceCategory classifies what kind of information a request solicits.
type EvidenceCategory string

const (
	// CategorySymptoms covers observed failure behavior.
	CategorySymptoms EvidenceCategory = "symptoms"

	// CategoryTimeline covers when things happened.
	CategoryTimeline EvidenceCategory = "timeline"

	// CategoryChanges covers recent deploys, config pushes, migrations.
	CategoryChanges EvidenceCategory = "changes"

	// CategoryConfiguration covers current system configuration.
	CategoryConfiguration EvidenceCategory = "configuration"

	// CategoryScope covers blast radius: who and what is affected.
	CategoryScope EvidenceCategory = "scope"

	// CategoryMetrics covers quantitative signals and dashboards.
	CategoryMetrics EvidenceCategory = "metrics"

	// CategoryEnvironment covers platform, region, and runtime details.
	CategoryEnvironment EvidenceCategory = "environment"
)

// Critical reports whether a blocked request in this category counts toward
// the blocked-critical stall condition.
func (c EvidenceCategory) Critical() bool {
	switch c {
	case CategorySymptoms, CategoryConfiguration, CategoryMetrics:
		return true
	default:
		return false
	}
}

// RequestStatus is the lifecycle status of an evidence request.
type RequestStatus string

const (
	// RequestPending means nothing has been supplied yet.
	RequestPending RequestStatus = "pending"

	// RequestPartial means some evidence arrived but the need is unmet.
	RequestPartial RequestStatus = "partial"

	// RequestComplete means the request's need is satisfied.
	RequestComplete RequestStatus = "complete"

	// RequestBlocked means the operator cannot acquire this evidence.
	RequestBlocked RequestStatus = "blocked"

	// RequestObsolete means the supporting hypothesis was abandoned.
	// Obsolete overrides every other status.
	RequestObsolete RequestStatus = "obsolete"
)

// EvidenceForm distinguishes how evidence entered the conversation.
type EvidenceForm string

const (
	// FormUserInput is free text typed by the operator.
	FormUserInput EvidenceForm = "user_input"

	// FormDocument is an uploaded or pasted artifact (log, config dump).
	FormDocument EvidenceForm = "document"
)

// EvidenceType is the evidential direction of a submission.
type EvidenceType string

const (
	// EvidenceSupportive strengthens an active hypothesis.
	EvidenceSupportive EvidenceType = "supportive"

	// EvidenceRefuting contradicts an active hypothesis.
	EvidenceRefuting EvidenceType = "refuting"

	// EvidenceNeutral is informative without direction.
	EvidenceNeutral EvidenceType = "neutral"

	// EvidenceAbsence asserts that requested evidence does not exist.
	EvidenceAbsence EvidenceType = "absence"
)

// UserIntent is what the operator was doing with a message.
type UserIntent string

const (
	// IntentProvidingEvidence supplies requested information.
	IntentProvidingEvidence UserIntent = "providing_evidence"

	// IntentAskingQuestion asks the copilot something.
	IntentAskingQuestion UserIntent = "asking_question"

	// IntentReportingUnavailable says the evidence cannot be acquired.
	IntentReportingUnavailable UserIntent = "reporting_unavailable"

	// IntentReportingStatus reports incident status without new evidence.
	IntentReportingStatus UserIntent = "reporting_status"

	// IntentClarifying answers a clarifying question from the copilot.
	IntentClarifying UserIntent = "clarifying"

	// IntentOffTopic is unrelated to the investigation. Off-topic turns
	// are a no-op for stall counter accounting.
	IntentOffTopic UserIntent = "off_topic"
)

// CompletenessLevel is derived from score and match count, never set
// independently. See EvidenceClassification.Level.
type CompletenessLevel string

const (
	// LevelPartial is the default level.
	LevelPartial CompletenessLevel = "partial"

	// LevelComplete requires a completeness score of at least 0.8.
	LevelComplete CompletenessLevel = "complete"

	// LevelOverComplete requires the submission to address two or more
	// open requests at once.
	LevelOverComplete CompletenessLevel = "over_complete"
)

// HypothesisStatus is the lifecycle status of a root-cause hypothesis.
type HypothesisStatus string

const (
	// HypothesisActive is under investigation.
	HypothesisActive HypothesisStatus = "active"

	// HypothesisRefuted was contradicted and confirmed dead by the operator.
	HypothesisRefuted HypothesisStatus = "refuted"

	// HypothesisConfirmed was validated as the root cause.
	HypothesisConfirmed HypothesisStatus = "confirmed"
)

// CompleteThreshold is the completeness score at or above which a request
// (and a classification level) counts as complete.
const CompleteThreshold = 0.8

// MaxGuidanceItems bounds acquisition guidance per request.
const MaxGuidanceItems = 3

// EvidenceRequest is a solicited, trackable piece of information needed to
// progress the investigation.
type EvidenceRequest struct {
	// ID is the unique request identifier.
	ID string `json:"id"`

	// Description says what evidence is needed, in operator terms.
	Description string `json:"description"`

	// Category classifies the kind of evidence solicited.
	Category EvidenceCategory `json:"category"`

	// Status is driven only by the lifecycle manager.
	Status RequestStatus `json:"status"`

	// Completeness is in [0,1] and monotonically non-decreasing while the
	// request is active. It is never accumulated additively; repeated
	// partial answers must not sum into a false complete.
	Completeness float64 `json:"completeness_score"`

	// HypothesisID is the supporting hypothesis, if any. When that
	// hypothesis leaves the active status this request becomes obsolete.
	HypothesisID string `json:"hypothesis_id,omitempty"`

	// Guidance holds at most MaxGuidanceItems acquisition hints.
	Guidance []string `json:"guidance,omitempty"`

	// EvidenceIDs references the submissions applied to this request.
	EvidenceIDs []string `json:"evidence_ids,omitempty"`

	// CreatedTurn is the turn index on which the request was raised.
	CreatedTurn int `json:"created_turn"`
}

// Active reports whether the request still solicits evidence.
func (r *EvidenceRequest) Active() bool {
	return r.Status == RequestPending || r.Status == RequestPartial
}

// EvidenceProvided is one operator submission. Immutable once created.
type EvidenceProvided struct {
	// ID is the unique submission identifier.
	ID string `json:"id"`

	// Content is the raw submitted text.
	Content string `json:"content"`

	// Form distinguishes typed input from pasted artifacts.
	Form EvidenceForm `json:"form"`

	// Turn is the turn index on which the evidence arrived.
	Turn int `json:"turn"`

	// SubmittedAt is the submission timestamp.
	SubmittedAt time.Time `json:"submitted_at"`
}

// EvidenceClassification is the five-dimensional output of classifying one
// submission against the active evidence requests.
//
// The completeness level is a computed property: use Level rather than
// storing a level alongside the score, so the derivation invariant cannot
// be broken by construction. The serialized completeness_level field is
// populated from Level at encode time by the classifier.
type EvidenceClassification struct {
	// MatchedRequestIDs are the open requests this submission addresses.
	// Empty is valid and means "addresses no open request".
	MatchedRequestIDs []string `json:"matched_request_ids"`

	// CompletenessScore is clamped to [0,1].
	CompletenessScore float64 `json:"completeness_score"`

	// CompletenessLevel mirrors Level() for the wire. Consumers must not
	// trust it over the derivation; the lifecycle manager recomputes.
	CompletenessLevel CompletenessLevel `json:"completeness_level"`

	// EvidenceType is the evidential direction of the submission.
	EvidenceType EvidenceType `json:"evidence_type"`

	// UserIntent is what the operator was doing with the message.
	UserIntent UserIntent `json:"user_intent"`

	// HypothesisID is the hypothesis a refuting submission targets, when
	// the model identified one.
	HypothesisID string `json:"hypothesis_id,omitempty"`

	// Fallback records that the heuristic path produced this result.
	// Internal signal only; invisible in the operator-facing response.
	Fallback bool `json:"-"`
}

// Level derives the completeness level from the score and match count.
//
// Derivation rules:
//
//	over_complete - the submission addressed two or more requests
//	complete      - score at or above CompleteThreshold
//	partial       - everything else
func (c *EvidenceClassification) Level() CompletenessLevel {
	if len(c.MatchedRequestIDs) >= 2 {
		return LevelOverComplete
	}
	if c.CompletenessScore >= CompleteThreshold {
		return LevelComplete
	}
	return LevelPartial
}

// Hypothesis is a candidate root cause.
type Hypothesis struct {
	// ID is the unique hypothesis identifier.
	ID string `json:"id"`

	// Statement is a falsifiable root-cause claim.
	Statement string `json:"statement"`

	// Status is active until refuted or confirmed.
	Status HypothesisStatus `json:"status"`

	// SupportingEvidenceIDs reference supportive submissions.
	SupportingEvidenceIDs []string `json:"supporting_evidence_ids,omitempty"`

	// RefutingEvidenceIDs reference refuting submissions.
	RefutingEvidenceIDs []string `json:"refuting_evidence_ids,omitempty"`
}

// Case is one troubleshooting investigation spanning many turns.
//
// The Case exclusively owns its requests, evidence, and hypotheses; no
// entity outlives its Case and none is shared between cases.
type Case struct {
	// ID is the unique case identifier.
	ID string `json:"id"`

	// Phase is the current investigation phase, 0 through 5.
	Phase Phase `json:"phase"`

	// Mode is active_incident or post_mortem.
	Mode Mode `json:"mode"`

	// Status is the case lifecycle status.
	Status CaseStatus `json:"status"`

	// Problem is the evolving problem statement.
	Problem string `json:"problem,omitempty"`

	// Symptoms is the accumulated symptom list.
	Symptoms []string `json:"symptoms,omitempty"`

	// Confidence is the overall confidence in the leading hypothesis,
	// in [0,1]. Nil until the model produces one.
	Confidence *float64 `json:"confidence,omitempty"`

	// Turn is the index of the last completed turn.
	Turn int `json:"turn"`

	// TurnsWithoutPhaseAdvance counts consecutive turns with no phase
	// movement. Reset to zero whenever the phase advances.
	TurnsWithoutPhaseAdvance int `json:"turns_without_phase_advance"`

	// TurnsInCurrentPhase counts turns spent in the current phase.
	TurnsInCurrentPhase int `json:"turns_in_current_phase"`

	// EvidenceSubmissionsInWindow counts operator evidence submissions
	// since the last phase advance. Distinguishes an engaged-but-stuck
	// operator (escalate) from a disengaged one (abandon).
	EvidenceSubmissionsInWindow int `json:"evidence_submissions_in_window"`

	// EvidenceRequests are all solicited evidence items.
	EvidenceRequests []EvidenceRequest `json:"evidence_requests"`

	// EvidenceProvided are all operator submissions.
	EvidenceProvided []EvidenceProvided `json:"evidence_provided"`

	// Hypotheses are all candidate root causes.
	Hypotheses []Hypothesis `json:"hypotheses"`

	// PendingRefutations holds hypothesis ids with refuting evidence that
	// awaits operator confirmation. A hypothesis is never refuted on the
	// turn the refuting evidence arrives.
	PendingRefutations []string `json:"pending_refutations,omitempty"`

	// History is the recent conversation, oldest first. Entries are
	// prefixed with the speaker role.
	History []string `json:"history,omitempty"`

	// ContextSummary is the compressed representation of history that
	// summarization folded away. Prompt assembly prepends it.
	ContextSummary string `json:"context_summary,omitempty"`

	// StallReason records why the case stalled or was abandoned.
	StallReason string `json:"stall_reason,omitempty"`

	// ClosureSummary is the generated summary stored at closure.
	ClosureSummary string `json:"closure_summary,omitempty"`

	// CreatedAt is the case creation time.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is the last mutation time.
	UpdatedAt time.Time `json:"updated_at"`
}

// Request returns the evidence request with the given id, or nil.
func (c *Case) Request(id string) *EvidenceRequest {
	for i := range c.EvidenceRequests {
		if c.EvidenceRequests[i].ID == id {
			return &c.EvidenceRequests[i]
		}
	}
	return nil
}

// HypothesisByID returns the hypothesis with the given id, or nil.
func (c *Case) HypothesisByID(id string) *Hypothesis {
	for i := range c.Hypotheses {
		if c.Hypotheses[i].ID == id {
			return &c.Hypotheses[i]
		}
	}
	return nil
}

// ActiveRequests returns the requests still soliciting evidence.
func (c *Case) ActiveRequests() []EvidenceRequest {
	var active []EvidenceRequest
	for _, r := range c.EvidenceRequests {
		if r.Active() {
			active = append(active, r)
		}
	}
	return active
}

// ActiveHypothesisCount counts hypotheses in the active status.
func (c *Case) ActiveHypothesisCount() int {
	n := 0
	for _, h := range c.Hypotheses {
		if h.Status == HypothesisActive {
			n++
		}
	}
	return n
}

// RefutationPending reports whether the hypothesis id awaits confirmation.
func (c *Case) RefutationPending(id string) bool {
	for _, p := range c.PendingRefutations {
		if p == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the case.
//
// The turn controller mutates a clone and persists it only when the turn
// fully completes, so a failed or canceled turn never leaks partial
// lifecycle mutations into stored state.
func (c *Case) Clone() *Case {
	cp := *c

	if c.Confidence != nil {
		v := *c.Confidence
		cp.Confidence = &v
	}

	cp.Symptoms = append([]string(nil), c.Symptoms...)
	cp.History = append([]string(nil), c.History...)
	cp.PendingRefutations = append([]string(nil), c.PendingRefutations...)

	cp.EvidenceRequests = make([]EvidenceRequest, len(c.EvidenceRequests))
	for i, r := range c.EvidenceRequests {
		r.Guidance = append([]string(nil), r.Guidance...)
		r.EvidenceIDs = append([]string(nil), r.EvidenceIDs...)
		cp.EvidenceRequests[i] = r
	}

	cp.EvidenceProvided = append([]EvidenceProvided(nil), c.EvidenceProvided...)

	cp.Hypotheses = make([]Hypothesis, len(c.Hypotheses))
	for i, h := range c.Hypotheses {
		h.SupportingEvidenceIDs = append([]string(nil), h.SupportingEvidenceIDs...)
		h.RefutingEvidenceIDs = append([]string(nil), h.RefutingEvidenceIDs...)
		cp.Hypotheses[i] = h
	}

	return &cp
}

// SuggestedCommand is a diagnostic command proposed to the operator,
// annotated by safety validation. Validation never blocks a command from
// being surfaced; it only annotates.
type SuggestedCommand struct {
	// Command is the proposed shell command.
	Command string `json:"command"`

	// Rationale says what the command would reveal.
	Rationale string `json:"rationale,omitempty"`

	// SafetyLevel is safe, caution, or dangerous.
	SafetyLevel string `json:"safety_level"`

	// SaferAlternative is a suggested replacement for risky commands.
	SaferAlternative string `json:"safer_alternative,omitempty"`
}

// TurnResult is the inbound-boundary response for one processed turn.
type TurnResult struct {
	// ResponseText is the operator-facing reply.
	ResponseText string `json:"response_text"`

	// EvidenceRequests are the case's currently open requests.
	EvidenceRequests []EvidenceRequest `json:"evidence_requests"`

	// Phase is the phase after this turn.
	Phase Phase `json:"phase"`

	// CaseStatus is the status after this turn.
	CaseStatus CaseStatus `json:"case_status"`

	// SuggestedCommands are safety-annotated diagnostic commands.
	SuggestedCommands []SuggestedCommand `json:"suggested_commands,omitempty"`
}
