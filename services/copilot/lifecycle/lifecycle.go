// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lifecycle applies a classification to the evidence and
// hypothesis state of a case.
//
// The single invariant that matters most: per-request completeness is
// max(existing, incoming), never an accumulation. Additive scoring lets
// repeated partial answers masquerade as complete evidence.
package lifecycle

import (
	"log/slog"

	"github.com/AleutianAI/AleutianOncall/services/copilot"
)

// Manager applies classified evidence to case state.
//
// Thread Safety: Manager is stateless; the caller owns the Case and must
// serialize access to it (the turn controller holds the per-case lock).
type Manager struct {
	logger *slog.Logger
}

// NewManager creates a lifecycle manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger}
}

// Apply updates the case's evidence requests and hypotheses from one
// classified submission.
//
// Description:
//
//	For each matched request: completeness becomes the max of the
//	existing value and the classification score, status is rederived
//	from the new completeness and the user intent, and the submission
//	is linked to the request. Refuting evidence puts its hypothesis
//	into pending-refutation rather than refuting it outright. An
//	absence submission with no matched request is a legitimate blocked
//	update against the open requests, not an error. Finally, requests
//	whose supporting hypothesis is no longer active are swept to
//	obsolete, which overrides every other status.
//
// Inputs:
//
//	cls - The classification of the submission.
//	evidence - The stored submission being applied.
//	cs - The case to mutate. The caller passes a clone and commits it
//	     only when the whole turn succeeds.
func (m *Manager) Apply(cls copilot.EvidenceClassification, evidence copilot.EvidenceProvided, cs *copilot.Case) {
	for _, id := range cls.MatchedRequestIDs {
		req := cs.Request(id)
		if req == nil {
			m.logger.Warn("classification matched unknown request",
				"case_id", cs.ID, "request_id", id)
			continue
		}
		m.applyToRequest(cls, evidence, req)
	}

	if len(cls.MatchedRequestIDs) == 0 && cls.EvidenceType == copilot.EvidenceAbsence {
		m.applyUnmatchedAbsence(evidence, cs)
	}

	if cls.EvidenceType == copilot.EvidenceRefuting {
		m.recordRefutation(cls, evidence, cs)
	}
	if cls.EvidenceType == copilot.EvidenceSupportive && cls.HypothesisID != "" {
		if h := cs.HypothesisByID(cls.HypothesisID); h != nil {
			h.SupportingEvidenceIDs = append(h.SupportingEvidenceIDs, evidence.ID)
		}
	}

	m.sweepObsolete(cs)
}

// applyToRequest updates one matched request.
func (m *Manager) applyToRequest(cls copilot.EvidenceClassification, evidence copilot.EvidenceProvided, req *copilot.EvidenceRequest) {
	if req.Status == copilot.RequestObsolete {
		// Obsolete is final; late evidence against a dead request is
		// recorded nowhere.
		return
	}

	// max, never additive.
	if cls.CompletenessScore > req.Completeness {
		req.Completeness = cls.CompletenessScore
	}
	req.EvidenceIDs = append(req.EvidenceIDs, evidence.ID)

	switch {
	case cls.UserIntent == copilot.IntentReportingUnavailable,
		cls.EvidenceType == copilot.EvidenceAbsence:
		req.Status = copilot.RequestBlocked
	case req.Completeness >= copilot.CompleteThreshold:
		req.Status = copilot.RequestComplete
	case req.Completeness > 0:
		req.Status = copilot.RequestPartial
	default:
		req.Status = copilot.RequestPending
	}
}

// applyUnmatchedAbsence handles "no such evidence exists" with no
// matched request: every still-open request the operator could be
// answering stays open except when exactly one is open, in which case
// the assertion is unambiguous and blocks it.
func (m *Manager) applyUnmatchedAbsence(evidence copilot.EvidenceProvided, cs *copilot.Case) {
	open := cs.ActiveRequests()
	if len(open) != 1 {
		m.logger.Info("absence report did not resolve to a single request",
			"case_id", cs.ID, "open_requests", len(open))
		return
	}
	req := cs.Request(open[0].ID)
	req.Status = copilot.RequestBlocked
	req.EvidenceIDs = append(req.EvidenceIDs, evidence.ID)
}

// recordRefutation marks the target hypothesis pending-refutation. The
// flip to refuted happens only after the operator confirms in a later
// turn.
func (m *Manager) recordRefutation(cls copilot.EvidenceClassification, evidence copilot.EvidenceProvided, cs *copilot.Case) {
	if cls.HypothesisID == "" {
		m.logger.Warn("refuting evidence without a target hypothesis",
			"case_id", cs.ID, "evidence_id", evidence.ID)
		return
	}
	h := cs.HypothesisByID(cls.HypothesisID)
	if h == nil {
		m.logger.Warn("refuting evidence targets unknown hypothesis",
			"case_id", cs.ID, "hypothesis_id", cls.HypothesisID)
		return
	}
	h.RefutingEvidenceIDs = append(h.RefutingEvidenceIDs, evidence.ID)
	if h.Status == copilot.HypothesisActive && !cs.RefutationPending(h.ID) {
		cs.PendingRefutations = append(cs.PendingRefutations, h.ID)
	}
}

// ConfirmRefutation resolves a pending refutation from operator input.
//
// Inputs:
//
//	cs - The case to mutate.
//	hypothesisID - The hypothesis the operator ruled on.
//	confirmed - True refutes the hypothesis; false clears the pending
//	            flag and leaves it active.
//
// Outputs:
//
//	bool - False when no such refutation was pending.
func (m *Manager) ConfirmRefutation(cs *copilot.Case, hypothesisID string, confirmed bool) bool {
	if !cs.RefutationPending(hypothesisID) {
		return false
	}

	remaining := cs.PendingRefutations[:0]
	for _, id := range cs.PendingRefutations {
		if id != hypothesisID {
			remaining = append(remaining, id)
		}
	}
	cs.PendingRefutations = remaining

	if confirmed {
		if h := cs.HypothesisByID(hypothesisID); h != nil {
			h.Status = copilot.HypothesisRefuted
		}
		m.sweepObsolete(cs)
	}
	return true
}

// sweepObsolete marks requests whose supporting hypothesis is no longer
// active. Obsolete overrides every other status.
func (m *Manager) sweepObsolete(cs *copilot.Case) {
	for i := range cs.EvidenceRequests {
		req := &cs.EvidenceRequests[i]
		if req.HypothesisID == "" || req.Status == copilot.RequestObsolete {
			continue
		}
		h := cs.HypothesisByID(req.HypothesisID)
		if h == nil || h.Status != copilot.HypothesisActive {
			req.Status = copilot.RequestObsolete
		}
	}
}
