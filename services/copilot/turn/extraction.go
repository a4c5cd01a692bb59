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
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianOncall/services/copilot"
	"github.com/AleutianAI/AleutianOncall/services/copilot/classifier"
)

// extraction is the structured output of the single per-turn model call.
// Everything in it is untrusted until validated.
type extraction struct {
	// ResponseText is the operator-facing reply.
	ResponseText string `json:"response_text"`

	// ProblemStatement is the updated problem statement; empty keeps the
	// current one.
	ProblemStatement string `json:"problem_statement"`

	// Phase is the model's phase assessment. Clamped on ingestion and
	// then held to forward-only movement.
	Phase int `json:"phase"`

	// Symptoms are newly observed symptoms.
	Symptoms []string `json:"symptoms"`

	// Confidence is the confidence in the leading hypothesis, in [0,1].
	Confidence *float64 `json:"confidence"`

	// EvidenceSubmitted reports whether the operator's message carried
	// evidence to classify.
	EvidenceSubmitted bool `json:"evidence_submitted"`

	// NewEvidenceRequests are requests to solicit from the operator.
	NewEvidenceRequests []extractedRequest `json:"new_evidence_requests"`

	// NewHypotheses are newly theorized root causes.
	NewHypotheses []extractedHypothesis `json:"new_hypotheses"`

	// SuggestedCommands are diagnostic commands to surface, pre safety
	// annotation.
	SuggestedCommands []extractedCommand `json:"suggested_commands"`

	// RefutationRulings are the operator's verdicts on hypotheses that
	// were pending refutation.
	RefutationRulings []refutationRuling `json:"refutation_rulings"`

	// ResolutionSignal is "", "resolved", or "mitigated" when the
	// operator signaled the incident is over.
	ResolutionSignal string `json:"resolution_signal"`
}

type extractedRequest struct {
	Category     string   `json:"category"`
	Description  string   `json:"description"`
	Guidance     []string `json:"guidance"`
	HypothesisID string   `json:"hypothesis_id"`
}

type extractedHypothesis struct {
	Statement string `json:"statement"`
}

type extractedCommand struct {
	Command   string `json:"command"`
	Rationale string `json:"rationale"`
}

type refutationRuling struct {
	HypothesisID string `json:"hypothesis_id"`
	Confirmed    bool   `json:"confirmed"`
}

// parseExtraction decodes and validates a model completion.
//
// A completion that is not JSON, lacks operator-facing text, or carries
// an unusable phase is malformed; the turn fails retryably and no state
// moves.
func parseExtraction(content string) (*extraction, error) {
	stripped := classifier.StripFences(content)

	var ex extraction
	if err := json.Unmarshal([]byte(stripped), &ex); err != nil {
		return nil, fmt.Errorf("%w: %v", copilot.ErrMalformedExtraction, err)
	}

	if strings.TrimSpace(ex.ResponseText) == "" {
		return nil, fmt.Errorf("%w: empty response_text", copilot.ErrMalformedExtraction)
	}

	if ex.Confidence != nil {
		v := *ex.Confidence
		if v < 0 {
			v = 0
		}
		if v > 1 {
			v = 1
		}
		ex.Confidence = &v
	}

	switch ex.ResolutionSignal {
	case "", "resolved", "mitigated":
	default:
		ex.ResolutionSignal = ""
	}

	// Requests without a description or a recognizable category cannot
	// be tracked; drop them rather than failing the turn.
	valid := ex.NewEvidenceRequests[:0]
	for _, r := range ex.NewEvidenceRequests {
		if strings.TrimSpace(r.Description) == "" {
			continue
		}
		if _, ok := parseCategory(r.Category); !ok {
			continue
		}
		if len(r.Guidance) > copilot.MaxGuidanceItems {
			r.Guidance = r.Guidance[:copilot.MaxGuidanceItems]
		}
		valid = append(valid, r)
	}
	ex.NewEvidenceRequests = valid

	return &ex, nil
}

// parseCategory validates an evidence category value.
func parseCategory(s string) (copilot.EvidenceCategory, bool) {
	switch c := copilot.EvidenceCategory(strings.ToLower(strings.TrimSpace(s))); c {
	case copilot.CategorySymptoms, copilot.CategoryTimeline, copilot.CategoryChanges,
		copilot.CategoryConfiguration, copilot.CategoryScope, copilot.CategoryMetrics,
		copilot.CategoryEnvironment:
		return c, true
	default:
		return "", false
	}
}
