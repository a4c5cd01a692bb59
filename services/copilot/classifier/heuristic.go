// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package classifier

import (
	"strings"

	"github.com/AleutianAI/AleutianOncall/services/copilot"
)

// unavailabilityMarkers signal the operator asserting evidence does not
// exist or cannot be obtained.
var unavailabilityMarkers = []string{
	"can't",
	"cannot",
	"can not",
	"don't have",
	"do not have",
	"no access",
	"not available",
	"unavailable",
	"doesn't exist",
	"does not exist",
	"no such",
	"unable to",
}

// interrogatives mark a message as a question even without a question
// mark.
var interrogatives = map[string]bool{
	"what": true, "how": true, "why": true, "where": true,
	"when": true, "which": true, "who": true,
}

// stopWords are excluded from lexical overlap so matches come from
// content words, not glue.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "of": true, "for": true,
	"to": true, "in": true, "on": true, "is": true, "are": true,
	"and": true, "or": true, "it": true, "this": true, "that": true,
	"from": true, "with": true, "please": true, "what": true,
	"show": true, "me": true, "your": true, "you": true,
}

// Heuristic is the deterministic fallback classification.
//
// Description:
//
//	Matches the user text against each active request by lexical
//	overlap: a request matches when at least two distinct content
//	words from its description appear in the text. Unavailability
//	markers yield an absence classification with reporting_unavailable
//	intent; otherwise a question mark anywhere or an interrogative word
//	yields asking_question. Intent is independent of request matching.
//	Matched text scores a conservative fixed value, unmatched text
//	scores zero. The result is always well formed.
//
// Outputs:
//
//	copilot.EvidenceClassification - With Fallback set.
func (c *Classifier) Heuristic(in Input) copilot.EvidenceClassification {
	text := strings.ToLower(in.UserText)
	words := tokenize(text)

	var matched []string
	for _, r := range in.ActiveRequests {
		if overlapCount(words, tokenize(strings.ToLower(r.Description))) >= minOverlapWords {
			matched = append(matched, r.ID)
		}
	}

	cls := copilot.EvidenceClassification{
		MatchedRequestIDs: matched,
		EvidenceType:      copilot.EvidenceNeutral,
		UserIntent:        copilot.IntentProvidingEvidence,
		Fallback:          true,
	}

	switch {
	case containsAny(text, unavailabilityMarkers):
		cls.EvidenceType = copilot.EvidenceAbsence
		cls.UserIntent = copilot.IntentReportingUnavailable
	case isQuestion(text):
		cls.UserIntent = copilot.IntentAskingQuestion
	}

	if len(matched) > 0 && cls.EvidenceType != copilot.EvidenceAbsence {
		cls.CompletenessScore = c.config.HeuristicScore
	}

	cls.CompletenessLevel = cls.Level()
	return cls
}

// tokenize splits lowercased text into distinct content words.
func tokenize(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.FieldsFunc(s, func(r rune) bool {
		return !isWordRune(r)
	}) {
		if len(w) < 2 || stopWords[w] {
			continue
		}
		out[w] = true
	}
	return out
}

// isWordRune reports whether r belongs inside a token. Identifiers like
// service names keep their dashes and underscores.
func isWordRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '-' || r == '_' || r == '.':
		return true
	}
	return false
}

// overlapCount counts words present in both sets.
func overlapCount(a, b map[string]bool) int {
	if len(b) < len(a) {
		a, b = b, a
	}
	n := 0
	for w := range a {
		if b[w] {
			n++
		}
	}
	return n
}

// isQuestion reports whether lowercased text reads as a question: a
// question mark anywhere, or an interrogative word as its own token.
func isQuestion(text string) bool {
	if strings.Contains(text, "?") {
		return true
	}
	for _, w := range strings.FieldsFunc(text, func(r rune) bool {
		return !isWordRune(r)
	}) {
		if interrogatives[w] {
			return true
		}
	}
	return false
}

// containsAny reports whether any marker appears in the text.
func containsAny(text string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}
