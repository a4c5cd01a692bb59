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
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianOncall/services/copilot"
	"github.com/AleutianAI/AleutianOncall/services/copilot/knowledge"
)

// extractSystemPrompt drives the single structured-extraction call per
// turn.
const extractSystemPrompt = `You are an incident troubleshooting copilot guiding an on-call operator through a structured investigation.

The investigation moves through phases:
  0 intake        - capture the problem statement
  1 blast_radius  - establish scope and impact
  2 timeline      - when it started, what changed
  3 hypothesis    - candidate root causes
  4 validation    - test hypotheses against evidence
  5 solution      - converge on a fix or mitigation

Advance the phase only when its goal is genuinely met. Ask for at most a few pieces of evidence at a time, each with short acquisition guidance (max 3 items).

Respond with a single JSON object and nothing else:
{
  "response_text": "",            // your reply to the operator, required
  "problem_statement": "",        // updated statement, or "" to keep current
  "phase": 0,                     // your phase assessment
  "symptoms": [],                 // newly observed symptoms
  "confidence": null,             // 0-1 confidence in the leading hypothesis, or null
  "evidence_submitted": false,    // did this message carry evidence to record?
  "new_evidence_requests": [      // evidence to solicit now
    {"category": "metrics", "description": "", "guidance": [], "hypothesis_id": ""}
  ],
  "new_hypotheses": [{"statement": ""}],
  "suggested_commands": [{"command": "", "rationale": ""}],
  "refutation_rulings": [         // only when the operator ruled on a pending refutation
    {"hypothesis_id": "", "confirmed": false}
  ],
  "resolution_signal": ""         // "resolved" | "mitigated" | ""
}

Categories: symptoms, timeline, changes, configuration, scope, metrics, environment.`

// summarizeSystemPrompt drives context compression.
const summarizeSystemPrompt = `Compress this incident investigation state into a concise summary that preserves: the problem statement, confirmed facts, key evidence received, hypotheses and their status, and what is still unknown. Plain text, no preamble.`

// closureSystemPrompt drives the closure summary.
const closureSystemPrompt = `Write a closure summary for this incident investigation: what the problem was, what the root cause turned out to be (or the mitigation applied), the key evidence, and any follow-ups the team should consider. Plain text, no preamble.`

// buildExtractPrompt assembles the per-turn prompt from case state,
// retrieved knowledge, and the operator's message.
func buildExtractPrompt(cs *copilot.Case, docs []knowledge.Document, userText string) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "## Case\nmode: %s\nphase: %d (%s)\nturn: %d\n", cs.Mode, int(cs.Phase), cs.Phase, cs.Turn+1)
	if cs.Problem != "" {
		fmt.Fprintf(&sb, "problem: %s\n", cs.Problem)
	}
	if len(cs.Symptoms) > 0 {
		fmt.Fprintf(&sb, "symptoms: %s\n", strings.Join(cs.Symptoms, "; "))
	}

	if open := cs.ActiveRequests(); len(open) > 0 {
		sb.WriteString("\n## Open evidence requests\n")
		for _, r := range open {
			fmt.Fprintf(&sb, "- id=%s category=%s status=%s completeness=%.2f: %s\n",
				r.ID, r.Category, r.Status, r.Completeness, r.Description)
		}
	}

	if len(cs.Hypotheses) > 0 {
		sb.WriteString("\n## Hypotheses\n")
		for _, h := range cs.Hypotheses {
			status := string(h.Status)
			if cs.RefutationPending(h.ID) {
				status += " (refutation pending operator confirmation)"
			}
			fmt.Fprintf(&sb, "- id=%s [%s]: %s\n", h.ID, status, h.Statement)
		}
	}

	if len(docs) > 0 {
		sb.WriteString("\n## Possibly relevant past incidents and runbooks\n")
		for _, d := range docs {
			fmt.Fprintf(&sb, "- %s: %s\n", d.Title, d.Content)
		}
	}

	if cs.ContextSummary != "" {
		sb.WriteString("\n## Investigation so far (summarized)\n")
		sb.WriteString(cs.ContextSummary)
		sb.WriteString("\n")
	}
	if len(cs.History) > 0 {
		sb.WriteString("\n## Recent conversation\n")
		for _, msg := range cs.History {
			sb.WriteString(msg)
			sb.WriteString("\n")
		}
	}

	sb.WriteString("\n## Operator message\n")
	sb.WriteString(userText)
	sb.WriteString("\n")

	return sb.String()
}

// buildSummarizePrompt serializes the state that summarization folds
// into ContextSummary.
func buildSummarizePrompt(cs *copilot.Case) string {
	var sb strings.Builder
	if cs.ContextSummary != "" {
		sb.WriteString("## Previous summary\n")
		sb.WriteString(cs.ContextSummary)
		sb.WriteString("\n\n")
	}
	fmt.Fprintf(&sb, "## Problem\n%s\n", cs.Problem)
	if len(cs.Symptoms) > 0 {
		fmt.Fprintf(&sb, "\n## Symptoms\n%s\n", strings.Join(cs.Symptoms, "\n"))
	}
	if len(cs.Hypotheses) > 0 {
		sb.WriteString("\n## Hypotheses\n")
		for _, h := range cs.Hypotheses {
			fmt.Fprintf(&sb, "- [%s] %s\n", h.Status, h.Statement)
		}
	}
	sb.WriteString("\n## Conversation\n")
	for _, msg := range cs.History {
		sb.WriteString(msg)
		sb.WriteString("\n")
	}
	return sb.String()
}

// buildClosurePrompt serializes the state behind the closure summary.
func buildClosurePrompt(cs *copilot.Case, signal string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "outcome: %s\n", signal)
	fmt.Fprintf(&sb, "problem: %s\n", cs.Problem)
	if len(cs.Symptoms) > 0 {
		fmt.Fprintf(&sb, "symptoms: %s\n", strings.Join(cs.Symptoms, "; "))
	}
	for _, h := range cs.Hypotheses {
		fmt.Fprintf(&sb, "hypothesis [%s]: %s\n", h.Status, h.Statement)
	}
	if cs.ContextSummary != "" {
		fmt.Fprintf(&sb, "\ninvestigation summary:\n%s\n", cs.ContextSummary)
	}
	if len(cs.History) > 0 {
		sb.WriteString("\nrecent conversation:\n")
		for _, msg := range cs.History {
			sb.WriteString(msg)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
