// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package classifier converts raw operator text, the outstanding evidence
// requests, and recent conversation history into a structured
// five-dimensional classification.
//
// The primary path asks the model to classify. Every failure on that path
// (timeout, transport error, malformed or incomplete output) degrades to a
// deterministic lexical heuristic; classification never propagates an
// error to the caller.
//
// Thread Safety:
//
//	Classifier is stateless between calls and safe for concurrent use.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/AleutianAI/AleutianOncall/services/copilot"
	"github.com/AleutianAI/AleutianOncall/services/copilot/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level meter for classifier metrics.
var classifierMeter = otel.Meter("aleutian.copilot.classifier")

// Default configuration values.
const (
	// DefaultHistoryWindow is how many recent messages feed the prompt.
	DefaultHistoryWindow = 6

	// DefaultHeuristicScore is the conservative completeness score the
	// heuristic assigns when at least one request matched.
	DefaultHeuristicScore = 0.4

	// minOverlapWords is the lexical-overlap threshold for a heuristic
	// match between user text and a request description.
	minOverlapWords = 2
)

// Config configures classification behavior.
type Config struct {
	// HistoryWindow is how many recent messages feed the prompt.
	HistoryWindow int

	// HeuristicScore is the fallback completeness score used when the
	// heuristic matched at least one request.
	HeuristicScore float64

	// MaxTokens bounds the classification completion.
	MaxTokens int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		HistoryWindow:  DefaultHistoryWindow,
		HeuristicScore: DefaultHeuristicScore,
		MaxTokens:      600,
	}
}

// Input carries one submission to classify.
type Input struct {
	// UserText is the raw operator message.
	UserText string

	// ActiveRequests are the currently open evidence requests.
	ActiveRequests []copilot.EvidenceRequest

	// History is recent conversation, newest last.
	History []string

	// Form distinguishes typed input from pasted artifacts.
	Form copilot.EvidenceForm
}

// Classifier classifies operator submissions.
type Classifier struct {
	client model.Client
	config Config
	logger *slog.Logger
}

// New creates a classifier.
//
// Inputs:
//
//	client - The model capability boundary. Must not be nil.
//	config - Classification configuration; zero values use defaults.
//	logger - Logger for diagnostics (nil for default).
func New(client model.Client, config Config, logger *slog.Logger) *Classifier {
	if config.HistoryWindow <= 0 {
		config.HistoryWindow = DefaultHistoryWindow
	}
	if config.HeuristicScore <= 0 {
		config.HeuristicScore = DefaultHeuristicScore
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 600
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{client: client, config: config, logger: logger}
}

// Classify classifies one submission against the active requests.
//
// Description:
//
//	Builds the classification prompt, invokes the model, and parses the
//	structured response. On any invocation or parse failure it degrades
//	to the deterministic heuristic. The returned classification always
//	has a score clamped to [0,1], a non-empty user intent, and a
//	completeness level matching the derivation rules.
//
// Inputs:
//
//	ctx - Carries cancellation; the model client applies its timeout.
//	in - The submission and its context.
//
// Outputs:
//
//	copilot.EvidenceClassification - Never an error; failures fall back.
//
// Thread Safety: This method is safe for concurrent use.
func (c *Classifier) Classify(ctx context.Context, in Input) copilot.EvidenceClassification {
	result, err := c.classifyWithModel(ctx, in)
	if err != nil {
		c.logger.Warn("classification degraded to heuristic", "error", err)
		recordFallbackMetric(string(in.Form))
		result = c.Heuristic(in)
	}

	result.CompletenessScore = clamp01(result.CompletenessScore)
	result.CompletenessLevel = result.Level()
	c.validateConsistency(&result)
	return result
}

// classifyWithModel runs the primary model-backed path.
func (c *Classifier) classifyWithModel(ctx context.Context, in Input) (copilot.EvidenceClassification, error) {
	resp, err := c.client.Invoke(ctx, &model.InvokeRequest{
		Mode:      model.ModeClassify,
		System:    classifySystemPrompt,
		Prompt:    c.buildPrompt(in),
		MaxTokens: c.config.MaxTokens,
	})
	if err != nil {
		return copilot.EvidenceClassification{}, fmt.Errorf("invoke: %w", err)
	}

	parsed, err := parseClassification(resp.Content)
	if err != nil {
		return copilot.EvidenceClassification{}, fmt.Errorf("parse: %w", err)
	}

	// Discard matches for requests that are not actually open. The model
	// is an untrusted producer.
	open := make(map[string]bool, len(in.ActiveRequests))
	for _, r := range in.ActiveRequests {
		open[r.ID] = true
	}
	matched := parsed.MatchedRequestIDs[:0]
	for _, id := range parsed.MatchedRequestIDs {
		if open[id] {
			matched = append(matched, id)
		}
	}
	parsed.MatchedRequestIDs = matched

	return parsed, nil
}

// buildPrompt assembles the classification prompt.
func (c *Classifier) buildPrompt(in Input) string {
	var sb strings.Builder

	sb.WriteString("## Open evidence requests\n")
	if len(in.ActiveRequests) == 0 {
		sb.WriteString("(none)\n")
	}
	for _, r := range in.ActiveRequests {
		fmt.Fprintf(&sb, "- id=%s category=%s: %s\n", r.ID, r.Category, r.Description)
	}

	history := in.History
	if len(history) > c.config.HistoryWindow {
		history = history[len(history)-c.config.HistoryWindow:]
	}
	if len(history) > 0 {
		sb.WriteString("\n## Recent conversation\n")
		for _, msg := range history {
			sb.WriteString(msg)
			sb.WriteString("\n")
		}
	}

	sb.WriteString("\n## Operator message")
	if in.Form == copilot.FormDocument {
		sb.WriteString(" (pasted artifact)")
	}
	sb.WriteString("\n")
	sb.WriteString(in.UserText)
	sb.WriteString("\n")

	return sb.String()
}

// classifySystemPrompt instructs the model to emit the five dimensions.
const classifySystemPrompt = `You classify an operator's message in an incident investigation against the open evidence requests.

Respond with a single JSON object and nothing else:
{
  "matched_request_ids": [],            // ids of open requests this message addresses; [] if none
  "completeness_score": 0.0,            // 0-1, how fully the best-matched request is now satisfied
  "completeness_level": "partial",      // partial | complete | over_complete
  "evidence_type": "neutral",           // supportive | refuting | neutral | absence
  "user_intent": "providing_evidence",  // providing_evidence | asking_question | reporting_unavailable | reporting_status | clarifying | off_topic
  "hypothesis_id": ""                   // hypothesis the evidence refutes, if any
}

Rules: completeness_level is complete only when completeness_score >= 0.8; over_complete only when two or more requests matched. evidence_type absence means the operator asserts the requested evidence does not exist.`

// rawClassification mirrors the wire shape for strict field validation.
// Pointers distinguish absent fields from zero values.
type rawClassification struct {
	MatchedRequestIDs *[]string `json:"matched_request_ids"`
	CompletenessScore *float64  `json:"completeness_score"`
	CompletenessLevel *string   `json:"completeness_level"`
	EvidenceType      *string   `json:"evidence_type"`
	UserIntent        *string   `json:"user_intent"`
	HypothesisID      string    `json:"hypothesis_id"`
}

// parseClassification parses a model completion, tolerating markdown
// fencing, and requires all five dimensions to be present.
func parseClassification(content string) (copilot.EvidenceClassification, error) {
	var zero copilot.EvidenceClassification

	stripped := StripFences(content)
	var raw rawClassification
	if err := json.Unmarshal([]byte(stripped), &raw); err != nil {
		return zero, fmt.Errorf("unmarshal classification: %w", err)
	}

	switch {
	case raw.MatchedRequestIDs == nil:
		return zero, fmt.Errorf("missing field matched_request_ids")
	case raw.CompletenessScore == nil:
		return zero, fmt.Errorf("missing field completeness_score")
	case raw.CompletenessLevel == nil:
		return zero, fmt.Errorf("missing field completeness_level")
	case raw.EvidenceType == nil:
		return zero, fmt.Errorf("missing field evidence_type")
	case raw.UserIntent == nil:
		return zero, fmt.Errorf("missing field user_intent")
	}

	evidenceType, err := parseEvidenceType(*raw.EvidenceType)
	if err != nil {
		return zero, err
	}
	intent, err := parseUserIntent(*raw.UserIntent)
	if err != nil {
		return zero, err
	}

	return copilot.EvidenceClassification{
		MatchedRequestIDs: *raw.MatchedRequestIDs,
		CompletenessScore: clamp01(*raw.CompletenessScore),
		EvidenceType:      evidenceType,
		UserIntent:        intent,
		HypothesisID:      raw.HypothesisID,
	}, nil
}

// parseEvidenceType validates an evidence_type enum value.
func parseEvidenceType(s string) (copilot.EvidenceType, error) {
	switch t := copilot.EvidenceType(strings.ToLower(strings.TrimSpace(s))); t {
	case copilot.EvidenceSupportive, copilot.EvidenceRefuting,
		copilot.EvidenceNeutral, copilot.EvidenceAbsence:
		return t, nil
	default:
		return "", fmt.Errorf("invalid evidence_type %q", s)
	}
}

// parseUserIntent validates a user_intent enum value.
func parseUserIntent(s string) (copilot.UserIntent, error) {
	switch i := copilot.UserIntent(strings.ToLower(strings.TrimSpace(s))); i {
	case copilot.IntentProvidingEvidence, copilot.IntentAskingQuestion,
		copilot.IntentReportingUnavailable, copilot.IntentReportingStatus,
		copilot.IntentClarifying, copilot.IntentOffTopic:
		return i, nil
	default:
		return "", fmt.Errorf("invalid user_intent %q", s)
	}
}

// StripFences removes surrounding markdown code fencing from a completion.
//
// Handles ```json ... ``` and bare ``` ... ``` wrappers; anything else is
// returned trimmed but otherwise untouched.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		// Drop the language tag line (e.g. "json").
		first := strings.TrimSpace(s[:idx])
		if len(first) <= 10 && !strings.ContainsAny(first, "{}[]") {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// validateConsistency re-checks the derivation invariants post hoc.
//
// Violations are logged, never raised; the classification has already
// been corrected to the derived level, so this is a diagnostic signal
// about the producer, not a blocking error.
func (c *Classifier) validateConsistency(cls *copilot.EvidenceClassification) {
	if cls.CompletenessScore < 0 || cls.CompletenessScore > 1 {
		c.logger.Warn("classification score out of range after clamp",
			"score", cls.CompletenessScore)
	}
	if cls.CompletenessLevel == copilot.LevelComplete && cls.CompletenessScore < copilot.CompleteThreshold {
		c.logger.Warn("classification level inconsistent",
			"level", cls.CompletenessLevel,
			"score", cls.CompletenessScore)
	}
	if cls.CompletenessLevel == copilot.LevelOverComplete && len(cls.MatchedRequestIDs) < 2 {
		c.logger.Warn("classification level inconsistent",
			"level", cls.CompletenessLevel,
			"matched", len(cls.MatchedRequestIDs))
	}
	if cls.UserIntent == "" {
		c.logger.Warn("classification missing user intent")
	}
}

// clamp01 clamps a score into [0,1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Classifier metrics.
var (
	fallbackTotal metric.Int64Counter

	classifierMetricsOnce sync.Once
	classifierMetricsErr  error
)

// initClassifierMetrics initializes metrics.
func initClassifierMetrics() error {
	classifierMetricsOnce.Do(func() {
		fallbackTotal, classifierMetricsErr = classifierMeter.Int64Counter(
			"oncall_classifier_fallback_total",
			metric.WithDescription("Classifications served by the heuristic fallback"),
		)
	})
	return classifierMetricsErr
}

// recordFallbackMetric records a heuristic fallback.
func recordFallbackMetric(form string) {
	if err := initClassifierMetrics(); err != nil {
		return
	}
	fallbackTotal.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("form", form)),
	)
}
