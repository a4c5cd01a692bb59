// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package model defines the model capability boundary for the copilot.
//
// The copilot makes exactly one kind of external call: an invocation of a
// black-box text/structured-output generator. Components name the purpose
// of a call via Mode; concrete transports (OpenAI-compatible HTTP, local
// runtimes) are injected behind the Client interface.
//
// Thread Safety:
//
//	All implementations must be safe for concurrent use.
package model

import (
	"context"
	"errors"
	"time"
)

// Mode names the purpose of a model invocation.
type Mode string

const (
	// ModeClassify classifies an operator submission against requests.
	ModeClassify Mode = "classify"

	// ModeExtractState extracts updated diagnostic state from a turn.
	ModeExtractState Mode = "extract_state"

	// ModeSummarize compresses accumulated diagnostic context.
	ModeSummarize Mode = "summarize"

	// ModeGenerateClosure writes the closure summary for a resolved case.
	ModeGenerateClosure Mode = "generate_closure"
)

// Sentinel errors for the model boundary.
var (
	// ErrInvocation indicates the call failed: timeout, transport error,
	// non-2xx, or an empty/malformed completion.
	ErrInvocation = errors.New("model invocation failed")

	// ErrRateLimited indicates the local rate limiter rejected the call
	// before any request was sent.
	ErrRateLimited = errors.New("model invocation rate limited")
)

// InvokeRequest is one request, one response; no hidden retries. Retries,
// where added, live at the turn controller and must be idempotent there.
type InvokeRequest struct {
	// Mode names the purpose of the call.
	Mode Mode `json:"mode"`

	// System is the system prompt.
	System string `json:"system,omitempty"`

	// Prompt is the user-role content.
	Prompt string `json:"prompt"`

	// MaxTokens bounds the completion length. Zero uses the provider default.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls sampling randomness.
	Temperature float32 `json:"temperature,omitempty"`
}

// InvokeResponse is the completion for a single invocation.
type InvokeResponse struct {
	// Content is the raw completion text. Structured modes return JSON
	// here, possibly wrapped in markdown fencing.
	Content string `json:"content"`

	// TokensUsed is the total tokens consumed, when the provider reports it.
	TokensUsed int `json:"tokens_used,omitempty"`

	// Duration is how long the invocation took.
	Duration time.Duration `json:"duration"`
}

// Client is the model capability boundary.
type Client interface {
	// Invoke sends one prompt and returns one completion.
	//
	// Inputs:
	//   ctx - Carries the per-mode timeout; implementations must respect it.
	//   req - The invocation request.
	//
	// Outputs:
	//   *InvokeResponse - The completion.
	//   error - ErrInvocation (wrapped) on any failure.
	Invoke(ctx context.Context, req *InvokeRequest) (*InvokeResponse, error)

	// Name returns the provider name (e.g. "openai", "mock").
	Name() string
}

// Timeouts holds the per-mode invocation timeouts.
type Timeouts struct {
	// Classify bounds classification calls. The classifier degrades to
	// its heuristic on expiry, so this can be short.
	Classify time.Duration

	// Extract bounds state extraction calls.
	Extract time.Duration

	// Summarize bounds context compression calls.
	Summarize time.Duration

	// Closure bounds closure summary calls.
	Closure time.Duration
}

// DefaultTimeouts returns production defaults.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Classify:  15 * time.Second,
		Extract:   45 * time.Second,
		Summarize: 60 * time.Second,
		Closure:   45 * time.Second,
	}
}

// For returns the timeout for a mode.
func (t Timeouts) For(mode Mode) time.Duration {
	switch mode {
	case ModeClassify:
		return t.Classify
	case ModeExtractState:
		return t.Extract
	case ModeSummarize:
		return t.Summarize
	case ModeGenerateClosure:
		return t.Closure
	default:
		return t.Extract
	}
}
