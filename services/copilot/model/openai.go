// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package model

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// OpenAIConfig configures the OpenAI-compatible client.
type OpenAIConfig struct {
	// APIKey authenticates requests. Falls back to the OPENAI_API_KEY
	// environment variable, then the container secret file.
	APIKey string

	// Model is the chat model name. Default: gpt-4o-mini.
	Model string

	// BaseURL overrides the API endpoint for OpenAI-compatible local
	// runtimes (vLLM, llama.cpp server, Ollama's compat endpoint).
	BaseURL string

	// Timeouts are the per-mode invocation timeouts.
	Timeouts Timeouts

	// RequestsPerSecond caps outbound calls. Zero disables limiting.
	RequestsPerSecond float64
}

// OpenAIClient invokes an OpenAI-compatible chat completion API.
//
// Thread Safety: OpenAIClient is safe for concurrent use.
type OpenAIClient struct {
	client   *openai.Client
	model    string
	timeouts Timeouts
	limiter  *rate.Limiter
}

// secretKeyPath is where container orchestration mounts the API key.
const secretKeyPath = "/run/secrets/openai_api_key"

// NewOpenAIClient creates the client from config, resolving the API key
// from the environment or the mounted secret when unset.
//
// Outputs:
//
//	*OpenAIClient - The configured client.
//	error - Non-nil if no API key could be resolved.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		raw, err := os.ReadFile(secretKeyPath)
		if err != nil {
			return nil, fmt.Errorf("no API key: OPENAI_API_KEY unset and secret not found at %s", secretKeyPath)
		}
		apiKey = strings.TrimSpace(string(raw))
		slog.Info("Read the OpenAI API key from mounted secret")
	}

	mdl := cfg.Model
	if mdl == "" {
		mdl = "gpt-4o-mini"
		slog.Warn("model not set, defaulting", "model", mdl)
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	timeouts := cfg.Timeouts
	if timeouts == (Timeouts{}) {
		timeouts = DefaultTimeouts()
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	slog.Info("Initializing model client", "provider", "openai", "model", mdl)
	return &OpenAIClient{
		client:   openai.NewClientWithConfig(clientCfg),
		model:    mdl,
		timeouts: timeouts,
		limiter:  limiter,
	}, nil
}

// Invoke implements the Client interface.
//
// Description:
//
//	Applies the per-mode timeout on top of the caller's context, waits
//	for the rate limiter, and performs exactly one chat completion call.
//	Every failure is wrapped in ErrInvocation so callers can branch on a
//	single sentinel.
func (o *OpenAIClient) Invoke(ctx context.Context, req *InvokeRequest) (*InvokeResponse, error) {
	timeout := o.timeouts.For(req.Mode)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	chatReq := openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    messages,
		Temperature: req.Temperature,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxCompletionTokens = req.MaxTokens
	}
	// Structured modes get JSON-constrained output at the API level.
	if req.Mode == ModeClassify || req.Mode == ModeExtractState {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	start := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		slog.Error("model call failed", "mode", req.Mode, "error", err)
		return nil, fmt.Errorf("%w: %s: %v", ErrInvocation, req.Mode, err)
	}
	if len(resp.Choices) == 0 {
		slog.Warn("model returned no choices", "mode", req.Mode)
		return nil, fmt.Errorf("%w: %s: empty completion", ErrInvocation, req.Mode)
	}

	return &InvokeResponse{
		Content:    resp.Choices[0].Message.Content,
		TokensUsed: resp.Usage.TotalTokens,
		Duration:   time.Since(start),
	}, nil
}

// Name implements the Client interface.
func (o *OpenAIClient) Name() string { return "openai" }
