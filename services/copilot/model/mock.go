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
	"sync"
	"time"
)

// MockClient is a scriptable model client for testing.
//
// Thread Safety:
//
//	MockClient is safe for concurrent use.
type MockClient struct {
	mu sync.RWMutex

	// responses are queued completions keyed by mode. A mode with no
	// queue falls through to defaultContent.
	responses map[Mode][]string

	// defaultContent is returned when no queued response matches.
	defaultContent string

	// errByMode forces an error for a specific mode.
	errByMode map[Mode]error

	// err forces an error for every call.
	err error

	// delay adds artificial latency.
	delay time.Duration

	// calls records every invocation.
	calls []InvokeRequest
}

// NewMockClient creates a mock with an empty script.
func NewMockClient() *MockClient {
	return &MockClient{
		responses:      make(map[Mode][]string),
		errByMode:      make(map[Mode]error),
		defaultContent: "{}",
	}
}

// Queue appends a completion for the given mode.
func (m *MockClient) Queue(mode Mode, content string) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[mode] = append(m.responses[mode], content)
	return m
}

// WithDefault sets the fall-through completion.
func (m *MockClient) WithDefault(content string) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultContent = content
	return m
}

// WithError forces every call to fail.
func (m *MockClient) WithError(err error) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithModeError forces calls for one mode to fail.
func (m *MockClient) WithModeError(mode Mode, err error) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errByMode[mode] = err
	return m
}

// WithDelay adds artificial latency.
func (m *MockClient) WithDelay(d time.Duration) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// Invoke implements the Client interface.
func (m *MockClient) Invoke(ctx context.Context, req *InvokeRequest) (*InvokeResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, *req)

	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvocation, err)
	}
	if m.err != nil {
		return nil, m.err
	}
	if err, ok := m.errByMode[req.Mode]; ok {
		return nil, err
	}

	content := m.defaultContent
	if queue := m.responses[req.Mode]; len(queue) > 0 {
		content = queue[0]
		m.responses[req.Mode] = queue[1:]
	}

	return &InvokeResponse{Content: content, Duration: m.delay}, nil
}

// Name implements the Client interface.
func (m *MockClient) Name() string { return "mock" }

// Calls returns a copy of all recorded invocations.
func (m *MockClient) Calls() []InvokeRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	calls := make([]InvokeRequest, len(m.calls))
	copy(calls, m.calls)
	return calls
}

// CallCount returns the number of invocations, optionally filtered by mode.
func (m *MockClient) CallCount(modes ...Mode) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(modes) == 0 {
		return len(m.calls)
	}
	n := 0
	for _, c := range m.calls {
		for _, mode := range modes {
			if c.Mode == mode {
				n++
			}
		}
	}
	return n
}

// Reset clears the script and recorded calls.
func (m *MockClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = make(map[Mode][]string)
	m.errByMode = make(map[Mode]error)
	m.err = nil
	m.calls = nil
	m.delay = 0
}

// Ensure MockClient implements Client.
var _ Client = (*MockClient)(nil)
