// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/AleutianAI/AleutianOncall/services/copilot"
)

// MemoryStore is an in-process Store for tests and single-node
// development.
//
// Thread Safety: safe for concurrent use.
type MemoryStore struct {
	mu    sync.RWMutex
	cases map[string]*copilot.Case
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cases: make(map[string]*copilot.Case)}
}

// Load returns a deep copy of the case with the given id.
func (s *MemoryStore) Load(_ context.Context, caseID string) (*copilot.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cs, ok := s.cases[caseID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, caseID)
	}
	return cs.Clone(), nil
}

// Save stores a deep copy of the case.
func (s *MemoryStore) Save(_ context.Context, cs *copilot.Case) error {
	if cs.ID == "" {
		return fmt.Errorf("case id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cases[cs.ID] = cs.Clone()
	return nil
}

// List returns all stored case ids in sorted order.
func (s *MemoryStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.cases))
	for id := range s.cases {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
