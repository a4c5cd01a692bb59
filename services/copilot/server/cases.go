// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"sync"
)

// caseGuard enforces at most one in-flight turn per case.
//
// A second turn arriving while one is processing is rejected, not
// queued: the rejected caller retries after the response lands, which
// keeps turn ordering visible to the operator. Turns on different cases
// are fully independent.
type caseGuard struct {
	mu       sync.Mutex
	inFlight map[string]bool
}

// newCaseGuard creates an empty guard.
func newCaseGuard() *caseGuard {
	return &caseGuard{inFlight: make(map[string]bool)}
}

// TryAcquire claims the case for one turn. Returns false when a turn is
// already in flight.
func (g *caseGuard) TryAcquire(caseID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inFlight[caseID] {
		return false
	}
	g.inFlight[caseID] = true
	return true
}

// Release frees the case after a turn completes, successfully or not.
func (g *caseGuard) Release(caseID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inFlight, caseID)
}
