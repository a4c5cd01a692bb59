// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store is the persistence boundary for cases.
//
// Callers perform read-modify-write on whole case documents: the turn
// controller loads a case, mutates a clone, and saves only when the turn
// fully completes. The store itself does no merging.
package store

import (
	"context"
	"errors"

	"github.com/AleutianAI/AleutianOncall/services/copilot"
)

// ErrNotFound is returned when no case exists under the given id.
var ErrNotFound = errors.New("case not found")

// Store persists cases.
//
// Thread Safety: implementations must be safe for concurrent use; the
// turn controller serializes writes per case, but reads and cross-case
// writes are concurrent.
type Store interface {
	// Load returns the case with the given id, or ErrNotFound.
	Load(ctx context.Context, caseID string) (*copilot.Case, error)

	// Save writes the full case document.
	Save(ctx context.Context, cs *copilot.Case) error

	// List returns the ids of all stored cases.
	List(ctx context.Context) ([]string, error)

	// Close releases underlying resources.
	Close() error
}
