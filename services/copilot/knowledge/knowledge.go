// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package knowledge retrieves past-incident context to enrich
// investigation prompts.
//
// Retrieval is advisory: a failed or empty search never fails a turn,
// the prompt just goes out without historical context.
package knowledge

import (
	"context"
)

// Document is one retrieved knowledge fragment.
type Document struct {
	// Title identifies the source (runbook name, incident id).
	Title string `json:"title"`

	// Content is the retrieved text.
	Content string `json:"content"`

	// Certainty is the retrieval confidence in [0,1], when the backend
	// provides one.
	Certainty float64 `json:"certainty,omitempty"`
}

// Retriever searches the knowledge base.
//
// Thread Safety: implementations must be safe for concurrent use.
type Retriever interface {
	// Search returns up to limit documents relevant to the query.
	Search(ctx context.Context, query string, limit int) ([]Document, error)
}

// NoopRetriever is used when no knowledge backend is configured.
type NoopRetriever struct{}

// Search always returns no documents.
func (NoopRetriever) Search(_ context.Context, _ string, _ int) ([]Document, error) {
	return nil, nil
}

var _ Retriever = NoopRetriever{}
