// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package knowledge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// IncidentKnowledgeClass is the Weaviate class holding runbook excerpts
// and past-incident summaries.
const IncidentKnowledgeClass = "IncidentKnowledge"

// WeaviateConfig configures the knowledge backend connection.
type WeaviateConfig struct {
	// Host is the Weaviate host, e.g. "localhost:8080".
	Host string

	// Scheme is http or https.
	Scheme string

	// MaxResults caps results per search regardless of the caller's
	// limit.
	MaxResults int
}

// DefaultWeaviateConfig returns production defaults for a local
// deployment.
func DefaultWeaviateConfig() WeaviateConfig {
	return WeaviateConfig{
		Host:       "localhost:8080",
		Scheme:     "http",
		MaxResults: 10,
	}
}

// WeaviateRetriever searches incident knowledge with semantic nearText
// queries.
//
// Thread Safety: safe for concurrent use.
type WeaviateRetriever struct {
	client *weaviate.Client
	config WeaviateConfig
	logger *slog.Logger
}

// NewWeaviateRetriever connects to the knowledge backend.
func NewWeaviateRetriever(config WeaviateConfig, logger *slog.Logger) (*WeaviateRetriever, error) {
	if config.Host == "" {
		return nil, fmt.Errorf("weaviate host is required")
	}
	if config.Scheme == "" {
		config.Scheme = "http"
	}
	if config.MaxResults <= 0 {
		config.MaxResults = DefaultWeaviateConfig().MaxResults
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   config.Host,
		Scheme: config.Scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}

	return &WeaviateRetriever{client: client, config: config, logger: logger}, nil
}

// Search runs a nearText query over the incident knowledge class.
//
// Outputs:
//
//	[]Document - Empty on no matches; the caller treats errors as
//	             advisory and continues without context.
func (r *WeaviateRetriever) Search(ctx context.Context, query string, limit int) ([]Document, error) {
	if query == "" {
		return nil, nil
	}
	if limit <= 0 || limit > r.config.MaxResults {
		limit = r.config.MaxResults
	}

	nearText := r.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{query})

	fields := []graphql.Field{
		{Name: "title"},
		{Name: "content"},
		{Name: "_additional { certainty }"},
	}

	result, err := r.client.GraphQL().Get().
		WithClassName(IncidentKnowledgeClass).
		WithFields(fields...).
		WithNearText(nearText).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("knowledge search: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("knowledge search: %s", result.Errors[0].Message)
	}

	return parseDocuments(result), nil
}

// parseDocuments converts a GraphQL response into documents. Malformed
// objects are skipped, not fatal.
func parseDocuments(result *models.GraphQLResponse) []Document {
	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	objects, ok := data[IncidentKnowledgeClass].([]interface{})
	if !ok {
		return nil
	}

	docs := make([]Document, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}
		doc := Document{
			Title:   getString(m, "title"),
			Content: getString(m, "content"),
		}
		if add, ok := m["_additional"].(map[string]interface{}); ok {
			if c, ok := add["certainty"].(float64); ok {
				doc.Certainty = c
			}
		}
		if doc.Content == "" {
			continue
		}
		docs = append(docs, doc)
	}
	return docs
}

// getString extracts a string field from a decoded GraphQL object.
func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

var _ Retriever = (*WeaviateRetriever)(nil)
