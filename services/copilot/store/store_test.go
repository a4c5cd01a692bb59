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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianOncall/services/copilot"
)

func sampleCase(id string) *copilot.Case {
	return &copilot.Case{
		ID:     id,
		Phase:  copilot.PhaseTimeline,
		Mode:   copilot.ModeActiveIncident,
		Status: copilot.StatusInProgress,
		EvidenceRequests: []copilot.EvidenceRequest{
			{
				ID:           "req-1",
				Category:     copilot.CategoryMetrics,
				Description:  "gateway latency metrics",
				Status:       copilot.RequestPartial,
				Completeness: 0.5,
			},
		},
		Hypotheses: []copilot.Hypothesis{
			{ID: "hyp-1", Statement: "gateway saturation", Status: copilot.HypothesisActive},
		},
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		UpdatedAt: time.Now().UTC().Truncate(time.Second),
	}
}

// storeUnderTest runs the contract suite against any Store impl.
func storeUnderTest(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("load missing returns ErrNotFound", func(t *testing.T) {
		_, err := s.Load(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("save then load round trips", func(t *testing.T) {
		want := sampleCase("case-rt")
		require.NoError(t, s.Save(ctx, want))

		got, err := s.Load(ctx, "case-rt")
		require.NoError(t, err)
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, want.Phase, got.Phase)
		assert.Equal(t, want.Status, got.Status)
		require.Len(t, got.EvidenceRequests, 1)
		assert.Equal(t, 0.5, got.EvidenceRequests[0].Completeness)
		require.Len(t, got.Hypotheses, 1)
		assert.Equal(t, copilot.HypothesisActive, got.Hypotheses[0].Status)
	})

	t.Run("save overwrites whole document", func(t *testing.T) {
		cs := sampleCase("case-ow")
		require.NoError(t, s.Save(ctx, cs))

		cs.Phase = copilot.PhaseValidation
		cs.EvidenceRequests[0].Status = copilot.RequestComplete
		cs.EvidenceRequests[0].Completeness = 0.9
		require.NoError(t, s.Save(ctx, cs))

		got, err := s.Load(ctx, "case-ow")
		require.NoError(t, err)
		assert.Equal(t, copilot.PhaseValidation, got.Phase)
		assert.Equal(t, copilot.RequestComplete, got.EvidenceRequests[0].Status)
	})

	t.Run("save without id fails", func(t *testing.T) {
		assert.Error(t, s.Save(ctx, &copilot.Case{}))
	})

	t.Run("list returns stored ids", func(t *testing.T) {
		require.NoError(t, s.Save(ctx, sampleCase("case-l1")))
		require.NoError(t, s.Save(ctx, sampleCase("case-l2")))

		ids, err := s.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, "case-l1")
		assert.Contains(t, ids, "case-l2")
	})
}

func TestBadgerStore(t *testing.T) {
	s, err := NewBadgerStore(InMemoryBadgerConfig())
	require.NoError(t, err)
	defer s.Close()

	storeUnderTest(t, s)
}

func TestMemoryStore(t *testing.T) {
	storeUnderTest(t, NewMemoryStore())
}

func TestMemoryStore_LoadIsolatesCaller(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, sampleCase("case-iso")))

	first, err := s.Load(ctx, "case-iso")
	require.NoError(t, err)
	first.EvidenceRequests[0].Completeness = 0.99

	second, err := s.Load(ctx, "case-iso")
	require.NoError(t, err)
	assert.Equal(t, 0.5, second.EvidenceRequests[0].Completeness,
		"mutating a loaded case must not leak into the store")
}
