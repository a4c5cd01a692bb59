// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package turn

import (
	"errors"
	"testing"

	"github.com/AleutianAI/AleutianOncall/services/copilot"
)

func TestParseExtraction(t *testing.T) {
	t.Run("fenced json is accepted", func(t *testing.T) {
		ex, err := parseExtraction("```json\n{\"response_text\": \"hi\", \"phase\": 2}\n```")
		if err != nil {
			t.Fatal(err)
		}
		if ex.ResponseText != "hi" || ex.Phase != 2 {
			t.Errorf("got %+v", ex)
		}
	})

	t.Run("not json is malformed", func(t *testing.T) {
		_, err := parseExtraction("I think the problem is DNS")
		if !errors.Is(err, copilot.ErrMalformedExtraction) {
			t.Errorf("err = %v, want ErrMalformedExtraction", err)
		}
	})

	t.Run("empty response text is malformed", func(t *testing.T) {
		_, err := parseExtraction(`{"response_text": "  ", "phase": 1}`)
		if !errors.Is(err, copilot.ErrMalformedExtraction) {
			t.Errorf("err = %v, want ErrMalformedExtraction", err)
		}
	})

	t.Run("confidence clamped", func(t *testing.T) {
		ex, err := parseExtraction(`{"response_text": "ok", "confidence": 3.5}`)
		if err != nil {
			t.Fatal(err)
		}
		if *ex.Confidence != 1.0 {
			t.Errorf("confidence = %v, want 1.0", *ex.Confidence)
		}
	})

	t.Run("bad requests dropped not fatal", func(t *testing.T) {
		ex, err := parseExtraction(`{
			"response_text": "ok",
			"new_evidence_requests": [
				{"category": "metrics", "description": "p99 latency"},
				{"category": "nonsense", "description": "kept out"},
				{"category": "timeline", "description": ""}
			]
		}`)
		if err != nil {
			t.Fatal(err)
		}
		if len(ex.NewEvidenceRequests) != 1 {
			t.Fatalf("requests = %d, want 1 surviving", len(ex.NewEvidenceRequests))
		}
		if ex.NewEvidenceRequests[0].Description != "p99 latency" {
			t.Errorf("kept the wrong request: %+v", ex.NewEvidenceRequests[0])
		}
	})

	t.Run("guidance bounded", func(t *testing.T) {
		ex, err := parseExtraction(`{
			"response_text": "ok",
			"new_evidence_requests": [
				{"category": "metrics", "description": "d", "guidance": ["a", "b", "c", "d", "e"]}
			]
		}`)
		if err != nil {
			t.Fatal(err)
		}
		if got := len(ex.NewEvidenceRequests[0].Guidance); got != copilot.MaxGuidanceItems {
			t.Errorf("guidance = %d, want %d", got, copilot.MaxGuidanceItems)
		}
	})

	t.Run("unknown resolution signal blanked", func(t *testing.T) {
		ex, err := parseExtraction(`{"response_text": "ok", "resolution_signal": "maybe"}`)
		if err != nil {
			t.Fatal(err)
		}
		if ex.ResolutionSignal != "" {
			t.Errorf("signal = %q, want blank", ex.ResolutionSignal)
		}
	})
}
