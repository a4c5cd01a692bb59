// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package copilot

import "errors"

// Sentinel errors for the copilot service.
//
// Error taxonomy:
//
//	ErrInvalidPhase     - phase outside [0,5]; fatal, surfaces to caller.
//	ErrModelInvocation  - model timeout/transport/malformed output. The
//	                      classifier recovers locally via its heuristic;
//	                      extraction, summarization, and closure propagate
//	                      it as a retryable turn failure with no state
//	                      mutation.
//	ErrConcurrentTurn   - a second turn attempted while one is in flight
//	                      for the same case; rejected immediately.
var (
	// ErrInvalidPhase indicates a phase outside the valid range reached a
	// component that must not clamp.
	ErrInvalidPhase = errors.New("invalid investigation phase")

	// ErrModelInvocation indicates a model capability call failed. The
	// turn that hit it is retryable.
	ErrModelInvocation = errors.New("model invocation failed")

	// ErrConcurrentTurn indicates a turn is already in flight for the case.
	ErrConcurrentTurn = errors.New("turn already in progress for case")

	// ErrCaseNotFound indicates the requested case does not exist.
	ErrCaseNotFound = errors.New("case not found")

	// ErrCaseTerminated indicates the case is in a terminal status.
	ErrCaseTerminated = errors.New("case already terminated")

	// ErrCaseNotReopenable indicates a reopen was attempted from a status
	// that does not permit it.
	ErrCaseNotReopenable = errors.New("case status does not permit reopen")

	// ErrEmptyMessage indicates the operator message is empty.
	ErrEmptyMessage = errors.New("operator message must not be empty")

	// ErrMalformedExtraction indicates the model's structured extraction
	// failed schema validation. Wraps ErrModelInvocation semantics for
	// retryability at the boundary.
	ErrMalformedExtraction = errors.New("malformed state extraction")
)
