// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server wires the copilot components behind the HTTP inbound
// boundary.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianOncall/services/copilot"
	"github.com/AleutianAI/AleutianOncall/services/copilot/classifier"
	"github.com/AleutianAI/AleutianOncall/services/copilot/knowledge"
	"github.com/AleutianAI/AleutianOncall/services/copilot/lifecycle"
	"github.com/AleutianAI/AleutianOncall/services/copilot/model"
	"github.com/AleutianAI/AleutianOncall/services/copilot/safety"
	"github.com/AleutianAI/AleutianOncall/services/copilot/stall"
	"github.com/AleutianAI/AleutianOncall/services/copilot/store"
	"github.com/AleutianAI/AleutianOncall/services/copilot/telemetry"
	"github.com/AleutianAI/AleutianOncall/services/copilot/turn"
)

// Config aggregates component configuration for the service.
type Config struct {
	Classifier classifier.Config
	Detector   stall.Config
	Turn       turn.Config
}

// DefaultConfig returns production defaults for every component.
func DefaultConfig() Config {
	return Config{
		Classifier: classifier.DefaultConfig(),
		Detector:   stall.DefaultConfig(),
		Turn:       turn.DefaultConfig(),
	}
}

// Service owns the copilot pipeline and the per-case turn guard.
//
// Thread Safety: safe for concurrent use; per-case exclusivity is
// enforced by the guard, cross-case requests run independently.
type Service struct {
	store      store.Store
	controller *turn.Controller
	guard      *caseGuard
	logger     *slog.Logger
}

// NewService wires the pipeline from its boundaries.
//
// Inputs:
//
//	client - Model capability boundary. Must not be nil.
//	st - Persistence boundary. Must not be nil.
//	retriever - Knowledge boundary; nil degrades to no retrieval.
func NewService(client model.Client, st store.Store, retriever knowledge.Retriever, config Config, logger *slog.Logger) (*Service, error) {
	if client == nil {
		return nil, fmt.Errorf("model client is required")
	}
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	controller := turn.NewController(
		client,
		classifier.New(client, config.Classifier, logger),
		lifecycle.NewManager(logger),
		stall.NewDetector(config.Detector),
		safety.NewValidator(),
		retriever,
		st,
		config.Turn,
		logger,
	)

	return &Service{
		store:      st,
		controller: controller,
		guard:      newCaseGuard(),
		logger:     logger,
	}, nil
}

// CreateCase opens a new case and, when the request carries a first
// message, runs turn one.
func (s *Service) CreateCase(ctx context.Context, mode copilot.Mode, message string, form copilot.EvidenceForm) (*copilot.Case, *copilot.TurnResult, error) {
	switch mode {
	case copilot.ModeActiveIncident, copilot.ModePostMortem:
	case "":
		mode = copilot.ModeActiveIncident
	default:
		return nil, nil, fmt.Errorf("unknown mode %q", mode)
	}

	now := time.Now().UTC()
	cs := &copilot.Case{
		ID:        uuid.NewString(),
		Mode:      mode,
		Status:    copilot.StatusIntake,
		Phase:     copilot.PhaseIntake,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Save(ctx, cs); err != nil {
		return nil, nil, fmt.Errorf("create case: %w", err)
	}
	telemetry.RecordCaseCreated(ctx, string(mode))

	if strings.TrimSpace(message) == "" {
		return cs, nil, nil
	}

	result, err := s.Turn(ctx, cs.ID, message, form)
	if err != nil {
		// The case exists; the first turn can be retried.
		return cs, nil, err
	}
	reloaded, err := s.store.Load(ctx, cs.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("reload case: %w", err)
	}
	return reloaded, result, nil
}

// Turn processes one operator message for the case.
//
// Outputs:
//
//	error - copilot.ErrConcurrentTurn when a turn is already in flight,
//	        copilot.ErrCaseNotFound, or a controller error.
func (s *Service) Turn(ctx context.Context, caseID, message string, form copilot.EvidenceForm) (*copilot.TurnResult, error) {
	if !s.guard.TryAcquire(caseID) {
		return nil, fmt.Errorf("%w: case %s", copilot.ErrConcurrentTurn, caseID)
	}
	defer s.guard.Release(caseID)

	cs, err := s.loadCase(ctx, caseID)
	if err != nil {
		return nil, err
	}

	result, err := s.controller.ProcessTurn(ctx, cs, message, form)
	if err != nil {
		telemetry.RecordTurn(ctx, "error")
		return nil, err
	}
	telemetry.RecordTurn(ctx, "ok")
	return result, nil
}

// GetCase returns the stored case.
func (s *Service) GetCase(ctx context.Context, caseID string) (*copilot.Case, error) {
	return s.loadCase(ctx, caseID)
}

// ListCases returns all case ids.
func (s *Service) ListCases(ctx context.Context) ([]string, error) {
	return s.store.List(ctx)
}

// Reopen resets a terminal case for another investigation pass.
func (s *Service) Reopen(ctx context.Context, caseID string) (*copilot.Case, error) {
	if !s.guard.TryAcquire(caseID) {
		return nil, fmt.Errorf("%w: case %s", copilot.ErrConcurrentTurn, caseID)
	}
	defer s.guard.Release(caseID)

	cs, err := s.loadCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if err := s.controller.Reopen(ctx, cs); err != nil {
		return nil, err
	}
	return cs, nil
}

// loadCase maps store misses onto the service error taxonomy.
func (s *Service) loadCase(ctx context.Context, caseID string) (*copilot.Case, error) {
	cs, err := s.store.Load(ctx, caseID)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", copilot.ErrCaseNotFound, caseID)
		}
		return nil, fmt.Errorf("load case %s: %w", caseID, err)
	}
	return cs, nil
}

// isNotFound reports whether err is the store's miss sentinel.
func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
