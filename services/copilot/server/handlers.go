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
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianOncall/services/copilot"
	"github.com/AleutianAI/AleutianOncall/services/copilot/turn"
)

// ErrorResponse is the wire shape for all handler errors.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// CreateCaseRequest opens a case, optionally running the first turn.
type CreateCaseRequest struct {
	Mode    string `json:"mode"`
	Message string `json:"message"`
	Form    string `json:"form"`
}

// CreateCaseResponse returns the new case and the first turn's result
// when a first message was supplied.
type CreateCaseResponse struct {
	Case   *copilot.Case       `json:"case"`
	Result *copilot.TurnResult `json:"result,omitempty"`
}

// TurnRequest carries one operator message.
type TurnRequest struct {
	Message string `json:"message" binding:"required"`
	Form    string `json:"form"`
}

// ListCasesResponse returns the stored case ids.
type ListCasesResponse struct {
	CaseIDs []string `json:"case_ids"`
}

// Handlers bundles the HTTP handlers over the service.
type Handlers struct {
	service *Service
	logger  *slog.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(service *Service, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{service: service, logger: logger}
}

// CreateCase handles POST /cases.
func (h *Handlers) CreateCase(c *gin.Context) {
	var req CreateCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
		return
	}

	cs, result, err := h.service.CreateCase(c.Request.Context(),
		copilot.Mode(req.Mode), req.Message, copilot.EvidenceForm(req.Form))
	if err != nil {
		// The case may exist even when the first turn failed; surface
		// the id so the client can retry the turn.
		if cs != nil && turn.IsRetryable(err) {
			h.logger.Warn("first turn failed", "case_id", cs.ID, "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":   "model invocation failed, retry the first message",
				"code":    "MODEL_UNAVAILABLE",
				"case_id": cs.ID,
			})
			return
		}
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, CreateCaseResponse{Case: cs, Result: result})
}

// Turn handles POST /cases/:id/turn.
func (h *Handlers) Turn(c *gin.Context) {
	var req TurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
		return
	}

	result, err := h.service.Turn(c.Request.Context(),
		c.Param("id"), req.Message, copilot.EvidenceForm(req.Form))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetCase handles GET /cases/:id.
func (h *Handlers) GetCase(c *gin.Context) {
	cs, err := h.service.GetCase(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cs)
}

// ListCases handles GET /cases.
func (h *Handlers) ListCases(c *gin.Context) {
	ids, err := h.service.ListCases(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ListCasesResponse{CaseIDs: ids})
}

// Reopen handles POST /cases/:id/reopen.
func (h *Handlers) Reopen(c *gin.Context) {
	cs, err := h.service.Reopen(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cs)
}

// Health handles GET /health.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready handles GET /ready.
func (h *Handlers) Ready(c *gin.Context) {
	if _, err := h.service.ListCases(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "store unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// respondError maps the sentinel taxonomy onto HTTP statuses.
func (h *Handlers) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, copilot.ErrCaseNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "CASE_NOT_FOUND"})
	case errors.Is(err, copilot.ErrConcurrentTurn):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "CONCURRENT_TURN"})
	case errors.Is(err, copilot.ErrCaseTerminated):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "CASE_TERMINATED"})
	case errors.Is(err, copilot.ErrCaseNotReopenable):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "CASE_NOT_REOPENABLE"})
	case errors.Is(err, copilot.ErrEmptyMessage):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "EMPTY_MESSAGE"})
	case errors.Is(err, copilot.ErrModelInvocation),
		errors.Is(err, copilot.ErrMalformedExtraction):
		// Retryable: the turn moved no state.
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error(), Code: "MODEL_UNAVAILABLE"})
	case errors.Is(err, copilot.ErrInvalidPhase):
		h.logger.Error("invalid phase past ingestion", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "INTERNAL"})
	default:
		h.logger.Error("unhandled service error", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "INTERNAL"})
	}
}
