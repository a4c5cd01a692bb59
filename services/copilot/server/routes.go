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
	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the copilot API under the given group.
//
// Routes (relative to the group, typically /v1/oncall):
//
//	POST /cases             - create a case, optionally run turn one
//	GET  /cases             - list case ids
//	GET  /cases/:id         - case state
//	POST /cases/:id/turn    - process one turn
//	POST /cases/:id/reopen  - reset a terminal case
//	GET  /health            - liveness
//	GET  /ready             - readiness (store reachable)
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers) {
	rg.POST("/cases", h.CreateCase)
	rg.GET("/cases", h.ListCases)
	rg.GET("/cases/:id", h.GetCase)
	rg.POST("/cases/:id/turn", h.Turn)
	rg.POST("/cases/:id/reopen", h.Reopen)
	rg.GET("/health", h.Health)
	rg.GET("/ready", h.Ready)
}
