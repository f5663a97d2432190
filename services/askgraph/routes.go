// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package askgraph

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all ask endpoints with the router.
//
// Description:
//
//	Registers the /v1/ask/* endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Endpoints:
//
//	POST /v1/ask/query - Answer a natural-language question
//	POST /v1/ask/reset - Clear a session's conversation memory
//	GET  /v1/ask/schema - Inspect the discovered graph shape
//	GET  /v1/ask/health - Health check
//	GET  /v1/ask/ready - Readiness check
//
// Example:
//
//	service := askgraph.NewService(cache, translator, executor, synth, sessions, logger)
//	handlers := askgraph.NewHandlers(service)
//
//	v1 := router.Group("/v1")
//	askgraph.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	ask := rg.Group("/ask")
	{
		ask.POST("/query", handlers.HandleAsk)
		ask.POST("/reset", handlers.HandleReset)

		// Schema inspection
		ask.GET("/schema", handlers.HandleSchema)

		// Health checks
		ask.GET("/health", handlers.HandleHealth)
		ask.GET("/ready", handlers.HandleReady)
	}
}
