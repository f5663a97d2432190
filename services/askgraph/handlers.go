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
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// =============================================================================
// Request / Response Types
// =============================================================================

// AskRequest is the body of POST /v1/ask/query.
type AskRequest struct {
	// Question is the natural-language question. Required.
	Question string `json:"question" binding:"required"`

	// SessionID continues an existing conversation. Optional.
	SessionID string `json:"session_id"`
}

// ResetRequest is the body of POST /v1/ask/reset.
type ResetRequest struct {
	SessionID string `json:"session_id" binding:"required"`
}

// ResetResponse is the body of a successful reset.
type ResetResponse struct {
	SessionID string `json:"session_id"`
	Reset     bool   `json:"reset"`
}

// SchemaResponse summarizes the discovered graph shape.
type SchemaResponse struct {
	NodeLabels        []string            `json:"node_labels"`
	RelationshipTypes []string            `json:"relationship_types"`
	Connections       []SchemaEdge        `json:"connections"`
	Properties        map[string][]string `json:"properties"`
}

// SchemaEdge is one (from)-[type]->(to) connection.
type SchemaEdge struct {
	From string `json:"from"`
	Type string `json:"type"`
	To   string `json:"to"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// =============================================================================
// Handlers
// =============================================================================

// Handlers holds the HTTP handlers for the ask endpoints.
type Handlers struct {
	service *Service
}

// NewHandlers creates the handler set.
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// getOrCreateRequestID returns the X-Request-ID header or generates one.
func getOrCreateRequestID(c *gin.Context) string {
	if id := c.GetHeader("X-Request-ID"); id != "" {
		return id
	}
	id := uuid.NewString()
	c.Header("X-Request-ID", id)
	return id
}

// maxQuestionLength bounds the accepted question size.
const maxQuestionLength = 2000

// HandleAsk handles POST /v1/ask/query.
//
// Description:
//
//	Answers one natural-language question about the feedback graph. The
//	response carries the session ID; clients send it back on the next
//	question to keep conversation context.
//
// Response:
//
//	200 OK: Answer
//	400 Bad Request: Missing or oversized question
//	502 Bad Gateway: Translation or query failure
//	503 Service Unavailable: Schema discovery has not completed
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleAsk(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleAsk")

	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "question is required",
			Code:  "MISSING_PARAMETER",
		})
		return
	}
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "question is required",
			Code:  "MISSING_PARAMETER",
		})
		return
	}
	if len(req.Question) > maxQuestionLength {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "question exceeds the maximum length",
			Code:  "QUESTION_TOO_LONG",
		})
		return
	}

	answer, err := h.service.AnswerQuery(c.Request.Context(), req.Question, req.SessionID)
	if err != nil {
		status, code := classifyServiceError(err)
		logger.Error("question answering failed", "error", err, "code", code)
		c.JSON(status, ErrorResponse{
			Error: safeErrorMessage(err),
			Code:  code,
		})
		return
	}

	c.JSON(http.StatusOK, answer)
}

// HandleReset handles POST /v1/ask/reset.
//
// Description:
//
//	Clears a session's conversation memory. The session ID stays valid for
//	further questions.
//
// Response:
//
//	200 OK: ResetResponse
//	400 Bad Request: Missing session_id
//	404 Not Found: Unknown session
func (h *Handlers) HandleReset(c *gin.Context) {
	var req ResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "session_id is required",
			Code:  "MISSING_PARAMETER",
		})
		return
	}

	if !h.service.ResetSession(req.SessionID) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "unknown session",
			Code:  "SESSION_NOT_FOUND",
		})
		return
	}

	c.JSON(http.StatusOK, ResetResponse{SessionID: req.SessionID, Reset: true})
}

// HandleSchema handles GET /v1/ask/schema.
//
// Description:
//
//	Returns the discovered graph shape: node labels, relationship types,
//	observed connections, and per-label property names. Forces discovery
//	when the cache is cold.
//
// Response:
//
//	200 OK: SchemaResponse
//	503 Service Unavailable: Discovery failed
func (h *Handlers) HandleSchema(c *gin.Context) {
	desc, err := h.service.Schema(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "schema discovery has not completed",
			Code:  "SCHEMA_UNAVAILABLE",
		})
		return
	}

	resp := SchemaResponse{
		Properties: make(map[string][]string, len(desc.NodeTypes)),
	}
	for _, nt := range desc.NodeTypes {
		resp.NodeLabels = append(resp.NodeLabels, nt.Label)
		props := make([]string, 0, len(nt.Properties))
		for _, p := range nt.Properties {
			props = append(props, p.Name)
		}
		resp.Properties[nt.Label] = props
	}
	for _, rt := range desc.RelationshipTypes {
		resp.RelationshipTypes = append(resp.RelationshipTypes, rt.Type)
	}
	for _, e := range desc.StructuralEdges {
		resp.Connections = append(resp.Connections, SchemaEdge{
			From: e.FromLabel, Type: e.RelType, To: e.ToLabel,
		})
	}

	c.JSON(http.StatusOK, resp)
}

// HandleHealth handles GET /health. Liveness only.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleReady handles GET /ready.
//
// Description:
//
//	Reports readiness. The service is ready once schema discovery has
//	succeeded; before that, queries would fail, so load balancers should
//	not route traffic here.
func (h *Handlers) HandleReady(c *gin.Context) {
	if !h.service.Ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not_ready",
			"reason": "schema discovery pending",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// =============================================================================
// Error Mapping
// =============================================================================

// classifyServiceError maps a pipeline error onto an HTTP status and code.
func classifyServiceError(err error) (int, string) {
	switch {
	case errors.Is(err, ErrSchemaUnavailable):
		return http.StatusServiceUnavailable, "SCHEMA_UNAVAILABLE"
	case errors.Is(err, ErrTranslationFailed):
		return http.StatusBadGateway, "TRANSLATION_FAILED"
	case errors.Is(err, ErrQueryFailed):
		return http.StatusBadGateway, "QUERY_FAILED"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

// safeErrorMessage returns a client-facing message without internal detail.
func safeErrorMessage(err error) string {
	switch {
	case errors.Is(err, ErrSchemaUnavailable):
		return "the graph schema is not available yet, try again shortly"
	case errors.Is(err, ErrTranslationFailed):
		return "the question could not be translated into a graph query"
	case errors.Is(err, ErrQueryFailed):
		return "the graph query failed"
	default:
		return "internal error"
	}
}
