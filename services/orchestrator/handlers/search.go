// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the HTTP API of the search service.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianDocSearch/services/orchestrator/conversation"
	"github.com/AleutianAI/AleutianDocSearch/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianDocSearch/services/orchestrator/pipeline"
)

var handlerTracer = otel.Tracer("aleutian.docsearch.handlers")

// SearchService is what the handlers need from the pipeline.
// *pipeline.Pipeline implements it.
type SearchService interface {
	Run(ctx context.Context, sessionID, query string) (*pipeline.Result, error)
	Sessions(ctx context.Context) ([]string, error)
	History(ctx context.Context, sessionID string) ([]conversation.Turn, error)
	Citations(ctx context.Context, sessionID string) ([]datatypes.CitationEntry, error)
	EndSession(ctx context.Context, sessionID string) error
}

var _ SearchService = (*pipeline.Pipeline)(nil)

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleSearch runs one search turn.
//
// # Description
//
// POST /v1/search with a datatypes.SearchRequest body. A request without a
// session id starts a new conversation; the id is returned in the response
// and must be sent back to continue it.
//
// # Outputs
//
//   - 200: datatypes.SearchResponse.
//   - 400: Malformed body or invalid query.
//   - 502: The document search failed.
//   - 504: The request deadline passed.
//   - 500: Anything else.
func HandleSearch(svc SearchService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := handlerTracer.Start(c.Request.Context(), "HandleSearch")
		defer span.End()

		var req datatypes.SearchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "invalid body")
			slog.Warn("Failed to bind search request JSON", "error", err)
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "validation")
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "query is required and must be at most 8 KiB"})
			return
		}

		sessionID, isNew := req.EnsureSessionID()
		span.SetAttributes(
			attribute.String("session.id", sessionID),
			attribute.Bool("session.new", isNew),
		)
		if isNew {
			slog.Info("No session id provided, starting a new conversation", "session_id", sessionID)
		}

		result, err := svc.Run(ctx, sessionID, req.Query)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			status, msg := searchErrorStatus(err)
			slog.Error("Search turn failed", "session_id", sessionID, "status", status, "error", err)
			c.JSON(status, datatypes.ErrorResponse{Error: msg})
			return
		}

		resp := datatypes.NewSearchResponse(result.Answer, sessionID, result.Sources, result.Degraded)
		resp.Turn = result.Turn.Number
		c.JSON(http.StatusOK, resp)
	}
}

func searchErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, pipeline.ErrEmptyQuery), errors.Is(err, pipeline.ErrNoSession):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		// Checked first: a search stage that ran out of time is also an
		// ErrSearchFailed.
		return http.StatusGatewayTimeout, "search timed out"
	case errors.Is(err, pipeline.ErrSearchFailed):
		return http.StatusBadGateway, "document search failed"
	default:
		return http.StatusInternalServerError, "search turn failed"
	}
}
