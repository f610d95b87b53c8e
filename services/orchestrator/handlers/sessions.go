// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianDocSearch/services/orchestrator/conversation"
	"github.com/AleutianAI/AleutianDocSearch/services/orchestrator/datatypes"
)

// ListSessions serves GET /v1/sessions.
func ListSessions(svc SearchService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ids, err := svc.Sessions(c.Request.Context())
		if err != nil {
			slog.Error("Failed to list conversations", "error", err)
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "failed to list sessions"})
			return
		}
		if ids == nil {
			ids = []string{}
		}
		c.JSON(http.StatusOK, gin.H{"sessions": ids})
	}
}

// GetSessionHistory serves GET /v1/sessions/:sessionId/history.
func GetSessionHistory(svc SearchService) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := c.Param("sessionId")
		turns, err := svc.History(c.Request.Context(), session)
		if err != nil {
			writeSessionError(c, session, "load history", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"session_id": session, "turns": turns})
	}
}

// GetSessionCitations serves GET /v1/sessions/:sessionId/citations: the
// conversation's token to locator table in token order.
func GetSessionCitations(svc SearchService) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := c.Param("sessionId")
		entries, err := svc.Citations(c.Request.Context(), session)
		if err != nil {
			writeSessionError(c, session, "load citations", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"session_id": session, "citations": entries})
	}
}

// DeleteSession serves DELETE /v1/sessions/:sessionId.
func DeleteSession(svc SearchService) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := c.Param("sessionId")
		slog.Info("Received a request to delete a session", "session_id", session)
		if err := svc.EndSession(c.Request.Context(), session); err != nil {
			writeSessionError(c, session, "delete session", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "success", "deleted_session_id": session})
	}
}

func writeSessionError(c *gin.Context, session, action string, err error) {
	if errors.Is(err, conversation.ErrNotFound) {
		c.JSON(http.StatusNotFound, datatypes.ErrorResponse{Error: "session not found"})
		return
	}
	slog.Error("Session request failed", "action", action, "session_id", session, "error", err)
	c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "failed to " + action})
}
