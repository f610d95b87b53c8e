// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/AleutianAI/AleutianDocSearch/services/orchestrator/handlers"
)

// SetupRoutes registers the search API on router. metrics may be nil, in
// which case /metrics is not served.
func SetupRoutes(router *gin.Engine, svc handlers.SearchService, metrics http.Handler) {
	router.GET("/health", handlers.HealthCheck)
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}

	v1 := router.Group("/v1")
	{
		v1.POST("/search", handlers.HandleSearch(svc))

		sessions := v1.Group("/sessions")
		{
			sessions.GET("", handlers.ListSessions(svc))
			sessions.GET("/:sessionId/history", handlers.GetSessionHistory(svc))
			sessions.GET("/:sessionId/citations", handlers.GetSessionCitations(svc))
			sessions.DELETE("/:sessionId", handlers.DeleteSession(svc))
		}
	}
}

// SetupWeaviateAdminRoutes registers the document index admin API. It is
// only mounted when the Weaviate search backend is in use.
func SetupWeaviateAdminRoutes(router *gin.Engine, client *weaviate.Client, vectorizer string) {
	admin := router.Group("/v1/admin/weaviate")
	{
		admin.GET("/schema", handlers.GetDocumentSchema(client))
		admin.POST("/backups", handlers.HandleDocumentBackup(client))
		admin.DELETE("/documents", handlers.ResetDocuments(client, vectorizer))
	}
}
