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
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/AleutianAI/AleutianDocSearch/services/orchestrator/datatypes"
)

// weaviateBackupBackend is the Weaviate backup module the admin API uses.
const weaviateBackupBackend = "filesystem"

// BackupRequest asks for a Weaviate backup or restore of the Document class.
type BackupRequest struct {
	ID     string `json:"id" binding:"required"`
	Action string `json:"action" binding:"required,oneof=create restore"`
}

// HandleDocumentBackup creates or restores a backup of the Document class.
// The call blocks until Weaviate reports completion.
func HandleDocumentBackup(client *weaviate.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req BackupRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "id and action (create or restore) are required"})
			return
		}
		slog.Info("Received a Weaviate backup request", "action", req.Action, "id", req.ID)

		ctx := c.Request.Context()
		switch req.Action {
		case "create":
			resp, err := client.Backup().Creator().
				WithBackend(weaviateBackupBackend).
				WithBackupID(req.ID).
				WithIncludeClassNames(datatypes.DocumentClass).
				WithWaitForCompletion(true).
				Do(ctx)
			if err != nil {
				slog.Error("Backup failed", "id", req.ID, "error", err)
				c.JSON(http.StatusBadGateway, datatypes.ErrorResponse{Error: "backup failed"})
				return
			}
			c.JSON(http.StatusOK, resp)
		case "restore":
			resp, err := client.Backup().Restorer().
				WithBackend(weaviateBackupBackend).
				WithBackupID(req.ID).
				WithIncludeClassNames(datatypes.DocumentClass).
				WithWaitForCompletion(true).
				Do(ctx)
			if err != nil {
				slog.Error("Restore failed", "id", req.ID, "error", err)
				c.JSON(http.StatusBadGateway, datatypes.ErrorResponse{Error: "restore failed"})
				return
			}
			c.JSON(http.StatusOK, resp)
		}
	}
}

// GetDocumentSchema returns the Weaviate schema the search backend reads.
func GetDocumentSchema(client *weaviate.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		schema, err := client.Schema().Getter().Do(c.Request.Context())
		if err != nil {
			slog.Error("Failed to get the Weaviate schema", "error", err)
			c.JSON(http.StatusBadGateway, datatypes.ErrorResponse{Error: "failed to get the Weaviate schema"})
			return
		}
		c.JSON(http.StatusOK, schema)
	}
}

// ResetDocuments drops every indexed document chunk and recreates an empty
// Document class with the given vectorizer.
func ResetDocuments(client *weaviate.Client, vectorizer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		slog.Warn("Received a request to delete all indexed documents", "class", datatypes.DocumentClass)
		if err := client.Schema().ClassDeleter().WithClassName(datatypes.DocumentClass).Do(ctx); err != nil {
			slog.Error("Failed to delete the Document class", "error", err)
			c.JSON(http.StatusBadGateway, datatypes.ErrorResponse{Error: "failed to delete indexed documents"})
			return
		}
		if err := datatypes.EnsureDocumentSchema(ctx, client, vectorizer); err != nil {
			slog.Error("Failed to recreate the Document class", "error", err)
			c.JSON(http.StatusBadGateway, datatypes.ErrorResponse{Error: "documents deleted but schema was not recreated"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "success", "class": datatypes.DocumentClass})
	}
}
