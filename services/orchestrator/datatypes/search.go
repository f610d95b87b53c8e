// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// MaxQueryBytes bounds the size of a user query.
const MaxQueryBytes = 8 * 1024

// searchValidate is the validator instance for search datatypes.
var searchValidate *validator.Validate

func init() {
	searchValidate = validator.New()
	_ = searchValidate.RegisterValidation("maxbytes", validateQueryBytes)
}

// validateQueryBytes checks byte length rather than rune count.
func validateQueryBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxQueryBytes
}

// =============================================================================
// Search Request / Response
// =============================================================================

// SearchRequest is the body of POST /v1/search.
//
// # Fields
//
//   - Query: Required. The user question, at most 8 KiB.
//   - SessionID: Optional. Omit to start a new conversation.
type SearchRequest struct {
	Query     string `json:"query" validate:"required,maxbytes"`
	SessionID string `json:"session_id,omitempty" validate:"omitempty,max=128"`
}

// Validate checks the request against its struct tags.
func (r *SearchRequest) Validate() error {
	return searchValidate.Struct(r)
}

// EnsureSessionID assigns a new session id when none was supplied and
// reports whether this is the first turn of the conversation.
func (r *SearchRequest) EnsureSessionID() (string, bool) {
	if r.SessionID != "" {
		return r.SessionID, false
	}
	r.SessionID = uuid.New().String()
	return r.SessionID, true
}

// Source is one citation target surfaced to the caller.
type Source struct {
	Token string `json:"token"`
	URI   string `json:"uri"`
	Title string `json:"title,omitempty"`
}

// SearchResponse is the body returned by POST /v1/search.
type SearchResponse struct {
	Answer    string   `json:"answer"`
	SessionID string   `json:"session_id"`
	TurnID    string   `json:"turn_id"`
	Turn      int      `json:"turn"`
	Sources   []Source `json:"sources,omitempty"`
	// Degraded is true when the formatting stage failed and the answer is
	// the uncited first-stage text.
	Degraded  bool  `json:"degraded,omitempty"`
	Timestamp int64 `json:"timestamp"`
}

// NewSearchResponse stamps a response with a fresh turn id and timestamp.
func NewSearchResponse(answer, sessionID string, sources []Source, degraded bool) *SearchResponse {
	return &SearchResponse{
		Answer:    answer,
		SessionID: sessionID,
		TurnID:    uuid.New().String(),
		Sources:   sources,
		Degraded:  degraded,
		Timestamp: time.Now().UnixMilli(),
	}
}

// CitationEntry is one row of a conversation's mask table, as exposed by
// GET /v1/sessions/:sessionId/citations.
type CitationEntry struct {
	Token string `json:"token"`
	URI   string `json:"uri"`
}

// ErrorResponse is the uniform error body of the HTTP API.
type ErrorResponse struct {
	Error string `json:"error"`
}
