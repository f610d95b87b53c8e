// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes holds the request, response and generation types shared
// by the orchestrator, its generation adapters and its HTTP handlers.
package datatypes

import "strings"

// =============================================================================
// Generation Results
// =============================================================================

// GenerationResult is the provider-neutral output of one generation call.
//
// # Description
//
// Adapters (Vertex AI, OpenAI, Weaviate-backed search) translate their
// native responses into this shape so the citation stages never depend on
// a provider SDK. Parts carry the generated content; Grounding carries the
// provenance list when the call was grounded in a retrieval backend.
//
// # Thread Safety
//
// Not safe for concurrent mutation. The citation stages mutate results in
// place and are only ever run from the goroutine that owns the turn.
type GenerationResult struct {
	// Parts are the content segments in the order the model produced them.
	Parts []Part `json:"parts"`

	// Grounding is the provenance attached by the retrieval backend.
	// Nil when the call was not grounded.
	Grounding *GroundingMetadata `json:"grounding,omitempty"`

	// Model is the model identifier reported by the provider.
	Model string `json:"model,omitempty"`

	// FinishReason is the provider's stop reason, verbatim.
	FinishReason string `json:"finish_reason,omitempty"`
}

// Part is one segment of generated content. Exactly one of Text or
// InlineData is expected to be set.
type Part struct {
	Text       string `json:"text,omitempty"`
	InlineData *Blob  `json:"inline_data,omitempty"`
}

// IsText reports whether the part carries text.
func (p Part) IsText() bool {
	return p.Text != ""
}

// Blob is binary content with its MIME type.
type Blob struct {
	MimeType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// GroundingMetadata is the provenance list of a grounded generation.
type GroundingMetadata struct {
	// Chunks are the retrieved items, in the order the backend returned them.
	Chunks []GroundingChunk `json:"chunks"`

	// RetrievalQueries are the queries the model issued to the backend.
	RetrievalQueries []string `json:"retrieval_queries,omitempty"`
}

// GroundingChunk links generated content to one retrieved item.
type GroundingChunk struct {
	// RetrievedContext is nil for chunks that did not come from the
	// document backend (web results, tool output).
	RetrievedContext *RetrievedContext `json:"retrieved_context,omitempty"`
}

// RetrievedContext describes the retrieved item. URI is the source locator
// (for example gs://bucket/manual.pdf). After the capture stage it holds an
// opaque token instead.
type RetrievedContext struct {
	URI   string `json:"uri,omitempty"`
	Title string `json:"title,omitempty"`
	Text  string `json:"text,omitempty"`
}

// Locator returns the chunk's source locator, or "" when absent.
func (c GroundingChunk) Locator() string {
	if c.RetrievedContext == nil {
		return ""
	}
	return c.RetrievedContext.URI
}

// NewTextResult builds a single-part result, mostly for adapters and tests.
func NewTextResult(text string) *GenerationResult {
	return &GenerationResult{Parts: []Part{{Text: text}}}
}

// Text concatenates every text part in order.
func (r *GenerationResult) Text() string {
	if r == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range r.Parts {
		if part.IsText() {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

// IsEmpty reports whether the result carries no text at all.
func (r *GenerationResult) IsEmpty() bool {
	return strings.TrimSpace(r.Text()) == ""
}

// HasGrounding reports whether the result has at least one provenance chunk.
func (r *GenerationResult) HasGrounding() bool {
	return r != nil && r.Grounding != nil && len(r.Grounding.Chunks) > 0
}
