// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm adapts generation backends to one provider-neutral interface.
//
// Every backend returns a datatypes.GenerationResult so the citation stages
// and the pipeline never import a provider SDK. VertexClient talks to Gemini
// on Vertex AI and can ground a call in a Vertex AI Search data store;
// OpenAIClient covers plain chat completion.
package llm

import (
	"context"
	"errors"

	"github.com/AleutianAI/AleutianDocSearch/services/orchestrator/datatypes"
)

// ErrRetrievalUnsupported is returned by backends that cannot ground a call
// in a document data store.
var ErrRetrievalUnsupported = errors.New("backend does not support retrieval grounding")

// ErrEmptyResponse is returned when a backend answers with no candidates.
var ErrEmptyResponse = errors.New("backend returned no candidates")

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// GenerationParams are optional sampling parameters. Nil fields use the
// backend's defaults.
type GenerationParams struct {
	Temperature *float32 `json:"temperature" yaml:"temperature"`
	TopP        *float32 `json:"top_p" yaml:"top_p"`
	MaxTokens   *int     `json:"max_tokens" yaml:"max_tokens"`
	Stop        []string `json:"stop" yaml:"stop"`
}

// Message is one conversational message sent to a backend.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerateRequest is a provider-neutral generation request.
//
// # Fields
//
//   - SystemInstruction: Instruction for the model. Optional.
//   - Messages: Conversation, oldest first. The last one is the prompt.
//   - Attachments: Binary inputs (PDFs, images) added to the last message.
//   - Datastore: Full resource name of a Vertex AI Search data store. When
//     set the call is grounded and the result carries provenance.
//   - ResponseMIMEType: Requested output format, e.g. "application/json".
//   - Params: Sampling parameters.
type GenerateRequest struct {
	SystemInstruction string
	Messages          []Message
	Attachments       []datatypes.Blob
	Datastore         string
	ResponseMIMEType  string
	Params            GenerationParams
}

// NewPromptRequest builds a single-message request.
func NewPromptRequest(systemInstruction, prompt string) *GenerateRequest {
	return &GenerateRequest{
		SystemInstruction: systemInstruction,
		Messages:          []Message{{Role: RoleUser, Content: prompt}},
	}
}

// Generator is implemented by every generation backend.
type Generator interface {
	// Generate runs one generation call.
	//
	// # Outputs
	//
	//   - *datatypes.GenerationResult: Never nil when error is nil.
	//   - error: Transport or provider failure, ErrEmptyResponse, or
	//     ErrRetrievalUnsupported.
	Generate(ctx context.Context, req *GenerateRequest) (*datatypes.GenerationResult, error)

	// Model returns the model identifier the backend was configured with.
	Model() string
}
