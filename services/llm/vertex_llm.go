// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/genai"

	"github.com/AleutianAI/AleutianDocSearch/services/orchestrator/datatypes"
)

var vertexTracer = otel.Tracer("aleutian.docsearch.llm.vertex")

const (
	defaultVertexLocation = "us-central1"
	defaultVertexModel    = "gemini-2.5-flash"
)

// VertexConfig configures a VertexClient.
type VertexConfig struct {
	// Project is the Google Cloud project id. Required.
	Project string `yaml:"project"`

	// Location is the Vertex AI region. Default: us-central1.
	Location string `yaml:"location"`

	// Model is the Gemini model id. Default: gemini-2.5-flash.
	Model string `yaml:"model"`

	// BaseURL overrides the regional endpoint.
	BaseURL string `yaml:"base_url"`

	// HTTPClient, when set, is used as-is and credential discovery is
	// skipped.
	HTTPClient *http.Client `yaml:"-"`
}

// VertexClient generates with Gemini on Vertex AI.
//
// # Description
//
// When a request names a data store the call carries a Vertex AI Search
// retrieval tool, and the provider's grounding chunks are mapped onto
// datatypes.GroundingMetadata in the order the provider returned them.
//
// # Thread Safety
//
// Safe for concurrent use.
type VertexClient struct {
	client *genai.Client
	model  string
}

// NewVertexClient builds a client. Without cfg.HTTPClient it uses
// Application Default Credentials.
//
// # Outputs
//
//   - *VertexClient: Ready to use.
//   - error: Non-nil when the project is missing or credentials cannot be found.
func NewVertexClient(ctx context.Context, cfg VertexConfig) (*VertexClient, error) {
	if cfg.Project == "" {
		return nil, errors.New("vertex: project is required")
	}
	if cfg.Location == "" {
		cfg.Location = defaultVertexLocation
	}
	if cfg.Model == "" {
		cfg.Model = defaultVertexModel
	}

	cc := &genai.ClientConfig{
		Backend:    genai.BackendVertexAI,
		Project:    cfg.Project,
		Location:   cfg.Location,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.BaseURL
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("vertex: create client: %w", err)
	}
	slog.Info("Initialized Vertex AI client",
		"project", cfg.Project,
		"location", cfg.Location,
		"model", cfg.Model,
	)
	return &VertexClient{client: client, model: cfg.Model}, nil
}

// Model implements Generator.
func (v *VertexClient) Model() string {
	return v.model
}

// Generate implements Generator.
func (v *VertexClient) Generate(ctx context.Context, req *GenerateRequest) (*datatypes.GenerationResult, error) {
	ctx, span := vertexTracer.Start(ctx, "VertexClient.Generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", v.model),
		attribute.Bool("llm.grounded", req.Datastore != ""),
		attribute.Int("llm.messages", len(req.Messages)),
	)

	contents := buildVertexContents(req)
	config := buildVertexConfig(req)

	resp, err := v.client.Models.GenerateContent(ctx, v.model, contents, config)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate content failed")
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			slog.Error("Vertex AI generate call failed",
				"model", v.model,
				"status", apiErr.Code,
				"error", apiErr.Message,
			)
		}
		return nil, fmt.Errorf("vertex: generate content: %w", err)
	}

	result, err := vertexResult(resp, v.model)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "empty response")
		return nil, err
	}
	if result.Grounding != nil {
		span.SetAttributes(attribute.Int("llm.grounding_chunks", len(result.Grounding.Chunks)))
	}
	return result, nil
}

func buildVertexContents(req *GenerateRequest) []*genai.Content {
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, msg := range req.Messages {
		role := genai.Role(genai.RoleUser)
		if msg.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, role))
	}
	if len(req.Attachments) == 0 {
		return contents
	}
	if len(contents) == 0 {
		contents = append(contents, genai.NewContentFromParts(nil, genai.RoleUser))
	}
	last := contents[len(contents)-1]
	for _, blob := range req.Attachments {
		last.Parts = append(last.Parts, genai.NewPartFromBytes(blob.Data, blob.MimeType))
	}
	return contents
}

func buildVertexConfig(req *GenerateRequest) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: req.ResponseMIMEType,
		Temperature:      req.Params.Temperature,
		TopP:             req.Params.TopP,
		StopSequences:    req.Params.Stop,
	}
	if req.Params.MaxTokens != nil {
		config.MaxOutputTokens = int32(*req.Params.MaxTokens)
	}
	if req.SystemInstruction != "" {
		config.SystemInstruction = genai.NewContentFromText(req.SystemInstruction, genai.RoleUser)
	}
	if req.Datastore != "" {
		config.Tools = []*genai.Tool{{
			Retrieval: &genai.Retrieval{
				VertexAISearch: &genai.VertexAISearch{Datastore: req.Datastore},
			},
		}}
	}
	return config
}

// vertexResult maps the first candidate onto a GenerationResult.
func vertexResult(resp *genai.GenerateContentResponse, model string) (*datatypes.GenerationResult, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return nil, ErrEmptyResponse
	}
	cand := resp.Candidates[0]

	result := &datatypes.GenerationResult{
		Model:        model,
		FinishReason: string(cand.FinishReason),
	}
	if resp.ModelVersion != "" {
		result.Model = resp.ModelVersion
	}
	if cand.Content != nil {
		for _, p := range cand.Content.Parts {
			switch {
			case p == nil || p.Thought:
				continue
			case p.InlineData != nil:
				result.Parts = append(result.Parts, datatypes.Part{
					InlineData: &datatypes.Blob{MimeType: p.InlineData.MIMEType, Data: p.InlineData.Data},
				})
			case p.Text != "":
				result.Parts = append(result.Parts, datatypes.Part{Text: p.Text})
			}
		}
	}

	if gm := cand.GroundingMetadata; gm != nil {
		grounding := &datatypes.GroundingMetadata{
			RetrievalQueries: gm.RetrievalQueries,
		}
		for _, chunk := range gm.GroundingChunks {
			var out datatypes.GroundingChunk
			if chunk != nil && chunk.RetrievedContext != nil {
				rc := chunk.RetrievedContext
				out.RetrievedContext = &datatypes.RetrievedContext{
					URI:   rc.URI,
					Title: rc.Title,
					Text:  rc.Text,
				}
			}
			grounding.Chunks = append(grounding.Chunks, out)
		}
		result.Grounding = grounding
	}
	return result, nil
}

var _ Generator = (*VertexClient)(nil)
