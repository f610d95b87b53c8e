// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianDocSearch/services/llm"
	"github.com/AleutianAI/AleutianDocSearch/services/orchestrator/datatypes"
)

var tracer = otel.Tracer("aleutian.docsearch.retrieval")

// VertexSearcher answers with a single Gemini call grounded in a Vertex AI
// Search data store.
//
// # Description
//
// Retrieval and answering happen in one provider call: the request carries
// the data store as a retrieval tool and the provider reports which chunks
// it used. Prior turns are replayed as conversation messages so follow-up
// questions resolve.
//
// # Thread Safety
//
// Safe for concurrent use.
type VertexSearcher struct {
	generator   llm.Generator
	datastore   string
	instruction string
	maxHistory  int
}

// VertexSearcherConfig configures a VertexSearcher.
type VertexSearcherConfig struct {
	// Datastore is the full resource name:
	// projects/{p}/locations/{l}/collections/{c}/dataStores/{id}. Required.
	Datastore string

	// Instruction overrides SearchInstruction.
	Instruction string

	// MaxHistory bounds how many prior turns are replayed. Default: 5.
	MaxHistory int
}

// NewVertexSearcher builds a searcher on top of a grounding-capable
// generator (in practice *llm.VertexClient).
func NewVertexSearcher(generator llm.Generator, cfg VertexSearcherConfig) (*VertexSearcher, error) {
	if generator == nil {
		return nil, errors.New("vertex searcher: generator is required")
	}
	if cfg.Datastore == "" {
		return nil, errors.New("vertex searcher: datastore is required")
	}
	if cfg.Instruction == "" {
		cfg.Instruction = SearchInstruction
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 5
	}
	return &VertexSearcher{
		generator:   generator,
		datastore:   cfg.Datastore,
		instruction: cfg.Instruction,
		maxHistory:  cfg.MaxHistory,
	}, nil
}

// Search implements Searcher.
func (s *VertexSearcher) Search(ctx context.Context, in *SearchInput) (*datatypes.GenerationResult, error) {
	ctx, span := tracer.Start(ctx, "VertexSearcher.Search")
	defer span.End()

	history := in.History
	if len(history) > s.maxHistory {
		history = history[len(history)-s.maxHistory:]
	}
	span.SetAttributes(
		attribute.String("retrieval.datastore", s.datastore),
		attribute.Int("retrieval.history_turns", len(history)),
	)

	req := &llm.GenerateRequest{
		SystemInstruction: s.instruction,
		Messages:          historyMessages(history, in.Query),
		Datastore:         s.datastore,
	}
	result, err := s.generator.Generate(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "grounded generation failed")
		return nil, fmt.Errorf("vertex search: %w", err)
	}

	chunks := 0
	if result.Grounding != nil {
		chunks = len(result.Grounding.Chunks)
	}
	span.SetAttributes(attribute.Int("retrieval.chunks", chunks))
	slog.Debug("Vertex AI Search answered",
		"datastore", s.datastore,
		"chunks", chunks,
		"answer_bytes", len(result.Text()),
	)
	return result, nil
}

var _ Searcher = (*VertexSearcher)(nil)
