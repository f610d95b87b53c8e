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
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianDocSearch/services/llm"
	"github.com/AleutianAI/AleutianDocSearch/services/orchestrator/datatypes"
)

// WeaviateSearcher retrieves chunks from a Weaviate Document class and
// answers from them with a generator.
//
// # Description
//
// A nearText query selects the top chunks. Their text is pasted into the
// prompt as numbered excerpts and every chunk becomes one provenance entry
// whose locator is the chunk's "source" property, in retrieval order.
//
// # Thread Safety
//
// Safe for concurrent use.
type WeaviateSearcher struct {
	client    *weaviate.Client
	generator llm.Generator
	limit     int
	maxChars  int
}

// WeaviateSearcherConfig configures a WeaviateSearcher.
type WeaviateSearcherConfig struct {
	// Limit is the number of chunks retrieved. Default: 5.
	Limit int

	// MaxChunkChars truncates each excerpt in the prompt. Default: 2000.
	MaxChunkChars int
}

// NewWeaviateSearcher builds a searcher.
func NewWeaviateSearcher(client *weaviate.Client, generator llm.Generator, cfg WeaviateSearcherConfig) (*WeaviateSearcher, error) {
	if client == nil {
		return nil, errors.New("weaviate searcher: client is required")
	}
	if generator == nil {
		return nil, errors.New("weaviate searcher: generator is required")
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 5
	}
	if cfg.MaxChunkChars <= 0 {
		cfg.MaxChunkChars = 2000
	}
	return &WeaviateSearcher{
		client:    client,
		generator: generator,
		limit:     cfg.Limit,
		maxChars:  cfg.MaxChunkChars,
	}, nil
}

// Search implements Searcher.
func (s *WeaviateSearcher) Search(ctx context.Context, in *SearchInput) (*datatypes.GenerationResult, error) {
	ctx, span := tracer.Start(ctx, "WeaviateSearcher.Search")
	defer span.End()

	docs, err := s.retrieve(ctx, in.Query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "retrieval failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("retrieval.chunks", len(docs)))

	req := &llm.GenerateRequest{
		SystemInstruction: contextInstruction,
		Messages:          historyMessages(in.History, buildContextPrompt(in.Query, docs, s.maxChars)),
	}
	result, err := s.generator.Generate(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		return nil, fmt.Errorf("weaviate search: generate: %w", err)
	}

	grounding := &datatypes.GroundingMetadata{RetrievalQueries: []string{in.Query}}
	for _, doc := range docs {
		grounding.Chunks = append(grounding.Chunks, datatypes.GroundingChunk{
			RetrievedContext: &datatypes.RetrievedContext{
				URI:   doc.Source,
				Title: doc.Title,
				Text:  doc.Content,
			},
		})
	}
	result.Grounding = grounding
	return result, nil
}

func (s *WeaviateSearcher) retrieve(ctx context.Context, query string) ([]datatypes.DocumentResult, error) {
	nearText := s.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{query})

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "source"},
		{Name: "title"},
		{Name: "category"},
		{Name: "page"},
		{Name: "_additional { id distance }"},
	}

	resp, err := s.client.GraphQL().Get().
		WithClassName(datatypes.DocumentClass).
		WithFields(fields...).
		WithNearText(nearText).
		WithLimit(s.limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate search: query: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.DocumentQueryResponse](resp)
	if err != nil {
		return nil, fmt.Errorf("weaviate search: %w", err)
	}
	slog.Debug("Weaviate retrieval complete", "query_bytes", len(query), "chunks", len(parsed.Get.Document))
	return parsed.Get.Document, nil
}

// buildContextPrompt numbers the excerpts and appends the question.
func buildContextPrompt(query string, docs []datatypes.DocumentResult, maxChars int) string {
	var sb strings.Builder
	if len(docs) == 0 {
		sb.WriteString("No document excerpts matched this question.\n\n")
	} else {
		sb.WriteString("Document excerpts:\n\n")
		for i, doc := range docs {
			title := doc.Title
			if title == "" {
				title = "Untitled"
			}
			content := doc.Content
			if len(content) > maxChars {
				content = content[:maxChars]
			}
			fmt.Fprintf(&sb, "[%d] %s\n%s\n\n", i+1, title, strings.TrimSpace(content))
		}
	}
	sb.WriteString("Question: ")
	sb.WriteString(query)
	return sb.String()
}

var _ Searcher = (*WeaviateSearcher)(nil)
