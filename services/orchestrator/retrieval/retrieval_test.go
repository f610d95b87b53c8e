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
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/AleutianAI/AleutianDocSearch/services/llm"
	"github.com/AleutianAI/AleutianDocSearch/services/orchestrator/conversation"
	"github.com/AleutianAI/AleutianDocSearch/services/orchestrator/datatypes"
)

// =============================================================================
// Fake Generator
// =============================================================================

type fakeGenerator struct {
	mu       sync.Mutex
	result   *datatypes.GenerationResult
	err      error
	requests []*llm.GenerateRequest
}

func (f *fakeGenerator) Generate(ctx context.Context, req *llm.GenerateRequest) (*datatypes.GenerationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeGenerator) Model() string { return "fake" }

// =============================================================================
// VertexSearcher
// =============================================================================

func TestNewVertexSearcher_Validation(t *testing.T) {
	_, err := NewVertexSearcher(nil, VertexSearcherConfig{Datastore: "ds"})
	assert.Error(t, err)

	_, err = NewVertexSearcher(&fakeGenerator{}, VertexSearcherConfig{})
	assert.Error(t, err)
}

func TestVertexSearcher_Search(t *testing.T) {
	grounded := datatypes.NewTextResult("5 bar")
	grounded.Grounding = &datatypes.GroundingMetadata{Chunks: []datatypes.GroundingChunk{
		{RetrievedContext: &datatypes.RetrievedContext{URI: "gs://m/pump.pdf"}},
	}}
	gen := &fakeGenerator{result: grounded}

	searcher, err := NewVertexSearcher(gen, VertexSearcherConfig{Datastore: "projects/p/locations/global/collections/c/dataStores/d", MaxHistory: 1})
	require.NoError(t, err)

	result, err := searcher.Search(context.Background(), &SearchInput{
		Query: "and the valve?",
		History: []conversation.Turn{
			{Question: "old", Answer: "old answer"},
			{Question: "pump rating?", Answer: "5 bar[gs://m/pump.pdf]"},
		},
	})
	require.NoError(t, err)
	assert.Same(t, grounded, result)

	require.Len(t, gen.requests, 1)
	req := gen.requests[0]
	assert.Equal(t, "projects/p/locations/global/collections/c/dataStores/d", req.Datastore)
	assert.Equal(t, SearchInstruction, req.SystemInstruction)
	assert.Equal(t, []llm.Message{
		{Role: llm.RoleUser, Content: "pump rating?"},
		{Role: llm.RoleAssistant, Content: "5 bar[gs://m/pump.pdf]"},
		{Role: llm.RoleUser, Content: "and the valve?"},
	}, req.Messages)
}

func TestVertexSearcher_SearchError(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("quota exceeded")}
	searcher, err := NewVertexSearcher(gen, VertexSearcherConfig{Datastore: "ds"})
	require.NoError(t, err)

	_, err = searcher.Search(context.Background(), &SearchInput{Query: "q"})
	assert.ErrorContains(t, err, "quota exceeded")
}

// =============================================================================
// WeaviateSearcher
// =============================================================================

func newWeaviateTestClient(t *testing.T, graphqlBody string, gotQuery *string) *weaviate.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if strings.HasSuffix(r.URL.Path, "/graphql") {
			var payload struct {
				Query string `json:"query"`
			}
			_ = json.NewDecoder(r.Body).Decode(&payload)
			if gotQuery != nil {
				*gotQuery = payload.Query
			}
			_, _ = w.Write([]byte(graphqlBody))
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	client, err := weaviate.NewClient(weaviate.Config{Host: u.Host, Scheme: u.Scheme})
	require.NoError(t, err)
	return client
}

func TestWeaviateSearcher_Search(t *testing.T) {
	body := `{"data":{"Get":{"Document":[
		{"content":"The pump is rated 5 bar.","source":"gs://m/pump.pdf","title":"Pump Manual","_additional":{"id":"1","distance":0.1}},
		{"content":"Valves open at 2 bar.","source":"gs://m/valve.pdf","title":"","_additional":{"id":"2","distance":0.2}}
	]}}}`
	var query string
	client := newWeaviateTestClient(t, body, &query)
	gen := &fakeGenerator{result: datatypes.NewTextResult("Rated 5 bar.")}

	searcher, err := NewWeaviateSearcher(client, gen, WeaviateSearcherConfig{Limit: 2})
	require.NoError(t, err)

	result, err := searcher.Search(context.Background(), &SearchInput{Query: "pump rating"})
	require.NoError(t, err)

	assert.Contains(t, query, "Document")
	assert.Contains(t, query, "nearText")
	assert.Contains(t, query, "pump rating")

	require.True(t, result.HasGrounding())
	require.Len(t, result.Grounding.Chunks, 2)
	assert.Equal(t, "gs://m/pump.pdf", result.Grounding.Chunks[0].Locator())
	assert.Equal(t, "Pump Manual", result.Grounding.Chunks[0].RetrievedContext.Title)
	assert.Equal(t, "gs://m/valve.pdf", result.Grounding.Chunks[1].Locator())
	assert.Equal(t, []string{"pump rating"}, result.Grounding.RetrievalQueries)

	require.Len(t, gen.requests, 1)
	prompt := gen.requests[0].Messages[0].Content
	assert.Contains(t, prompt, "[1] Pump Manual\nThe pump is rated 5 bar.")
	assert.Contains(t, prompt, "[2] Untitled")
	assert.NotContains(t, prompt, "gs://", "locators stay out of the prompt")
	assert.Empty(t, gen.requests[0].Datastore)
}

func TestWeaviateSearcher_NoResults(t *testing.T) {
	client := newWeaviateTestClient(t, `{"data":{"Get":{"Document":[]}}}`, nil)
	gen := &fakeGenerator{result: datatypes.NewTextResult("Not in the documents.")}

	searcher, err := NewWeaviateSearcher(client, gen, WeaviateSearcherConfig{})
	require.NoError(t, err)

	result, err := searcher.Search(context.Background(), &SearchInput{Query: "unknown"})
	require.NoError(t, err)
	assert.False(t, result.HasGrounding())
	assert.Contains(t, gen.requests[0].Messages[0].Content, "No document excerpts")
}

func TestWeaviateSearcher_GraphQLError(t *testing.T) {
	client := newWeaviateTestClient(t, `{"errors":[{"message":"class Document not found"}]}`, nil)
	gen := &fakeGenerator{result: datatypes.NewTextResult("x")}

	searcher, err := NewWeaviateSearcher(client, gen, WeaviateSearcherConfig{})
	require.NoError(t, err)

	_, err = searcher.Search(context.Background(), &SearchInput{Query: "q"})
	assert.ErrorContains(t, err, "class Document not found")
	assert.Empty(t, gen.requests)
}

func TestBuildContextPrompt_Truncates(t *testing.T) {
	docs := []datatypes.DocumentResult{{Title: "T", Content: strings.Repeat("a", 100)}}
	prompt := buildContextPrompt("q", docs, 10)
	assert.Contains(t, prompt, "[1] T\naaaaaaaaaa\n")
	assert.True(t, strings.HasSuffix(prompt, "Question: q"))
}
