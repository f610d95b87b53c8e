// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianDocSearch/pkg/logging"
	"github.com/AleutianAI/AleutianDocSearch/services/llm"
	"github.com/AleutianAI/AleutianDocSearch/services/orchestrator/conversation"
	"github.com/AleutianAI/AleutianDocSearch/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianDocSearch/services/orchestrator/retrieval"
)

// =============================================================================
// Config Tests
// =============================================================================

func TestApplyConfigDefaults(t *testing.T) {
	cfg := applyConfigDefaults(Config{})

	assert.Equal(t, 12210, cfg.Port)
	assert.Equal(t, "release", cfg.GinMode)
	assert.Equal(t, 2*time.Minute, cfg.RequestTimeout)
	assert.Equal(t, BackendVertex, cfg.Search.Backend)
	assert.Equal(t, BackendVertex, cfg.Formatter.Backend)
	assert.Equal(t, StoreMemory, cfg.Store.Backend)
	assert.Equal(t, 5, cfg.Weaviate.Limit)
	assert.Equal(t, "aleutian-docsearch", cfg.Telemetry.ServiceName)
	assert.Equal(t, "docsearch", cfg.Logging.Service)
}

func TestApplyConfigDefaults_PreservesValues(t *testing.T) {
	cfg := applyConfigDefaults(Config{
		Port:  8080,
		Store: StoreConfig{Backend: StoreBadger, Badger: conversation.BadgerConfig{Path: "/data", TTL: time.Hour}},
	})
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, time.Hour, cfg.Store.Badger.TTL)
	assert.Equal(t, 5*time.Minute, cfg.Store.Badger.GCInterval)
	assert.Equal(t, 0.5, cfg.Store.Badger.GCDiscardRatio)
}

func TestLoadConfig_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docsearch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: 9000
gin_mode: debug
search:
  backend: vertex
  datastore: projects/p/locations/global/collections/default_collection/dataStores/manuals
formatter:
  backend: openai
vertex:
  project: my-project
  location: europe-west4
store:
  backend: badger
  badger:
    path: /var/lib/docsearch
    ttl: 12h
pipeline:
  history_turns: 3
telemetry:
  trace_exporter: stdout
logging:
  level: debug
`), 0600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "debug", cfg.GinMode)
	assert.Equal(t, BackendOpenAI, cfg.Formatter.Backend)
	assert.Equal(t, "my-project", cfg.Vertex.Project)
	assert.Equal(t, "europe-west4", cfg.Vertex.Location)
	assert.Equal(t, 12*time.Hour, cfg.Store.Badger.TTL)
	assert.Equal(t, 3, cfg.Pipeline.HistoryTurns)
	assert.Equal(t, "stdout", cfg.Telemetry.TraceExporter)
	assert.Equal(t, logging.LevelDebug, cfg.Logging.Level)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("DOCSEARCH_PORT", "7000")
	t.Setenv("GOOGLE_CLOUD_PROJECT", "env-project")
	t.Setenv("VERTEX_DATASTORE", "projects/env/dataStores/ds")
	t.Setenv("DOCSEARCH_LOG_LEVEL", "warn")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Port)
	assert.Equal(t, "env-project", cfg.Vertex.Project)
	assert.Equal(t, "projects/env/dataStores/ds", cfg.Search.Datastore)
	assert.Equal(t, logging.LevelWarn, cfg.Logging.Level)
}

func TestLoadConfig_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("port: [1, 2"), 0600))
		_, err := LoadConfig(path)
		assert.Error(t, err)
	})

	t.Run("bad port env", func(t *testing.T) {
		t.Setenv("DOCSEARCH_PORT", "eighty")
		_, err := LoadConfig("")
		assert.ErrorContains(t, err, "DOCSEARCH_PORT")
	})
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		cfg := DefaultConfig()
		cfg.Vertex.Project = "p"
		cfg.Search.Datastore = "projects/p/dataStores/ds"
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"vertex search without datastore", func(c *Config) { c.Search.Datastore = "" }},
		{"vertex without project", func(c *Config) { c.Vertex.Project = "" }},
		{"unknown search backend", func(c *Config) { c.Search.Backend = "elastic" }},
		{"unknown formatter backend", func(c *Config) { c.Formatter.Backend = "claude" }},
		{"unknown store", func(c *Config) { c.Store.Backend = "redis" }},
		{"weaviate without url", func(c *Config) { c.Search.Backend = BackendWeaviate }},
		{"badger without path", func(c *Config) { c.Store.Backend = StoreBadger }},
		{"bad port", func(c *Config) { c.Port = 70000 }},
		{"bad trace exporter", func(c *Config) { c.Telemetry.TraceExporter = "zipkin" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	t.Run("openai formatter with weaviate search needs no project", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Search.Backend = BackendWeaviate
		cfg.Weaviate.URL = "http://localhost:8080"
		cfg.Formatter.Backend = BackendOpenAI
		assert.NoError(t, cfg.Validate())
	})
}

// =============================================================================
// Service Tests
// =============================================================================

type stubSearcher struct{}

func (stubSearcher) Search(context.Context, *retrieval.SearchInput) (*datatypes.GenerationResult, error) {
	result := datatypes.NewTextResult("Torque is 12 Nm.")
	result.Grounding = &datatypes.GroundingMetadata{Chunks: []datatypes.GroundingChunk{
		{RetrievedContext: &datatypes.RetrievedContext{URI: "gs://manuals/assembly.pdf"}},
	}}
	return result, nil
}

type stubFormatter struct{}

func (stubFormatter) Generate(context.Context, *llm.GenerateRequest) (*datatypes.GenerationResult, error) {
	return datatypes.NewTextResult("Torque is 12 Nm[[uri_1]]."), nil
}

func (stubFormatter) Model() string { return "stub" }

func newTestService(t *testing.T, cfg Config) Service {
	t.Helper()
	cfg.GinMode = "test"
	svc, err := New(context.Background(), cfg, &Options{
		Searcher:      stubSearcher{},
		Formatter:     stubFormatter{},
		SkipTelemetry: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestNew_WithInjectedBackends(t *testing.T) {
	svc := newTestService(t, Config{})
	require.NotNil(t, svc.Router())
	require.NotNil(t, svc.Pipeline())

	body := bytes.NewBufferString(`{"query":"What torque?"}`)
	req := httptest.NewRequest("POST", "/v1/search", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	svc.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp datatypes.SearchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Torque is 12 Nm[gs://manuals/assembly.pdf].", resp.Answer)

	w = httptest.NewRecorder()
	svc.Router().ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNew_BadgerStore(t *testing.T) {
	dir := t.TempDir()
	svc := newTestService(t, Config{Store: StoreConfig{
		Backend: StoreBadger,
		Badger:  conversation.BadgerConfig{Path: dir},
	}})

	_, err := svc.Pipeline().Run(context.Background(), "s1", "q")
	require.NoError(t, err)
	require.NoError(t, svc.Close())
	require.NoError(t, svc.Close(), "second close is a no-op")

	store, err := conversation.OpenBadgerStore(conversation.BadgerConfig{Path: dir})
	require.NoError(t, err)
	defer store.Close()
	state, err := store.Load(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, state.TurnCount())
}

func TestNew_VertexRequiresProject(t *testing.T) {
	_, err := New(context.Background(), Config{GinMode: "test"}, &Options{
		Formatter:     stubFormatter{},
		SkipTelemetry: true,
	})
	assert.ErrorContains(t, err, "project is required")
}

func TestNew_InvalidWeaviateURL(t *testing.T) {
	_, err := New(context.Background(), Config{
		GinMode:  "test",
		Search:   SearchConfig{Backend: BackendWeaviate},
		Weaviate: WeaviateConfig{URL: "not a url"},
	}, &Options{Formatter: stubFormatter{}, SkipTelemetry: true})
	assert.ErrorContains(t, err, "invalid Weaviate URL")
}

func TestRun_StopsOnCancel(t *testing.T) {
	svc := newTestService(t, Config{Port: 18765})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRequestTimeout(t *testing.T) {
	svc := newTestService(t, Config{RequestTimeout: time.Millisecond})
	router := svc.Router()
	router.GET("/deadline", func(c *gin.Context) {
		_, ok := c.Request.Context().Deadline()
		c.JSON(http.StatusOK, gin.H{"has_deadline": ok})
	})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/deadline", nil))
	assert.JSONEq(t, `{"has_deadline":true}`, w.Body.String())
}
