// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator wires the DocSearch service together.
//
// New builds every component from a Config: telemetry, the conversation
// store, the generation backends, the search backend, the citation
// pipeline and the HTTP router. Components can be injected through
// Options, which is how tests and embedding programs replace the cloud
// backends.
//
// # Usage
//
//	cfg, err := orchestrator.LoadConfig("docsearch.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc, err := orchestrator.New(ctx, cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run(ctx))
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/AleutianDocSearch/services/llm"
	"github.com/AleutianAI/AleutianDocSearch/services/orchestrator/conversation"
	"github.com/AleutianAI/AleutianDocSearch/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianDocSearch/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianDocSearch/services/orchestrator/pipeline"
	"github.com/AleutianAI/AleutianDocSearch/services/orchestrator/retrieval"
	"github.com/AleutianAI/AleutianDocSearch/services/orchestrator/routes"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service is the lifecycle of the search server.
type Service interface {
	// Run serves HTTP until ctx is cancelled or the listener fails, then
	// shuts down gracefully and releases every resource New acquired.
	Run(ctx context.Context) error

	// Router returns the configured gin engine. Used by tests.
	Router() *gin.Engine

	// Pipeline returns the citation pipeline behind the router.
	Pipeline() *pipeline.Pipeline

	// Close releases resources without serving. Safe to call after Run.
	Close() error
}

// Options injects components that New would otherwise build from Config.
// Nil fields are built as usual.
type Options struct {
	Searcher  retrieval.Searcher
	Formatter llm.Generator
	Store     conversation.Store

	// SkipTelemetry leaves the global OTel providers untouched.
	SkipTelemetry bool
}

// =============================================================================
// Implementation
// =============================================================================

type service struct {
	config Config
	opts   Options

	router    *gin.Engine
	pipeline  *pipeline.Pipeline
	store     conversation.Store
	metrics   *observability.CitationMetrics
	vertex    *llm.VertexClient
	weaviate  *weaviate.Client
	telemetry func(context.Context) error

	closeOnce sync.Once
	closeErr  error
}

// New builds the service.
//
// # Description
//
// Initialisation order:
//  1. Telemetry (unless Options.SkipTelemetry).
//  2. Conversation store.
//  3. Generation backends needed by the configured search and formatter.
//  4. Search backend.
//  5. Pipeline and router.
//
// Any failure releases what was already built.
//
// # Inputs
//
//   - ctx: Used while dialling backends.
//   - cfg: Configuration; defaults are applied again so a hand-built
//     Config works.
//   - opts: Optional component injection. May be nil.
//
// # Outputs
//
//   - Service: Ready to Run.
//   - error: The first component that failed.
func New(ctx context.Context, cfg Config, opts *Options) (Service, error) {
	s := &service{config: applyConfigDefaults(cfg)}
	if opts != nil {
		s.opts = *opts
	}

	if !s.opts.SkipTelemetry {
		shutdown, err := observability.Init(ctx, s.config.Telemetry)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		s.telemetry = shutdown
	}

	metrics, err := observability.NewCitationMetrics(nil)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	s.metrics = metrics

	if err := s.initStore(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize conversation store: %w", err)
	}

	formatter, err := s.initFormatter(ctx)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize formatter: %w", err)
	}

	searcher, err := s.initSearcher(ctx)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize search backend: %w", err)
	}

	s.pipeline, err = pipeline.New(searcher, formatter, s.store, s.metrics, s.config.Pipeline)
	if err != nil {
		s.cleanup()
		return nil, err
	}

	s.initRouter()
	return s, nil
}

// Run implements Service.
func (s *service) Run(ctx context.Context) error {
	defer s.Close()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting DocSearch server", "port", s.config.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
		slog.Info("Shutting down DocSearch server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

// Router implements Service.
func (s *service) Router() *gin.Engine {
	return s.router
}

// Pipeline implements Service.
func (s *service) Pipeline() *pipeline.Pipeline {
	return s.pipeline
}

// Close implements Service.
func (s *service) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.cleanup()
	})
	return s.closeErr
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

func (s *service) initStore() error {
	if s.opts.Store != nil {
		s.store = s.opts.Store
		return nil
	}
	switch s.config.Store.Backend {
	case StoreBadger:
		badgerCfg := s.config.Store.Badger
		badgerCfg.Logger = slog.Default().With("component", "badger")
		store, err := conversation.OpenBadgerStore(badgerCfg)
		if err != nil {
			return err
		}
		s.store = store
		slog.Info("Using BadgerDB conversation store", "path", badgerCfg.Path, "ttl", badgerCfg.TTL.String())
	default:
		s.store = conversation.NewMemoryStore()
		slog.Info("Using in-memory conversation store")
	}
	return nil
}

// vertexClient builds the shared Vertex client on first use.
func (s *service) vertexClient(ctx context.Context) (*llm.VertexClient, error) {
	if s.vertex != nil {
		return s.vertex, nil
	}
	client, err := llm.NewVertexClient(ctx, s.config.Vertex)
	if err != nil {
		return nil, err
	}
	s.vertex = client
	return client, nil
}

func (s *service) initFormatter(ctx context.Context) (llm.Generator, error) {
	if s.opts.Formatter != nil {
		return s.opts.Formatter, nil
	}
	switch s.config.Formatter.Backend {
	case BackendOpenAI:
		slog.Info("Using OpenAI formatter backend")
		return llm.NewOpenAIClient(s.config.OpenAI)
	default:
		slog.Info("Using Vertex AI formatter backend")
		return s.vertexClient(ctx)
	}
}

func (s *service) initSearcher(ctx context.Context) (retrieval.Searcher, error) {
	if s.opts.Searcher != nil {
		return s.opts.Searcher, nil
	}
	switch s.config.Search.Backend {
	case BackendWeaviate:
		client, err := s.initWeaviate(ctx)
		if err != nil {
			return nil, err
		}
		generator, err := s.initFormatter(ctx)
		if err != nil {
			return nil, err
		}
		slog.Info("Using Weaviate search backend", "url", s.config.Weaviate.URL)
		return retrieval.NewWeaviateSearcher(client, generator, retrieval.WeaviateSearcherConfig{
			Limit:         s.config.Weaviate.Limit,
			MaxChunkChars: s.config.Weaviate.MaxChunkChars,
		})
	default:
		client, err := s.vertexClient(ctx)
		if err != nil {
			return nil, err
		}
		slog.Info("Using Vertex AI Search backend", "datastore", s.config.Search.Datastore)
		return retrieval.NewVertexSearcher(client, retrieval.VertexSearcherConfig{
			Datastore:   s.config.Search.Datastore,
			Instruction: s.config.Search.Instruction,
			MaxHistory:  s.config.Search.MaxHistory,
		})
	}
}

// initWeaviate connects to Weaviate and makes sure the Document class
// exists.
func (s *service) initWeaviate(ctx context.Context) (*weaviate.Client, error) {
	weaviateURL := strings.Trim(s.config.Weaviate.URL, "\"' ")
	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid Weaviate URL: %q", weaviateURL)
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Weaviate client: %w", err)
	}
	if err := datatypes.EnsureDocumentSchema(ctx, client, s.config.Weaviate.Vectorizer); err != nil {
		return nil, err
	}
	s.weaviate = client
	slog.Info("Weaviate client initialized", "url", weaviateURL)
	return client, nil
}

func (s *service) initRouter() {
	gin.SetMode(s.config.GinMode)
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(otelgin.Middleware(s.config.Telemetry.ServiceName))
	s.router.Use(requestTimeout(s.config.RequestTimeout))

	routes.SetupRoutes(s.router, s.pipeline, observability.MetricsHandler())
	if s.weaviate != nil {
		routes.SetupWeaviateAdminRoutes(s.router, s.weaviate, s.config.Weaviate.Vectorizer)
	}
}

// requestTimeout bounds the context of every request.
func requestTimeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// cleanup releases everything New acquired, in reverse order.
func (s *service) cleanup() error {
	var errs []error
	if s.store != nil && s.opts.Store == nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close conversation store: %w", err))
		}
	}
	if s.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.telemetry(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
		}
	}
	for _, err := range errs {
		slog.Warn("Cleanup error", "error", err)
	}
	return errors.Join(errs...)
}

var _ Service = (*service)(nil)
