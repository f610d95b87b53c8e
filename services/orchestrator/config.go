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
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianDocSearch/pkg/logging"
	"github.com/AleutianAI/AleutianDocSearch/services/llm"
	"github.com/AleutianAI/AleutianDocSearch/services/orchestrator/conversation"
	"github.com/AleutianAI/AleutianDocSearch/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianDocSearch/services/orchestrator/pipeline"
)

// Search backends.
const (
	BackendVertex   = "vertex"
	BackendWeaviate = "weaviate"
	BackendOpenAI   = "openai"
)

// Conversation store backends.
const (
	StoreMemory = "memory"
	StoreBadger = "badger"
)

// =============================================================================
// Configuration
// =============================================================================

// Config holds the search service configuration.
//
// # Description
//
// Loaded from YAML by LoadConfig, then overridden by environment
// variables. Zero values are filled by applyConfigDefaults.
//
// # Examples
//
//	port: 12210
//	search:
//	  backend: vertex
//	  datastore: projects/p/locations/global/collections/default_collection/dataStores/manuals
//	formatter:
//	  backend: vertex
//	vertex:
//	  project: my-project
//	  location: us-central1
//	store:
//	  backend: badger
//	  badger:
//	    path: /var/lib/docsearch
//	    ttl: 24h
type Config struct {
	// Port is the HTTP port. Default: 12210.
	Port int `yaml:"port" validate:"min=1,max=65535"`

	// GinMode is "debug", "release" or "test". Default: release.
	GinMode string `yaml:"gin_mode" validate:"oneof=debug release test"`

	// RequestTimeout bounds one search turn. Default: 2m.
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"min=0"`

	Search    SearchConfig         `yaml:"search"`
	Formatter FormatterConfig      `yaml:"formatter"`
	Vertex    llm.VertexConfig     `yaml:"vertex"`
	OpenAI    llm.OpenAIConfig     `yaml:"openai"`
	Weaviate  WeaviateConfig       `yaml:"weaviate"`
	Store     StoreConfig          `yaml:"store"`
	Pipeline  pipeline.Config      `yaml:"pipeline"`
	Telemetry observability.Config `yaml:"telemetry"`
	Logging   logging.Config       `yaml:"logging"`
}

// SearchConfig selects the first-stage backend.
type SearchConfig struct {
	// Backend is "vertex" (Vertex AI Search grounding) or "weaviate".
	Backend string `yaml:"backend" validate:"oneof=vertex weaviate"`

	// Datastore is the Vertex AI Search data store resource name.
	Datastore string `yaml:"datastore" validate:"required_if=Backend vertex"`

	// Instruction overrides the built-in search instruction.
	Instruction string `yaml:"instruction"`

	// MaxHistory bounds the prior turns replayed to the search model.
	MaxHistory int `yaml:"max_history" validate:"min=0"`
}

// FormatterConfig selects the second-stage generator.
type FormatterConfig struct {
	// Backend is "vertex" or "openai". Default: vertex.
	Backend string `yaml:"backend" validate:"oneof=vertex openai"`
}

// WeaviateConfig configures the Weaviate search backend.
type WeaviateConfig struct {
	// URL is the Weaviate base URL, e.g. http://localhost:8080.
	URL string `yaml:"url"`

	// Vectorizer is the module used when the Document class is created.
	Vectorizer string `yaml:"vectorizer"`

	// Limit is the number of chunks retrieved per query.
	Limit int `yaml:"limit" validate:"min=0"`

	// MaxChunkChars truncates excerpts in the prompt.
	MaxChunkChars int `yaml:"max_chunk_chars" validate:"min=0"`
}

// StoreConfig selects the conversation state store.
type StoreConfig struct {
	// Backend is "memory" or "badger". Default: memory.
	Backend string                    `yaml:"backend" validate:"oneof=memory badger"`
	Badger  conversation.BadgerConfig `yaml:"badger"`
}

// DefaultConfig returns a config with every default applied.
func DefaultConfig() Config {
	return applyConfigDefaults(Config{})
}

// applyConfigDefaults fills in zero-valued fields.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12210
	}
	if cfg.GinMode == "" {
		cfg.GinMode = "release"
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 2 * time.Minute
	}
	if cfg.Search.Backend == "" {
		cfg.Search.Backend = BackendVertex
	}
	if cfg.Formatter.Backend == "" {
		cfg.Formatter.Backend = BackendVertex
	}
	if cfg.Weaviate.Limit == 0 {
		cfg.Weaviate.Limit = 5
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = StoreMemory
	}
	if cfg.Store.Backend == StoreBadger {
		defaults := conversation.DefaultBadgerConfig(cfg.Store.Badger.Path)
		if cfg.Store.Badger.TTL == 0 {
			cfg.Store.Badger.TTL = defaults.TTL
		}
		if cfg.Store.Badger.GCInterval == 0 {
			cfg.Store.Badger.GCInterval = defaults.GCInterval
		}
		if cfg.Store.Badger.GCDiscardRatio == 0 {
			cfg.Store.Badger.GCDiscardRatio = defaults.GCDiscardRatio
		}
	}

	telemetryDefaults := observability.DefaultConfig()
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = telemetryDefaults.ServiceName
	}
	if cfg.Telemetry.ServiceVersion == "" {
		cfg.Telemetry.ServiceVersion = telemetryDefaults.ServiceVersion
	}
	if cfg.Telemetry.Environment == "" {
		cfg.Telemetry.Environment = telemetryDefaults.Environment
	}
	if cfg.Telemetry.TraceExporter == "" {
		cfg.Telemetry.TraceExporter = telemetryDefaults.TraceExporter
	}
	if cfg.Telemetry.MetricExporter == "" {
		cfg.Telemetry.MetricExporter = telemetryDefaults.MetricExporter
	}
	if cfg.Telemetry.OTLPEndpoint == "" {
		cfg.Telemetry.OTLPEndpoint = telemetryDefaults.OTLPEndpoint
		cfg.Telemetry.OTLPInsecure = telemetryDefaults.OTLPInsecure
	}
	if cfg.Logging.Service == "" {
		cfg.Logging.Service = "docsearch"
	}
	return cfg
}

// =============================================================================
// Loading
// =============================================================================

var configValidate = validator.New()

// LoadConfig reads a YAML config file, applies environment overrides and
// defaults, and validates the result.
//
// # Inputs
//
//   - path: YAML file. Empty means environment and defaults only. A
//     missing file at a non-empty path is an error.
//
// # Outputs
//
//   - Config: Ready for New.
//   - error: Unreadable or malformed file, or a validation failure.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}
	cfg = applyConfigDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks struct tags plus the rules that span sections.
func (c Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Search.Backend == BackendVertex || c.Formatter.Backend == BackendVertex {
		if c.Vertex.Project == "" {
			return errors.New("invalid config: vertex.project is required by the vertex backends")
		}
	}
	if c.Search.Backend == BackendWeaviate && c.Weaviate.URL == "" {
		return errors.New("invalid config: weaviate.url is required by the weaviate search backend")
	}
	if c.Store.Backend == StoreBadger && c.Store.Badger.Path == "" && !c.Store.Badger.InMemory {
		return errors.New("invalid config: store.badger.path is required")
	}
	return nil
}

// applyEnvOverrides lets deployment environments override the file.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("DOCSEARCH_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DOCSEARCH_PORT: %w", err)
		}
		cfg.Port = port
	}
	if v := os.Getenv("DOCSEARCH_LOG_LEVEL"); v != "" {
		level, err := logging.ParseLevel(v)
		if err != nil {
			return fmt.Errorf("DOCSEARCH_LOG_LEVEL: %w", err)
		}
		cfg.Logging.Level = level
	}
	overrideString(&cfg.GinMode, "GIN_MODE")
	overrideString(&cfg.Search.Backend, "DOCSEARCH_SEARCH_BACKEND")
	overrideString(&cfg.Formatter.Backend, "DOCSEARCH_FORMATTER_BACKEND")
	overrideString(&cfg.Store.Backend, "DOCSEARCH_STORE_BACKEND")
	overrideString(&cfg.Store.Badger.Path, "DOCSEARCH_STORE_PATH")
	overrideString(&cfg.Vertex.Project, "GOOGLE_CLOUD_PROJECT")
	overrideString(&cfg.Vertex.Location, "VERTEX_LOCATION")
	overrideString(&cfg.Vertex.Model, "VERTEX_MODEL")
	overrideString(&cfg.Search.Datastore, "VERTEX_DATASTORE")
	overrideString(&cfg.OpenAI.Model, "OPENAI_MODEL")
	overrideString(&cfg.OpenAI.BaseURL, "OPENAI_BASE_URL")
	overrideString(&cfg.Weaviate.URL, "WEAVIATE_SERVICE_URL")
	overrideString(&cfg.Telemetry.TraceExporter, "OTEL_TRACES_EXPORTER")
	overrideString(&cfg.Telemetry.MetricExporter, "OTEL_METRICS_EXPORTER")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	return nil
}

func overrideString(field *string, key string) {
	if v := os.Getenv(key); v != "" {
		*field = v
	}
}
