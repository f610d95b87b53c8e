// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datastore provisions Vertex AI Search data stores and imports
// documents into them through the Discovery Engine API.
package datastore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	discoveryengine "google.golang.org/api/discoveryengine/v1beta"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	// DefaultPropagationDelay is how long Provision waits between creating
	// a data store and importing into it.
	DefaultPropagationDelay = 10 * time.Second

	defaultBranch = "default_branch"
)

// ErrOperationFailed is returned by WaitOperation when a long-running
// operation finished with an error status.
var ErrOperationFailed = errors.New("datastore: operation failed")

// Operation is a google.longrunning.Operation as returned by the API.
type Operation = discoveryengine.GoogleLongrunningOperation

// Config configures a Client.
//
// # Fields
//
//   - Project: Google Cloud project id. Required. Billed as quota project
//     when credentials come from the environment.
//   - Location: Default: "global".
//   - Collection: Default: "default_collection".
//   - Endpoint: Overrides the API root, e.g. a regional endpoint. Optional.
//   - HTTPClient: Used as-is when set; otherwise an authenticated client is
//     built from Application Default Credentials.
type Config struct {
	Project    string
	Location   string
	Collection string
	Endpoint   string
	HTTPClient *http.Client
}

// Client calls the Discovery Engine admin API for one collection.
//
// # Thread Safety
//
// Safe for concurrent use.
type Client struct {
	svc     *discoveryengine.Service
	project string
	loc     string
	coll    string
}

// NewClient builds a Client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Project == "" {
		return nil, errors.New("datastore: project is required")
	}
	if cfg.Location == "" {
		cfg.Location = "global"
	}
	if cfg.Collection == "" {
		cfg.Collection = "default_collection"
	}

	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	} else {
		opts = append(opts,
			option.WithScopes(discoveryengine.CloudPlatformScope),
			option.WithQuotaProject(cfg.Project),
		)
	}
	svc, err := discoveryengine.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("datastore: create service: %w", err)
	}
	return &Client{
		svc:     svc,
		project: cfg.Project,
		loc:     cfg.Location,
		coll:    cfg.Collection,
	}, nil
}

// CollectionName is projects/<p>/locations/<l>/collections/<c>.
func (c *Client) CollectionName() string {
	return fmt.Sprintf("projects/%s/locations/%s/collections/%s", c.project, c.loc, c.coll)
}

// DataStoreName is the full resource name a search backend is configured
// with.
func (c *Client) DataStoreName(id string) string {
	return c.CollectionName() + "/dataStores/" + id
}

// newDataStore is a generic search data store with layout-aware parsing
// and 500-token chunks that keep their ancestor headings.
func newDataStore(displayName string) *discoveryengine.GoogleCloudDiscoveryengineV1betaDataStore {
	return &discoveryengine.GoogleCloudDiscoveryengineV1betaDataStore{
		DisplayName:      displayName,
		IndustryVertical: "GENERIC",
		SolutionTypes:    []string{"SOLUTION_TYPE_SEARCH"},
		ContentConfig:    "CONTENT_REQUIRED",
		DocumentProcessingConfig: &discoveryengine.GoogleCloudDiscoveryengineV1betaDocumentProcessingConfig{
			ChunkingConfig: &discoveryengine.GoogleCloudDiscoveryengineV1betaDocumentProcessingConfigChunkingConfig{
				LayoutBasedChunkingConfig: &discoveryengine.GoogleCloudDiscoveryengineV1betaDocumentProcessingConfigChunkingConfigLayoutBasedChunkingConfig{
					ChunkSize:               500,
					IncludeAncestorHeadings: true,
				},
			},
			DefaultParsingConfig: &discoveryengine.GoogleCloudDiscoveryengineV1betaDocumentProcessingConfigParsingConfig{
				LayoutParsingConfig: &discoveryengine.GoogleCloudDiscoveryengineV1betaDocumentProcessingConfigParsingConfigLayoutParsingConfig{
					EnableImageAnnotation: true,
				},
			},
		},
	}
}

// =============================================================================
// Operations
// =============================================================================

// CreateDataStore starts creating a data store.
//
// # Outputs
//
//   - *Operation: The creation operation, nil when the store already existed.
//   - bool: True when a new store is being created.
//   - error: Any API failure other than 409 Conflict.
func (c *Client) CreateDataStore(ctx context.Context, id, displayName string) (*Operation, bool, error) {
	if id == "" {
		return nil, false, errors.New("datastore: data store id is required")
	}
	if displayName == "" {
		displayName = id
	}

	slog.Info("Creating data store", "id", id, "collection", c.CollectionName())
	op, err := c.svc.Projects.Locations.Collections.DataStores.
		Create(c.CollectionName(), newDataStore(displayName)).
		DataStoreId(id).
		Context(ctx).
		Do()
	if isConflict(err) {
		slog.Info("Data store already exists, skipping creation", "id", id)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("create data store %s: %w", id, err)
	}
	return op, true, nil
}

// ImportDocuments starts an incremental import of a document manifest.
//
// # Inputs
//
//   - id: Data store id.
//   - manifestURI: gs:// URI of a metadata.jsonl in the "document" schema.
func (c *Client) ImportDocuments(ctx context.Context, id, manifestURI string) (*Operation, error) {
	if !strings.HasPrefix(manifestURI, "gs://") {
		return nil, fmt.Errorf("datastore: manifest must be a gs:// URI, got %q", manifestURI)
	}
	req := &discoveryengine.GoogleCloudDiscoveryengineV1betaImportDocumentsRequest{
		GcsSource: &discoveryengine.GoogleCloudDiscoveryengineV1betaGcsSource{
			InputUris:  []string{manifestURI},
			DataSchema: "document",
		},
		ReconciliationMode: "INCREMENTAL",
	}

	slog.Info("Importing documents", "data_store", id, "manifest", manifestURI)
	op, err := c.svc.Projects.Locations.Collections.DataStores.Branches.Documents.
		Import(c.DataStoreName(id)+"/branches/"+defaultBranch, req).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("import documents into %s: %w", id, err)
	}
	slog.Info("Import operation started", "operation", op.Name)
	return op, nil
}

// GetOperation fetches the current state of a long-running operation.
func (c *Client) GetOperation(ctx context.Context, name string) (*Operation, error) {
	op, err := c.svc.Projects.Operations.Get(name).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get operation %s: %w", name, err)
	}
	return op, nil
}

// WaitOperation polls name every interval until it is done or ctx ends.
func (c *Client) WaitOperation(ctx context.Context, name string, interval time.Duration) (*Operation, error) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		op, err := c.GetOperation(ctx, name)
		if err != nil {
			return nil, err
		}
		if op.Done {
			if op.Error != nil {
				return op, fmt.Errorf("%w: %s (code %d)", ErrOperationFailed, op.Error.Message, op.Error.Code)
			}
			return op, nil
		}
		slog.Debug("Operation still running", "operation", name)
		select {
		case <-ctx.Done():
			return op, ctx.Err()
		case <-ticker.C:
		}
	}
}

func isConflict(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict
}
