// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datastore

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ProvisionRequest describes one create-then-import run.
type ProvisionRequest struct {
	DataStoreID string
	DisplayName string
	ManifestURI string

	// SkipCreate goes straight to the import.
	SkipCreate bool

	// PropagationDelay is waited after a successful create call, including
	// one that found the store already present. Zero waits not at all.
	PropagationDelay time.Duration

	// Wait blocks until the import operation is done, polling every
	// PollInterval.
	Wait         bool
	PollInterval time.Duration
}

// ProvisionResult reports what Provision did.
type ProvisionResult struct {
	DataStore string
	Created   bool
	Import    *Operation
}

// Provision creates the data store (unless skipped), waits for it to
// propagate, then imports the manifest. A failed create stops the run
// before any import.
func (c *Client) Provision(ctx context.Context, req ProvisionRequest) (*ProvisionResult, error) {
	if req.DataStoreID == "" {
		return nil, errors.New("datastore: data store id is required")
	}
	result := &ProvisionResult{DataStore: c.DataStoreName(req.DataStoreID)}

	if !req.SkipCreate {
		_, created, err := c.CreateDataStore(ctx, req.DataStoreID, req.DisplayName)
		if err != nil {
			return nil, err
		}
		result.Created = created
		if req.PropagationDelay > 0 {
			slog.Info("Waiting for data store creation to propagate", "delay", req.PropagationDelay.String())
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(req.PropagationDelay):
			}
		}
	}

	op, err := c.ImportDocuments(ctx, req.DataStoreID, req.ManifestURI)
	if err != nil {
		return result, err
	}
	result.Import = op

	if req.Wait && op.Name != "" && !op.Done {
		done, err := c.WaitOperation(ctx, op.Name, req.PollInterval)
		if done != nil {
			result.Import = done
		}
		if err != nil {
			return result, err
		}
	}
	return result, nil
}
