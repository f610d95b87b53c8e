// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianDocSearch/pkg/ux"
	"github.com/AleutianAI/AleutianDocSearch/services/docprep/datastore"
)

var datastoreFlags struct {
	project     string
	location    string
	collection  string
	endpoint    string
	dataStoreID string
	displayName string
	gcsURI      string
	skipCreate  bool
	delay       time.Duration
	wait        bool
}

func initDatastoreFlags() {
	f := datastoreCmd.PersistentFlags()
	f.StringVar(&datastoreFlags.project, "project", os.Getenv("GOOGLE_CLOUD_PROJECT"), "Google Cloud project id")
	f.StringVar(&datastoreFlags.location, "location", "global", "Vertex AI Search location")
	f.StringVar(&datastoreFlags.collection, "collection", "default_collection", "collection name")
	f.StringVar(&datastoreFlags.endpoint, "endpoint", "", "Discovery Engine API endpoint override")
	f.StringVar(&datastoreFlags.dataStoreID, "data-store-id", "", "data store id (required)")
	_ = datastoreCmd.MarkPersistentFlagRequired("data-store-id")

	createDatastoreCmd.Flags().StringVar(&datastoreFlags.displayName, "display-name", "", "data store display name")

	importDatastoreCmd.Flags().StringVar(&datastoreFlags.gcsURI, "gcs-uri", "", "gs:// URI of metadata.jsonl (required)")
	importDatastoreCmd.Flags().BoolVar(&datastoreFlags.wait, "wait", false, "wait for the import to finish")
	_ = importDatastoreCmd.MarkFlagRequired("gcs-uri")

	p := provisionDatastoreCmd.Flags()
	p.StringVar(&datastoreFlags.displayName, "display-name", "", "data store display name")
	p.StringVar(&datastoreFlags.gcsURI, "gcs-uri", "", "gs:// URI of metadata.jsonl (required)")
	p.BoolVar(&datastoreFlags.skipCreate, "skip-create", false, "only import")
	p.DurationVar(&datastoreFlags.delay, "propagation-delay", datastore.DefaultPropagationDelay, "wait between create and import")
	p.BoolVar(&datastoreFlags.wait, "wait", false, "wait for the import to finish")
	_ = provisionDatastoreCmd.MarkFlagRequired("gcs-uri")
}

func newDatastoreClient(cmd *cobra.Command) (*datastore.Client, error) {
	return datastore.NewClient(cmd.Context(), datastore.Config{
		Project:    datastoreFlags.project,
		Location:   datastoreFlags.location,
		Collection: datastoreFlags.collection,
		Endpoint:   datastoreFlags.endpoint,
	})
}

func runDatastoreCreate(cmd *cobra.Command, args []string) error {
	client, err := newDatastoreClient(cmd)
	if err != nil {
		return err
	}
	op, created, err := client.CreateDataStore(cmd.Context(), datastoreFlags.dataStoreID, datastoreFlags.displayName)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if !created {
		ux.Warning(out, "Data store already exists: "+client.DataStoreName(datastoreFlags.dataStoreID))
		return nil
	}
	ux.Success(out, "Creation started: "+op.Name)
	return printJSON(out, op)
}

func runDatastoreImport(cmd *cobra.Command, args []string) error {
	client, err := newDatastoreClient(cmd)
	if err != nil {
		return err
	}
	op, err := client.ImportDocuments(cmd.Context(), datastoreFlags.dataStoreID, datastoreFlags.gcsURI)
	if err != nil {
		return err
	}
	if datastoreFlags.wait && !op.Done {
		op, err = client.WaitOperation(cmd.Context(), op.Name, 10*time.Second)
		if err != nil {
			return err
		}
	}
	return printJSON(cmd.OutOrStdout(), op)
}

func runDatastoreProvision(cmd *cobra.Command, args []string) error {
	client, err := newDatastoreClient(cmd)
	if err != nil {
		return err
	}
	result, err := client.Provision(cmd.Context(), datastore.ProvisionRequest{
		DataStoreID:      datastoreFlags.dataStoreID,
		DisplayName:      datastoreFlags.displayName,
		ManifestURI:      datastoreFlags.gcsURI,
		SkipCreate:       datastoreFlags.skipCreate,
		PropagationDelay: datastoreFlags.delay,
		Wait:             datastoreFlags.wait,
		PollInterval:     10 * time.Second,
	})
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	ux.Success(out, fmt.Sprintf("Data store ready: %s", result.DataStore))
	return printJSON(out, result.Import)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
