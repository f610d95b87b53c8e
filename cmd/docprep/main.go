// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command docprep prepares a folder of PDFs for cited search.
//
// # Usage
//
//	# 1. Build metadata.jsonl next to the PDFs
//	docprep metadata ./manuals --gcs-base-uri gs://docs/manuals
//
//	# 2. Upload PDFs and manifest
//	docprep upload ./manuals gs://docs/manuals
//
//	# 3. Create the data store and import the manifest
//	docprep datastore provision --project my-project --data-store-id manuals \
//	    --display-name "Product Manuals" --gcs-uri gs://docs/manuals/metadata.jsonl
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianDocSearch/pkg/logging"
	"github.com/AleutianAI/AleutianDocSearch/pkg/ux"
)

// --- Global Command Variables ---
var (
	logLevel   string
	outputMode string

	rootCmd = &cobra.Command{
		Use:          "docprep",
		Short:        "Prepare documents for Vertex AI Search",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logging.ParseLevel(logLevel)
			if err != nil {
				return err
			}
			logger := logging.New(logging.Config{
				Level:   level,
				Service: "docprep",
				Output:  cmd.ErrOrStderr(),
			})
			slog.SetDefault(logger.Slog())
			ux.SetMode(ux.DetectMode(outputMode, os.Stdout))
			return nil
		},
	}

	metadataCmd = &cobra.Command{
		Use:   "metadata [folder]",
		Short: "Generate metadata.jsonl for the PDFs in a folder",
		Args:  cobra.ExactArgs(1),
		RunE:  runMetadata, // Defined in cmd_metadata.go
	}

	uploadCmd = &cobra.Command{
		Use:   "upload [folder] [gs://bucket/prefix]",
		Short: "Upload the PDFs and metadata.jsonl of a folder to GCS",
		Args:  cobra.ExactArgs(2),
		RunE:  runUpload, // Defined in cmd_upload.go
	}

	datastoreCmd = &cobra.Command{
		Use:   "datastore",
		Short: "Manage Vertex AI Search data stores",
	}
	createDatastoreCmd = &cobra.Command{
		Use:   "create",
		Short: "Create a layout-parsed search data store",
		Args:  cobra.NoArgs,
		RunE:  runDatastoreCreate, // Defined in cmd_datastore.go
	}
	importDatastoreCmd = &cobra.Command{
		Use:   "import",
		Short: "Import a metadata.jsonl manifest into a data store",
		Args:  cobra.NoArgs,
		RunE:  runDatastoreImport,
	}
	provisionDatastoreCmd = &cobra.Command{
		Use:   "provision",
		Short: "Create a data store (unless skipped) and import documents",
		Args:  cobra.NoArgs,
		RunE:  runDatastoreProvision,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	rootCmd.PersistentFlags().StringVarP(&outputMode, "output", "o", "", "output mode: rich, plain or machine")

	initMetadataFlags()
	initUploadFlags()
	initDatastoreFlags()

	datastoreCmd.AddCommand(createDatastoreCmd, importDatastoreCmd, provisionDatastoreCmd)
	rootCmd.AddCommand(metadataCmd, uploadCmd, datastoreCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
