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
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianDocSearch/pkg/ux"
	"github.com/AleutianAI/AleutianDocSearch/services/docprep/metadata"
	"github.com/AleutianAI/AleutianDocSearch/services/llm"
)

var metadataFlags struct {
	gcsBaseURI  string
	category    string
	inferAI     bool
	project     string
	location    string
	model       string
	promptFile  string
	ratePerSec  float64
	concurrency int
}

func initMetadataFlags() {
	f := metadataCmd.Flags()
	f.StringVar(&metadataFlags.gcsBaseURI, "gcs-base-uri", "", "gs:// prefix the PDFs are uploaded to (required)")
	f.StringVar(&metadataFlags.category, "category", metadata.DefaultCategory, "category attribute for every document")
	f.BoolVar(&metadataFlags.inferAI, "infer-ai-attributes", false, "extract extra attributes with Gemini")
	f.StringVar(&metadataFlags.project, "project", os.Getenv("GOOGLE_CLOUD_PROJECT"), "Google Cloud project for inference")
	f.StringVar(&metadataFlags.location, "location", "us-central1", "Vertex AI region for inference")
	f.StringVar(&metadataFlags.model, "model", "gemini-2.5-flash", "Gemini model for inference")
	f.StringVar(&metadataFlags.promptFile, "prompt-file", "", "file with the extraction instruction")
	f.Float64Var(&metadataFlags.ratePerSec, "rate", 1, "maximum inference calls per second")
	f.IntVar(&metadataFlags.concurrency, "concurrency", 4, "maximum inference calls in flight")
	_ = metadataCmd.MarkFlagRequired("gcs-base-uri")
}

func runMetadata(cmd *cobra.Command, args []string) error {
	dir := args[0]
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return fmt.Errorf("directory %q does not exist", dir)
	}

	opts := metadata.Options{
		GCSBaseURI:  metadataFlags.gcsBaseURI,
		Category:    metadataFlags.category,
		RateLimit:   rate.Limit(metadataFlags.ratePerSec),
		Concurrency: metadataFlags.concurrency,
	}
	if metadataFlags.inferAI {
		if metadataFlags.project == "" {
			return errors.New("--project is required with --infer-ai-attributes")
		}
		generator, err := llm.NewVertexClient(cmd.Context(), llm.VertexConfig{
			Project:  metadataFlags.project,
			Location: metadataFlags.location,
			Model:    metadataFlags.model,
		})
		if err != nil {
			return err
		}
		prompt, err := metadata.LoadPrompt(metadataFlags.promptFile)
		if err != nil {
			return err
		}
		inferrer, err := metadata.NewGeneratorInferrer(generator, prompt)
		if err != nil {
			return err
		}
		opts.Inferrer = inferrer
	}

	var path string
	err := ux.WithSpinner(cmd.ErrOrStderr(), "Generating metadata", func() error {
		records, err := metadata.Generate(cmd.Context(), dir, opts)
		if err != nil {
			return err
		}
		path, err = metadata.WriteManifest(dir, records)
		return err
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}
