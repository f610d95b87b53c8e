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
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianDocSearch/services/docprep/metadata"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	logLevel = "info"
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestMetadataCommand(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b-guide.pdf", "a_manual.PDF", "readme.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("%PDF"), 0600))
	}

	out, err := execute(t, "metadata", dir, "--gcs-base-uri", "gs://docs/manuals/", "--category", "Manual", "-o", "plain")
	require.NoError(t, err)
	manifest := filepath.Join(dir, metadata.ManifestName)
	assert.Equal(t, manifest+"\n", out)

	f, err := os.Open(manifest)
	require.NoError(t, err)
	defer f.Close()

	var records []metadata.Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec metadata.Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		records = append(records, rec)
	}
	require.Len(t, records, 2)
	assert.Equal(t, "A Manual", records[0].StructData.Title)
	assert.Equal(t, "Manual", records[0].StructData.Category)
	assert.Equal(t, "gs://docs/manuals/a_manual.PDF", records[0].Content.URI)
	assert.Equal(t, "B Guide", records[1].StructData.Title)
}

func TestMetadataCommand_Errors(t *testing.T) {
	_, err := execute(t, "metadata", filepath.Join(t.TempDir(), "missing"), "--gcs-base-uri", "gs://b", "-o", "plain")
	assert.ErrorContains(t, err, "does not exist")

	t.Setenv("GOOGLE_CLOUD_PROJECT", "")
	metadataFlags.project = ""
	_, err = execute(t, "metadata", t.TempDir(), "--gcs-base-uri", "gs://b", "--infer-ai-attributes", "-o", "plain")
	assert.ErrorContains(t, err, "--project is required")
	metadataFlags.inferAI = false
}

func TestUploadCommand_InvalidTarget(t *testing.T) {
	_, err := execute(t, "upload", t.TempDir(), "s3://bucket/prefix", "-o", "plain")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "gs://"))
}

func TestDatastoreCommand_RequiresID(t *testing.T) {
	_, err := execute(t, "datastore", "import", "--gcs-uri", "gs://b/metadata.jsonl", "-o", "plain")
	assert.ErrorContains(t, err, "data-store-id")
}

func TestLogLevelFlag(t *testing.T) {
	_, err := execute(t, "metadata", t.TempDir(), "--gcs-base-uri", "gs://b", "--log-level", "loud")
	assert.Error(t, err)
}
