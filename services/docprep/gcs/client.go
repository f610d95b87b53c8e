// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gcs uploads prepared document folders to Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// ErrInvalidURI is returned by ParseURI for anything that is not gs://bucket[/prefix].
var ErrInvalidURI = errors.New("gcs: invalid URI, expected gs://bucket/prefix")

// Config configures a Client.
//
// # Fields
//
//   - Bucket: Target bucket. Required.
//   - CredentialsFile: Service account key. Empty uses Application Default
//     Credentials.
//   - Endpoint: Overrides the API endpoint, e.g. a local emulator. Implies
//     no authentication.
type Config struct {
	Bucket          string
	CredentialsFile string
	Endpoint        string
}

// Client uploads files into one bucket.
type Client struct {
	storageClient *storage.Client
	bucket        string
}

// NewClient creates a storage client for cfg.Bucket.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("gcs: bucket is required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); err != nil {
			return nil, fmt.Errorf("service account key not found at path: %s: %w", cfg.CredentialsFile, err)
		}
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	}

	storageClient, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return &Client{storageClient: storageClient, bucket: cfg.Bucket}, nil
}

// Bucket returns the target bucket name.
func (c *Client) Bucket() string {
	return c.bucket
}

// Close releases the storage client.
func (c *Client) Close() error {
	if c.storageClient == nil {
		return nil
	}
	return c.storageClient.Close()
}

// UploadFile copies localPath to gs://<bucket>/<object> and returns the
// object URI.
func (c *Client) UploadFile(ctx context.Context, localPath, object string) (string, error) {
	localFile, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open the local file: %s: %w", localPath, err)
	}
	defer localFile.Close()

	if c.storageClient == nil {
		return "", errors.New("gcs: client is not initialized")
	}
	writer := c.storageClient.Bucket(c.bucket).Object(object).NewWriter(ctx)
	writer.ContentType = ContentType(localPath)

	if _, err := io.Copy(writer, localFile); err != nil {
		_ = writer.Close()
		return "", fmt.Errorf("failed to copy local file %s to GCS object %s: %w", localPath, object, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close GCS writer for %s: %w", object, err)
	}

	uri := ObjectURI(c.bucket, object)
	slog.Info("Uploaded file", "local", localPath, "uri", uri)
	return uri, nil
}

// UploadDir uploads the documents and the manifest of localDir under
// prefix and returns their URIs in upload order. Only the top level of
// localDir is read.
func (c *Client) UploadDir(ctx context.Context, localDir, prefix string) ([]string, error) {
	names, err := Uploadable(localDir)
	if err != nil {
		return nil, err
	}
	uris := make([]string, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return uris, err
		}
		uri, err := c.UploadFile(ctx, filepath.Join(localDir, name), path.Join(prefix, name))
		if err != nil {
			return uris, err
		}
		uris = append(uris, uri)
	}
	return uris, nil
}

// Uploadable lists the files of dir UploadDir sends: every PDF, then the
// metadata.jsonl manifest when present.
func Uploadable(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read directory %s: %w", dir, err)
	}
	var pdfs []string
	manifest := false
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch name := e.Name(); {
		case strings.EqualFold(filepath.Ext(name), ".pdf"):
			pdfs = append(pdfs, name)
		case name == "metadata.jsonl":
			manifest = true
		}
	}
	sort.Strings(pdfs)
	if manifest {
		pdfs = append(pdfs, "metadata.jsonl")
	}
	return pdfs, nil
}

// ContentType picks the object content type from the file extension.
func ContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return "application/pdf"
	case ".jsonl", ".ndjson":
		return "application/x-ndjson"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

// ParseURI splits gs://bucket/prefix. The prefix has no leading or
// trailing slash and may be empty.
func ParseURI(uri string) (bucket, prefix string, err error) {
	rest, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return "", "", ErrInvalidURI
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", ErrInvalidURI
	}
	return bucket, strings.Trim(prefix, "/"), nil
}

// ObjectURI formats gs://bucket/object.
func ObjectURI(bucket, object string) string {
	return "gs://" + bucket + "/" + strings.TrimPrefix(object, "/")
}
