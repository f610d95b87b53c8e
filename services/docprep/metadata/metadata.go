// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package metadata builds the NDJSON document manifest that a Vertex AI
// Search data store imports.
//
// One Record is produced per PDF in a folder. The record id is derived from
// the filename so re-running the scan over the same folder yields the same
// ids, which lets an INCREMENTAL import update documents in place.
package metadata

import (
	"bufio"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	// ManifestName is the file Generate writes next to the PDFs.
	ManifestName = "metadata.jsonl"

	// DefaultCategory is used when Options.Category is empty.
	DefaultCategory = "Technical Report"

	pdfMIMEType = "application/pdf"
)

// ErrNoBaseURI is returned when Options.GCSBaseURI is empty.
var ErrNoBaseURI = errors.New("metadata: GCS base URI is required")

// Record is one line of the manifest, in the shape the data store import
// API expects for dataSchema=document.
type Record struct {
	ID         string     `json:"id"`
	StructData StructData `json:"structData"`
	Content    Content    `json:"content"`
}

// StructData holds the searchable attributes of a document.
type StructData struct {
	Title                string         `json:"title"`
	Filename             string         `json:"filename"`
	Category             string         `json:"category"`
	FileSize             int64          `json:"file_size"`
	UploadDate           string         `json:"upload_date"`
	SourceLocalPath      string         `json:"source_local_path"`
	GCSURI               string         `json:"gcs_uri"`
	AIInferredAttributes map[string]any `json:"ai_inferred_attributes,omitempty"`
}

// Content points the data store at the document body.
type Content struct {
	MimeType string `json:"mimeType"`
	URI      string `json:"uri"`
}

// Options configures Generate.
//
// # Fields
//
//   - GCSBaseURI: gs://bucket/prefix the PDFs are (or will be) uploaded to.
//     Required. A trailing slash is ignored.
//   - Category: Category attribute for every record. Default: "Technical Report".
//   - Inferrer: When non-nil each PDF is also sent to it for attribute
//     extraction. Failures are logged and the record is kept without them.
//   - RateLimit: Maximum inference calls per second. Default: 1.
//   - Concurrency: Maximum inference calls in flight. Default: 4.
//   - Now: Clock for upload_date. Default: time.Now.
type Options struct {
	GCSBaseURI  string
	Category    string
	Inferrer    Inferrer
	RateLimit   rate.Limit
	Concurrency int
	Now         func() time.Time
}

func (o Options) withDefaults() Options {
	o.GCSBaseURI = strings.TrimRight(o.GCSBaseURI, "/")
	if o.Category == "" {
		o.Category = DefaultCategory
	}
	if o.RateLimit <= 0 {
		o.RateLimit = 1
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// DocID returns the hex MD5 of filename. It is an identifier, not a
// security boundary.
func DocID(filename string) string {
	sum := md5.Sum([]byte(filename))
	return hex.EncodeToString(sum[:])
}

// CleanTitle turns a filename into a display title.
//
// # Description
//
// Drops the extension, turns '-' and '_' into spaces, collapses whitespace
// and title-cases the result: a letter is upper-cased when the character
// before it is not a letter, and lower-cased otherwise.
//
// # Examples
//
//	CleanTitle("some-report-v.2.0.pdf") // "Some Report V.2.0"
//	CleanTitle("ANNUAL__summary.PDF")   // "Annual Summary"
func CleanTitle(filename string) string {
	name := strings.TrimSuffix(filename, filepath.Ext(filename))
	name = strings.NewReplacer("-", " ", "_", " ").Replace(name)
	name = strings.Join(strings.Fields(name), " ")

	var b strings.Builder
	b.Grow(len(name))
	prevLetter := false
	for _, r := range name {
		if unicode.IsLetter(r) {
			if prevLetter {
				b.WriteRune(unicode.ToLower(r))
			} else {
				b.WriteRune(unicode.ToTitle(r))
			}
			prevLetter = true
			continue
		}
		b.WriteRune(r)
		prevLetter = false
	}
	return b.String()
}

// ScanPDFs lists the PDF files directly inside dir, sorted by name. The
// extension match is case-insensitive; subdirectories are not visited.
func ScanPDFs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read directory %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)
	return files, nil
}

// Generate builds one Record per PDF in dir, in filename order.
//
// # Description
//
// Basic attributes come from the filesystem. When opts.Inferrer is set the
// PDFs are sent for attribute inference through a shared rate limiter with
// at most opts.Concurrency calls in flight. Inference failures never fail
// the scan.
//
// # Inputs
//
//   - ctx: Cancels inference. A cancelled context aborts the scan.
//   - dir: Folder holding the PDFs.
//   - opts: See Options.
//
// # Outputs
//
//   - []Record: In the same order as ScanPDFs.
//   - error: Directory unreadable, a PDF vanished mid-scan, missing base
//     URI, or ctx cancelled.
func Generate(ctx context.Context, dir string, opts Options) ([]Record, error) {
	if opts.GCSBaseURI == "" {
		return nil, ErrNoBaseURI
	}
	opts = opts.withDefaults()

	files, err := ScanPDFs(dir)
	if err != nil {
		return nil, err
	}
	slog.Info("Found PDF files", "count", len(files), "dir", dir)

	records := make([]Record, len(files))
	for i, name := range files {
		rec, err := basicRecord(dir, name, opts)
		if err != nil {
			return nil, err
		}
		records[i] = rec
	}

	if opts.Inferrer == nil {
		return records, nil
	}

	limiter := rate.NewLimiter(opts.RateLimit, 1)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i := range records {
		rec := &records[i]
		g.Go(func() error {
			if err := limiter.Wait(gctx); err != nil {
				return err
			}
			attrs, err := inferFile(gctx, opts.Inferrer, rec.StructData.SourceLocalPath)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				slog.Error("AI inference failed, keeping basic metadata",
					"file", rec.StructData.Filename,
					"error", err,
				)
				return nil
			}
			if len(attrs) > 0 {
				rec.StructData.AIInferredAttributes = attrs
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("attribute inference: %w", err)
	}
	return records, nil
}

func basicRecord(dir, name string, opts Options) (Record, error) {
	path := filepath.Join(dir, name)
	info, err := os.Stat(path)
	if err != nil {
		return Record{}, fmt.Errorf("stat %s: %w", path, err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	uri := opts.GCSBaseURI + "/" + name
	return Record{
		ID: DocID(name),
		StructData: StructData{
			Title:           CleanTitle(name),
			Filename:        name,
			Category:        opts.Category,
			FileSize:        info.Size(),
			UploadDate:      opts.Now().Format(time.RFC3339),
			SourceLocalPath: abs,
			GCSURI:          uri,
		},
		Content: Content{MimeType: pdfMIMEType, URI: uri},
	}, nil
}

// WriteNDJSON writes one JSON object per line.
func WriteNDJSON(w io.Writer, records []Record) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	for i := range records {
		if err := enc.Encode(&records[i]); err != nil {
			return fmt.Errorf("encode record %s: %w", records[i].ID, err)
		}
	}
	return bw.Flush()
}

// WriteManifest writes records to dir/metadata.jsonl and returns its path.
// The file is replaced atomically so a failed run never leaves half a
// manifest behind.
func WriteManifest(dir string, records []Record) (string, error) {
	tmp, err := os.CreateTemp(dir, ManifestName+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create manifest: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := WriteNDJSON(tmp, records); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close manifest: %w", err)
	}
	path := filepath.Join(dir, ManifestName)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("rename manifest: %w", err)
	}
	slog.Info("Metadata manifest written", "path", path, "records", len(records))
	return path, nil
}
