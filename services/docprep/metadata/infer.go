// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/AleutianDocSearch/services/llm"
	"github.com/AleutianAI/AleutianDocSearch/services/orchestrator/datatypes"
)

// DefaultPrompt is used when no prompt file is configured.
const DefaultPrompt = "Extract metadata from this document as JSON."

// Inferrer extracts structured attributes from a PDF.
type Inferrer interface {
	InferAttributes(ctx context.Context, name string, pdf []byte) (map[string]any, error)
}

// GeneratorInferrer asks an llm.Generator for a JSON object describing
// the document.
type GeneratorInferrer struct {
	generator llm.Generator
	prompt    string
}

// NewGeneratorInferrer returns an Inferrer backed by generator. An empty
// prompt falls back to DefaultPrompt.
func NewGeneratorInferrer(generator llm.Generator, prompt string) (*GeneratorInferrer, error) {
	if generator == nil {
		return nil, errors.New("metadata: generator is required")
	}
	if strings.TrimSpace(prompt) == "" {
		prompt = DefaultPrompt
	}
	return &GeneratorInferrer{generator: generator, prompt: prompt}, nil
}

// LoadPrompt reads a prompt file. A missing file is not an error: it logs
// a warning and returns DefaultPrompt.
func LoadPrompt(path string) (string, error) {
	if path == "" {
		return DefaultPrompt, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Warn("Prompt file not found, using default prompt", "path", path)
		return DefaultPrompt, nil
	}
	if err != nil {
		return "", fmt.Errorf("read prompt file: %w", err)
	}
	return string(data), nil
}

// InferAttributes implements Inferrer. An empty model answer yields nil
// attributes and no error.
func (g *GeneratorInferrer) InferAttributes(ctx context.Context, name string, pdf []byte) (map[string]any, error) {
	slog.Info("AI processing document", "file", name, "model", g.generator.Model())
	result, err := g.generator.Generate(ctx, &llm.GenerateRequest{
		SystemInstruction: g.prompt,
		Attachments:       []datatypes.Blob{{MimeType: pdfMIMEType, Data: pdf}},
		ResponseMIMEType:  "application/json",
	})
	if err != nil {
		return nil, err
	}
	text := strings.TrimSpace(result.Text())
	if text == "" {
		return nil, nil
	}
	var attrs map[string]any
	if err := json.Unmarshal([]byte(text), &attrs); err != nil {
		return nil, fmt.Errorf("model answer is not a JSON object: %w", err)
	}
	return attrs, nil
}

func inferFile(ctx context.Context, inferrer Inferrer, path string) (map[string]any, error) {
	pdf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return inferrer.InferAttributes(ctx, filepath.Base(path), pdf)
}

var _ Inferrer = (*GeneratorInferrer)(nil)
