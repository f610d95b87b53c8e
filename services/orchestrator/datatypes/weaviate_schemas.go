// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// DocumentClass is the Weaviate class holding searchable document chunks.
const DocumentClass = "Document"

// DefaultVectorizer is the Weaviate module used to embed chunk content so
// nearText queries work without a separate embedding service.
const DefaultVectorizer = "text2vec-transformers"

// GetDocumentSchema returns the Document class definition.
//
// # Description
//
// One object per chunk of a source document. "source" holds the document's
// locator (gs://bucket/manual.pdf) and is what the citation stages mask;
// it is field-tokenized so it can be filtered on exactly.
//
// # Inputs
//
//   - vectorizer: Weaviate vectorizer module. Empty uses DefaultVectorizer.
func GetDocumentSchema(vectorizer string) *models.Class {
	if vectorizer == "" {
		vectorizer = DefaultVectorizer
	}
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       DocumentClass,
		Description: "A chunk of a searchable document and the locator of its source.",
		Vectorizer:  vectorizer,
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexNullState:  true,
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{
				Name:         "content",
				DataType:     []string{"text"},
				Description:  "The chunk text.",
				Tokenization: "word",
			},
			{
				Name:            "source",
				DataType:        []string{"text"},
				Description:     "Locator of the source document, e.g. gs://bucket/manual.pdf.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "title",
				DataType:     []string{"text"},
				Description:  "Human-readable document title.",
				Tokenization: "word",
			},
			{
				Name:            "category",
				DataType:        []string{"text"},
				Description:     "Document category, e.g. 'Technical Report'.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "page",
				DataType:        []string{"int"},
				Description:     "Page of the source document the chunk starts on.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

// EnsureDocumentSchema creates the Document class if it does not exist.
func EnsureDocumentSchema(ctx context.Context, client *weaviate.Client, vectorizer string) error {
	class := GetDocumentSchema(vectorizer)
	slog.Info("Checking schema", "class", class.Class)

	// ClassGetter errors when the class is missing.
	if _, err := client.Schema().ClassGetter().WithClassName(class.Class).Do(ctx); err == nil {
		slog.Info("Schema already exists", "class", class.Class)
		return nil
	}

	slog.Info("Schema not found, creating it", "class", class.Class)
	if err := client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("create schema %s: %w", class.Class, err)
	}
	slog.Info("Successfully created schema", "class", class.Class)
	return nil
}
