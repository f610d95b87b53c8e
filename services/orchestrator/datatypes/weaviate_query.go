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
	"encoding/json"
	"fmt"

	"github.com/weaviate/weaviate/entities/models"
)

// ParseGraphQLResponse converts Weaviate's dynamic GraphQL response into T.
//
// # Description
//
// Weaviate returns map[string]models.JSONObject; marshalling that back to
// JSON and decoding into a tagged struct is the simplest way to get typed
// results. T must mirror the response shape.
//
// # Example
//
//	resp, err := client.GraphQL().Get().WithClassName("Document").Do(ctx)
//	parsed, err := ParseGraphQLResponse[DocumentQueryResponse](resp)
//	for _, d := range parsed.Get.Document { ... }
//
// # Limitations
//
//   - Type mismatches decode to zero values, not errors.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %s", resp.Errors[0].Message)
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}
	return &result, nil
}

// DocumentQueryResponse is the response of a Get query on the Document class.
type DocumentQueryResponse struct {
	Get struct {
		Document []DocumentResult `json:"Document"`
	} `json:"Get"`
}

// DocumentResult is one Document chunk returned by a query.
type DocumentResult struct {
	Content    string `json:"content"`
	Source     string `json:"source"`
	Title      string `json:"title"`
	Category   string `json:"category"`
	Page       *int   `json:"page"`
	Additional struct {
		ID       string   `json:"id"`
		Distance *float32 `json:"distance"`
	} `json:"_additional"`
}
