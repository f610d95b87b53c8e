// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retrieval runs the first, grounded stage of a search turn: find
// the documents relevant to a query and answer from them.
//
// # Description
//
// A Searcher returns a GenerationResult whose provenance list carries the
// real locators of the documents it used. VertexSearcher delegates both
// retrieval and answering to Gemini with a Vertex AI Search tool;
// WeaviateSearcher retrieves from a Weaviate Document class and answers
// with any llm.Generator.
package retrieval

import (
	"context"

	"github.com/AleutianAI/AleutianDocSearch/services/llm"
	"github.com/AleutianAI/AleutianDocSearch/services/orchestrator/conversation"
	"github.com/AleutianAI/AleutianDocSearch/services/orchestrator/datatypes"
)

// SearchInput is the input of one search call.
type SearchInput struct {
	// Query is the user's question for this turn.
	Query string

	// History holds prior turns of the conversation, oldest first.
	History []conversation.Turn
}

// Searcher runs retrieval plus the first generation.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Searcher interface {
	// Search answers the query from the document collection.
	//
	// # Outputs
	//
	//   - *datatypes.GenerationResult: Never nil when error is nil. The
	//     provenance list may be empty when nothing relevant was found.
	//   - error: Retrieval or generation failure.
	Search(ctx context.Context, in *SearchInput) (*datatypes.GenerationResult, error)
}

// historyMessages replays prior turns as alternating user/assistant
// messages and appends the current query.
func historyMessages(history []conversation.Turn, query string) []llm.Message {
	messages := make([]llm.Message, 0, 2*len(history)+1)
	for _, turn := range history {
		messages = append(messages,
			llm.Message{Role: llm.RoleUser, Content: turn.Question},
			llm.Message{Role: llm.RoleAssistant, Content: turn.Answer},
		)
	}
	return append(messages, llm.Message{Role: llm.RoleUser, Content: query})
}
