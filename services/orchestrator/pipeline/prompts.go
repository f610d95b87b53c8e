// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianDocSearch/services/orchestrator/datatypes"
)

// FormatInstruction is the default system instruction of the formatting
// stage. It fixes the [[uri_N]] marker contract the restore stage parses.
const FormatInstruction = `Role:
- You rewrite a draft answer so that every factual statement carries a citation to the source that supports it.
- You receive the user's question, the draft answer and a list of sources. Each source is identified by a token such as uri_1.

Citation format:
- Cite a source by writing its token inside double square brackets, for example [[uri_1]].
- Place the citation directly after the sentence or clause it supports.
- When several sources support the same statement, list them one after another: [[uri_1]] [[uri_2]].
- Use only the tokens listed under Sources. Never invent a token and never write a URL or file path.

Content:
- Keep the meaning of the draft answer. Do not add facts that are not in the draft or the sources.
- Statements that no source supports stay uncited.
- Use short paragraphs or bullet points when they make the answer easier to read.`

// buildFormatPrompt renders the formatting stage's prompt. Only masked
// chunks are listed, so the model never sees a real locator.
func buildFormatPrompt(query, draft string, grounding *datatypes.GroundingMetadata, snippetChars int) string {
	var sb strings.Builder
	sb.WriteString("Question:\n")
	sb.WriteString(query)
	sb.WriteString("\n\nDraft answer:\n")
	sb.WriteString(draft)
	sb.WriteString("\n\nSources:\n")

	listed := 0
	seen := make(map[string]bool)
	if grounding != nil {
		for _, chunk := range grounding.Chunks {
			rc := chunk.RetrievedContext
			if rc == nil || rc.URI == "" || seen[rc.URI] {
				continue
			}
			seen[rc.URI] = true
			listed++
			fmt.Fprintf(&sb, "[%s]", rc.URI)
			if rc.Title != "" {
				sb.WriteString(" ")
				sb.WriteString(rc.Title)
			}
			sb.WriteString("\n")
			if snippet := clip(strings.TrimSpace(rc.Text), snippetChars); snippet != "" {
				sb.WriteString(snippet)
				sb.WriteString("\n")
			}
			sb.WriteString("\n")
		}
	}
	if listed == 0 {
		sb.WriteString("(none)\n")
	}
	return sb.String()
}

// clip truncates s to at most n runes.
func clip(s string, n int) string {
	if n <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
