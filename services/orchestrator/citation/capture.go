// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package citation

import (
	"log/slog"

	"github.com/AleutianAI/AleutianDocSearch/services/orchestrator/datatypes"
)

// CaptureReport summarises one capture pass.
type CaptureReport struct {
	// Chunks is the number of provenance chunks inspected.
	Chunks int
	// Masked is the number of chunks whose locator was replaced by a token.
	Masked int
	// Assigned is the number of new tokens added to the table.
	Assigned int
	// TableSize is the table length after the pass.
	TableSize int
	// PersistErr is set when writing the table back to the scope failed.
	// The result is still masked.
	PersistErr error
}

// Capture masks every source locator in result's provenance list.
//
// # Description
//
// Walks result.Grounding.Chunks in order. For each chunk with a non-empty
// locator it looks up or assigns a token in the conversation's MaskTable
// and overwrites the locator with that token. The updated table is written
// back to scope so the restore stage of the same turn can read it.
//
// Masking is destructive: after Capture the original locators are only
// recoverable through the table.
//
// # Inputs
//
//   - scope: Conversation state. The table is created on first use.
//   - result: First-stage generation result. Mutated in place.
//
// # Outputs
//
//   - CaptureReport: Counters for tracing and metrics.
//
// # Limitations
//
//   - A result without provenance is a no-op: nothing is read or written.
//
// # Examples
//
//	report := citation.Capture(state, searchResult)
//	// searchResult.Grounding.Chunks[i].RetrievedContext.URI == "uri_1"
func Capture(scope Scope, result *datatypes.GenerationResult) CaptureReport {
	var report CaptureReport
	if !result.HasGrounding() {
		return report
	}

	table, _ := LoadMaskTable(scope)
	for i := range result.Grounding.Chunks {
		report.Chunks++
		ctx := result.Grounding.Chunks[i].RetrievedContext
		if ctx == nil || ctx.URI == "" {
			continue
		}
		token, assigned := table.GetOrAssign(ctx.URI)
		if assigned {
			report.Assigned++
		}
		ctx.URI = token
		report.Masked++
	}
	report.TableSize = table.Len()

	if err := SaveMaskTable(scope, table); err != nil {
		slog.Warn("Failed to persist mask table to conversation state",
			"entries", table.Len(),
			"error", err,
		)
		report.PersistErr = err
	}
	return report
}
