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
	"regexp"

	"github.com/AleutianAI/AleutianDocSearch/services/orchestrator/datatypes"
)

// markerPattern is the wire format between the formatting step and Restore.
var markerPattern = regexp.MustCompile(`\[\[(uri_\d+)\]\]`)

// RestoreReport summarises one restore pass.
type RestoreReport struct {
	// Applied is false when the stage short-circuited on an empty table.
	Applied bool
	// Markers is the number of [[uri_N]] markers rewritten.
	Markers int
	// Unresolved counts markers whose token was not in the table.
	Unresolved int
}

// Restore rewrites [[uri_N]] markers in every text part of result into
// [<locator>] using the conversation's MaskTable.
//
// # Description
//
// Read-only with respect to scope. When the conversation has no table, or
// the table is empty, the text passes through untouched. Non-text parts are
// never inspected.
//
// # Inputs
//
//   - scope: Conversation state populated by Capture earlier in the turn.
//   - result: Second-stage generation result. Mutated in place.
//
// # Outputs
//
//   - RestoreReport: Counters for tracing and metrics.
func Restore(scope Scope, result *datatypes.GenerationResult) RestoreReport {
	var report RestoreReport
	if result == nil {
		return report
	}
	table, found := LoadMaskTable(scope)
	if !found || table.Len() == 0 {
		return report
	}

	report.Applied = true
	for i := range result.Parts {
		if !result.Parts[i].IsText() {
			continue
		}
		text, partReport := RestoreText(table, result.Parts[i].Text)
		result.Parts[i].Text = text
		report.Markers += partReport.Markers
		report.Unresolved += partReport.Unresolved
	}
	return report
}

// RestoreText rewrites the markers in a single string.
//
// # Description
//
// Matches are found left to right and never overlap. Only the exact
// [[uri_<digits>]] form matches; extra brackets around it stay as ordinary
// text, so "[[[uri_1]]]" becomes "[[gs://b/a.pdf]]". A token missing from
// the table is emitted as "[uri_N]".
//
// # Examples
//
//	text, _ := RestoreText(table, "Fact one[[uri_1]].")
//	// "Fact one[gs://b/a.pdf]."
func RestoreText(table *MaskTable, text string) (string, RestoreReport) {
	report := RestoreReport{Applied: true}
	out := markerPattern.ReplaceAllStringFunc(text, func(marker string) string {
		token := marker[2 : len(marker)-2]
		report.Markers++
		locator, ok := table.Lookup(token)
		if !ok {
			report.Unresolved++
			locator = token
		}
		return "[" + locator + "]"
	})
	return out, report
}

// Markers returns the tokens referenced by [[uri_N]] markers in text, in
// order of appearance, duplicates included.
func Markers(text string) []string {
	matches := markerPattern.FindAllStringSubmatch(text, -1)
	tokens := make([]string, 0, len(matches))
	for _, m := range matches {
		tokens = append(tokens, m[1])
	}
	return tokens
}
