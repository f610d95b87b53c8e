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

// Stage identifies a step of a search turn. Stages run in declaration
// order and none is skipped or repeated.
type Stage int

const (
	// StageSearch runs retrieval, the first generation and capture.
	StageSearch Stage = iota
	// StageFormat runs the citation formatting generation and restore.
	StageFormat
	// StageDone marks a finished turn.
	StageDone
)

// String implements fmt.Stringer.
func (s Stage) String() string {
	switch s {
	case StageSearch:
		return "search"
	case StageFormat:
		return "format"
	case StageDone:
		return "done"
	default:
		return "unknown"
	}
}
