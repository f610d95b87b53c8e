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
	"errors"
	"testing"

	"github.com/AleutianAI/AleutianDocSearch/services/orchestrator/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func groundedResult(text string, uris ...string) *datatypes.GenerationResult {
	result := datatypes.NewTextResult(text)
	result.Grounding = &datatypes.GroundingMetadata{}
	for _, uri := range uris {
		result.Grounding.Chunks = append(result.Grounding.Chunks, datatypes.GroundingChunk{
			RetrievedContext: &datatypes.RetrievedContext{URI: uri, Title: "t"},
		})
	}
	return result
}

func chunkURIs(result *datatypes.GenerationResult) []string {
	out := make([]string, 0, len(result.Grounding.Chunks))
	for _, c := range result.Grounding.Chunks {
		out = append(out, c.Locator())
	}
	return out
}

func TestCapture_MasksInOrder(t *testing.T) {
	scope := newMapScope()
	result := groundedResult("answer", "gs://b/a.pdf", "gs://b/b.pdf")

	report := Capture(scope, result)

	assert.Equal(t, []string{"uri_1", "uri_2"}, chunkURIs(result))
	assert.Equal(t, 2, report.Chunks)
	assert.Equal(t, 2, report.Masked)
	assert.Equal(t, 2, report.Assigned)
	assert.Equal(t, 2, report.TableSize)
	assert.NoError(t, report.PersistErr)
	assert.JSONEq(t, `{"uri_1":"gs://b/a.pdf","uri_2":"gs://b/b.pdf"}`, string(scope.values[StateKey]))
}

func TestCapture_DuplicateLocatorsShareToken(t *testing.T) {
	scope := newMapScope()
	result := groundedResult("answer", "gs://b/a.pdf", "gs://b/a.pdf")

	report := Capture(scope, result)

	assert.Equal(t, []string{"uri_1", "uri_1"}, chunkURIs(result))
	assert.Equal(t, 1, report.Assigned)
	assert.JSONEq(t, `{"uri_1":"gs://b/a.pdf"}`, string(scope.values[StateKey]))
}

func TestCapture_ContinuesExistingTable(t *testing.T) {
	scope := newMapScope()
	Capture(scope, groundedResult("turn 1", "gs://b/a.pdf"))

	result := groundedResult("turn 2", "gs://b/c.pdf", "gs://b/a.pdf")
	report := Capture(scope, result)

	assert.Equal(t, []string{"uri_2", "uri_1"}, chunkURIs(result))
	assert.Equal(t, 1, report.Assigned)
	assert.JSONEq(t, `{"uri_1":"gs://b/a.pdf","uri_2":"gs://b/c.pdf"}`, string(scope.values[StateKey]))
}

func TestCapture_Idempotent(t *testing.T) {
	scope := newMapScope()
	Capture(scope, groundedResult("x", "gs://b/a.pdf", "gs://b/b.pdf"))
	before := string(scope.values[StateKey])

	result := groundedResult("x", "gs://b/a.pdf", "gs://b/b.pdf")
	report := Capture(scope, result)

	assert.Equal(t, 0, report.Assigned)
	assert.Equal(t, []string{"uri_1", "uri_2"}, chunkURIs(result))
	assert.JSONEq(t, before, string(scope.values[StateKey]))
}

func TestCapture_NoGroundingIsNoop(t *testing.T) {
	scope := newMapScope()

	report := Capture(scope, datatypes.NewTextResult("no sources"))
	assert.Equal(t, CaptureReport{}, report)

	report = Capture(scope, groundedResult("empty list"))
	assert.Equal(t, CaptureReport{}, report)

	report = Capture(scope, nil)
	assert.Equal(t, CaptureReport{}, report)

	assert.Zero(t, scope.setCalls, "state must not be written")
	_, ok := scope.values[StateKey]
	assert.False(t, ok)
}

func TestCapture_SkipsChunksWithoutLocator(t *testing.T) {
	scope := newMapScope()
	result := groundedResult("answer", "gs://b/a.pdf")
	result.Grounding.Chunks = append(result.Grounding.Chunks,
		datatypes.GroundingChunk{},
		datatypes.GroundingChunk{RetrievedContext: &datatypes.RetrievedContext{Title: "no uri"}},
	)

	report := Capture(scope, result)

	assert.Equal(t, 3, report.Chunks)
	assert.Equal(t, 1, report.Masked)
	assert.Nil(t, result.Grounding.Chunks[1].RetrievedContext)
	assert.Equal(t, "", result.Grounding.Chunks[2].RetrievedContext.URI)
	assert.Equal(t, "no uri", result.Grounding.Chunks[2].RetrievedContext.Title)
}

func TestCapture_PersistFailureStillMasks(t *testing.T) {
	scope := newMapScope()
	scope.setErr = errors.New("disk full")
	result := groundedResult("answer", "gs://b/a.pdf")

	report := Capture(scope, result)

	require.Error(t, report.PersistErr)
	assert.Equal(t, []string{"uri_1"}, chunkURIs(result))
}

func TestCapture_LeavesTextUntouched(t *testing.T) {
	scope := newMapScope()
	result := groundedResult("see gs://b/a.pdf", "gs://b/a.pdf")

	Capture(scope, result)

	assert.Equal(t, "see gs://b/a.pdf", result.Text())
}
