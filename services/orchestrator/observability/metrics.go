// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope of CitationMetrics.
const MeterName = "aleutian.docsearch.pipeline"

// Turn outcomes recorded on docsearch_turns_total.
const (
	OutcomeAnswered     = "answered"
	OutcomeDegraded     = "degraded"
	OutcomeEmpty        = "empty"
	OutcomeSearchFailed = "search_failed"
	OutcomeCanceled     = "canceled"
)

// CitationMetrics holds the instruments of the citation pipeline.
//
// # Description
//
// Every Record method is safe on a nil receiver, so components built
// without metrics need no guards.
//
// # Thread Safety
//
// Safe for concurrent use after creation.
type CitationMetrics struct {
	// TurnsTotal counts turns by outcome.
	TurnsTotal metric.Int64Counter

	// StageDuration records how long each stage took, in seconds.
	StageDuration metric.Float64Histogram

	// TokensAssigned counts new mask tokens allocated by capture.
	TokensAssigned metric.Int64Counter

	// ChunksMasked counts provenance chunks whose locator was masked.
	ChunksMasked metric.Int64Counter

	// MarkersRestored counts [[uri_N]] markers rewritten by restore.
	MarkersRestored metric.Int64Counter

	// UnresolvedMarkers counts markers whose token was not in the table.
	UnresolvedMarkers metric.Int64Counter

	// StatePersistFailures counts failed writes of the mask table.
	StatePersistFailures metric.Int64Counter
}

// NewCitationMetrics registers the pipeline instruments with meter.
//
// # Inputs
//
//   - meter: OTel meter. Pass nil to use otel.Meter(MeterName).
//
// # Outputs
//
//   - *CitationMetrics: Ready to record.
//   - error: Instrument registration failed.
func NewCitationMetrics(meter metric.Meter) (*CitationMetrics, error) {
	if meter == nil {
		meter = otel.Meter(MeterName)
	}
	m := &CitationMetrics{}
	var err error

	m.TurnsTotal, err = meter.Int64Counter(
		"docsearch_turns_total",
		metric.WithDescription("Search turns by outcome"),
		metric.WithUnit("{turn}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create turns_total: %w", err)
	}

	m.StageDuration, err = meter.Float64Histogram(
		"docsearch_stage_duration_seconds",
		metric.WithDescription("Pipeline stage duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		return nil, fmt.Errorf("create stage_duration: %w", err)
	}

	m.TokensAssigned, err = meter.Int64Counter(
		"docsearch_mask_tokens_assigned_total",
		metric.WithDescription("Mask tokens newly assigned"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create mask_tokens_assigned_total: %w", err)
	}

	m.ChunksMasked, err = meter.Int64Counter(
		"docsearch_chunks_masked_total",
		metric.WithDescription("Provenance chunks masked"),
		metric.WithUnit("{chunk}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create chunks_masked_total: %w", err)
	}

	m.MarkersRestored, err = meter.Int64Counter(
		"docsearch_markers_restored_total",
		metric.WithDescription("Citation markers rewritten"),
		metric.WithUnit("{marker}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create markers_restored_total: %w", err)
	}

	m.UnresolvedMarkers, err = meter.Int64Counter(
		"docsearch_markers_unresolved_total",
		metric.WithDescription("Citation markers with no mask table entry"),
		metric.WithUnit("{marker}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create markers_unresolved_total: %w", err)
	}

	m.StatePersistFailures, err = meter.Int64Counter(
		"docsearch_state_persist_failures_total",
		metric.WithDescription("Failed writes of conversation state"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create state_persist_failures_total: %w", err)
	}

	return m, nil
}

// RecordTurn counts one finished turn.
func (m *CitationMetrics) RecordTurn(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.TurnsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordStage records the duration of one stage.
func (m *CitationMetrics) RecordStage(ctx context.Context, stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordCapture records the counters of one capture pass.
func (m *CitationMetrics) RecordCapture(ctx context.Context, masked, assigned int, persistFailed bool) {
	if m == nil {
		return
	}
	if masked > 0 {
		m.ChunksMasked.Add(ctx, int64(masked))
	}
	if assigned > 0 {
		m.TokensAssigned.Add(ctx, int64(assigned))
	}
	if persistFailed {
		m.StatePersistFailures.Add(ctx, 1)
	}
}

// RecordPersistFailure counts a failed conversation state save.
func (m *CitationMetrics) RecordPersistFailure(ctx context.Context) {
	if m == nil {
		return
	}
	m.StatePersistFailures.Add(ctx, 1)
}

// RecordRestore records the counters of one restore pass.
func (m *CitationMetrics) RecordRestore(ctx context.Context, markers, unresolved int) {
	if m == nil {
		return
	}
	if markers > 0 {
		m.MarkersRestored.Add(ctx, int64(markers))
	}
	if unresolved > 0 {
		m.UnresolvedMarkers.Add(ctx, int64(unresolved))
	}
}
