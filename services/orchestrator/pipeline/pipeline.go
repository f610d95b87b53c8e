// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline runs one search turn end to end.
//
// # Description
//
// A turn has two stages that always run in this order:
//
//  1. Search: a retrieval.Searcher answers the query from the documents.
//     citation.Capture then replaces every source locator in the result's
//     provenance with an opaque uri_N token.
//  2. Format: an llm.Generator rewrites the draft answer with [[uri_N]]
//     markers, seeing only the masked sources. citation.Restore turns the
//     markers back into [<locator>].
//
// Both stages share the conversation's State. Turns of the same
// conversation are serialised, so the mask table written by one turn's
// capture is the one its restore reads.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianDocSearch/services/llm"
	"github.com/AleutianAI/AleutianDocSearch/services/orchestrator/citation"
	"github.com/AleutianAI/AleutianDocSearch/services/orchestrator/conversation"
	"github.com/AleutianAI/AleutianDocSearch/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianDocSearch/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianDocSearch/services/orchestrator/retrieval"
)

var tracer = otel.Tracer("aleutian.docsearch.pipeline")

var (
	// ErrSearchFailed wraps every failure of the search stage. No
	// conversation state is modified when it is returned.
	ErrSearchFailed = errors.New("search stage failed")

	// ErrEmptyQuery is returned for a blank query.
	ErrEmptyQuery = errors.New("query is empty")

	// ErrNoSession is returned when a turn is run without a conversation id.
	ErrNoSession = errors.New("session id is required")
)

// Config tunes a Pipeline. Zero values take the defaults noted per field.
type Config struct {
	// FormatInstruction overrides FormatInstruction.
	FormatInstruction string `yaml:"format_instruction"`

	// HistoryTurns is how many prior turns the search stage sees. Default 5.
	HistoryTurns int `yaml:"history_turns" validate:"omitempty,min=0,max=50"`

	// SnippetChars bounds each source excerpt in the format prompt.
	// Default 500.
	SnippetChars int `yaml:"snippet_chars" validate:"omitempty,min=0"`
}

func applyDefaults(cfg Config) Config {
	if cfg.FormatInstruction == "" {
		cfg.FormatInstruction = FormatInstruction
	}
	if cfg.HistoryTurns == 0 {
		cfg.HistoryTurns = 5
	}
	if cfg.SnippetChars == 0 {
		cfg.SnippetChars = 500
	}
	return cfg
}

// Result is the outcome of one turn.
type Result struct {
	SessionID string
	Turn      conversation.Turn
	Answer    string
	Sources   []datatypes.Source
	// Degraded is true when the format stage failed and Answer is the
	// first-stage text without citations.
	Degraded bool
}

// Pipeline wires the two stages to a conversation store.
//
// # Thread Safety
//
// Safe for concurrent use. Turns of one conversation run one at a time.
type Pipeline struct {
	searcher  retrieval.Searcher
	formatter llm.Generator
	store     conversation.Store
	locker    *conversation.TurnLocker
	metrics   *observability.CitationMetrics
	cfg       Config
}

// New builds a Pipeline.
//
// # Inputs
//
//   - searcher: First stage. Required.
//   - formatter: Second stage generator. Required.
//   - store: Conversation state store. Required.
//   - metrics: Optional; nil disables metrics.
//   - cfg: Tuning, defaults applied.
func New(searcher retrieval.Searcher, formatter llm.Generator, store conversation.Store, metrics *observability.CitationMetrics, cfg Config) (*Pipeline, error) {
	if searcher == nil {
		return nil, errors.New("pipeline: searcher is required")
	}
	if formatter == nil {
		return nil, errors.New("pipeline: formatter is required")
	}
	if store == nil {
		return nil, errors.New("pipeline: conversation store is required")
	}
	return &Pipeline{
		searcher:  searcher,
		formatter: formatter,
		store:     store,
		locker:    conversation.NewTurnLocker(),
		metrics:   metrics,
		cfg:       applyDefaults(cfg),
	}, nil
}

// Run executes one turn of the conversation sessionID.
//
// # Description
//
// Holds the conversation's turn lock from loading the state until the turn
// is saved. Waiting for the lock ends with ctx. The stages never reorder:
//
//   - A search failure returns ErrSearchFailed before any state change.
//   - A search result without provenance is not an error; capture is a
//     no-op and the format stage sees no sources.
//   - A search result without text ends the turn with an empty answer and
//     the format stage is not run.
//   - A format failure, or a format result without text, is never passed
//     to restore. The turn answers with the first-stage text and is marked
//     Degraded.
//
// The mask table is saved right after capture, so an abort during the
// format stage keeps the new entries. They are harmless: later turns
// reuse them for the same locators.
//
// # Inputs
//
//   - ctx: Cancels the external calls. A cancelled turn returns ctx's error.
//   - sessionID: Conversation id. Required.
//   - query: The user's question.
//
// # Outputs
//
//   - *Result: The answer and its sources.
//   - error: ErrEmptyQuery, ErrNoSession, ErrSearchFailed, a context error,
//     or a store load failure.
func (p *Pipeline) Run(ctx context.Context, sessionID, query string) (*Result, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrNoSession
	}
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	ctx, span := tracer.Start(ctx, "pipeline.Run",
		trace.WithAttributes(attribute.String("session.id", sessionID)),
	)
	defer span.End()

	unlock, err := p.locker.Lock(ctx, sessionID)
	if err != nil {
		p.metrics.RecordTurn(ctx, failureOutcome(ctx))
		span.RecordError(err)
		span.SetStatus(codes.Error, "wait for turn lock")
		slog.Warn("Gave up waiting for a running turn", "session_id", sessionID, "error", err)
		return nil, fmt.Errorf("wait for conversation %s: %w", sessionID, err)
	}
	defer unlock()

	state, err := conversation.LoadOrNew(ctx, p.store, sessionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load conversation")
		return nil, fmt.Errorf("load conversation %s: %w", sessionID, err)
	}

	// --- SEARCH ---
	searchResult, capture, err := p.runSearch(ctx, state, query)
	if err != nil {
		p.metrics.RecordTurn(ctx, failureOutcome(ctx))
		span.RecordError(err)
		span.SetStatus(codes.Error, "search")
		return nil, err
	}
	p.persist(ctx, state, "capture")

	draft := searchResult.Text()
	table, _ := citation.LoadMaskTable(state)
	result := &Result{
		SessionID: sessionID,
		Sources:   sourcesFor(searchResult.Grounding, table),
	}

	outcome := observability.OutcomeAnswered
	if strings.TrimSpace(draft) == "" {
		slog.Info("Search stage returned no text, skipping format stage",
			"session_id", sessionID,
			"chunks", capture.Chunks,
		)
		outcome = observability.OutcomeEmpty
	} else {
		// --- FORMAT ---
		answer, degraded, err := p.runFormat(ctx, state, query, draft, searchResult.Grounding)
		if err != nil {
			p.metrics.RecordTurn(ctx, observability.OutcomeCanceled)
			span.RecordError(err)
			span.SetStatus(codes.Error, "format")
			return nil, err
		}
		result.Answer = answer
		result.Degraded = degraded
		if degraded {
			outcome = observability.OutcomeDegraded
		}
	}

	result.Turn = state.AppendTurn(query, result.Answer, result.Degraded)
	p.persist(ctx, state, "turn")
	p.metrics.RecordTurn(ctx, outcome)

	span.SetAttributes(
		attribute.Int("turn.number", result.Turn.Number),
		attribute.String("turn.outcome", outcome),
		attribute.Int("turn.sources", len(result.Sources)),
	)
	return result, nil
}

// runSearch runs the search stage and capture. The state is only touched
// after the searcher succeeded.
func (p *Pipeline) runSearch(ctx context.Context, state *conversation.State, query string) (*datatypes.GenerationResult, citation.CaptureReport, error) {
	ctx, span := tracer.Start(ctx, "pipeline.stage."+StageSearch.String())
	defer span.End()
	start := time.Now()
	defer func() { p.metrics.RecordStage(ctx, StageSearch.String(), time.Since(start)) }()

	searchResult, err := p.searcher.Search(ctx, &retrieval.SearchInput{
		Query:   query,
		History: state.RecentTurns(p.cfg.HistoryTurns),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search failed")
		slog.Error("Search stage failed", "session_id", state.ID(), "error", err)
		return nil, citation.CaptureReport{}, fmt.Errorf("%w: %w", ErrSearchFailed, err)
	}
	if searchResult == nil {
		searchResult = &datatypes.GenerationResult{}
	}

	report := citation.Capture(state, searchResult)
	p.metrics.RecordCapture(ctx, report.Masked, report.Assigned, report.PersistErr != nil)
	span.SetAttributes(
		attribute.Int("capture.chunks", report.Chunks),
		attribute.Int("capture.masked", report.Masked),
		attribute.Int("capture.assigned", report.Assigned),
		attribute.Int("capture.table_size", report.TableSize),
	)
	slog.Debug("Captured grounding",
		"session_id", state.ID(),
		"chunks", report.Chunks,
		"masked", report.Masked,
		"assigned", report.Assigned,
	)
	return searchResult, report, nil
}

// runFormat runs the format stage and restore. It returns an error only
// when ctx ended; every other failure degrades to the draft.
func (p *Pipeline) runFormat(ctx context.Context, state *conversation.State, query, draft string, grounding *datatypes.GroundingMetadata) (string, bool, error) {
	ctx, span := tracer.Start(ctx, "pipeline.stage."+StageFormat.String())
	defer span.End()
	start := time.Now()
	defer func() { p.metrics.RecordStage(ctx, StageFormat.String(), time.Since(start)) }()

	req := llm.NewPromptRequest(
		p.cfg.FormatInstruction,
		buildFormatPrompt(query, draft, grounding, p.cfg.SnippetChars),
	)
	formatted, err := p.formatter.Generate(ctx, req)
	if err != nil {
		span.RecordError(err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			span.SetStatus(codes.Error, "canceled")
			return "", false, ctxErr
		}
		span.SetStatus(codes.Error, "format failed")
		slog.Warn("Format stage failed, answering without citations",
			"session_id", state.ID(),
			"model", p.formatter.Model(),
			"error", err,
		)
		return draft, true, nil
	}
	if formatted.IsEmpty() || strings.TrimSpace(formatted.Text()) == "" {
		slog.Warn("Format stage returned no text, answering without citations",
			"session_id", state.ID(),
			"model", p.formatter.Model(),
		)
		span.SetAttributes(attribute.Bool("format.empty", true))
		return draft, true, nil
	}

	report := citation.Restore(state, formatted)
	p.metrics.RecordRestore(ctx, report.Markers, report.Unresolved)
	span.SetAttributes(
		attribute.Bool("restore.applied", report.Applied),
		attribute.Int("restore.markers", report.Markers),
		attribute.Int("restore.unresolved", report.Unresolved),
	)
	if report.Unresolved > 0 {
		slog.Warn("Formatted answer cites unknown tokens",
			"session_id", state.ID(),
			"unresolved", report.Unresolved,
		)
	}
	return formatted.Text(), false, nil
}

// persist saves the state. A failure is logged and counted; the turn still
// completes with the in-memory state.
func (p *Pipeline) persist(ctx context.Context, state *conversation.State, point string) {
	if err := p.store.Save(ctx, state); err != nil {
		slog.Error("Failed to save conversation state",
			"session_id", state.ID(),
			"after", point,
			"error", err,
		)
		p.metrics.RecordPersistFailure(ctx)
	}
}

// sourcesFor lists the distinct masked sources of one search result, in
// provenance order.
func sourcesFor(grounding *datatypes.GroundingMetadata, table *citation.MaskTable) []datatypes.Source {
	if grounding == nil {
		return nil
	}
	var sources []datatypes.Source
	seen := make(map[string]bool)
	for _, chunk := range grounding.Chunks {
		rc := chunk.RetrievedContext
		if rc == nil || rc.URI == "" || seen[rc.URI] {
			continue
		}
		seen[rc.URI] = true
		sources = append(sources, datatypes.Source{
			Token: rc.URI,
			URI:   table.Resolve(rc.URI),
			Title: rc.Title,
		})
	}
	return sources
}

func failureOutcome(ctx context.Context) string {
	if ctx.Err() != nil {
		return observability.OutcomeCanceled
	}
	return observability.OutcomeSearchFailed
}

// =============================================================================
// Session queries
// =============================================================================

// Sessions lists every stored conversation id.
func (p *Pipeline) Sessions(ctx context.Context) ([]string, error) {
	return p.store.List(ctx)
}

// History returns the turns of a conversation, oldest first.
func (p *Pipeline) History(ctx context.Context, sessionID string) ([]conversation.Turn, error) {
	state, err := p.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return state.History(), nil
}

// Citations returns the conversation's mask table in token order.
func (p *Pipeline) Citations(ctx context.Context, sessionID string) ([]datatypes.CitationEntry, error) {
	state, err := p.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	table, _ := citation.LoadMaskTable(state)
	entries := table.Entries()
	out := make([]datatypes.CitationEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, datatypes.CitationEntry{Token: e.Token, URI: e.Locator})
	}
	return out, nil
}

// EndSession deletes a conversation and its mask table. It waits for a
// running turn of the same conversation to finish first and returns
// conversation.ErrNotFound for an unknown id.
func (p *Pipeline) EndSession(ctx context.Context, sessionID string) error {
	unlock, err := p.locker.Lock(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("wait for conversation %s: %w", sessionID, err)
	}
	defer unlock()
	if _, err := p.store.Load(ctx, sessionID); err != nil {
		return err
	}
	if err := p.store.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("delete conversation %s: %w", sessionID, err)
	}
	slog.Info("Conversation ended", "session_id", sessionID)
	return nil
}
