// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package citation masks source locators behind opaque tokens between two
// generation steps and restores them into the final answer.
//
// # Protocol
//
// The search step returns an answer plus a provenance list whose entries
// carry real source locators (gs://bucket/manual.pdf). Capture replaces
// every locator with a short token (uri_1, uri_2, ...) and records the
// mapping in the conversation's MaskTable. The formatting step only ever
// sees tokens and is asked to cite with [[uri_N]] markers. Restore then
// rewrites each marker to [<locator>].
//
//	search result ──Capture──▶ masked provenance ──format──▶ [[uri_N]] text
//	                   │                                          │
//	                   └──────────── MaskTable (Scope) ───Restore─┘
//
// # Invariants
//
//   - Tokens are uri_<N>, N starting at 1, assigned in first-seen order
//     with no gaps and no reuse.
//   - A locator maps to exactly one token for the lifetime of the table.
//   - Only Capture writes the table; Restore is read-only.
//   - Nothing in this package fails a turn: missing provenance, unknown
//     tokens and malformed markers all degrade to pass-through.
//
// # Thread Safety
//
// MaskTable is not safe for concurrent mutation. Callers serialise turns
// per conversation (see conversation.TurnLocker) so Capture and Restore
// of one turn never interleave with another turn of the same conversation.
package citation
