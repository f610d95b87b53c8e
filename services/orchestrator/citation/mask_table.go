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
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
)

const (
	// TokenPrefix is the literal prefix of every mask token.
	TokenPrefix = "uri_"

	// StateKey is the conversation state key the mask table lives under.
	StateKey = "grounding_metadata_uri_map"
)

// Scope is the conversation-scoped key/value state shared by both stages
// of a turn. conversation.State implements it.
type Scope interface {
	// Get decodes the value stored under key into out. The bool is false
	// when the key is absent.
	Get(key string, out any) (bool, error)

	// Set stores value under key.
	Set(key string, value any) error
}

// Entry is one token → locator mapping.
type Entry struct {
	Token   string
	Locator string
}

// =============================================================================
// MaskTable
// =============================================================================

// MaskTable maps opaque tokens to real source locators for one
// conversation.
//
// # Description
//
// Entries are kept in insertion order. A reverse index answers "does this
// locator already have a token" in O(1); the answer is the same one a
// first-match scan over the ordered entries would give.
//
// Locators are compared by exact string equality. "gs://b/a.pdf" and
// "gs://b/a.pdf/" are distinct sources.
//
// # Thread Safety
//
// Not safe for concurrent use.
type MaskTable struct {
	entries   []Entry
	byToken   map[string]string
	byLocator map[string]string
	maxN      int
}

// NewMaskTable returns an empty table.
func NewMaskTable() *MaskTable {
	return &MaskTable{
		byToken:   make(map[string]string),
		byLocator: make(map[string]string),
	}
}

// GetOrAssign returns the token for locator, allocating the next one if the
// locator has not been seen. The bool reports whether a new entry was added.
//
// # Examples
//
//	t := NewMaskTable()
//	t.GetOrAssign("gs://b/a.pdf") // "uri_1", true
//	t.GetOrAssign("gs://b/b.pdf") // "uri_2", true
//	t.GetOrAssign("gs://b/a.pdf") // "uri_1", false
func (t *MaskTable) GetOrAssign(locator string) (string, bool) {
	if token, ok := t.byLocator[locator]; ok {
		return token, false
	}
	token := t.nextToken()
	t.insert(token, locator)
	return token, true
}

// Resolve returns the locator for token, or token itself when unknown.
func (t *MaskTable) Resolve(token string) string {
	if t == nil {
		return token
	}
	if locator, ok := t.byToken[token]; ok {
		return locator
	}
	return token
}

// Lookup returns the locator for token and whether it exists.
func (t *MaskTable) Lookup(token string) (string, bool) {
	if t == nil {
		return "", false
	}
	locator, ok := t.byToken[token]
	return locator, ok
}

// Len returns the number of entries.
func (t *MaskTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// Entries returns a copy of the entries in insertion order.
func (t *MaskTable) Entries() []Entry {
	if t == nil {
		return nil
	}
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// nextToken is uri_<len+1>. The fallback to maxN+1 only triggers for tables
// decoded from state that already had a gap; it keeps tokens unique.
func (t *MaskTable) nextToken() string {
	n := len(t.entries) + 1
	token := formatToken(n)
	if _, taken := t.byToken[token]; taken {
		token = formatToken(t.maxN + 1)
	}
	return token
}

func (t *MaskTable) insert(token, locator string) {
	t.entries = append(t.entries, Entry{Token: token, Locator: locator})
	t.byToken[token] = locator
	if _, seen := t.byLocator[locator]; !seen {
		t.byLocator[locator] = token
	}
	if n, ok := TokenNumber(token); ok && n > t.maxN {
		t.maxN = n
	}
}

// =============================================================================
// Token helpers
// =============================================================================

func formatToken(n int) string {
	return TokenPrefix + strconv.Itoa(n)
}

// TokenNumber parses the N out of uri_<N>. It rejects anything that is not
// the prefix followed by one or more ASCII digits, and N < 1.
func TokenNumber(token string) (int, bool) {
	digits, ok := strings.CutPrefix(token, TokenPrefix)
	if !ok || digits == "" {
		return 0, false
	}
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// =============================================================================
// Serialisation
// =============================================================================

// MarshalJSON encodes the table as a JSON object {"uri_1": "...", ...}
// with keys in token order.
func (t *MaskTable) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range t.entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(e.Token)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(e.Locator)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes the object form. Keys that are not valid tokens are
// dropped; insertion order is rebuilt from ascending N.
func (t *MaskTable) UnmarshalJSON(data []byte) error {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode mask table: %w", err)
	}

	type numbered struct {
		n int
		Entry
	}
	ordered := make([]numbered, 0, len(raw))
	for token, locator := range raw {
		n, ok := TokenNumber(token)
		if !ok {
			slog.Warn("Dropping malformed mask table key", "key", token)
			continue
		}
		ordered = append(ordered, numbered{n: n, Entry: Entry{Token: token, Locator: locator}})
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].n < ordered[j].n })

	fresh := NewMaskTable()
	for _, e := range ordered {
		fresh.insert(e.Token, e.Locator)
	}
	*t = *fresh
	return nil
}

// =============================================================================
// Scope access
// =============================================================================

// LoadMaskTable reads the table from scope. A missing or unreadable entry
// yields an empty table; the bool reports whether one was found.
func LoadMaskTable(scope Scope) (*MaskTable, bool) {
	if scope == nil {
		return NewMaskTable(), false
	}
	table := NewMaskTable()
	found, err := scope.Get(StateKey, table)
	if err != nil {
		slog.Warn("Mask table in conversation state is unreadable, starting empty",
			"key", StateKey,
			"error", err,
		)
		return NewMaskTable(), false
	}
	if !found {
		return NewMaskTable(), false
	}
	return table, true
}

// SaveMaskTable writes the table to scope.
func SaveMaskTable(scope Scope, table *MaskTable) error {
	if scope == nil {
		return fmt.Errorf("nil conversation scope")
	}
	return scope.Set(StateKey, table)
}
