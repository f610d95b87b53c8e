// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package conversation holds per-conversation state for the search
// pipeline: the key/value scope the citation stages share, the turn
// history, the stores that persist them and the lock that serialises
// turns.
//
// # Description
//
// A conversation is identified by its session id. Its State carries
// arbitrary JSON values keyed by name (the citation mask table lives under
// citation.StateKey) plus the ordered list of completed turns. A Store
// loads and saves whole States; MemoryStore keeps them in process and
// BadgerStore persists them in an embedded BadgerDB.
//
// # Thread Safety
//
// Stores are safe for concurrent use. A State is safe for concurrent
// reads and writes, but two turns that load, mutate and save the same
// conversation would lose updates; TurnLocker exists to prevent that.
package conversation

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// =============================================================================
// Turn
// =============================================================================

// Turn is one completed question/answer exchange.
type Turn struct {
	// Number is 1-based and sequential within the conversation.
	Number int `json:"number"`

	// Question is the user's query as received.
	Question string `json:"question"`

	// Answer is the final answer returned to the user, citations restored.
	Answer string `json:"answer"`

	// Degraded is true when the formatting stage failed for this turn.
	Degraded bool `json:"degraded,omitempty"`

	// Timestamp is when the turn completed, Unix milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// =============================================================================
// State
// =============================================================================

// State is the conversation-scoped state of one session.
//
// # Description
//
// Values are stored as raw JSON so a State can be persisted and reloaded
// without knowing the concrete types of the values. Get decodes a fresh
// copy on every call; callers that mutate the decoded value must Set it
// back for the change to stick.
//
// # Thread Safety
//
// Safe for concurrent use.
type State struct {
	mu sync.RWMutex

	id        string
	values    map[string]json.RawMessage
	history   []Turn
	createdAt time.Time
	updatedAt time.Time
}

// stateRecord is the persisted form of a State.
type stateRecord struct {
	ID        string                     `json:"id"`
	Values    map[string]json.RawMessage `json:"values"`
	History   []Turn                     `json:"history,omitempty"`
	CreatedAt int64                      `json:"created_at"`
	UpdatedAt int64                      `json:"updated_at"`
}

// NewState returns an empty state for the given conversation id.
func NewState(id string) *State {
	now := time.Now()
	return &State{
		id:        id,
		values:    make(map[string]json.RawMessage),
		createdAt: now,
		updatedAt: now,
	}
}

// ID returns the conversation id.
func (s *State) ID() string {
	return s.id
}

// CreatedAt returns when the conversation was first created.
func (s *State) CreatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.createdAt
}

// UpdatedAt returns when the state was last modified.
func (s *State) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// Get decodes the value stored under key into out.
//
// # Outputs
//
//   - bool: False when the key is absent. out is left untouched.
//   - error: Non-nil when the stored value cannot be decoded into out.
func (s *State) Get(key string, out any) (bool, error) {
	s.mu.RLock()
	raw, ok := s.values[key]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("decode state key %q: %w", key, err)
	}
	return true, nil
}

// Set encodes value and stores it under key, replacing any previous value.
func (s *State) Set(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode state key %q: %w", key, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = raw
	s.updatedAt = time.Now()
	return nil
}

// Delete removes key. Deleting an absent key is a no-op.
func (s *State) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; ok {
		delete(s.values, key)
		s.updatedAt = time.Now()
	}
}

// Keys returns the stored keys in sorted order.
func (s *State) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AppendTurn records a completed turn and returns it with its number set.
func (s *State) AppendTurn(question, answer string, degraded bool) Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	turn := Turn{
		Number:    len(s.history) + 1,
		Question:  question,
		Answer:    answer,
		Degraded:  degraded,
		Timestamp: now.UnixMilli(),
	}
	s.history = append(s.history, turn)
	s.updatedAt = now
	return turn
}

// History returns a copy of all turns, oldest first.
func (s *State) History() []Turn {
	return s.RecentTurns(0)
}

// RecentTurns returns up to n of the most recent turns, oldest first.
// n <= 0 returns every turn.
func (s *State) RecentTurns(n int) []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := 0
	if n > 0 && len(s.history) > n {
		start = len(s.history) - n
	}
	out := make([]Turn, len(s.history)-start)
	copy(out, s.history[start:])
	return out
}

// TurnCount returns the number of completed turns.
func (s *State) TurnCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}

// MarshalJSON encodes the state in its persisted form.
func (s *State) MarshalJSON() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return json.Marshal(stateRecord{
		ID:        s.id,
		Values:    s.values,
		History:   s.history,
		CreatedAt: s.createdAt.UnixMilli(),
		UpdatedAt: s.updatedAt.UnixMilli(),
	})
}

// UnmarshalJSON decodes the persisted form.
func (s *State) UnmarshalJSON(data []byte) error {
	var rec stateRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("decode conversation state: %w", err)
	}
	if rec.Values == nil {
		rec.Values = make(map[string]json.RawMessage)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = rec.ID
	s.values = rec.Values
	s.history = rec.History
	s.createdAt = time.UnixMilli(rec.CreatedAt)
	s.updatedAt = time.UnixMilli(rec.UpdatedAt)
	return nil
}

// encodeState and decodeState are the store-side codec.
func encodeState(s *State) ([]byte, error) {
	return json.Marshal(s)
}

func decodeState(data []byte) (*State, error) {
	s := &State{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, err
	}
	return s, nil
}
