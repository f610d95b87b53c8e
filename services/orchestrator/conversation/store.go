// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conversation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNotFound is returned by Store.Load when the conversation does not
// exist.
var ErrNotFound = errors.New("conversation not found")

// Store persists conversation states.
//
// # Description
//
// Load returns an independent copy: mutating it has no effect until Save.
// Implementations never hand out shared State pointers, so two concurrent
// readers cannot observe each other's unsaved changes.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Load returns the state for id, or ErrNotFound.
	Load(ctx context.Context, id string) (*State, error)

	// Save writes the state, replacing any previous version.
	Save(ctx context.Context, state *State) error

	// Delete removes the conversation. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error

	// List returns every conversation id in sorted order.
	List(ctx context.Context) ([]string, error)

	// Close releases resources held by the store.
	Close() error
}

// LoadOrNew returns the stored state for id, or a fresh one when the
// conversation does not exist yet.
func LoadOrNew(ctx context.Context, store Store, id string) (*State, error) {
	state, err := store.Load(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return NewState(id), nil
	}
	if err != nil {
		return nil, err
	}
	return state, nil
}

// =============================================================================
// MemoryStore
// =============================================================================

// MemoryStore keeps encoded states in a map. Data is lost on restart.
//
// # Thread Safety
//
// Safe for concurrent use.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string][]byte
}

// NewMemoryStore returns an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string][]byte)}
}

// Load implements Store.
func (m *MemoryStore) Load(ctx context.Context, id string) (*State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	data, ok := m.states[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	state, err := decodeState(data)
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", id, err)
	}
	return state, nil
}

// Save implements Store.
func (m *MemoryStore) Save(ctx context.Context, state *State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if state == nil || state.ID() == "" {
		return errors.New("state must have an id")
	}
	data, err := encodeState(state)
	if err != nil {
		return fmt.Errorf("save conversation %s: %w", state.ID(), err)
	}
	m.mu.Lock()
	m.states[state.ID()] = data
	m.mu.Unlock()
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.states, id)
	m.mu.Unlock()
	return nil
}

// List implements Store.
func (m *MemoryStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	ids := make([]string, 0, len(m.states))
	for id := range m.states {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Strings(ids)
	return ids, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
