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
	"sync"
)

// TurnLocker serialises turns per conversation.
//
// # Description
//
// Lock blocks until no other turn of the same conversation holds the lock,
// or until ctx is done. Turns of different conversations never contend.
// Entries are reference counted and dropped once the last holder or waiter
// leaves, so the map does not grow with the number of conversations ever
// seen.
//
// # Thread Safety
//
// Safe for concurrent use.
//
// # Examples
//
//	unlock, err := locker.Lock(ctx, sessionID)
//	if err != nil {
//	    return err
//	}
//	defer unlock()
type TurnLocker struct {
	mu    sync.Mutex
	locks map[string]*turnLock
}

// turnLock is a one-slot semaphore; holding the slot is holding the lock.
type turnLock struct {
	slot chan struct{}
	refs int
}

// NewTurnLocker returns an empty locker.
func NewTurnLocker() *TurnLocker {
	return &TurnLocker{locks: make(map[string]*turnLock)}
}

// Lock acquires the lock for id and returns the function that releases it.
// The release function must be called exactly once.
//
// # Outputs
//
//   - func(): Releases the lock. Nil when error is non-nil.
//   - error: ctx's error when ctx ended before the lock was free.
func (l *TurnLocker) Lock(ctx context.Context, id string) (func(), error) {
	l.mu.Lock()
	lock, ok := l.locks[id]
	if !ok {
		lock = &turnLock{slot: make(chan struct{}, 1)}
		l.locks[id] = lock
	}
	lock.refs++
	l.mu.Unlock()

	select {
	case lock.slot <- struct{}{}:
	case <-ctx.Done():
		l.release(id, lock)
		return nil, ctx.Err()
	}
	return func() {
		<-lock.slot
		l.release(id, lock)
	}, nil
}

func (l *TurnLocker) release(id string, lock *turnLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(l.locks, id)
	}
}

// Active returns the number of conversations with a holder or waiter.
func (l *TurnLocker) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
