// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AllClear Contributors

package kv

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/samber/oops"
)

// MemoryStore implements Store with an in-process map. It backs the serve
// command's dev mode and the unit tests; it is not meant for multi-process
// deployments.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

// expired reports whether an entry is past its TTL. Caller holds mu.
func (e memoryEntry) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// Get retrieves the value for key, evicting it lazily if expired.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || entry.expired(time.Now()) {
		delete(s.entries, key)
		return nil, oops.Code("KV_NOT_FOUND").With("key", key).Wrap(ErrNotFound)
	}

	value := make([]byte, len(entry.value))
	copy(value, entry.value)
	return value, nil
}

// Set stores value under key with the given TTL.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	s.entries[key] = memoryEntry{
		value:     stored,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

// Delete removes key. Absent keys are not an error.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

// CompareAndDelete deletes key only if its current value equals expected.
func (s *MemoryStore) CompareAndDelete(_ context.Context, key string, expected []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || entry.expired(time.Now()) {
		delete(s.entries, key)
		return false, nil
	}
	if !bytes.Equal(entry.value, expected) {
		return false, nil
	}

	delete(s.entries, key)
	return true, nil
}

// Ping always succeeds for the in-memory store.
func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}
