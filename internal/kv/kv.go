// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AllClear Contributors

// Package kv defines the expiring key-value store contract used as the sole
// persistence layer for sessions and verification tickets.
//
// Every value carries its own time-to-live; the store's native expiration is
// the only garbage collection mechanism. Implementations must be safe for
// concurrent use.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist or has expired.
var ErrNotFound = errors.New("key not found")

// ErrUnavailable is returned when the backing store cannot be reached or a
// value cannot be decoded. Callers must never conflate this with ErrNotFound:
// an unreachable store is not proof of absence.
var ErrUnavailable = errors.New("backing store unavailable")

// Store provides expiring keyed byte-string storage.
type Store interface {
	// Get retrieves the value for key. Returns ErrNotFound if the key is
	// absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key with the given TTL, replacing any existing
	// value and its remaining TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// CompareAndDelete deletes key only if its current value equals expected.
	// Returns true if the key was deleted by this call. The check-and-delete
	// is atomic with respect to concurrent callers.
	CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error)

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error
}
