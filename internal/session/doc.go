// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AllClear Contributors

// Package session holds the ephemeral identity core for AllClear.
//
// # Domain Types
//
// A Record is a tagged union over who is acting: an anonymous visitor mid
// registration, an authenticated end user (Person), or an internal actor
// (Admin or Customer). Records should be created through the New*Record
// constructors or the Store's Create* methods; direct struct initialization
// bypasses the exactly-one-payload invariant.
//
// # Lifecycle
//
// Records live in an expiring key-value store under session:{id} and use
// sliding expiration: every successful Get pushes the expiry window forward
// by the record's duration class (30 minutes, or 30 days for "remember me").
// Promotion swaps an existing record's payload for a Person identity while
// preserving its handle.
//
// # Request Scoping
//
// The resolved session for a unit of work is carried as a context value
// (WithCurrent / FromContext), never as process-global state.
package session
