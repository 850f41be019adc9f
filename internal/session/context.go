// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AllClear Contributors

package session

import (
	"context"

	"github.com/samber/oops"
)

// currentKeyType is an unexported, collision-proof context key.
type currentKeyType struct{}

var currentKey = currentKeyType{}

// WithCurrent binds the resolved session to a request-scoped context. The
// binding is a plain context value so concurrent requests can never observe
// each other's session.
func WithCurrent(ctx context.Context, rec *Record) context.Context {
	return context.WithValue(ctx, currentKey, rec)
}

// FromContext extracts the session bound to the current request, if any.
func FromContext(ctx context.Context) (*Record, bool) {
	rec, ok := ctx.Value(currentKey).(*Record)
	if !ok || rec == nil {
		return nil, false
	}
	return rec, true
}

// RequireFromContext extracts the session bound to the current request or
// fails with ErrNotAuthenticated.
func RequireFromContext(ctx context.Context) (*Record, error) {
	rec, ok := FromContext(ctx)
	if !ok {
		return nil, oops.Code("NOT_AUTHENTICATED").
			Wrapf(ErrNotAuthenticated, "No current session is available.")
	}
	return rec, nil
}
