// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AllClear Contributors

package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/allcleardev/allclear-service/internal/kv"
)

// keyPrefix is the backing-store namespace for sessions. The layout is shared
// with other deployments and must not change.
const keyPrefix = "session:"

// getRetryDelay is the pause before the single retry of an idempotent read.
const getRetryDelay = 50 * time.Millisecond

// Metrics tracks the live session population. Implementations must be safe
// for concurrent use.
type Metrics interface {
	SessionOpened()
	SessionClosed()
}

// Store provides keyed access to session records over the expiring backing
// store. It owns key naming, TTL assignment and renewal, and serialization.
type Store struct {
	kv      kv.Store
	logger  *slog.Logger
	metrics Metrics
}

// NewStore creates a session store. logger may be nil.
func NewStore(kvs kv.Store, logger *slog.Logger) (*Store, error) {
	if kvs == nil {
		return nil, oops.Code("SESSION_STORE_INVALID").Errorf("kv store cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{kv: kvs, logger: logger}, nil
}

// SetMetrics wires a session population recorder. Without one, the gauge is
// not maintained.
func (s *Store) SetMetrics(m Metrics) {
	s.metrics = m
}

func key(id string) string {
	return keyPrefix + id
}

// CreateRegistration mints a new anonymous registration session.
func (s *Store) CreateRegistration(ctx context.Context, reg Registration) (*Record, error) {
	rec, err := NewRegistrationRecord(reg)
	if err != nil {
		return nil, err
	}
	return s.persistNew(ctx, rec)
}

// CreatePerson mints a new authenticated end-user session.
func (s *Store) CreatePerson(ctx context.Context, p Person, rememberMe bool) (*Record, error) {
	rec, err := NewPersonRecord(p, rememberMe)
	if err != nil {
		return nil, err
	}
	return s.persistNew(ctx, rec)
}

// CreateAdmin mints a new admin session.
func (s *Store) CreateAdmin(ctx context.Context, a Admin, rememberMe bool) (*Record, error) {
	rec, err := NewAdminRecord(a, rememberMe)
	if err != nil {
		return nil, err
	}
	return s.persistNew(ctx, rec)
}

// CreateCustomer mints a new customer session.
func (s *Store) CreateCustomer(ctx context.Context, c Customer, rememberMe bool) (*Record, error) {
	rec, err := NewCustomerRecord(c, rememberMe)
	if err != nil {
		return nil, err
	}
	return s.persistNew(ctx, rec)
}

func (s *Store) persistNew(ctx context.Context, rec *Record) (*Record, error) {
	if err := s.write(ctx, rec); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.SessionOpened()
	}
	return rec, nil
}

func (s *Store) write(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return oops.Code("SESSION_ENCODE_FAILED").
			With("id", rec.ID).
			Wrap(err)
	}
	if err := s.kv.Set(ctx, key(rec.ID), data, rec.Duration); err != nil {
		return oops.Code("SESSION_WRITE_FAILED").
			With("id", rec.ID).
			Wrap(err)
	}
	return nil
}

// Get retrieves a session by handle and slides its expiry window forward.
// Malformed, unknown, and expired handles all fail with ErrNotAuthenticated;
// callers cannot tell which case applied. Store outages surface as
// kv.ErrUnavailable after one retry, never as a missing session.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	if !ValidID(id) {
		return nil, oops.Code("NOT_AUTHENTICATED").
			With("id", id).
			Wrapf(ErrNotAuthenticated, "invalid session id %q", id)
	}

	var data []byte
	backoff := retry.WithMaxRetries(1, retry.NewConstant(getRetryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var getErr error
		data, getErr = s.kv.Get(ctx, key(id))
		if errors.Is(getErr, kv.ErrUnavailable) {
			// Reads are idempotent, a single retry is safe.
			return retry.RetryableError(getErr)
		}
		return getErr
	})
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, oops.Code("NOT_AUTHENTICATED").
				With("id", id).
				Wrapf(ErrNotAuthenticated, "unknown session id %q", id)
		}
		return nil, oops.Code("SESSION_READ_FAILED").
			With("id", id).
			Wrap(err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		s.logger.Error("session record failed to decode", "id", id, "error", err)
		return nil, oops.Code("NOT_AUTHENTICATED").
			With("id", id).
			Wrapf(ErrNotAuthenticated, "unknown session id %q", id)
	}
	if err := rec.Validate(); err != nil {
		s.logger.Error("session record failed validation", "id", id, "error", err)
		return nil, oops.Code("NOT_AUTHENTICATED").
			With("id", id).
			Wrapf(ErrNotAuthenticated, "unknown session id %q", id)
	}

	// The store's TTL should have reaped this already; never trust physical
	// presence alone.
	if rec.IsExpired() {
		_ = s.kv.Delete(ctx, key(id))
		return nil, oops.Code("NOT_AUTHENTICATED").
			With("id", id).
			Wrapf(ErrNotAuthenticated, "unknown session id %q", id)
	}

	rec.touch(time.Now())
	// Sliding expiration: losing a renewal under a concurrent Get on the same
	// handle only costs expiry bookkeeping, so a failed re-persist is logged
	// rather than failing the read.
	if err := s.write(ctx, &rec); err != nil {
		s.logger.Warn("session renewal failed", "id", id, "error", err)
	}

	return &rec, nil
}

// Remove deletes a session. Removing an absent or never-issued handle is not
// an error.
func (s *Store) Remove(ctx context.Context, id string) error {
	if err := s.kv.Delete(ctx, key(id)); err != nil {
		return oops.Code("SESSION_REMOVE_FAILED").
			With("id", id).
			Wrap(err)
	}
	if s.metrics != nil {
		s.metrics.SessionClosed()
	}
	return nil
}

// Promote converts the current request's session into an authenticated Person
// session. The handle is preserved so clients holding the old id keep
// resolving to the same logical session; this is the only path by which a
// registration session becomes a person session.
func (s *Store) Promote(ctx context.Context, p Person, rememberMe bool) (*Record, error) {
	current, err := RequireFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, oops.Code("SESSION_INVALID_PAYLOAD").Errorf("person ID cannot be empty")
	}

	now := time.Now()
	rec := &Record{
		ID:             current.ID,
		Kind:           KindPerson,
		Person:         &p,
		RememberMe:     rememberMe,
		Duration:       DurationFor(rememberMe),
		CreatedAt:      current.CreatedAt,
		LastAccessedAt: now,
		ExpiresAt:      now.Add(DurationFor(rememberMe)),
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	if err := s.write(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Current returns the session bound to the active request context, or nil if
// none was supplied. Unlike Get it never fails for a missing session.
func (s *Store) Current(ctx context.Context) *Record {
	rec, _ := FromContext(ctx)
	return rec
}

// Ready reports whether the backing store is reachable.
func (s *Store) Ready(ctx context.Context) bool {
	return s.kv.Ping(ctx) == nil
}
