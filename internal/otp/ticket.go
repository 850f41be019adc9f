// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AllClear Contributors

package otp

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/allcleardev/allclear-service/internal/kv"
)

// ErrInvalidCode is returned when a verification code does not match, was
// already consumed, or expired. Callers get one error kind for all three
// cases so nothing about issued codes leaks.
var ErrInvalidCode = errors.New("invalid verification code")

// Ticket is a single-use verification code bound to a phone number. Data
// carries flow-specific state (e.g. self-reported registration flags) that
// becomes available again on redemption.
type Ticket struct {
	ID        ulid.ULID       `json:"id"`
	Phone     string          `json:"phone"`
	Code      string          `json:"code"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewTicket creates a ticket for the given phone and code.
func NewTicket(phone, code string, data json.RawMessage) (*Ticket, error) {
	if phone == "" {
		return nil, oops.Code("OTP_INVALID_TICKET").Errorf("phone cannot be empty")
	}
	if code == "" {
		return nil, oops.Code("OTP_INVALID_TICKET").Errorf("code cannot be empty")
	}
	return &Ticket{
		ID:        ulid.Make(),
		Phone:     phone,
		Code:      code,
		Data:      data,
		CreatedAt: time.Now(),
	}, nil
}

// TicketStore persists verification tickets in the expiring backing store.
// Two instances exist in the service: one for registration confirmation
// (reg:{phone}) and one for phone-token login (auth:{phone}:{token}).
type TicketStore struct {
	kv     kv.Store
	prefix string
	ttl    time.Duration
}

// NewTicketStore creates a ticket store for one key namespace.
func NewTicketStore(kvs kv.Store, prefix string, ttl time.Duration) (*TicketStore, error) {
	if kvs == nil {
		return nil, oops.Code("OTP_STORE_INVALID").Errorf("kv store cannot be nil")
	}
	if prefix == "" {
		return nil, oops.Code("OTP_STORE_INVALID").Errorf("key prefix cannot be empty")
	}
	if ttl <= 0 {
		return nil, oops.Code("OTP_STORE_INVALID").Errorf("ttl must be positive")
	}
	return &TicketStore{kv: kvs, prefix: prefix, ttl: ttl}, nil
}

// TTL returns the fixed lifetime of tickets in this store.
func (s *TicketStore) TTL() time.Duration {
	return s.ttl
}

func (s *TicketStore) storeKey(key string) string {
	return s.prefix + key
}

// Issue stores a ticket under the given key, replacing any live ticket so
// only the most recently issued code is ever valid.
func (s *TicketStore) Issue(ctx context.Context, key string, t *Ticket) error {
	data, err := json.Marshal(t)
	if err != nil {
		return oops.Code("OTP_ENCODE_FAILED").
			With("key", s.storeKey(key)).
			Wrap(err)
	}
	if err := s.kv.Set(ctx, s.storeKey(key), data, s.ttl); err != nil {
		return oops.Code("OTP_ISSUE_FAILED").
			With("key", s.storeKey(key)).
			Wrap(err)
	}
	return nil
}

// load reads and decodes the ticket under key along with its raw stored form.
func (s *TicketStore) load(ctx context.Context, key string) (*Ticket, []byte, error) {
	raw, err := s.kv.Get(ctx, s.storeKey(key))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, nil, oops.Code("OTP_INVALID_CODE").Wrap(ErrInvalidCode)
		}
		return nil, nil, oops.Code("OTP_READ_FAILED").
			With("key", s.storeKey(key)).
			Wrap(err)
	}

	var t Ticket
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, nil, oops.Code("OTP_DECODE_FAILED").
			With("key", s.storeKey(key)).
			Wrap(err)
	}
	return &t, raw, nil
}

// codeMatches compares codes in constant time.
func codeMatches(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Peek returns the ticket under key if its phone and code match, without
// consuming it. A non-matching or absent ticket returns (nil, nil): the peek
// is deliberately non-throwing so clients can poll idempotently.
func (s *TicketStore) Peek(ctx context.Context, key, phone, code string) (*Ticket, error) {
	t, _, err := s.load(ctx, key)
	if err != nil {
		if errors.Is(err, ErrInvalidCode) {
			return nil, nil
		}
		return nil, err
	}
	if t.Phone != phone || !codeMatches(t.Code, code) {
		return nil, nil
	}
	return t, nil
}

// Redeem validates and consumes the ticket under key in one step. The ticket
// is deleted only if the stored bytes are still exactly what was read, so two
// racing redemptions of the same code produce exactly one success.
func (s *TicketStore) Redeem(ctx context.Context, key, phone, code string) (*Ticket, error) {
	t, raw, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	if t.Phone != phone || !codeMatches(t.Code, code) {
		return nil, oops.Code("OTP_INVALID_CODE").Wrap(ErrInvalidCode)
	}

	deleted, err := s.kv.CompareAndDelete(ctx, s.storeKey(key), raw)
	if err != nil {
		return nil, oops.Code("OTP_REDEEM_FAILED").
			With("key", s.storeKey(key)).
			Wrap(err)
	}
	if !deleted {
		// Lost the race, or the ticket was reissued since the read.
		return nil, oops.Code("OTP_INVALID_CODE").Wrap(ErrInvalidCode)
	}
	return t, nil
}
