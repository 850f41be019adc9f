// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AllClear Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/samber/oops"

	"github.com/allcleardev/allclear-service/internal/session"
)

// Metrics counts authentication outcomes. Implementations must be safe for
// concurrent use.
type Metrics interface {
	RecordLogin(kind string, success bool)
	RecordTicketRedemption(protocol string, success bool)
}

// phoneTokenProtocol labels phone-token redemptions on the shared counter.
const phoneTokenProtocol = "phone_token"

// Service provides credential-based authentication.
type Service struct {
	directory Directory
	hasher    PasswordHasher
	sessions  *session.Store
	logger    *slog.Logger
	metrics   Metrics
}

// NewService creates an authentication service. logger may be nil.
func NewService(directory Directory, hasher PasswordHasher, sessions *session.Store, logger *slog.Logger) (*Service, error) {
	if directory == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("directory cannot be nil")
	}
	if hasher == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("hasher cannot be nil")
	}
	if sessions == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("session store cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{directory: directory, hasher: hasher, sessions: sessions, logger: logger}, nil
}

// SetMetrics wires an outcome recorder. Without one, logins are not counted.
func (s *Service) SetMetrics(m Metrics) {
	s.metrics = m
}

func (s *Service) recordLogin(kind string, success bool) {
	if s.metrics != nil {
		s.metrics.RecordLogin(kind, success)
	}
}

// dummyTarget is verified when no account matches the identifier, so lookup
// misses and password mismatches take comparable time.
const (
	dummySalt   int64 = 0
	dummyDigest       = "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
)

// LoginOptions carries the optional forced-change password pair.
type LoginOptions struct {
	NewPassword     string
	ConfirmPassword string
}

// Login verifies identifier+password and mints the session variant matching
// the account's kind. An unknown identifier and a wrong password fail with
// the identical generic error. If the account carries the forced-change
// sentinel, a valid login without a new password fails with
// ErrMustChangePassword; with one, the stored digest is replaced atomically
// with the login.
func (s *Service) Login(ctx context.Context, identifier, password string, rememberMe bool, opts LoginOptions) (*session.Record, error) {
	account, lookupErr := s.directory.FindByIdentifier(ctx, identifier)

	targetSalt := dummySalt
	targetDigest := dummyDigest
	accountExists := false

	if lookupErr != nil {
		if !errors.Is(lookupErr, ErrNotFound) {
			return nil, oops.Code("AUTH_LOGIN_FAILED").
				With("operation", "find account").
				Wrap(lookupErr)
		}
		// Keep the dummy target so verification still runs.
	} else {
		targetSalt = account.Salt
		targetDigest = account.PasswordHash
		accountExists = true
	}

	kindLabel := "unknown"
	if accountExists {
		kindLabel = string(account.Kind)
	}

	valid := s.hasher.Verify(targetSalt, password, targetDigest)
	if !accountExists || !valid {
		s.recordLogin(kindLabel, false)
		return nil, oops.Code("AUTH_INVALID_CREDENTIALS").Wrap(ErrInvalidCredentials)
	}

	if account.MustChangePassword {
		if opts.NewPassword == "" {
			s.recordLogin(kindLabel, false)
			return nil, oops.Code("AUTH_MUST_CHANGE_PASSWORD").Wrap(ErrMustChangePassword)
		}
		if err := ValidateNewPassword(opts.NewPassword, opts.ConfirmPassword); err != nil {
			return nil, err
		}
		digest := s.hasher.Hash(account.Salt, opts.NewPassword)
		if err := s.directory.UpdatePassword(ctx, account.ID, digest); err != nil {
			return nil, oops.Code("AUTH_PASSWORD_UPDATE_FAILED").
				With("account_id", account.ID).
				Wrap(err)
		}
	}

	rec, err := s.createSession(ctx, account, rememberMe)
	if err != nil {
		return nil, err
	}

	s.recordLogin(kindLabel, true)
	s.logger.Info("login succeeded",
		"account_id", account.ID,
		"kind", string(account.Kind),
		"remember_me", rememberMe,
	)
	return rec, nil
}

func (s *Service) createSession(ctx context.Context, account *Account, rememberMe bool) (*session.Record, error) {
	var (
		rec *session.Record
		err error
	)
	switch account.Kind {
	case AccountPerson:
		rec, err = s.sessions.CreatePerson(ctx, session.Person{
			ID:    account.ID,
			Phone: account.Phone,
			Name:  account.Name,
		}, rememberMe)
	case AccountAdmin:
		rec, err = s.sessions.CreateAdmin(ctx, session.Admin{
			ID:    account.ID,
			Email: account.Identifier,
		}, rememberMe)
	case AccountCustomer:
		rec, err = s.sessions.CreateCustomer(ctx, session.Customer{
			ID:   account.ID,
			Name: account.Name,
		}, rememberMe)
	default:
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("kind", string(account.Kind)).
			Errorf("unknown account kind")
	}
	if err != nil {
		return nil, oops.Code("AUTH_SESSION_CREATE_FAILED").
			With("account_id", account.ID).
			Wrap(err)
	}
	return rec, nil
}
