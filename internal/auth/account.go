// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AllClear Contributors

package auth

import (
	"context"

	"github.com/samber/oops"
)

// New-password length bounds, enforced on the forced-change path.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 72
)

// AccountKind identifies which session variant an account produces on login.
type AccountKind string

// Account kinds.
const (
	AccountPerson   AccountKind = "person"
	AccountAdmin    AccountKind = "admin"
	AccountCustomer AccountKind = "customer"
)

// Account is the credential-bearing view of an identity. Salt is the
// per-identity numeric value keyed into the password hash.
type Account struct {
	ID                 string
	Kind               AccountKind
	Identifier         string
	Phone              string
	Name               string
	Salt               int64
	PasswordHash       string
	MustChangePassword bool
}

// Directory resolves identifiers to accounts and persists credential
// changes. Lookup semantics (name/phone/email matching) are a domain concern
// owned by the implementation.
type Directory interface {
	// FindByIdentifier retrieves an account by its login identifier.
	// Returns ErrNotFound if no account matches.
	FindByIdentifier(ctx context.Context, identifier string) (*Account, error)

	// UpdatePassword replaces the stored digest for an account and clears
	// the forced-password-change sentinel in the same write.
	UpdatePassword(ctx context.Context, id string, digest string) error
}

// ValidateNewPassword enforces the forced-change rules: the confirmation must
// match exactly and the new password must be within length bounds.
func ValidateNewPassword(newPassword, confirmPassword string) error {
	if newPassword != confirmPassword {
		return oops.Code("AUTH_PASSWORD_MISMATCH").
			Errorf("new password and confirmation do not match")
	}
	if len(newPassword) < MinPasswordLength {
		return oops.Code("AUTH_PASSWORD_TOO_SHORT").
			With("min", MinPasswordLength).
			Errorf("password must be at least %d characters", MinPasswordLength)
	}
	if len(newPassword) > MaxPasswordLength {
		return oops.Code("AUTH_PASSWORD_TOO_LONG").
			With("max", MaxPasswordLength).
			Errorf("password must be at most %d characters", MaxPasswordLength)
	}
	return nil
}
