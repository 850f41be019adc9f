// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AllClear Contributors

// Package postgres provides the PostgreSQL-backed account directory.
package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"github.com/allcleardev/allclear-service/internal/auth"
)

// poolIface is the subset of pgxpool.Pool the directory needs. Declared
// locally so tests can substitute pgxmock.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Directory implements auth.Directory on an accounts table.
type Directory struct {
	pool poolIface
}

// NewDirectory creates a Directory backed by pool.
func NewDirectory(pool poolIface) *Directory {
	return &Directory{pool: pool}
}

// ErrIdentifierTaken reports an insert that collided with an existing login
// identifier.
var ErrIdentifierTaken = errors.New("identifier already in use")

// Create stores a new account.
func (d *Directory) Create(ctx context.Context, account *auth.Account) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO accounts (
			id, kind, identifier, phone, name,
			salt, password_hash, must_change_password
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		account.ID,
		string(account.Kind),
		account.Identifier,
		account.Phone,
		account.Name,
		account.Salt,
		account.PasswordHash,
		account.MustChangePassword,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return oops.Code("ACCOUNT_IDENTIFIER_TAKEN").
				With("identifier", account.Identifier).
				Wrap(ErrIdentifierTaken)
		}
		return oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "insert account").
			With("identifier", account.Identifier).
			Wrap(err)
	}
	return nil
}

// FindByIdentifier retrieves an account by its login identifier
// (case-insensitive).
func (d *Directory) FindByIdentifier(ctx context.Context, identifier string) (*auth.Account, error) {
	row := d.pool.QueryRow(ctx, `
		SELECT id, kind, identifier, phone, name,
		       salt, password_hash, must_change_password
		FROM accounts
		WHERE LOWER(identifier) = LOWER($1)
	`, identifier)

	account, err := d.scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("identifier", identifier).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_FIND_FAILED").
			With("operation", "find account by identifier").
			With("identifier", identifier).
			Wrap(err)
	}
	return account, nil
}

// FindByID retrieves an account by primary key.
func (d *Directory) FindByID(ctx context.Context, id string) (*auth.Account, error) {
	row := d.pool.QueryRow(ctx, `
		SELECT id, kind, identifier, phone, name,
		       salt, password_hash, must_change_password
		FROM accounts
		WHERE id = $1
	`, id)

	account, err := d.scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("id", id).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_FIND_FAILED").
			With("operation", "find account by id").
			With("id", id).
			Wrap(err)
	}
	return account, nil
}

// UpdatePassword replaces the stored digest and clears the
// must_change_password sentinel in one statement.
func (d *Directory) UpdatePassword(ctx context.Context, id string, digest string) error {
	result, err := d.pool.Exec(ctx, `
		UPDATE accounts
		SET password_hash = $2, must_change_password = FALSE
		WHERE id = $1
	`, id, digest)
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_PASSWORD_FAILED").
			With("operation", "update password").
			With("id", id).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").
			With("id", id).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// RequirePasswordChange sets the sentinel so the next login is forced
// through the change flow. Used by operator-initiated resets.
func (d *Directory) RequirePasswordChange(ctx context.Context, id string) error {
	result, err := d.pool.Exec(ctx, `
		UPDATE accounts
		SET must_change_password = TRUE
		WHERE id = $1
	`, id)
	if err != nil {
		return oops.Code("ACCOUNT_REQUIRE_CHANGE_FAILED").
			With("operation", "require password change").
			With("id", id).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").
			With("id", id).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// scanAccount scans a single row into an Account.
// Callers are responsible for handling pgx.ErrNoRows.
func (d *Directory) scanAccount(row pgx.Row) (*auth.Account, error) {
	var (
		account auth.Account
		kind    string
	)

	err := row.Scan(
		&account.ID,
		&kind,
		&account.Identifier,
		&account.Phone,
		&account.Name,
		&account.Salt,
		&account.PasswordHash,
		&account.MustChangePassword,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("ACCOUNT_SCAN_FAILED").
			With("operation", "scan account").
			Wrap(err)
	}

	account.Kind = auth.AccountKind(kind)
	return &account, nil
}

// Compile-time interface check.
var _ auth.Directory = (*Directory)(nil)
