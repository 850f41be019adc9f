// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AllClear Contributors

package auth

import "errors"

// ErrNotFound is returned by Directory implementations when no account
// matches an identifier.
var ErrNotFound = errors.New("not found")

// ErrInvalidCredentials is returned on any identifier/password mismatch. The
// message is deliberately generic and never distinguishes an unknown
// identifier from a wrong password; callers match on it, so it must not
// change.
var ErrInvalidCredentials = errors.New("Invalid credentials")

// ErrMustChangePassword is returned when the credentials were valid but the
// account carries the forced-password-change sentinel and no new password was
// supplied. Unlike ErrInvalidCredentials this discloses a next step, which is
// safe only because identity is already proven.
var ErrMustChangePassword = errors.New("Please change your password")
