// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AllClear Contributors

// Package auth provides credential verification for AllClear.
//
// # Domain Types
//
// An Account is the credential-bearing view of an identity (end-user Person,
// or internal Admin/Customer actor) resolved through the Directory interface.
// How identifiers map to accounts (name, phone, or email lookup) is a domain
// concern owned by Directory implementations; this package only verifies
// credentials and mints sessions.
//
// # Services
//
// Two services cover the login protocols:
//   - Service.Login - password verification with forced-password-change
//     bookkeeping
//   - PhoneTokenService.Issue / PhoneTokenService.Redeem - passwordless
//     magic-link codes
//
// Phone-token redemption deliberately does not create a session: it is a
// precondition the caller checks before invoking Login or a promotion, which
// keeps the one-time-code primitive shared between both OTP protocols.
package auth
