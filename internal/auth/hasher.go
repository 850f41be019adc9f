// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AllClear Contributors

package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"strconv"

	"golang.org/x/crypto/argon2"
)

// OWASP-recommended argon2id parameters.
const (
	argon2Time    = 1         // iterations
	argon2Memory  = 64 * 1024 // 64 MB
	argon2Threads = 4         // parallelism
	argon2KeyLen  = 32        // output length in bytes
)

// PasswordHasher provides deterministic salted password hashing. The salt is
// a per-identity numeric value (never a fixed global salt), so the same
// plaintext hashes differently across identities but identically for one.
type PasswordHasher interface {
	// Hash produces the digest of password under the identity's salt.
	Hash(salt int64, password string) string

	// Verify checks password against a stored digest in constant time.
	Verify(salt int64, password, digest string) bool
}

// Argon2Hasher implements PasswordHasher using argon2id.
type Argon2Hasher struct{}

// NewArgon2Hasher creates a new Argon2Hasher.
func NewArgon2Hasher() *Argon2Hasher {
	return &Argon2Hasher{}
}

// saltBytes derives the argon2 salt from the identity's numeric salt.
func saltBytes(salt int64) []byte {
	sum := sha256.Sum256([]byte(strconv.FormatInt(salt, 10)))
	return sum[:16]
}

// Hash produces the argon2id digest of password under salt.
func (h *Argon2Hasher) Hash(salt int64, password string) string {
	key := argon2.IDKey([]byte(password), saltBytes(salt), argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
	return base64.RawStdEncoding.EncodeToString(key)
}

// Verify checks password against digest using constant-time comparison.
func (h *Argon2Hasher) Verify(salt int64, password, digest string) bool {
	computed := h.Hash(salt, password)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(digest)) == 1
}
