// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AllClear Contributors

// Package otp provides the one-time code primitive shared by the SMS
// registration confirmation and the passwordless phone-token login. Both
// protocols instantiate the same TicketStore with their own key prefix and
// lifetime.
package otp

import (
	"crypto/rand"
	"math/big"

	"github.com/samber/oops"
)

// CodeLength is the length of a generated verification code.
const CodeLength = 10

// codeAlphabet excludes 0, O and I to keep codes unambiguous when read from
// an SMS.
const codeAlphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// GenerateCode produces a short random alphanumeric code.
func GenerateCode() (string, error) {
	max := big.NewInt(int64(len(codeAlphabet)))
	code := make([]byte, CodeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", oops.Code("OTP_GENERATE_FAILED").
				With("operation", "crypto/rand.Int").
				Wrap(err)
		}
		code[i] = codeAlphabet[n.Int64()]
	}
	return string(code), nil
}
