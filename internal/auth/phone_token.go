// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AllClear Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/samber/oops"

	"github.com/allcleardev/allclear-service/internal/otp"
)

// PhoneTokenKeyPrefix is the ticket namespace for passwordless login codes.
// Tokens live under auth:{phone}:{token}, disjoint from the registration
// keyspace.
const PhoneTokenKeyPrefix = "auth:"

// PhoneTokenService issues and redeems passwordless "magic link" tokens.
// Redemption is a precondition check, it never creates a session itself.
type PhoneTokenService struct {
	tickets *otp.TicketStore
	logger  *slog.Logger
	metrics Metrics
}

// NewPhoneTokenService creates a phone-token service. logger may be nil.
func NewPhoneTokenService(tickets *otp.TicketStore, logger *slog.Logger) (*PhoneTokenService, error) {
	if tickets == nil {
		return nil, oops.Code("PHONE_TOKEN_INVALID").Errorf("ticket store cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PhoneTokenService{tickets: tickets, logger: logger}, nil
}

// SetMetrics wires an outcome recorder. Without one, redemptions are not
// counted.
func (s *PhoneTokenService) SetMetrics(m Metrics) {
	s.metrics = m
}

func (s *PhoneTokenService) recordRedemption(success bool) {
	if s.metrics != nil {
		s.metrics.RecordTicketRedemption(phoneTokenProtocol, success)
	}
}

// phoneTokenKey builds the ticket key for a phone+token pair. The token is
// part of the key, so several outstanding links for one phone do not clobber
// each other.
func phoneTokenKey(phone, token string) string {
	return phone + ":" + token
}

// Issue generates a token for phone and stores its ticket. The token is
// returned for embedding in an out-of-band link; delivery is the caller's
// concern.
func (s *PhoneTokenService) Issue(ctx context.Context, phone string) (string, error) {
	if phone == "" {
		return "", oops.Code("PHONE_TOKEN_INVALID").Errorf("phone cannot be empty")
	}

	token, err := otp.GenerateCode()
	if err != nil {
		return "", oops.Code("PHONE_TOKEN_ISSUE_FAILED").
			With("operation", "generate token").
			Wrap(err)
	}

	ticket, err := otp.NewTicket(phone, token, nil)
	if err != nil {
		return "", err
	}
	if err := s.tickets.Issue(ctx, phoneTokenKey(phone, token), ticket); err != nil {
		return "", oops.Code("PHONE_TOKEN_ISSUE_FAILED").
			With("operation", "issue ticket").
			Wrap(err)
	}

	s.logger.Info("phone token issued", "phone", phone)
	return token, nil
}

// Redeem validates and deletes the ticket in one step. A wrong phone, wrong
// token, expired, or already-redeemed ticket all fail with one generic
// validation error.
func (s *PhoneTokenService) Redeem(ctx context.Context, phone, token string) error {
	_, err := s.tickets.Redeem(ctx, phoneTokenKey(phone, token), phone, token)
	if err != nil {
		if errors.Is(err, otp.ErrInvalidCode) {
			s.recordRedemption(false)
			return oops.Code("INVALID_VERIFICATION_CODE").
				Wrapf(otp.ErrInvalidCode, "Confirmation failed.")
		}
		return err
	}

	s.recordRedemption(true)
	s.logger.Info("phone token redeemed", "phone", phone)
	return nil
}
