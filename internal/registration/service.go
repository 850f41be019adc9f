// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AllClear Contributors

// Package registration manages the pre-authentication phase of onboarding:
// a visitor supplies a phone number and self-reported flags, receives a
// one-time code by SMS, and confirms it to obtain an anonymous registration
// session.
package registration

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/samber/oops"

	"github.com/allcleardev/allclear-service/internal/otp"
	"github.com/allcleardev/allclear-service/internal/session"
)

// KeyPrefix is the ticket namespace for registration confirmation codes.
const KeyPrefix = "reg:"

// CodeSender delivers a verification code out of band. SMS transport is an
// external collaborator; implementations must not log the code at info level
// in production.
type CodeSender interface {
	SendCode(ctx context.Context, phone, code string) error
}

// LogSender writes codes to the log instead of sending them. Dev mode only.
type LogSender struct {
	Logger *slog.Logger
}

// SendCode logs the code.
func (s LogSender) SendCode(_ context.Context, phone, code string) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("verification code issued", "phone", phone, "code", code)
	return nil
}

// Metrics counts confirmation outcomes. Implementations must be safe for
// concurrent use.
type Metrics interface {
	RecordRegistration(success bool)
	RecordTicketRedemption(protocol string, success bool)
}

// registrationProtocol labels registration redemptions on the shared counter.
const registrationProtocol = "registration"

// flags is the ticket payload stashed between Start and Confirm.
type flags struct {
	BeenTested   bool `json:"been_tested"`
	HaveSymptoms bool `json:"have_symptoms"`
}

// Service runs the registration state machine: Started -> Confirmed, with
// expiry reached passively by ticket TTL.
type Service struct {
	tickets  *otp.TicketStore
	sessions *session.Store
	sender   CodeSender
	logger   *slog.Logger
	metrics  Metrics
}

// NewService creates a registration service. logger may be nil.
func NewService(tickets *otp.TicketStore, sessions *session.Store, sender CodeSender, logger *slog.Logger) (*Service, error) {
	if tickets == nil {
		return nil, oops.Code("REGISTRATION_INVALID").Errorf("ticket store cannot be nil")
	}
	if sessions == nil {
		return nil, oops.Code("REGISTRATION_INVALID").Errorf("session store cannot be nil")
	}
	if sender == nil {
		return nil, oops.Code("REGISTRATION_INVALID").Errorf("code sender cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{tickets: tickets, sessions: sessions, sender: sender, logger: logger}, nil
}

// SetMetrics wires an outcome recorder. Without one, confirmations are not
// counted.
func (s *Service) SetMetrics(m Metrics) {
	s.metrics = m
}

func (s *Service) recordConfirm(success bool) {
	if s.metrics != nil {
		s.metrics.RecordRegistration(success)
		s.metrics.RecordTicketRedemption(registrationProtocol, success)
	}
}

// Start issues a fresh verification code for phone and sends it. The
// self-reported flags default to false when never answered. Restarting
// overwrites any live ticket, so only the most recent code is valid.
func (s *Service) Start(ctx context.Context, phone string, beenTested, haveSymptoms *bool) (string, error) {
	if phone == "" {
		return "", oops.Code("REGISTRATION_INVALID").Errorf("phone cannot be empty")
	}

	code, err := otp.GenerateCode()
	if err != nil {
		return "", oops.Code("REGISTRATION_START_FAILED").
			With("operation", "generate code").
			Wrap(err)
	}

	data, err := json.Marshal(flags{
		BeenTested:   beenTested != nil && *beenTested,
		HaveSymptoms: haveSymptoms != nil && *haveSymptoms,
	})
	if err != nil {
		return "", oops.Code("REGISTRATION_START_FAILED").
			With("operation", "marshal flags").
			Wrap(err)
	}

	ticket, err := otp.NewTicket(phone, code, data)
	if err != nil {
		return "", err
	}
	if err := s.tickets.Issue(ctx, phone, ticket); err != nil {
		return "", oops.Code("REGISTRATION_START_FAILED").
			With("operation", "issue ticket").
			Wrap(err)
	}

	if err := s.sender.SendCode(ctx, phone, code); err != nil {
		return "", oops.Code("REGISTRATION_SEND_FAILED").
			With("phone", phone).
			Wrap(err)
	}

	s.logger.Info("registration started", "phone", phone)
	return code, nil
}

// Confirm consumes the ticket for phone and creates a registration session
// carrying the stashed flags. A mismatched, consumed, or expired code fails
// with one generic validation error.
func (s *Service) Confirm(ctx context.Context, phone, code string) (*session.Record, error) {
	ticket, err := s.tickets.Redeem(ctx, phone, phone, code)
	if err != nil {
		if errors.Is(err, otp.ErrInvalidCode) {
			s.recordConfirm(false)
			return nil, oops.Code("INVALID_VERIFICATION_CODE").
				Wrapf(otp.ErrInvalidCode, "The supplied code is invalid.")
		}
		return nil, err
	}

	rec, err := s.createSession(ctx, phone, ticket)
	if err != nil {
		return nil, err
	}
	s.recordConfirm(true)
	return rec, nil
}

// Request is the non-throwing peek variant of Confirm for idempotent client
// polling. It returns (nil, nil) on any mismatch and does not consume the
// ticket on a match.
func (s *Service) Request(ctx context.Context, phone, code string) (*session.Record, error) {
	ticket, err := s.tickets.Peek(ctx, phone, phone, code)
	if err != nil {
		return nil, err
	}
	if ticket == nil {
		return nil, nil
	}

	return s.createSession(ctx, phone, ticket)
}

func (s *Service) createSession(ctx context.Context, phone string, ticket *otp.Ticket) (*session.Record, error) {
	var f flags
	if len(ticket.Data) > 0 {
		if err := json.Unmarshal(ticket.Data, &f); err != nil {
			return nil, oops.Code("REGISTRATION_CONFIRM_FAILED").
				With("operation", "unmarshal flags").
				Wrap(err)
		}
	}

	rec, err := s.sessions.CreateRegistration(ctx, session.Registration{
		Phone:        phone,
		BeenTested:   f.BeenTested,
		HaveSymptoms: f.HaveSymptoms,
	})
	if err != nil {
		return nil, oops.Code("REGISTRATION_CONFIRM_FAILED").
			With("operation", "create session").
			Wrap(err)
	}

	s.logger.Info("registration confirmed", "phone", phone, "session_id", rec.ID)
	return rec, nil
}
