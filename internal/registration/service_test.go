// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AllClear Contributors

package registration_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allcleardev/allclear-service/internal/kv"
	"github.com/allcleardev/allclear-service/internal/otp"
	"github.com/allcleardev/allclear-service/internal/registration"
	"github.com/allcleardev/allclear-service/internal/session"
)

// recordingSender captures sent codes for assertions.
type recordingSender struct {
	mu    sync.Mutex
	sent  map[string]string
	fail  bool
	calls int
}

func (s *recordingSender) SendCode(_ context.Context, phone, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fail {
		return errors.New("sms gateway rejected message")
	}
	if s.sent == nil {
		s.sent = make(map[string]string)
	}
	s.sent[phone] = code
	return nil
}

func newService(t *testing.T) (*registration.Service, *recordingSender) {
	t.Helper()

	mem := kv.NewMemoryStore()
	tickets, err := otp.NewTicketStore(mem, registration.KeyPrefix, 10*time.Minute)
	require.NoError(t, err)
	sessions, err := session.NewStore(mem, nil)
	require.NoError(t, err)

	sender := &recordingSender{}
	svc, err := registration.NewService(tickets, sessions, sender, nil)
	require.NoError(t, err)
	return svc, sender
}

func boolPtr(b bool) *bool { return &b }

// recordingMetrics captures confirmation outcome calls.
type recordingMetrics struct {
	registrations []bool
	redemptions   []string
}

func (m *recordingMetrics) RecordRegistration(success bool) {
	m.registrations = append(m.registrations, success)
}

func (m *recordingMetrics) RecordTicketRedemption(protocol string, success bool) {
	label := protocol + "/failure"
	if success {
		label = protocol + "/success"
	}
	m.redemptions = append(m.redemptions, label)
}

func TestService_Start(t *testing.T) {
	ctx := context.Background()

	t.Run("issues and sends a code", func(t *testing.T) {
		svc, sender := newService(t)

		code, err := svc.Start(ctx, "+12015550000", nil, nil)
		require.NoError(t, err)
		assert.Len(t, code, otp.CodeLength)
		assert.Equal(t, code, sender.sent["+12015550000"])
	})

	t.Run("rejects empty phone", func(t *testing.T) {
		svc, _ := newService(t)
		_, err := svc.Start(ctx, "", nil, nil)
		assert.Error(t, err)
	})

	t.Run("fails when the sender fails", func(t *testing.T) {
		svc, sender := newService(t)
		sender.fail = true
		_, err := svc.Start(ctx, "+12015550000", nil, nil)
		assert.Error(t, err)
	})
}

func TestService_Confirm(t *testing.T) {
	ctx := context.Background()
	phone := "+12015550000"

	t.Run("unanswered flags default to false", func(t *testing.T) {
		svc, _ := newService(t)

		code, err := svc.Start(ctx, phone, nil, nil)
		require.NoError(t, err)

		rec, err := svc.Confirm(ctx, phone, code)
		require.NoError(t, err)
		assert.Equal(t, session.KindRegistration, rec.Kind)
		require.NotNil(t, rec.Registration)
		assert.Equal(t, phone, rec.Registration.Phone)
		assert.False(t, rec.Registration.BeenTested)
		assert.False(t, rec.Registration.HaveSymptoms)
		assert.Equal(t, session.ShortDuration, rec.Duration)
	})

	t.Run("answered flags carry into the session", func(t *testing.T) {
		svc, _ := newService(t)

		code, err := svc.Start(ctx, phone, boolPtr(true), boolPtr(false))
		require.NoError(t, err)

		rec, err := svc.Confirm(ctx, phone, code)
		require.NoError(t, err)
		assert.True(t, rec.Registration.BeenTested)
		assert.False(t, rec.Registration.HaveSymptoms)
	})

	t.Run("second confirm with the same code fails", func(t *testing.T) {
		svc, _ := newService(t)

		code, err := svc.Start(ctx, phone, nil, nil)
		require.NoError(t, err)

		_, err = svc.Confirm(ctx, phone, code)
		require.NoError(t, err)

		_, err = svc.Confirm(ctx, phone, code)
		require.Error(t, err)
		assert.ErrorIs(t, err, otp.ErrInvalidCode)
		assert.Contains(t, err.Error(), "The supplied code is invalid.")
	})

	t.Run("wrong code fails with the generic message", func(t *testing.T) {
		svc, _ := newService(t)

		_, err := svc.Start(ctx, phone, nil, nil)
		require.NoError(t, err)

		_, err = svc.Confirm(ctx, phone, "WRONGCODE1")
		require.Error(t, err)
		assert.ErrorIs(t, err, otp.ErrInvalidCode)
		assert.Contains(t, err.Error(), "The supplied code is invalid.")
	})

	t.Run("restart invalidates the previous code", func(t *testing.T) {
		svc, _ := newService(t)

		first, err := svc.Start(ctx, phone, nil, nil)
		require.NoError(t, err)
		second, err := svc.Start(ctx, phone, nil, nil)
		require.NoError(t, err)

		_, err = svc.Confirm(ctx, phone, first)
		assert.ErrorIs(t, err, otp.ErrInvalidCode)

		_, err = svc.Confirm(ctx, phone, second)
		assert.NoError(t, err)
	})

	t.Run("counts confirmation outcomes", func(t *testing.T) {
		svc, _ := newService(t)
		metrics := &recordingMetrics{}
		svc.SetMetrics(metrics)

		code, err := svc.Start(ctx, phone, nil, nil)
		require.NoError(t, err)

		_, err = svc.Confirm(ctx, phone, "WRONGCODE1")
		require.Error(t, err)

		_, err = svc.Confirm(ctx, phone, code)
		require.NoError(t, err)

		assert.Equal(t, []bool{false, true}, metrics.registrations)
		assert.Equal(t, []string{"registration/failure", "registration/success"}, metrics.redemptions)
	})

	t.Run("concurrent confirms produce exactly one session", func(t *testing.T) {
		svc, _ := newService(t)

		code, err := svc.Start(ctx, phone, nil, nil)
		require.NoError(t, err)

		const callers = 8
		var wg sync.WaitGroup
		outcomes := make(chan error, callers)

		for range callers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, confirmErr := svc.Confirm(ctx, phone, code)
				outcomes <- confirmErr
			}()
		}
		wg.Wait()
		close(outcomes)

		wins := 0
		for err := range outcomes {
			if err == nil {
				wins++
			} else {
				assert.ErrorIs(t, err, otp.ErrInvalidCode)
			}
		}
		assert.Equal(t, 1, wins)
	})
}

func TestService_Request(t *testing.T) {
	ctx := context.Background()
	phone := "+12015550000"

	t.Run("mismatch returns nothing without error", func(t *testing.T) {
		svc, _ := newService(t)

		_, err := svc.Start(ctx, phone, nil, nil)
		require.NoError(t, err)

		rec, err := svc.Request(ctx, phone, "WRONGCODE1")
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("match returns a session without consuming the ticket", func(t *testing.T) {
		svc, _ := newService(t)

		code, err := svc.Start(ctx, phone, boolPtr(true), nil)
		require.NoError(t, err)

		rec, err := svc.Request(ctx, phone, code)
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.True(t, rec.Registration.BeenTested)

		// The ticket survives the peek, so a confirm still works.
		confirmed, err := svc.Confirm(ctx, phone, code)
		require.NoError(t, err)
		assert.NotNil(t, confirmed)
	})
}
