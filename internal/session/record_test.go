// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AllClear Contributors

package session_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allcleardev/allclear-service/internal/session"
)

func TestGenerateID(t *testing.T) {
	t.Run("generates well-formed handles", func(t *testing.T) {
		id, err := session.GenerateID()
		require.NoError(t, err)
		assert.Len(t, id, 64) // 32 bytes hex-encoded
		assert.True(t, session.ValidID(id))
	})

	t.Run("generates unique handles", func(t *testing.T) {
		id1, err := session.GenerateID()
		require.NoError(t, err)
		id2, err := session.GenerateID()
		require.NoError(t, err)
		assert.NotEqual(t, id1, id2)
	})
}

func TestValidID(t *testing.T) {
	valid, err := session.GenerateID()
	require.NoError(t, err)

	tests := []struct {
		name string
		id   string
		want bool
	}{
		{"generated handle", valid, true},
		{"empty", "", false},
		{"too short", "abc123", false},
		{"uppercase hex", "ABCDEF0123456789ABCDEF0123456789ABCDEF0123456789ABCDEF0123456789", false},
		{"non-hex characters", "zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz", false},
		{"65 chars", valid + "a", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, session.ValidID(tt.id))
		})
	}
}

func TestNewRegistrationRecord(t *testing.T) {
	t.Run("creates short-lived registration session", func(t *testing.T) {
		rec, err := session.NewRegistrationRecord(session.Registration{Phone: "+12015550000"})
		require.NoError(t, err)

		assert.Equal(t, session.KindRegistration, rec.Kind)
		require.NotNil(t, rec.Registration)
		assert.Equal(t, "+12015550000", rec.Registration.Phone)
		assert.False(t, rec.Registration.BeenTested)
		assert.False(t, rec.Registration.HaveSymptoms)
		assert.Equal(t, session.ShortDuration, rec.Duration)
		assert.False(t, rec.RememberMe)
		assert.True(t, session.ValidID(rec.ID))
		assert.Equal(t, rec.CreatedAt, rec.LastAccessedAt)
		assert.Equal(t, rec.LastAccessedAt.Add(rec.Duration), rec.ExpiresAt)
	})

	t.Run("rejects empty phone", func(t *testing.T) {
		_, err := session.NewRegistrationRecord(session.Registration{})
		assert.Error(t, err)
	})
}

func TestNewPersonRecord(t *testing.T) {
	t.Run("remember me selects the long duration class", func(t *testing.T) {
		rec, err := session.NewPersonRecord(session.Person{ID: "abc123"}, true)
		require.NoError(t, err)

		assert.Equal(t, session.KindPerson, rec.Kind)
		assert.Equal(t, session.LongDuration, rec.Duration)
		assert.True(t, rec.RememberMe)
		assert.Equal(t, 30*24*time.Hour, rec.Duration)
	})

	t.Run("default duration is short", func(t *testing.T) {
		rec, err := session.NewPersonRecord(session.Person{ID: "abc123"}, false)
		require.NoError(t, err)
		assert.Equal(t, session.ShortDuration, rec.Duration)
	})

	t.Run("rejects empty person ID", func(t *testing.T) {
		_, err := session.NewPersonRecord(session.Person{}, false)
		assert.Error(t, err)
	})
}

func TestNewInternalActorRecords(t *testing.T) {
	t.Run("admin", func(t *testing.T) {
		rec, err := session.NewAdminRecord(session.Admin{ID: "adm1", Email: "ops@allclear.app"}, false)
		require.NoError(t, err)
		assert.Equal(t, session.KindAdmin, rec.Kind)
		assert.True(t, rec.Kind.InternalActor())
		require.NotNil(t, rec.Admin)
		assert.Nil(t, rec.Person)
	})

	t.Run("customer", func(t *testing.T) {
		rec, err := session.NewCustomerRecord(session.Customer{ID: "cus1"}, true)
		require.NoError(t, err)
		assert.Equal(t, session.KindCustomer, rec.Kind)
		assert.True(t, rec.Kind.InternalActor())
	})

	t.Run("person and registration are not internal actors", func(t *testing.T) {
		assert.False(t, session.KindPerson.InternalActor())
		assert.False(t, session.KindRegistration.InternalActor())
	})
}

func TestRecord_Validate(t *testing.T) {
	id, err := session.GenerateID()
	require.NoError(t, err)

	t.Run("rejects two payloads", func(t *testing.T) {
		rec := &session.Record{
			ID:           id,
			Kind:         session.KindPerson,
			Person:       &session.Person{ID: "p1"},
			Registration: &session.Registration{Phone: "+1"},
		}
		assert.Error(t, rec.Validate())
	})

	t.Run("rejects kind and payload disagreement", func(t *testing.T) {
		rec := &session.Record{
			ID:     id,
			Kind:   session.KindAdmin,
			Person: &session.Person{ID: "p1"},
		}
		assert.Error(t, rec.Validate())
	})

	t.Run("rejects malformed id", func(t *testing.T) {
		rec := &session.Record{
			ID:     "not-a-handle",
			Kind:   session.KindPerson,
			Person: &session.Person{ID: "p1"},
		}
		assert.Error(t, rec.Validate())
	})
}

func TestRecord_IsExpiredAt(t *testing.T) {
	baseTime := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := &session.Record{ExpiresAt: baseTime}

	assert.False(t, rec.IsExpiredAt(baseTime.Add(-time.Minute)))
	assert.False(t, rec.IsExpiredAt(baseTime))
	assert.True(t, rec.IsExpiredAt(baseTime.Add(time.Nanosecond)))
}

func TestDurationFor(t *testing.T) {
	assert.Equal(t, session.ShortDuration, session.DurationFor(false))
	assert.Equal(t, session.LongDuration, session.DurationFor(true))
	assert.Equal(t, float64(1800), session.ShortDuration.Seconds())
	assert.Equal(t, float64(2592000), session.LongDuration.Seconds())
}
