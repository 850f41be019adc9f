// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AllClear Contributors

package session

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"
	"time"

	"github.com/samber/oops"
)

// Session duration classes. A session is either short-lived (the default) or
// long-lived ("remember me"); the class is fixed at creation and only changes
// across a promotion.
const (
	ShortDuration = 30 * time.Minute
	LongDuration  = 30 * 24 * time.Hour
)

// sessionIDBytes is the entropy of a session handle. 32 bytes = 64 hex chars.
const sessionIDBytes = 32

// sessionIDPattern matches well-formed session handles.
var sessionIDPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Kind identifies which payload a Record carries.
type Kind string

// Record kinds. Admin and Customer are both internal actors, as opposed to
// end-user Person sessions and anonymous Registration sessions.
const (
	KindRegistration Kind = "registration"
	KindPerson       Kind = "person"
	KindAdmin        Kind = "admin"
	KindCustomer     Kind = "customer"
)

// InternalActor reports whether the kind is an internal actor.
func (k Kind) InternalActor() bool {
	return k == KindAdmin || k == KindCustomer
}

// Registration is the payload of a not-yet-identified visitor mid-registration.
// The self-reported flags default to false when the visitor never answered.
type Registration struct {
	Phone        string `json:"phone"`
	BeenTested   bool   `json:"been_tested"`
	HaveSymptoms bool   `json:"have_symptoms"`
}

// Person is the payload of an authenticated end user. The value is supplied by
// the caller after domain validation; this package treats it as opaque beyond
// its identifiers.
type Person struct {
	ID    string `json:"id"`
	Phone string `json:"phone,omitempty"`
	Name  string `json:"name,omitempty"`
}

// Admin is the payload of an authenticated administrator.
type Admin struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

// Customer is the payload of an authenticated customer actor.
type Customer struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Record represents "who is acting", bound to an opaque handle. Exactly one
// payload field is populated, matching Kind; use the New*Record constructors
// rather than direct struct initialization.
type Record struct {
	ID   string `json:"id"`
	Kind Kind   `json:"kind"`

	Registration *Registration `json:"registration,omitempty"`
	Person       *Person       `json:"person,omitempty"`
	Admin        *Admin        `json:"admin,omitempty"`
	Customer     *Customer     `json:"customer,omitempty"`

	RememberMe     bool          `json:"remember_me"`
	Duration       time.Duration `json:"duration"`
	CreatedAt      time.Time     `json:"created_at"`
	LastAccessedAt time.Time     `json:"last_accessed_at"`
	ExpiresAt      time.Time     `json:"expires_at"`
}

// NewRegistrationRecord creates a short-lived anonymous registration session.
func NewRegistrationRecord(reg Registration) (*Record, error) {
	if reg.Phone == "" {
		return nil, oops.Code("SESSION_INVALID_PAYLOAD").Errorf("registration phone cannot be empty")
	}
	rec := blankRecord(KindRegistration, false)
	rec.Registration = &reg
	return finishRecord(rec)
}

// NewPersonRecord creates an authenticated end-user session.
func NewPersonRecord(p Person, rememberMe bool) (*Record, error) {
	if p.ID == "" {
		return nil, oops.Code("SESSION_INVALID_PAYLOAD").Errorf("person ID cannot be empty")
	}
	rec := blankRecord(KindPerson, rememberMe)
	rec.Person = &p
	return finishRecord(rec)
}

// NewAdminRecord creates an authenticated admin session.
func NewAdminRecord(a Admin, rememberMe bool) (*Record, error) {
	if a.ID == "" {
		return nil, oops.Code("SESSION_INVALID_PAYLOAD").Errorf("admin ID cannot be empty")
	}
	rec := blankRecord(KindAdmin, rememberMe)
	rec.Admin = &a
	return finishRecord(rec)
}

// NewCustomerRecord creates an authenticated customer session.
func NewCustomerRecord(c Customer, rememberMe bool) (*Record, error) {
	if c.ID == "" {
		return nil, oops.Code("SESSION_INVALID_PAYLOAD").Errorf("customer ID cannot be empty")
	}
	rec := blankRecord(KindCustomer, rememberMe)
	rec.Customer = &c
	return finishRecord(rec)
}

func blankRecord(kind Kind, rememberMe bool) *Record {
	now := time.Now()
	return &Record{
		Kind:           kind,
		RememberMe:     rememberMe,
		Duration:       DurationFor(rememberMe),
		CreatedAt:      now,
		LastAccessedAt: now,
		ExpiresAt:      now.Add(DurationFor(rememberMe)),
	}
}

func finishRecord(rec *Record) (*Record, error) {
	id, err := GenerateID()
	if err != nil {
		return nil, err
	}
	rec.ID = id
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}

// DurationFor returns the duration class for a remember-me choice.
func DurationFor(rememberMe bool) time.Duration {
	if rememberMe {
		return LongDuration
	}
	return ShortDuration
}

// Validate checks the tagged-union invariant: the kind and the single
// populated payload must agree.
func (r *Record) Validate() error {
	if !sessionIDPattern.MatchString(r.ID) {
		return oops.Code("SESSION_INVALID_ID").
			With("id", r.ID).
			Errorf("malformed session id")
	}

	populated := 0
	for _, set := range []bool{
		r.Registration != nil,
		r.Person != nil,
		r.Admin != nil,
		r.Customer != nil,
	} {
		if set {
			populated++
		}
	}
	if populated != 1 {
		return oops.Code("SESSION_INVALID_PAYLOAD").
			With("kind", string(r.Kind)).
			With("populated", populated).
			Errorf("record must carry exactly one payload")
	}

	var agrees bool
	switch r.Kind {
	case KindRegistration:
		agrees = r.Registration != nil
	case KindPerson:
		agrees = r.Person != nil
	case KindAdmin:
		agrees = r.Admin != nil
	case KindCustomer:
		agrees = r.Customer != nil
	}
	if !agrees {
		return oops.Code("SESSION_INVALID_PAYLOAD").
			With("kind", string(r.Kind)).
			Errorf("kind does not match populated payload")
	}
	return nil
}

// IsExpired returns true if the session has expired.
func (r *Record) IsExpired() bool {
	return r.IsExpiredAt(time.Now())
}

// IsExpiredAt returns true if the session would be expired at the given time.
// Useful for testing with deterministic time values.
func (r *Record) IsExpiredAt(t time.Time) bool {
	return t.After(r.ExpiresAt)
}

// touch slides the expiry window forward from now.
func (r *Record) touch(now time.Time) {
	r.LastAccessedAt = now
	r.ExpiresAt = now.Add(r.Duration)
}

// GenerateID creates a cryptographically secure session handle.
func GenerateID() (string, error) {
	b := make([]byte, sessionIDBytes)
	if _, err := rand.Read(b); err != nil {
		return "", oops.Code("SESSION_ID_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			Wrap(err)
	}
	return hex.EncodeToString(b), nil
}

// ValidID reports whether id is a well-formed session handle. A handle that
// fails this check can never have been issued by this service.
func ValidID(id string) bool {
	return sessionIDPattern.MatchString(id)
}
