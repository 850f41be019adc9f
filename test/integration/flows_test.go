// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AllClear Contributors

//go:build integration

package integration_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/allcleardev/allclear-service/internal/auth"
	"github.com/allcleardev/allclear-service/internal/session"
)

var _ = Describe("Registration flow", func() {
	var ctx context.Context
	var env *testEnv

	const phone = "+12015550100"

	BeforeEach(func() {
		ctx = context.Background()
		env = newTestEnv()
	})

	It("starts, confirms, and mints a registration session", func() {
		code, err := env.registration.Start(ctx, phone, boolPtr(true), nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(code).NotTo(BeEmpty())
		Expect(env.sender.codes[phone]).To(Equal(code))

		rec, err := env.registration.Confirm(ctx, phone, code)
		Expect(err).NotTo(HaveOccurred())
		Expect(rec.Kind).To(Equal(session.KindRegistration))
		Expect(rec.Registration.Phone).To(Equal(phone))
		Expect(rec.Registration.BeenTested).To(BeTrue())
		Expect(rec.Registration.HaveSymptoms).To(BeFalse())

		// The session round-trips through the store.
		stored, err := env.sessions.Get(ctx, rec.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.Registration.Phone).To(Equal(phone))
	})

	It("consumes the code exactly once", func() {
		code, err := env.registration.Start(ctx, phone, nil, nil)
		Expect(err).NotTo(HaveOccurred())

		_, err = env.registration.Confirm(ctx, phone, code)
		Expect(err).NotTo(HaveOccurred())

		_, err = env.registration.Confirm(ctx, phone, code)
		Expect(err).To(MatchError(ContainSubstring("The supplied code is invalid.")))
	})

	It("lets Request inspect the ticket without consuming it", func() {
		code, err := env.registration.Start(ctx, phone, nil, nil)
		Expect(err).NotTo(HaveOccurred())

		rec, err := env.registration.Request(ctx, phone, code)
		Expect(err).NotTo(HaveOccurred())
		Expect(rec).NotTo(BeNil())

		// Mismatch is a nil result, not an error.
		miss, err := env.registration.Request(ctx, phone, "WRONGCODE1")
		Expect(err).NotTo(HaveOccurred())
		Expect(miss).To(BeNil())

		// Confirm still works afterwards.
		_, err = env.registration.Confirm(ctx, phone, code)
		Expect(err).NotTo(HaveOccurred())
	})

	It("promotes a registration session preserving its id", func() {
		code, err := env.registration.Start(ctx, phone, nil, nil)
		Expect(err).NotTo(HaveOccurred())
		rec, err := env.registration.Confirm(ctx, phone, code)
		Expect(err).NotTo(HaveOccurred())

		sessionCtx := session.WithCurrent(ctx, rec)
		promoted, err := env.sessions.Promote(sessionCtx, session.Person{
			ID:    "person-1",
			Phone: phone,
			Name:  "Kim",
		}, true)
		Expect(err).NotTo(HaveOccurred())
		Expect(promoted.ID).To(Equal(rec.ID))
		Expect(promoted.Kind).To(Equal(session.KindPerson))
		Expect(promoted.Duration).To(Equal(session.LongDuration))

		stored, err := env.sessions.Get(ctx, rec.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.Kind).To(Equal(session.KindPerson))
		Expect(stored.Person.ID).To(Equal("person-1"))
	})
})

var _ = Describe("Phone token login", func() {
	var ctx context.Context
	var env *testEnv

	const phone = "+12015550200"

	BeforeEach(func() {
		ctx = context.Background()
		env = newTestEnv()
	})

	It("issues and redeems a magic-link token once", func() {
		token, err := env.phoneTokens.Issue(ctx, phone)
		Expect(err).NotTo(HaveOccurred())

		Expect(env.phoneTokens.Redeem(ctx, phone, token)).To(Succeed())

		err = env.phoneTokens.Redeem(ctx, phone, token)
		Expect(err).To(MatchError(ContainSubstring("Confirmation failed.")))
	})

	It("keeps tokens for different phones independent", func() {
		other := "+12015550201"
		token, err := env.phoneTokens.Issue(ctx, phone)
		Expect(err).NotTo(HaveOccurred())

		Expect(env.phoneTokens.Redeem(ctx, other, token)).NotTo(Succeed())
		Expect(env.phoneTokens.Redeem(ctx, phone, token)).To(Succeed())
	})
})

var _ = Describe("Credential login", func() {
	var ctx context.Context
	var env *testEnv

	BeforeEach(func() {
		ctx = context.Background()
		env = newTestEnv()
		env.directory.accounts["kim"] = &auth.Account{
			ID:           "person-1",
			Kind:         auth.AccountPerson,
			Identifier:   "kim",
			Phone:        "+12015550300",
			Name:         "Kim",
			Salt:         99,
			PasswordHash: env.hasher.Hash(99, "correct horse"),
		}
	})

	It("mints a person session for valid credentials", func() {
		rec, err := env.authService.Login(ctx, "kim", "correct horse", false, auth.LoginOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(rec.Kind).To(Equal(session.KindPerson))
		Expect(rec.Person.ID).To(Equal("person-1"))

		stored, err := env.sessions.Get(ctx, rec.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.Person.Name).To(Equal("Kim"))
	})

	It("rejects bad passwords and unknown users identically", func() {
		_, badPass := env.authService.Login(ctx, "kim", "wrong", false, auth.LoginOptions{})
		_, unknown := env.authService.Login(ctx, "nobody", "wrong", false, auth.LoginOptions{})

		Expect(badPass).To(MatchError(ContainSubstring("Invalid credentials")))
		Expect(unknown).To(MatchError(ContainSubstring("Invalid credentials")))
		Expect(badPass.Error()).To(Equal(unknown.Error()))
	})

	It("walks the forced password change flow", func() {
		env.directory.accounts["kim"].MustChangePassword = true

		_, err := env.authService.Login(ctx, "kim", "correct horse", false, auth.LoginOptions{})
		Expect(err).To(MatchError(ContainSubstring("Please change your password")))

		rec, err := env.authService.Login(ctx, "kim", "correct horse", false, auth.LoginOptions{
			NewPassword:     "better horse 9",
			ConfirmPassword: "better horse 9",
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(rec.Kind).To(Equal(session.KindPerson))

		// The new password is live immediately.
		_, err = env.authService.Login(ctx, "kim", "better horse 9", false, auth.LoginOptions{})
		Expect(err).NotTo(HaveOccurred())

		_, err = env.authService.Login(ctx, "kim", "correct horse", false, auth.LoginOptions{})
		Expect(err).To(MatchError(ContainSubstring("Invalid credentials")))
	})
})

var _ = Describe("Session lifecycle", func() {
	var ctx context.Context
	var env *testEnv

	BeforeEach(func() {
		ctx = context.Background()
		env = newTestEnv()
	})

	It("slides expiration forward on every read", func() {
		rec, err := env.sessions.CreatePerson(ctx, session.Person{ID: "p1"}, false)
		Expect(err).NotTo(HaveOccurred())

		first, err := env.sessions.Get(ctx, rec.ID)
		Expect(err).NotTo(HaveOccurred())

		second, err := env.sessions.Get(ctx, rec.ID)
		Expect(err).NotTo(HaveOccurred())

		Expect(second.LastAccessedAt.After(first.LastAccessedAt)).To(BeTrue())
		Expect(second.ExpiresAt).To(Equal(second.LastAccessedAt.Add(second.Duration)))
	})

	It("treats removed sessions as not authenticated", func() {
		rec, err := env.sessions.CreatePerson(ctx, session.Person{ID: "p1"}, false)
		Expect(err).NotTo(HaveOccurred())

		Expect(env.sessions.Remove(ctx, rec.ID)).To(Succeed())

		_, err = env.sessions.Get(ctx, rec.ID)
		Expect(err).To(MatchError(session.ErrNotAuthenticated))

		// Removal is idempotent.
		Expect(env.sessions.Remove(ctx, rec.ID)).To(Succeed())
	})

	It("reports readiness from the backing store", func() {
		Expect(env.sessions.Ready(ctx)).To(BeTrue())
	})
})

func boolPtr(b bool) *bool { return &b }
