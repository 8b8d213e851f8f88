// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Turnstile Contributors

//go:build integration

package postgres_test

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/turnstile/turnstile/internal/auth"
	"github.com/turnstile/turnstile/internal/auth/postgres"
)

func newTestAccount(username string) *auth.Account {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &auth.Account{
		ID:           ulid.Make(),
		Username:     username,
		PasswordHash: "$argon2id$v=19$m=8,t=1,p=1$c2FsdHNhbHQ$aGFzaA",
		SessionToken: "token-" + username,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

var _ = Describe("AccountRepository", func() {
	var (
		ctx  context.Context
		repo *postgres.AccountRepository
	)

	BeforeEach(func() {
		ctx = context.Background()
		repo = postgres.NewAccountRepository(testPool)
		_, err := testPool.Exec(ctx, `DELETE FROM accounts`)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Create", func() {
		It("stores every field", func() {
			account := newTestAccount("alice")
			account.IsAdministrator = true
			Expect(repo.Create(ctx, account)).To(Succeed())

			got, err := repo.GetByID(ctx, account.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Username).To(Equal("alice"))
			Expect(got.PasswordHash).To(Equal(account.PasswordHash))
			Expect(got.SessionToken).To(Equal(account.SessionToken))
			Expect(got.IsAdministrator).To(BeTrue())
			Expect(got.CreatedAt).To(BeTemporally("==", account.CreatedAt))
		})

		It("rejects a duplicate username", func() {
			Expect(repo.Create(ctx, newTestAccount("bob"))).To(Succeed())

			err := repo.Create(ctx, newTestAccount("bob"))
			Expect(err).To(MatchError(auth.ErrDuplicateUsername))
		})
	})

	Describe("GetByUsername", func() {
		It("finds an exact match", func() {
			account := newTestAccount("carol")
			Expect(repo.Create(ctx, account)).To(Succeed())

			got, err := repo.GetByUsername(ctx, "carol")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID).To(Equal(account.ID))
		})

		It("returns ErrNotFound for unknown usernames", func() {
			_, err := repo.GetByUsername(ctx, "nobody")
			Expect(err).To(MatchError(auth.ErrNotFound))
		})
	})

	Describe("GetByID", func() {
		It("returns ErrNotFound for unknown ids", func() {
			_, err := repo.GetByID(ctx, ulid.Make())
			Expect(err).To(MatchError(auth.ErrNotFound))
		})
	})

	Describe("Update", func() {
		It("persists mutated fields", func() {
			account := newTestAccount("dave")
			Expect(repo.Create(ctx, account)).To(Succeed())

			account.Username = "david"
			account.SessionToken = "rotated"
			account.UpdatedAt = time.Now().UTC().Truncate(time.Microsecond)
			Expect(repo.Update(ctx, account)).To(Succeed())

			got, err := repo.GetByID(ctx, account.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Username).To(Equal("david"))
			Expect(got.SessionToken).To(Equal("rotated"))

			_, err = repo.GetByUsername(ctx, "dave")
			Expect(err).To(MatchError(auth.ErrNotFound))
		})

		It("refuses to take another account's username", func() {
			Expect(repo.Create(ctx, newTestAccount("erin"))).To(Succeed())
			frank := newTestAccount("frank")
			Expect(repo.Create(ctx, frank)).To(Succeed())

			frank.Username = "erin"
			Expect(repo.Update(ctx, frank)).To(MatchError(auth.ErrDuplicateUsername))
		})

		It("returns ErrNotFound for a missing account", func() {
			Expect(repo.Update(ctx, newTestAccount("ghost"))).To(MatchError(auth.ErrNotFound))
		})
	})
})
