// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Turnstile Contributors

package memory_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turnstile/turnstile/internal/auth"
	"github.com/turnstile/turnstile/internal/auth/memory"
)

func newAccount(t *testing.T, username string) *auth.Account {
	t.Helper()
	account, err := auth.NewAccount(username, "hash-"+username, "token-"+username, false)
	require.NoError(t, err)
	return account
}

func TestAccountRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewAccountRepository()
	alice := newAccount(t, "alice")

	require.NoError(t, repo.Create(ctx, alice))

	byID, err := repo.GetByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, alice, byID)

	byName, err := repo.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, byName.ID)

	_, err = repo.GetByUsername(ctx, "Alice")
	assert.ErrorIs(t, err, auth.ErrNotFound, "usernames match exactly")

	_, err = repo.GetByID(ctx, ulid.Make())
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestAccountRepository_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewAccountRepository()
	alice := newAccount(t, "alice")
	require.NoError(t, repo.Create(ctx, alice))

	alice.Username = "mutated"
	got, err := repo.GetByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)

	got.PasswordHash = "mutated"
	again, err := repo.GetByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "hash-alice", again.PasswordHash)
}

func TestAccountRepository_Create_Duplicate(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewAccountRepository()
	require.NoError(t, repo.Create(ctx, newAccount(t, "alice")))

	err := repo.Create(ctx, newAccount(t, "alice"))
	assert.ErrorIs(t, err, auth.ErrDuplicateUsername)
	assert.Equal(t, 1, repo.Len())
}

func TestAccountRepository_Update(t *testing.T) {
	ctx := context.Background()

	t.Run("renames and frees the old username", func(t *testing.T) {
		repo := memory.NewAccountRepository()
		alice := newAccount(t, "alice")
		require.NoError(t, repo.Create(ctx, alice))

		alice.Username = "alicia"
		require.NoError(t, repo.Update(ctx, alice))

		_, err := repo.GetByUsername(ctx, "alice")
		assert.ErrorIs(t, err, auth.ErrNotFound)
		got, err := repo.GetByUsername(ctx, "alicia")
		require.NoError(t, err)
		assert.Equal(t, alice.ID, got.ID)

		require.NoError(t, repo.Create(ctx, newAccount(t, "alice")))
	})

	t.Run("rejects another account's username", func(t *testing.T) {
		repo := memory.NewAccountRepository()
		alice := newAccount(t, "alice")
		bob := newAccount(t, "bob")
		require.NoError(t, repo.Create(ctx, alice))
		require.NoError(t, repo.Create(ctx, bob))

		bob.Username = "alice"
		assert.ErrorIs(t, repo.Update(ctx, bob), auth.ErrDuplicateUsername)

		got, err := repo.GetByID(ctx, bob.ID)
		require.NoError(t, err)
		assert.Equal(t, "bob", got.Username)
	})

	t.Run("unknown account", func(t *testing.T) {
		repo := memory.NewAccountRepository()
		assert.ErrorIs(t, repo.Update(ctx, newAccount(t, "ghost")), auth.ErrNotFound)
	})
}

func TestAccountRepository_ConcurrentCreatesKeepUsernamesUnique(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewAccountRepository()

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			account, err := auth.NewAccount("shared", fmt.Sprintf("hash-%d", i), "tok", false)
			if !assert.NoError(t, err) {
				return
			}
			if repo.Create(ctx, account) == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, repo.Len())
}
