// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Turnstile Contributors

// Package memory provides an in-process auth.AccountRepository.
package memory

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/turnstile/turnstile/internal/auth"
)

// AccountRepository keeps accounts in maps guarded by a single mutex.
// Stored accounts are copied on the way in and out, so callers can mutate
// what they receive without touching the stored record.
type AccountRepository struct {
	mu         sync.RWMutex
	byID       map[ulid.ULID]*auth.Account
	byUsername map[string]ulid.ULID
}

// NewAccountRepository creates an empty repository.
func NewAccountRepository() *AccountRepository {
	return &AccountRepository{
		byID:       make(map[ulid.ULID]*auth.Account),
		byUsername: make(map[string]ulid.ULID),
	}
}

// GetByID retrieves an account by ID.
func (r *AccountRepository) GetByID(_ context.Context, id ulid.ULID) (*auth.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	account, ok := r.byID[id]
	if !ok {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return clone(account), nil
}

// GetByUsername retrieves an account by exact username.
func (r *AccountRepository) GetByUsername(_ context.Context, username string) (*auth.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byUsername[username]
	if !ok {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("username", username).
			Wrap(auth.ErrNotFound)
	}
	return clone(r.byID[id]), nil
}

// Create stores a new account.
func (r *AccountRepository) Create(_ context.Context, account *auth.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byUsername[account.Username]; taken {
		return oops.Code("ACCOUNT_DUPLICATE_USERNAME").
			With("username", account.Username).
			Wrap(auth.ErrDuplicateUsername)
	}
	if _, exists := r.byID[account.ID]; exists {
		return oops.Code("ACCOUNT_CREATE_FAILED").
			With("id", account.ID.String()).
			Errorf("account id already exists")
	}

	r.byID[account.ID] = clone(account)
	r.byUsername[account.Username] = account.ID
	return nil
}

// Update replaces the stored account with the same ID.
func (r *AccountRepository) Update(_ context.Context, account *auth.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.byID[account.ID]
	if !ok {
		return oops.Code("ACCOUNT_NOT_FOUND").
			With("id", account.ID.String()).
			Wrap(auth.ErrNotFound)
	}
	if owner, taken := r.byUsername[account.Username]; taken && owner != account.ID {
		return oops.Code("ACCOUNT_DUPLICATE_USERNAME").
			With("username", account.Username).
			Wrap(auth.ErrDuplicateUsername)
	}

	if existing.Username != account.Username {
		delete(r.byUsername, existing.Username)
		r.byUsername[account.Username] = account.ID
	}
	r.byID[account.ID] = clone(account)
	return nil
}

// Len returns the number of stored accounts.
func (r *AccountRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func clone(a *auth.Account) *auth.Account {
	c := *a
	return &c
}

// Compile-time interface check.
var _ auth.AccountRepository = (*AccountRepository)(nil)
