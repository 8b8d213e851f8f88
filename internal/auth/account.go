// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Turnstile Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Account represents a persisted user identity.
type Account struct {
	ID              ulid.ULID
	Username        string
	PasswordHash    string
	SessionToken    string
	IsAdministrator bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewAccount creates a validated Account with a fresh ID.
// passwordHash and sessionToken must already be derived by the caller.
func NewAccount(username, passwordHash, sessionToken string, administrator bool) (*Account, error) {
	if username == "" {
		return nil, oops.Code("ACCOUNT_INVALID_USERNAME").Errorf("username cannot be empty")
	}
	if passwordHash == "" {
		return nil, oops.Code("ACCOUNT_INVALID_HASH").Errorf("password hash cannot be empty")
	}
	if sessionToken == "" {
		return nil, oops.Code("ACCOUNT_INVALID_TOKEN").Errorf("session token cannot be empty")
	}

	now := time.Now().UTC()
	return &Account{
		ID:              ulid.Make(),
		Username:        username,
		PasswordHash:    passwordHash,
		SessionToken:    sessionToken,
		IsAdministrator: administrator,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// Touch bumps UpdatedAt after a mutation.
func (a *Account) Touch() {
	a.UpdatedAt = time.Now().UTC()
}

// Profile is the outward view of an Account. It has no password field, so
// a hash can never be serialized through it.
type Profile struct {
	ID            ulid.ULID `json:"id"`
	Username      string    `json:"username"`
	Token         string    `json:"token"`
	Administrator bool      `json:"administrator"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Profile projects the account into its redacted outward view.
func (a *Account) Profile() *Profile {
	return &Profile{
		ID:            a.ID,
		Username:      a.Username,
		Token:         a.SessionToken,
		Administrator: a.IsAdministrator,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

// AccountRepository manages account persistence.
//
// Implementations wrap ErrNotFound when no account matches and
// ErrDuplicateUsername when a write would give two accounts the same
// username. The repository, not the caller, is the authority on uniqueness.
type AccountRepository interface {
	// GetByID retrieves an account by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*Account, error)

	// GetByUsername retrieves an account by exact username.
	GetByUsername(ctx context.Context, username string) (*Account, error)

	// Create stores a new account.
	Create(ctx context.Context, account *Account) error

	// Update persists the mutable fields of an existing account atomically.
	Update(ctx context.Context, account *Account) error
}
