// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Turnstile Contributors

// Package mocks provides test doubles for the auth package interfaces.
package mocks

import (
	"context"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/mock"

	"github.com/turnstile/turnstile/internal/auth"
)

// MockAccountRepository is a testify mock of auth.AccountRepository.
type MockAccountRepository struct {
	mock.Mock
}

// NewMockAccountRepository creates a mock that asserts its expectations on cleanup.
func NewMockAccountRepository(t interface {
	mock.TestingT
	Cleanup(func())
},
) *MockAccountRepository {
	m := &MockAccountRepository{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// GetByID implements auth.AccountRepository.
func (m *MockAccountRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	args := m.Called(ctx, id)
	account, _ := args.Get(0).(*auth.Account)
	return account, args.Error(1)
}

// GetByUsername implements auth.AccountRepository.
func (m *MockAccountRepository) GetByUsername(ctx context.Context, username string) (*auth.Account, error) {
	args := m.Called(ctx, username)
	account, _ := args.Get(0).(*auth.Account)
	return account, args.Error(1)
}

// Create implements auth.AccountRepository.
func (m *MockAccountRepository) Create(ctx context.Context, account *auth.Account) error {
	return m.Called(ctx, account).Error(0)
}

// Update implements auth.AccountRepository.
func (m *MockAccountRepository) Update(ctx context.Context, account *auth.Account) error {
	return m.Called(ctx, account).Error(0)
}

// MockPasswordHasher is a testify mock of auth.PasswordHasher.
type MockPasswordHasher struct {
	mock.Mock
}

// NewMockPasswordHasher creates a mock that asserts its expectations on cleanup.
func NewMockPasswordHasher(t interface {
	mock.TestingT
	Cleanup(func())
},
) *MockPasswordHasher {
	m := &MockPasswordHasher{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Hash implements auth.PasswordHasher.
func (m *MockPasswordHasher) Hash(ctx context.Context, password string) (string, error) {
	args := m.Called(ctx, password)
	return args.String(0), args.Error(1)
}

// Verify implements auth.PasswordHasher.
func (m *MockPasswordHasher) Verify(ctx context.Context, password, hash string) (bool, error) {
	args := m.Called(ctx, password, hash)
	return args.Bool(0), args.Error(1)
}

// Jar is an in-memory auth.CookieJar. Set SetErr or ClearErr to make the
// corresponding write fail.
type Jar struct {
	Value    string
	Present  bool
	SetErr   error
	ClearErr error
	Cleared  bool
}

// NewJar returns a jar holding value, or an empty jar if value is "".
func NewJar(value string) *Jar {
	return &Jar{Value: value, Present: value != ""}
}

// SessionCookie implements auth.CookieJar.
func (j *Jar) SessionCookie() (string, bool) {
	return j.Value, j.Present
}

// SetSessionCookie implements auth.CookieJar.
func (j *Jar) SetSessionCookie(value string) error {
	if j.SetErr != nil {
		return j.SetErr
	}
	j.Value = value
	j.Present = true
	return nil
}

// ClearSessionCookie implements auth.CookieJar.
func (j *Jar) ClearSessionCookie() error {
	if j.ClearErr != nil {
		return j.ClearErr
	}
	j.Value = ""
	j.Present = false
	j.Cleared = true
	return nil
}

// Verify interfaces are satisfied.
var (
	_ auth.AccountRepository = (*MockAccountRepository)(nil)
	_ auth.PasswordHasher    = (*MockPasswordHasher)(nil)
	_ auth.CookieJar         = (*Jar)(nil)
)
