// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Turnstile Contributors

// Package auth implements account identity and cookie-based sessions.
//
// # Domain Types
//
// Accounts should be created with NewAccount, which validates its inputs and
// assigns a fresh ULID. Direct struct initialization bypasses validation.
// Accounts leave the package only as a Profile, which has no password field.
//
// # Collaborators
//
// Service coordinates three replaceable collaborators:
//   - AccountRepository - persistence and username uniqueness
//   - PasswordHasher - argon2id password hashing (see NewBoundedHasher)
//   - CookieCodec - account ID to cookie value (Base64CookieCodec, SignedCookieCodec)
//
// The transport supplies a CookieJar per request; Service never sees HTTP types.
//
// # Errors
//
// Service operations return oops errors whose code identifies the failure
// kind (CodeNotAuthenticated, CodeInvalidCredentials, and so on). Callers
// map codes, not messages.
package auth
