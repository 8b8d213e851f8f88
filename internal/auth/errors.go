// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Turnstile Contributors

package auth

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateUsername is returned by repositories when a username is already taken.
var ErrDuplicateUsername = errors.New("username already exists")

// Error codes surfaced to callers of Service. Each maps to a distinct,
// user-visible failure.
const (
	CodeNotAuthenticated     = "AUTH_NOT_AUTHENTICATED"
	CodeAlreadyAuthenticated = "AUTH_ALREADY_AUTHENTICATED"
	CodeNotAuthorized        = "AUTH_NOT_AUTHORIZED"
	CodeMissingField         = "AUTH_MISSING_FIELD"
	CodeInvalidCredentials   = "AUTH_INVALID_CREDENTIALS"
	CodeAccountNotFound      = "ACCOUNT_NOT_FOUND"
	CodeDuplicateUsername    = "ACCOUNT_DUPLICATE_USERNAME"
	CodeCreationFailed       = "ACCOUNT_CREATE_FAILED"
	CodeMalformedCookie      = "SESSION_MALFORMED_COOKIE"
)

// Internal failure codes. These indicate infrastructure faults rather than
// caller mistakes.
const (
	CodeLookupFailed        = "ACCOUNT_LOOKUP_FAILED"
	CodeUpdateFailed        = "ACCOUNT_UPDATE_FAILED"
	CodeHashFailed          = "AUTH_HASH_FAILED"
	CodeTokenFailed         = "SESSION_TOKEN_GENERATE_FAILED"
	CodeCookieWriteFailed   = "SESSION_COOKIE_WRITE_FAILED"
	CodeEmptyPassword       = "AUTH_EMPTY_PASSWORD"
	CodeInvalidHash         = "AUTH_INVALID_HASH"
	CodeInvalidDependencies = "AUTH_INVALID_DEPENDENCIES"
)
