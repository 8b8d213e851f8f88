// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Turnstile Contributors

package auth

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// SessionTokenBytes is the entropy of a per-account session token.
const SessionTokenBytes = 32 // 32 bytes = 64 hex chars

// MinSigningKeyLen is the shortest HMAC key SignedCookieCodec accepts.
const MinSigningKeyLen = 32

// NewSessionToken creates a cryptographically random session token.
func NewSessionToken() (string, error) {
	b := make([]byte, SessionTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", oops.Code(CodeTokenFailed).
			With("operation", "crypto/rand.Read").
			With("requested_bytes", SessionTokenBytes).
			Wrap(err)
	}
	return hex.EncodeToString(b), nil
}

// CookieCodec converts an account ID to and from a session cookie value.
type CookieCodec interface {
	// Encode produces the cookie value for an account.
	Encode(id ulid.ULID) (string, error)

	// Decode recovers the account ID. Values that do not decode to a
	// well-formed ID fail with SESSION_MALFORMED_COOKIE.
	Decode(value string) (ulid.ULID, error)
}

func malformedCookie(err error) error {
	return oops.Code(CodeMalformedCookie).Wrap(err)
}

// Base64CookieCodec encodes the account ID as URL-safe base64. It is
// reversible and carries no integrity check: any well-formed value decodes,
// and only the repository lookup decides whether it names a real account.
type Base64CookieCodec struct{}

// Encode returns base64(id).
func (Base64CookieCodec) Encode(id ulid.ULID) (string, error) {
	return base64.RawURLEncoding.EncodeToString([]byte(id.String())), nil
}

// Decode parses base64(id).
func (Base64CookieCodec) Decode(value string) (ulid.ULID, error) {
	if value == "" {
		return ulid.ULID{}, malformedCookie(errors.New("empty cookie"))
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(value, "="))
	if err != nil {
		return ulid.ULID{}, malformedCookie(err)
	}
	id, err := ulid.ParseStrict(string(raw))
	if err != nil {
		return ulid.ULID{}, malformedCookie(err)
	}
	return id, nil
}

// SignedCookieCodec issues HS256-signed JWTs whose subject is the account ID.
// A forged or altered value fails Decode before any repository lookup.
type SignedCookieCodec struct {
	key    []byte
	maxAge time.Duration
	now    func() time.Time
}

// NewSignedCookieCodec creates a codec keyed with key. A zero maxAge issues
// cookies without an expiry claim.
func NewSignedCookieCodec(key []byte, maxAge time.Duration) (*SignedCookieCodec, error) {
	if len(key) < MinSigningKeyLen {
		return nil, oops.Code("SESSION_INVALID_KEY").
			With("min_length", MinSigningKeyLen).
			Errorf("signing key must be at least %d bytes", MinSigningKeyLen)
	}
	return &SignedCookieCodec{key: key, maxAge: maxAge, now: time.Now}, nil
}

// Encode signs a token for id.
func (c *SignedCookieCodec) Encode(id ulid.ULID) (string, error) {
	now := c.now()
	claims := jwt.RegisteredClaims{
		Subject:  id.String(),
		IssuedAt: jwt.NewNumericDate(now),
	}
	if c.maxAge > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(c.maxAge))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
	if err != nil {
		return "", oops.Code("SESSION_SIGN_FAILED").Wrap(err)
	}
	return signed, nil
}

// Decode verifies the signature and expiry, then parses the subject.
func (c *SignedCookieCodec) Decode(value string) (ulid.ULID, error) {
	if value == "" {
		return ulid.ULID{}, malformedCookie(errors.New("empty cookie"))
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(value, claims, func(*jwt.Token) (any, error) {
		return c.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return ulid.ULID{}, malformedCookie(err)
	}

	id, err := ulid.ParseStrict(claims.Subject)
	if err != nil {
		return ulid.ULID{}, malformedCookie(err)
	}
	return id, nil
}

// Compile-time interface checks.
var (
	_ CookieCodec = Base64CookieCodec{}
	_ CookieCodec = (*SignedCookieCodec)(nil)
)
