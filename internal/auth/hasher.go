// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Turnstile Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
	"golang.org/x/sync/semaphore"
)

// OWASP-recommended argon2id parameters.
const (
	argon2Time    = 1         // iterations
	argon2Memory  = 64 * 1024 // 64 MB
	argon2Threads = 4         // parallelism
	argon2SaltLen = 16        // salt length in bytes
	argon2KeyLen  = 32        // output length in bytes
)

// Upper bounds on the cost read back from a stored hash.
const (
	maxArgon2Time   = 64
	maxArgon2Memory = 4 * 1024 * 1024 // 4 GiB in KiB
)

// ErrEmptyPassword is returned when attempting to hash an empty password.
var ErrEmptyPassword = oops.Code(CodeEmptyPassword).Errorf("password cannot be empty")

// PasswordHasher provides password hashing and verification.
type PasswordHasher interface {
	// Hash produces a salted one-way hash of the password.
	Hash(ctx context.Context, password string) (string, error)

	// Verify checks if the password matches the hash.
	// Returns (true, nil) on match, (false, nil) on mismatch, or error on invalid hash.
	Verify(ctx context.Context, password, hash string) (bool, error)
}

// Argon2Params are the cost parameters used when producing new hashes.
// Verification always uses the parameters encoded in the stored hash.
type Argon2Params struct {
	Time    uint32
	Memory  uint32
	Threads uint8
}

// DefaultArgon2Params returns the production cost parameters.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{Time: argon2Time, Memory: argon2Memory, Threads: argon2Threads}
}

// Argon2idHasher implements PasswordHasher using argon2id.
type Argon2idHasher struct {
	params Argon2Params
}

// NewArgon2idHasher creates a new Argon2idHasher with default parameters.
func NewArgon2idHasher() *Argon2idHasher {
	return &Argon2idHasher{params: DefaultArgon2Params()}
}

// NewArgon2idHasherWithParams creates an Argon2idHasher with custom cost
// parameters. Tests use cheap parameters to keep runs fast.
func NewArgon2idHasherWithParams(params Argon2Params) *Argon2idHasher {
	return &Argon2idHasher{params: params}
}

// Hash produces an argon2id hash of the password.
func (h *Argon2idHasher) Hash(_ context.Context, password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.Code("AUTH_SALT_FAILED").Wrap(err)
	}

	key := argon2.IDKey([]byte(password), salt, h.params.Time, h.params.Memory, h.params.Threads, argon2KeyLen)

	// PHC string format: $argon2id$v=19$m=65536,t=1,p=4$<salt>$<key>
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.Memory,
		h.params.Time,
		h.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify checks if the password matches the hash.
func (h *Argon2idHasher) Verify(_ context.Context, password, encodedHash string) (bool, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 {
		return false, oops.Code(CodeInvalidHash).Errorf("invalid hash format")
	}

	if parts[1] != "argon2id" {
		return false, oops.Code(CodeInvalidHash).Errorf("unsupported hash algorithm: %s", parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, oops.Code(CodeInvalidHash).Wrap(err)
	}
	if version != argon2.Version {
		return false, oops.Code(CodeInvalidHash).Errorf("unsupported argon2 version: %d", version)
	}

	var memory, iterations, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return false, oops.Code(CodeInvalidHash).Wrap(err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, oops.Code(CodeInvalidHash).Wrap(err)
	}

	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, oops.Code(CodeInvalidHash).Wrap(err)
	}

	// threads must fit in uint8 without truncation
	if threads == 0 || threads > 255 {
		return false, oops.Code(CodeInvalidHash).Errorf("invalid threads value %d", threads)
	}
	if iterations == 0 || iterations > maxArgon2Time {
		return false, oops.Code(CodeInvalidHash).Errorf("invalid iterations value %d", iterations)
	}
	// argon2 needs at least 8 KiB per lane
	if memory < 8*threads || memory > maxArgon2Memory {
		return false, oops.Code(CodeInvalidHash).Errorf("invalid memory value %d", memory)
	}

	keyLen := len(expected)
	if keyLen <= 0 || keyLen > 1<<30 {
		return false, oops.Code(CodeInvalidHash).Errorf("invalid hash key length: %d", keyLen)
	}

	computed := argon2.IDKey([]byte(password), salt, iterations, memory, uint8(threads), uint32(keyLen))

	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}

// HashObserver receives the wall time of every hash or verify call.
type HashObserver func(op string, elapsed time.Duration)

// BoundedHasher limits how many hash computations run at once.
// Argon2 reserves Memory KiB per call, so unbounded concurrency under a
// login burst translates directly into memory pressure.
type BoundedHasher struct {
	inner    PasswordHasher
	sem      *semaphore.Weighted
	observer HashObserver
}

// NewBoundedHasher wraps inner so that at most maxConcurrent calls execute
// simultaneously. Callers beyond the limit wait until a slot frees up or
// their context is cancelled. A nil observer is allowed.
func NewBoundedHasher(inner PasswordHasher, maxConcurrent int64, observer HashObserver) *BoundedHasher {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &BoundedHasher{
		inner:    inner,
		sem:      semaphore.NewWeighted(maxConcurrent),
		observer: observer,
	}
}

// Hash acquires a slot and delegates to the wrapped hasher.
func (b *BoundedHasher) Hash(ctx context.Context, password string) (string, error) {
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return "", oops.Code(CodeHashFailed).With("operation", "acquire hash slot").Wrap(err)
	}
	defer b.sem.Release(1)

	start := time.Now()
	hash, err := b.inner.Hash(ctx, password)
	b.observe("hash", start)
	return hash, err
}

// Verify acquires a slot and delegates to the wrapped hasher.
func (b *BoundedHasher) Verify(ctx context.Context, password, hash string) (bool, error) {
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return false, oops.Code(CodeHashFailed).With("operation", "acquire verify slot").Wrap(err)
	}
	defer b.sem.Release(1)

	start := time.Now()
	ok, err := b.inner.Verify(ctx, password, hash)
	b.observe("verify", start)
	return ok, err
}

func (b *BoundedHasher) observe(op string, start time.Time) {
	if b.observer != nil {
		b.observer(op, time.Since(start))
	}
}

// Compile-time interface checks.
var (
	_ PasswordHasher = (*Argon2idHasher)(nil)
	_ PasswordHasher = (*BoundedHasher)(nil)
)
