// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Turnstile Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/turnstile/turnstile/pkg/errutil"
)

const tracerName = "github.com/turnstile/turnstile/internal/auth"

// CookieJar is the per-request view of the session cookie. The transport
// layer implements it; Service never sees HTTP types.
type CookieJar interface {
	// SessionCookie returns the cookie value and whether one was presented.
	SessionCookie() (string, bool)

	// SetSessionCookie instructs the client to store value.
	SetSessionCookie(value string) error

	// ClearSessionCookie instructs the client to drop its cookie.
	ClearSessionCookie() error
}

// OperationRecorder observes the outcome of every Service operation.
type OperationRecorder func(operation, outcome string)

// LoginRequest carries Login credentials.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// EditProfileRequest carries the replacement username and password.
type EditProfileRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// CreateAccountRequest carries the fields of a new account.
type CreateAccountRequest struct {
	Username      string `json:"username"`
	Password      string `json:"password"`
	Administrator bool   `json:"administrator"`
}

// LogoutResult reports whether the client was told to clear its cookie.
type LogoutResult struct {
	ClearStore bool `json:"clearStore"`
}

// ResetTokenResult reports whether the session token was rotated.
type ResetTokenResult struct {
	Updated bool `json:"updated"`
}

// Service implements the account and session workflow.
//
// Concurrent EditProfile/ResetToken calls on the same account are
// last-writer-wins; each repository Update is atomic but no read-modify-write
// transaction spans the lookup and the write.
type Service struct {
	accounts        AccountRepository
	hasher          PasswordHasher
	cookies         CookieCodec
	logger          *slog.Logger
	tracer          trace.Tracer
	record          OperationRecorder
	adminOnlyCreate bool
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger used for operation outcomes.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithOperationRecorder sets a callback invoked once per operation.
func WithOperationRecorder(r OperationRecorder) Option {
	return func(s *Service) {
		s.record = r
	}
}

// WithAdminOnlyCreate restricts CreateAccount to callers whose session
// cookie belongs to an administrator.
func WithAdminOnlyCreate() Option {
	return func(s *Service) {
		s.adminOnlyCreate = true
	}
}

// NewService creates a Service. All three collaborators are required.
func NewService(accounts AccountRepository, hasher PasswordHasher, cookies CookieCodec, opts ...Option) (*Service, error) {
	if accounts == nil {
		return nil, oops.Code(CodeInvalidDependencies).Errorf("accounts repository is required")
	}
	if hasher == nil {
		return nil, oops.Code(CodeInvalidDependencies).Errorf("password hasher is required")
	}
	if cookies == nil {
		return nil, oops.Code(CodeInvalidDependencies).Errorf("cookie codec is required")
	}

	s := &Service{
		accounts: accounts,
		hasher:   hasher,
		cookies:  cookies,
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// LoginStatus reports whether the request carries a session cookie.
// It does not decode or validate the cookie.
func (s *Service) LoginStatus(jar CookieJar) bool {
	_, ok := jar.SessionCookie()
	s.finish("login_status", nil)
	return ok
}

// CurrentUser returns the account named by the session cookie.
func (s *Service) CurrentUser(ctx context.Context, jar CookieJar) (profile *Profile, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.CurrentUser")
	defer func() { s.end(span, "current_user", err) }()

	account, err := s.sessionAccount(ctx, jar)
	if err != nil {
		return nil, err
	}
	return account.Profile(), nil
}

// EditProfile replaces the username and password of the session's account.
// Uniqueness of the new username is left to the repository.
func (s *Service) EditProfile(ctx context.Context, jar CookieJar, req EditProfileRequest) (profile *Profile, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.EditProfile")
	defer func() { s.end(span, "edit_profile", err) }()

	account, err := s.sessionAccount(ctx, jar)
	if err != nil {
		return nil, err
	}
	if err := requireFields(req.Username, req.Password); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(ctx, req.Password)
	if err != nil {
		return nil, oops.Code(CodeHashFailed).With("operation", "hash new password").Wrap(errutil.Opaque(err))
	}

	previous := account.Username
	account.Username = req.Username
	account.PasswordHash = hash
	account.Touch()

	if err := s.update(ctx, account); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "profile updated",
		"account_id", account.ID.String(),
		"previous_username", previous,
		"username", account.Username)
	return account.Profile(), nil
}

// Login verifies credentials and sets the session cookie.
func (s *Service) Login(ctx context.Context, jar CookieJar, req LoginRequest) (profile *Profile, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.Login")
	defer func() { s.end(span, "login", err) }()

	if _, ok := jar.SessionCookie(); ok {
		return nil, oops.Code(CodeAlreadyAuthenticated).Errorf("already logged in")
	}
	if err := requireFields(req.Username, req.Password); err != nil {
		return nil, err
	}

	account, err := s.accounts.GetByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code(CodeAccountNotFound).
				With("username", req.Username).
				Errorf("user %q was not found", req.Username)
		}
		return nil, oops.Code(CodeLookupFailed).
			With("operation", "get account by username").
			Wrap(errutil.Opaque(err))
	}

	valid, err := s.hasher.Verify(ctx, req.Password, account.PasswordHash)
	if err != nil {
		return nil, oops.Code(CodeHashFailed).
			With("operation", "verify password").
			With("account_id", account.ID.String()).
			Wrap(errutil.Opaque(err))
	}
	if !valid {
		s.logger.InfoContext(ctx, "login rejected", "username", req.Username)
		return nil, oops.Code(CodeInvalidCredentials).Errorf("wrong credentials")
	}

	value, err := s.cookies.Encode(account.ID)
	if err != nil {
		return nil, oops.Code(CodeCookieWriteFailed).With("operation", "encode session cookie").Wrap(errutil.Opaque(err))
	}
	if err := jar.SetSessionCookie(value); err != nil {
		return nil, oops.Code(CodeCookieWriteFailed).With("operation", "set session cookie").Wrap(errutil.Opaque(err))
	}

	span.SetAttributes(attribute.String("account.id", account.ID.String()))
	s.logger.InfoContext(ctx, "login succeeded",
		"account_id", account.ID.String(),
		"username", account.Username)
	return account.Profile(), nil
}

// Logout clears the session cookie. A failure to clear is reported through
// LogoutResult.ClearStore rather than as an error.
func (s *Service) Logout(ctx context.Context, jar CookieJar) (result LogoutResult, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.Logout")
	defer func() { s.end(span, "logout", err) }()

	if _, ok := jar.SessionCookie(); !ok {
		return LogoutResult{}, notAuthenticated()
	}

	if clearErr := jar.ClearSessionCookie(); clearErr != nil {
		s.logger.WarnContext(ctx, "failed to clear session cookie", "error", clearErr)
		return LogoutResult{ClearStore: false}, nil
	}
	return LogoutResult{ClearStore: true}, nil
}

// ResetToken assigns a fresh session token to the session's account.
// The presented session cookie stays valid.
func (s *Service) ResetToken(ctx context.Context, jar CookieJar) (result ResetTokenResult, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.ResetToken")
	defer func() { s.end(span, "reset_token", err) }()

	account, err := s.sessionAccount(ctx, jar)
	if err != nil {
		return ResetTokenResult{}, err
	}

	token, err := NewSessionToken()
	if err != nil {
		return ResetTokenResult{}, err
	}
	account.SessionToken = token
	account.Touch()

	if err := s.update(ctx, account); err != nil {
		return ResetTokenResult{}, err
	}

	s.logger.InfoContext(ctx, "session token reset", "account_id", account.ID.String())
	return ResetTokenResult{Updated: true}, nil
}

// CreateAccount registers a new account. Unless the service was built with
// WithAdminOnlyCreate, any caller may create any account, including
// administrators.
func (s *Service) CreateAccount(ctx context.Context, jar CookieJar, req CreateAccountRequest) (profile *Profile, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.CreateAccount")
	defer func() { s.end(span, "create_account", err) }()

	if s.adminOnlyCreate {
		if err := s.requireAdministrator(ctx, jar); err != nil {
			return nil, err
		}
	}
	if err := requireFields(req.Username, req.Password); err != nil {
		return nil, err
	}

	_, err = s.accounts.GetByUsername(ctx, req.Username)
	switch {
	case err == nil:
		return nil, duplicateUsername(req.Username)
	case !errors.Is(err, ErrNotFound):
		return nil, oops.Code(CodeCreationFailed).
			With("operation", "check username").
			With("username", req.Username).
			Wrap(errutil.Opaque(err))
	}

	hash, err := s.hasher.Hash(ctx, req.Password)
	if err != nil {
		return nil, oops.Code(CodeCreationFailed).With("operation", "hash password").Wrap(errutil.Opaque(err))
	}
	token, err := NewSessionToken()
	if err != nil {
		return nil, oops.Code(CodeCreationFailed).With("operation", "generate session token").Wrap(errutil.Opaque(err))
	}

	account, err := NewAccount(req.Username, hash, token, req.Administrator)
	if err != nil {
		return nil, oops.Code(CodeCreationFailed).With("operation", "build account").Wrap(errutil.Opaque(err))
	}

	if err := s.accounts.Create(ctx, account); err != nil {
		// The pre-check can race with a concurrent create; the repository decides.
		if errors.Is(err, ErrDuplicateUsername) {
			return nil, duplicateUsername(req.Username)
		}
		return nil, oops.Code(CodeCreationFailed).
			With("operation", "persist account").
			With("username", req.Username).
			Wrapf(errutil.Opaque(err), "could not create user")
	}

	s.logger.InfoContext(ctx, "account created",
		"account_id", account.ID.String(),
		"username", account.Username,
		"administrator", account.IsAdministrator)
	return account.Profile(), nil
}

// sessionAccount decodes the session cookie and loads its account.
func (s *Service) sessionAccount(ctx context.Context, jar CookieJar) (*Account, error) {
	value, ok := jar.SessionCookie()
	if !ok {
		return nil, notAuthenticated()
	}

	id, err := s.cookies.Decode(value)
	if err != nil {
		return nil, err
	}

	account, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code(CodeAccountNotFound).
				With("account_id", id.String()).
				Errorf("user doesn't exist")
		}
		return nil, oops.Code(CodeLookupFailed).
			With("operation", "get account by id").
			With("account_id", id.String()).
			Wrap(errutil.Opaque(err))
	}
	return account, nil
}

func (s *Service) requireAdministrator(ctx context.Context, jar CookieJar) error {
	caller, err := s.sessionAccount(ctx, jar)
	if err != nil {
		return err
	}
	if !caller.IsAdministrator {
		return oops.Code(CodeNotAuthorized).
			With("account_id", caller.ID.String()).
			Errorf("administrator privileges required")
	}
	return nil
}

func (s *Service) update(ctx context.Context, account *Account) error {
	if err := s.accounts.Update(ctx, account); err != nil {
		if errors.Is(err, ErrDuplicateUsername) {
			return duplicateUsername(account.Username)
		}
		if errors.Is(err, ErrNotFound) {
			return oops.Code(CodeAccountNotFound).
				With("account_id", account.ID.String()).
				Errorf("user doesn't exist")
		}
		return oops.Code(CodeUpdateFailed).
			With("operation", "update account").
			With("account_id", account.ID.String()).
			Wrap(errutil.Opaque(err))
	}
	return nil
}

func (s *Service) end(span trace.Span, operation string, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, operation+" failed")
	}
	span.End()
	s.finish(operation, err)
}

func (s *Service) finish(operation string, err error) {
	if s.record == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = errutil.Code(err)
		if outcome == "" {
			outcome = "error"
		}
	}
	s.record(operation, outcome)
}

func requireFields(username, password string) error {
	if username == "" {
		return oops.Code(CodeMissingField).With("field", "username").Errorf("missing username")
	}
	if password == "" {
		return oops.Code(CodeMissingField).With("field", "password").Errorf("missing password")
	}
	return nil
}

func notAuthenticated() error {
	return oops.Code(CodeNotAuthenticated).Errorf("not logged in")
}

func duplicateUsername(username string) error {
	return oops.Code(CodeDuplicateUsername).
		With("username", username).
		Errorf("user exists already")
}
