// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Turnstile Contributors

// Package api exposes the account and session workflow over HTTP+JSON.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/samber/oops"

	"github.com/turnstile/turnstile/internal/auth"
	"github.com/turnstile/turnstile/pkg/errutil"
)

// MaxBodyBytes caps request bodies.
const MaxBodyBytes = 1 << 20

// RequestRecorder observes every completed API request.
type RequestRecorder func(route string, status int)

// LoginStatusResponse is the body of GET /api/user/login-status.
type LoginStatusResponse struct {
	User bool `json:"user"`
}

// Handler serves the /api/user routes.
type Handler struct {
	svc      *auth.Service
	cookies  CookieSettings
	logger   *slog.Logger
	recorder RequestRecorder
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithRequestRecorder sets a callback invoked once per request.
func WithRequestRecorder(r RequestRecorder) Option {
	return func(h *Handler) {
		h.recorder = r
	}
}

// NewHandler creates a Handler for svc.
func NewHandler(svc *auth.Service, cookies CookieSettings, opts ...Option) (*Handler, error) {
	if svc == nil {
		return nil, oops.Code("API_INVALID_DEPENDENCIES").Errorf("auth service is required")
	}
	if cookies.Name == "" {
		return nil, oops.Code("API_INVALID_DEPENDENCIES").Errorf("cookie name is required")
	}

	h := &Handler{
		svc:     svc,
		cookies: cookies,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Routes returns the API mux.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	h.handle(mux, "GET /api/user/login-status", h.loginStatus)
	h.handle(mux, "GET /api/user", h.currentUser)
	h.handle(mux, "PATCH /api/user", h.editProfile)
	h.handle(mux, "POST /api/user/login", h.login)
	h.handle(mux, "POST /api/user/logout", h.logout)
	h.handle(mux, "POST /api/user/reset-token", h.resetToken)
	h.handle(mux, "POST /api/user/create", h.createAccount)
	return mux
}

// apiFunc handles one request and returns the success body or an error.
type apiFunc func(w http.ResponseWriter, r *http.Request, jar *cookieJar) (any, error)

func (h *Handler) handle(mux *http.ServeMux, route string, fn apiFunc) {
	mux.Handle(route, h.instrument(route, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jar := &cookieJar{r: r, w: w, settings: h.cookies}
		body, err := fn(w, r, jar)
		if err != nil {
			h.writeError(r.Context(), w, route, err)
			return
		}
		h.writeJSON(r.Context(), w, http.StatusOK, body)
	})))
}

func (h *Handler) loginStatus(_ http.ResponseWriter, _ *http.Request, jar *cookieJar) (any, error) {
	return LoginStatusResponse{User: h.svc.LoginStatus(jar)}, nil
}

func (h *Handler) currentUser(_ http.ResponseWriter, r *http.Request, jar *cookieJar) (any, error) {
	return h.svc.CurrentUser(r.Context(), jar)
}

func (h *Handler) editProfile(w http.ResponseWriter, r *http.Request, jar *cookieJar) (any, error) {
	var req auth.EditProfileRequest
	if err := decodeBody(w, r, &req); err != nil {
		return nil, err
	}
	return h.svc.EditProfile(r.Context(), jar, req)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request, jar *cookieJar) (any, error) {
	var req auth.LoginRequest
	if err := decodeBody(w, r, &req); err != nil {
		return nil, err
	}
	return h.svc.Login(r.Context(), jar, req)
}

func (h *Handler) logout(_ http.ResponseWriter, r *http.Request, jar *cookieJar) (any, error) {
	return h.svc.Logout(r.Context(), jar)
}

func (h *Handler) resetToken(_ http.ResponseWriter, r *http.Request, jar *cookieJar) (any, error) {
	return h.svc.ResetToken(r.Context(), jar)
}

func (h *Handler) createAccount(w http.ResponseWriter, r *http.Request, jar *cookieJar) (any, error) {
	var req auth.CreateAccountRequest
	if err := decodeBody(w, r, &req); err != nil {
		return nil, err
	}
	return h.svc.CreateAccount(r.Context(), jar, req)
}

// decodeBody reads a JSON object of at most MaxBodyBytes into dst. An empty
// body leaves dst zeroed so the service reports the missing fields.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return oops.Code(CodeInvalidBody).With("limit", tooLarge.Limit).Wrap(err)
		}
		return oops.Code(CodeInvalidBody).Wrap(err)
	}
	if dec.More() {
		return oops.Code(CodeInvalidBody).Errorf("trailing data after JSON object")
	}
	return nil
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, route string, err error) {
	status, body := resolve(errutil.Code(err))
	if status >= http.StatusInternalServerError {
		errutil.LogErrorContext(ctx, h.logger, "request failed", err)
	} else {
		h.logger.DebugContext(ctx, "request rejected",
			"route", route,
			"code", body.Error.Code,
			"error", err.Error())
	}
	h.writeJSON(ctx, w, status, body)
}

func (h *Handler) writeJSON(ctx context.Context, w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.WarnContext(ctx, "failed to write response", "error", err)
	}
}
