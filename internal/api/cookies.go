// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Turnstile Contributors

package api

import (
	"net/http"
	"time"

	"github.com/samber/oops"

	"github.com/turnstile/turnstile/internal/auth"
)

// CookieSettings describes the session cookie the API issues.
type CookieSettings struct {
	Name   string
	Secure bool
	// MaxAge of zero issues a browser-session cookie.
	MaxAge time.Duration
}

// cookieJar adapts one request/response pair to auth.CookieJar.
type cookieJar struct {
	r        *http.Request
	w        http.ResponseWriter
	settings CookieSettings
}

// SessionCookie returns the presented cookie. An empty value counts as absent.
func (j *cookieJar) SessionCookie() (string, bool) {
	c, err := j.r.Cookie(j.settings.Name)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

// SetSessionCookie adds a Set-Cookie header carrying value.
func (j *cookieJar) SetSessionCookie(value string) error {
	c := j.cookie(value)
	if j.settings.MaxAge > 0 {
		c.MaxAge = int(j.settings.MaxAge / time.Second)
		c.Expires = time.Now().Add(j.settings.MaxAge).UTC()
	}
	return j.set(c)
}

// ClearSessionCookie adds a Set-Cookie header that expires the cookie.
func (j *cookieJar) ClearSessionCookie() error {
	c := j.cookie("")
	c.MaxAge = -1
	c.Expires = time.Unix(0, 0).UTC()
	return j.set(c)
}

func (j *cookieJar) cookie(value string) *http.Cookie {
	return &http.Cookie{
		Name:     j.settings.Name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   j.settings.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (j *cookieJar) set(c *http.Cookie) error {
	if err := c.Valid(); err != nil {
		return oops.Code("SESSION_COOKIE_INVALID").With("cookie_name", c.Name).Wrap(err)
	}
	http.SetCookie(j.w, c)
	return nil
}

var _ auth.CookieJar = (*cookieJar)(nil)
