// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Turnstile Contributors

package api_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/turnstile/turnstile/internal/api"
	"github.com/turnstile/turnstile/internal/auth"
	"github.com/turnstile/turnstile/internal/auth/memory"
	"github.com/turnstile/turnstile/internal/auth/postgres"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const cookieName = "turnstile_session"

type fixture struct {
	handler http.Handler
	repo    *memory.AccountRepository

	mu       sync.Mutex
	requests map[string]int
}

type fixtureOptions struct {
	adminOnly bool
	plain     bool
}

func newFixture(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()

	var codec auth.CookieCodec = auth.Base64CookieCodec{}
	if !opts.plain {
		signed, err := auth.NewSignedCookieCodec([]byte(strings.Repeat("k", auth.MinSigningKeyLen)), time.Hour)
		require.NoError(t, err)
		codec = signed
	}

	var svcOpts []auth.Option
	if opts.adminOnly {
		svcOpts = append(svcOpts, auth.WithAdminOnlyCreate())
	}

	repo := memory.NewAccountRepository()
	hasher := auth.NewArgon2idHasherWithParams(auth.Argon2Params{Time: 1, Memory: 8 * 1024, Threads: 1})
	svc, err := auth.NewService(repo, hasher, codec, svcOpts...)
	require.NoError(t, err)

	f := &fixture{repo: repo, requests: make(map[string]int)}
	h, err := api.NewHandler(svc, api.CookieSettings{Name: cookieName, MaxAge: time.Hour},
		api.WithRequestRecorder(func(route string, status int) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.requests[route+" "+http.StatusText(status)]++
		}))
	require.NoError(t, err)
	f.handler = h.Routes()
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) createAndLogin(t *testing.T, username, password string) *http.Cookie {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/user/create",
		`{"username":"`+username+`","password":"`+password+`"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/user/login",
		`{"username":"`+username+`","password":"`+password+`"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return sessionCookie(t, rec)
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == cookieName {
			return c
		}
	}
	t.Fatalf("no %s cookie in response", cookieName)
	return nil
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func assertError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	assert.Equal(t, status, rec.Code, rec.Body.String())
	body := decode[api.ErrorBody](t, rec)
	assert.Equal(t, code, body.Error.Code)
	assert.NotEmpty(t, body.Error.Message)
}

func TestNewHandler_Validation(t *testing.T) {
	_, err := api.NewHandler(nil, api.CookieSettings{Name: cookieName})
	assert.Error(t, err)
}

func TestLoginStatus(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	rec := f.do(t, http.MethodGet, "/api/user/login-status", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[api.LoginStatusResponse](t, rec).User)

	rec = f.do(t, http.MethodGet, "/api/user/login-status", "", &http.Cookie{Name: cookieName, Value: "anything"})
	assert.True(t, decode[api.LoginStatusResponse](t, rec).User)

	rec = f.do(t, http.MethodGet, "/api/user/login-status", "", &http.Cookie{Name: cookieName, Value: ""})
	assert.False(t, decode[api.LoginStatusResponse](t, rec).User, "empty cookie counts as absent")
}

func TestLogin(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	rec := f.do(t, http.MethodPost, "/api/user/create", `{"username":"alice","password":"pw"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	t.Run("sets an http-only session cookie", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/user/login", `{"username":"alice","password":"pw"}`, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		cookie := sessionCookie(t, rec)
		assert.True(t, cookie.HttpOnly)
		assert.Equal(t, "/", cookie.Path)
		assert.Equal(t, 3600, cookie.MaxAge)

		profile := decode[map[string]any](t, rec)
		assert.Equal(t, "alice", profile["username"])
		assert.NotContains(t, profile, "password")
		assert.NotContains(t, rec.Body.String(), "$argon2id$")
	})

	tests := []struct {
		name   string
		body   string
		cookie *http.Cookie
		status int
		code   string
	}{
		{"already logged in", `{"username":"alice","password":"pw"}`, &http.Cookie{Name: cookieName, Value: "x"}, http.StatusConflict, auth.CodeAlreadyAuthenticated},
		{"missing password", `{"username":"alice"}`, nil, http.StatusBadRequest, auth.CodeMissingField},
		{"empty body", "", nil, http.StatusBadRequest, auth.CodeMissingField},
		{"unknown user", `{"username":"bob","password":"pw"}`, nil, http.StatusNotFound, auth.CodeAccountNotFound},
		{"wrong password", `{"username":"alice","password":"nope"}`, nil, http.StatusUnauthorized, auth.CodeInvalidCredentials},
		{"not json", `username=alice`, nil, http.StatusBadRequest, api.CodeInvalidBody},
		{"trailing data", `{"username":"alice","password":"pw"} {}`, nil, http.StatusBadRequest, api.CodeInvalidBody},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/user/login", tt.body, tt.cookie)
			assertError(t, rec, tt.status, tt.code)
			assert.Empty(t, rec.Result().Cookies())
		})
	}
}

func TestOversizedBody(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	big := `{"username":"` + strings.Repeat("a", api.MaxBodyBytes) + `","password":"pw"}`

	rec := f.do(t, http.MethodPost, "/api/user/create", big, nil)
	assertError(t, rec, http.StatusBadRequest, api.CodeInvalidBody)
	assert.Equal(t, 0, f.repo.Len())
}

func TestCurrentUserAndEditProfile(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	cookie := f.createAndLogin(t, "alice", "pw")

	rec := f.do(t, http.MethodGet, "/api/user", "", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode[auth.Profile](t, rec)
	assert.Equal(t, "alice", me.Username)
	assert.NotEmpty(t, me.Token)

	rec = f.do(t, http.MethodPatch, "/api/user", `{"username":"alicia","password":"pw2"}`, cookie)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "alicia", decode[auth.Profile](t, rec).Username)

	rec = f.do(t, http.MethodPatch, "/api/user", `{"username":"alicia"}`, cookie)
	assertError(t, rec, http.StatusBadRequest, auth.CodeMissingField)

	rec = f.do(t, http.MethodGet, "/api/user", "", nil)
	assertError(t, rec, http.StatusUnauthorized, auth.CodeNotAuthenticated)

	rec = f.do(t, http.MethodGet, "/api/user", "", &http.Cookie{Name: cookieName, Value: "forged"})
	assertError(t, rec, http.StatusUnauthorized, auth.CodeMalformedCookie)
}

func TestEditProfile_DuplicateUsername(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.createAndLogin(t, "alice", "pw")
	bob := f.createAndLogin(t, "bob", "pw")

	rec := f.do(t, http.MethodPatch, "/api/user", `{"username":"alice","password":"pw"}`, bob)
	assertError(t, rec, http.StatusConflict, auth.CodeDuplicateUsername)
}

func TestPlainCookieForUnknownAccount(t *testing.T) {
	f := newFixture(t, fixtureOptions{plain: true})
	value, err := auth.Base64CookieCodec{}.Encode(mustAccount(t).ID)
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/api/user", "", &http.Cookie{Name: cookieName, Value: value})
	assertError(t, rec, http.StatusNotFound, auth.CodeAccountNotFound)
}

func mustAccount(t *testing.T) *auth.Account {
	t.Helper()
	a, err := auth.NewAccount("ghost", "h", "t", false)
	require.NoError(t, err)
	return a
}

func TestLogout(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	cookie := f.createAndLogin(t, "alice", "pw")

	rec := f.do(t, http.MethodPost, "/api/user/logout", "", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"clearStore": true}, decode[map[string]any](t, rec))

	cleared := sessionCookie(t, rec)
	assert.Empty(t, cleared.Value)
	assert.Negative(t, cleared.MaxAge)

	rec = f.do(t, http.MethodPost, "/api/user/logout", "", nil)
	assertError(t, rec, http.StatusUnauthorized, auth.CodeNotAuthenticated)
}

func TestResetToken(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	cookie := f.createAndLogin(t, "alice", "pw")

	before := decode[auth.Profile](t, f.do(t, http.MethodGet, "/api/user", "", cookie))

	rec := f.do(t, http.MethodPost, "/api/user/reset-token", "", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"updated": true}, decode[map[string]any](t, rec))
	assert.Empty(t, rec.Result().Cookies(), "reset does not touch the cookie")

	after := decode[auth.Profile](t, f.do(t, http.MethodGet, "/api/user", "", cookie))
	assert.NotEqual(t, before.Token, after.Token)

	rec = f.do(t, http.MethodPost, "/api/user/reset-token", "", nil)
	assertError(t, rec, http.StatusUnauthorized, auth.CodeNotAuthenticated)
}

func TestCreateAccount(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	rec := f.do(t, http.MethodPost, "/api/user/create", `{"username":"root","password":"pw","administrator":true}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[auth.Profile](t, rec).Administrator)

	rec = f.do(t, http.MethodPost, "/api/user/create", `{"username":"root","password":"pw"}`, nil)
	assertError(t, rec, http.StatusConflict, auth.CodeDuplicateUsername)

	rec = f.do(t, http.MethodPost, "/api/user/create", `{"password":"pw"}`, nil)
	assertError(t, rec, http.StatusBadRequest, auth.CodeMissingField)
}

func TestCreateAccount_StoreFailure(t *testing.T) {
	tests := []struct {
		name   string
		expect func(mock pgxmock.PgxPoolIface)
	}{
		{
			name: "username check fails",
			expect: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`FROM accounts\s+WHERE username = \$1`).
					WithArgs("bob").
					WillReturnError(errors.New("connection reset"))
			},
		},
		{
			name: "insert fails",
			expect: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`FROM accounts\s+WHERE username = \$1`).
					WithArgs("bob").
					WillReturnError(pgx.ErrNoRows)
				mock.ExpectExec(`INSERT INTO accounts`).
					WillReturnError(errors.New("disk full"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			t.Cleanup(mock.Close)
			tt.expect(mock)

			hasher := auth.NewArgon2idHasherWithParams(auth.Argon2Params{Time: 1, Memory: 8 * 1024, Threads: 1})
			svc, err := auth.NewService(postgres.NewAccountRepository(mock), hasher, auth.Base64CookieCodec{})
			require.NoError(t, err)
			h, err := api.NewHandler(svc, api.CookieSettings{Name: cookieName, MaxAge: time.Hour})
			require.NoError(t, err)

			req := httptest.NewRequest(http.MethodPost, "/api/user/create",
				strings.NewReader(`{"username":"bob","password":"pw"}`))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			h.Routes().ServeHTTP(rec, req)

			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			assert.Equal(t, api.ErrorBody{Error: api.ErrorDetail{
				Code:    auth.CodeCreationFailed,
				Message: "Could not create user",
			}}, decode[api.ErrorBody](t, rec))
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestCreateAccount_AdminOnly(t *testing.T) {
	f := newFixture(t, fixtureOptions{adminOnly: true})

	rec := f.do(t, http.MethodPost, "/api/user/create", `{"username":"bob","password":"pw"}`, nil)
	assertError(t, rec, http.StatusUnauthorized, auth.CodeNotAuthenticated)

	admin, err := auth.NewAccount("root", mustHash(t, "pw"), "tok", true)
	require.NoError(t, err)
	require.NoError(t, f.repo.Create(t.Context(), admin))
	user, err := auth.NewAccount("user", mustHash(t, "pw"), "tok2", false)
	require.NoError(t, err)
	require.NoError(t, f.repo.Create(t.Context(), user))

	login := func(name string) *http.Cookie {
		rec := f.do(t, http.MethodPost, "/api/user/login", `{"username":"`+name+`","password":"pw"}`, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		return sessionCookie(t, rec)
	}

	rec = f.do(t, http.MethodPost, "/api/user/create", `{"username":"bob","password":"pw"}`, login("user"))
	assertError(t, rec, http.StatusForbidden, auth.CodeNotAuthorized)

	rec = f.do(t, http.MethodPost, "/api/user/create", `{"username":"bob","password":"pw"}`, login("root"))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func mustHash(t *testing.T, pw string) string {
	t.Helper()
	h, err := auth.NewArgon2idHasherWithParams(auth.Argon2Params{Time: 1, Memory: 8 * 1024, Threads: 1}).Hash(t.Context(), pw)
	require.NoError(t, err)
	return h
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	rec := f.do(t, http.MethodDelete, "/api/user", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRequestRecorder(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.do(t, http.MethodGet, "/api/user", "", nil)
	f.do(t, http.MethodGet, "/api/user/login-status", "", nil)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, 1, f.requests["GET /api/user Unauthorized"])
	assert.Equal(t, 1, f.requests["GET /api/user/login-status OK"])
}

func TestBrowserRoundTrip(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{Jar: jar, Timeout: 5 * time.Second}
	defer client.CloseIdleConnections()

	post := func(path, body string) *http.Response {
		resp, err := client.Post(srv.URL+path, "application/json", bytes.NewBufferString(body))
		require.NoError(t, err)
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}
	get := func(path string) *http.Response {
		resp, err := client.Get(srv.URL + path)
		require.NoError(t, err)
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}

	require.Equal(t, http.StatusOK, post("/api/user/create", `{"username":"alice","password":"pw"}`).StatusCode)
	require.Equal(t, http.StatusOK, post("/api/user/login", `{"username":"alice","password":"pw"}`).StatusCode)

	var status api.LoginStatusResponse
	require.NoError(t, json.NewDecoder(get("/api/user/login-status").Body).Decode(&status))
	assert.True(t, status.User)

	assert.Equal(t, http.StatusOK, get("/api/user").StatusCode)
	assert.Equal(t, http.StatusOK, post("/api/user/logout", "").StatusCode)

	require.NoError(t, json.NewDecoder(get("/api/user/login-status").Body).Decode(&status))
	assert.False(t, status.User, "browser dropped the cleared cookie")
}
