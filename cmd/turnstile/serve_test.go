// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Turnstile Contributors

package main

import (
	"bytes"
	"context"
	cryptotls "crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turnstile/turnstile/internal/config"
	"github.com/turnstile/turnstile/internal/observability"
	"github.com/turnstile/turnstile/internal/tls"
	"github.com/turnstile/turnstile/pkg/errutil"
)

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	isolateConfig(t)
	cfg, err := config.Load("", nil)
	require.NoError(t, err)
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.Metrics.Addr = "127.0.0.1:0"
	cfg.Store.Kind = config.StoreMemory
	cfg.Session.SigningKey = strings.Repeat("k", 32)
	cfg.Session.Secure = false
	cfg.Log.Level = "error"
	return cfg
}

// startServe runs runServe in the background and waits until it is ready.
func startServe(t *testing.T, cfg *config.Config, deps *Deps) (addr string, stop func() error) {
	t.Helper()
	ready := make(chan string, 1)
	if deps == nil {
		deps = &Deps{}
	}
	deps.OnReady = func(addr string) { ready <- addr }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runServe(ctx, cfg, deps.withDefaults()) }()

	select {
	case addr = <-ready:
	case err := <-done:
		cancel()
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("timeout waiting for serve to start")
	}

	return addr, func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(10 * time.Second):
			return errors.New("timeout waiting for serve to stop")
		}
	}
}

func TestRunServe_LoginRoundTrip(t *testing.T) {
	addr, stop := startServe(t, memoryConfig(t), nil)
	base := "http://" + addr

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{Jar: jar, Timeout: 5 * time.Second}

	post := func(path, body string) (int, string) {
		resp, err := client.Post(base+path, "application/json", bytes.NewBufferString(body))
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		data, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(data)
	}

	status, _ := post("/api/user/create", `{"username":"alice","password":"pw"}`)
	assert.Equal(t, http.StatusOK, status)

	status, body := post("/api/user/login", `{"username":"alice","password":"pw"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `"username":"alice"`)

	resp, err := client.Get(base + "/api/user/login-status")
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.JSONEq(t, `{"user":true}`, string(data))

	require.NoError(t, stop())
}

func TestRunServe_MetricsRecordRequests(t *testing.T) {
	var obs *observability.Server
	deps := &Deps{ObservabilityServerFactory: func(addr string, ready observability.ReadinessChecker) ObservabilityServer {
		obs = observability.NewServer(addr, ready)
		return obs
	}}
	addr, stop := startServe(t, memoryConfig(t), deps)

	resp, err := http.Get("http://" + addr + "/api/user")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	require.NotNil(t, obs)
	metrics, err := http.Get("http://" + obs.Addr() + "/metrics")
	require.NoError(t, err)
	data, err := io.ReadAll(metrics.Body)
	require.NoError(t, err)
	_ = metrics.Body.Close()
	assert.Contains(t, string(data), `turnstile_http_requests_total{route="GET /api/user",status="401"} 1`)
	assert.Contains(t, string(data), `turnstile_auth_operations_total{operation="current_user",outcome="AUTH_NOT_AUTHENTICATED"} 1`)

	ready, err := http.Get("http://" + obs.Addr() + observability.ReadinessPath)
	require.NoError(t, err)
	_ = ready.Body.Close()
	assert.Equal(t, http.StatusOK, ready.StatusCode)

	require.NoError(t, stop())
}

func TestRunServe_MetricsDisabled(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Metrics.Addr = ""
	cfg.Session.CookieMode = config.CookiePlain

	called := false
	deps := &Deps{ObservabilityServerFactory: func(addr string, ready observability.ReadinessChecker) ObservabilityServer {
		called = true
		return observability.NewServer(addr, ready)
	}}
	_, stop := startServe(t, cfg, deps)
	require.NoError(t, stop())
	assert.False(t, called)
}

func TestRunServe_InvalidConfig(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Session.SigningKey = "short"

	err := runServe(context.Background(), cfg, (&Deps{}).withDefaults())
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
}

func TestRunServe_AutoMigrate(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Store.Kind = config.StorePostgres
	cfg.Database.URL = "postgres://db/accounts"
	cfg.Database.AutoMigrate = true

	m := &fakeMigrator{upErr: errors.New("permission denied")}
	deps := migratorDeps(m, nil)

	err := runServe(context.Background(), cfg, deps.withDefaults())
	errutil.AssertErrorCode(t, err, "MIGRATION_FAILED")
	assert.Equal(t, []string{"up"}, m.calls)
	assert.True(t, m.closed)
}

func TestRunServe_ListenFailure(t *testing.T) {
	addr, stop := startServe(t, memoryConfig(t), nil)
	defer func() { _ = stop() }()

	cfg := memoryConfig(t)
	cfg.HTTP.Addr = addr
	cfg.Metrics.Addr = ""
	err := runServe(context.Background(), cfg, (&Deps{}).withDefaults())
	errutil.AssertErrorCode(t, err, "SERVE_FAILED")
}

func TestMonitorServerErrors(t *testing.T) {
	t.Run("error cancels", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		errCh := make(chan error, 1)
		errCh <- errors.New("boom")

		monitorServerErrors(ctx, cancel, errCh, "test")
		assert.Error(t, ctx.Err())
	})

	t.Run("closed channel does not cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		errCh := make(chan error)
		close(errCh)

		monitorServerErrors(ctx, cancel, errCh, "test")
		assert.NoError(t, ctx.Err())
	})
}

func TestRunServe_DevTLS(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Metrics.Addr = ""
	cfg.Session.Secure = true
	certDir := filepath.Join(t.TempDir(), "certs")
	cfg.HTTP.TLS.DevDir = certDir

	addr, stop := startServe(t, cfg, nil)

	ca, err := tls.LoadCA(certDir)
	require.NoError(t, err)
	roots := x509.NewCertPool()
	roots.AddCert(ca.Certificate)
	client := &http.Client{Timeout: 5 * time.Second, Transport: &http.Transport{
		TLSClientConfig: &cryptotls.Config{RootCAs: roots, MinVersion: cryptotls.VersionTLS12},
	}}

	resp, err := client.Get("https://" + addr + "/api/user/login-status")
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.JSONEq(t, `{"user":false}`, string(data))

	require.NoError(t, stop())
}

func TestRunServe_TLSLoadFailure(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Metrics.Addr = ""
	cfg.HTTP.TLS.CertFile = filepath.Join(t.TempDir(), "missing.crt")
	cfg.HTTP.TLS.KeyFile = filepath.Join(t.TempDir(), "missing.key")

	err := runServe(context.Background(), cfg, (&Deps{}).withDefaults())
	errutil.AssertErrorCode(t, err, "TLS_LOAD_FAILED")
}
