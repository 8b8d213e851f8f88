// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Turnstile Contributors

package main

import (
	"context"
	cryptotls "crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/turnstile/turnstile/internal/api"
	"github.com/turnstile/turnstile/internal/auth"
	"github.com/turnstile/turnstile/internal/auth/memory"
	"github.com/turnstile/turnstile/internal/auth/postgres"
	"github.com/turnstile/turnstile/internal/config"
	"github.com/turnstile/turnstile/internal/logging"
	"github.com/turnstile/turnstile/internal/observability"
	"github.com/turnstile/turnstile/internal/store"
	"github.com/turnstile/turnstile/pkg/errutil"
	"github.com/turnstile/turnstile/internal/tls"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the account API",
		Long: `Start the HTTP API for login, logout, profile and account management,
plus the metrics and health endpoints.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, deps.withDefaults())
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

// runServe serves the API until ctx is cancelled or a server fails.
func runServe(ctx context.Context, cfg *config.Config, deps *Deps) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.SetDefault("turnstile", version, cfg.Log.Format, cfg.Log.Level)
	logger.Info("starting turnstile",
		"http_addr", cfg.HTTP.Addr,
		"store", cfg.Store.Kind,
		"cookie_mode", cfg.Session.CookieMode)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	accounts, ready, closeStore, err := openAccounts(ctx, cfg, deps)
	if err != nil {
		return err
	}
	defer closeStore()

	var metrics *observability.Metrics
	if cfg.Metrics.Addr != "" {
		obsServer := deps.ObservabilityServerFactory(cfg.Metrics.Addr, ready)
		obsErrCh, err := obsServer.Start()
		if err != nil {
			return oops.Code("SERVE_FAILED").With("operation", "start observability server").Wrap(err)
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer stopCancel()
			if err := obsServer.Stop(stopCtx); err != nil {
				slog.Warn("error stopping observability server", "error", err)
			}
		}()
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability")
		metrics = obsServer.Metrics()
	} else {
		metrics = observability.NewMetrics(prometheus.NewRegistry())
	}

	codec, err := newCookieCodec(cfg.Session)
	if err != nil {
		return err
	}
	svc, err := newService(cfg, accounts, codec, metrics, logger, cfg.Accounts.AdminOnlyCreate)
	if err != nil {
		return err
	}

	handler, err := api.NewHandler(svc, api.CookieSettings{
		Name:   cfg.Session.CookieName,
		Secure: cfg.Session.Secure,
		MaxAge: cfg.Session.MaxAge,
	}, api.WithLogger(logger), api.WithRequestRecorder(metrics.RecordHTTPRequest))
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		return oops.Code("SERVE_FAILED").With("addr", cfg.HTTP.Addr).Wrap(err)
	}

	httpSrv := &http.Server{
		Handler:           handler.Routes(),
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	if cfg.HTTP.TLS.Enabled() {
		tlsConfig, err := serverTLS(cfg.HTTP.TLS, listener.Addr())
		if err != nil {
			_ = listener.Close() //nolint:errcheck // TLS error takes precedence
			return err
		}
		httpSrv.TLSConfig = tlsConfig
		listener = cryptotls.NewListener(listener, tlsConfig)
	} else if cfg.Session.Secure {
		logger.Warn("session cookies are marked Secure but the API serves plain HTTP; browsers only send them over HTTPS or to localhost")
	}

	apiErrCh := make(chan error, 1)
	go func() {
		defer close(apiErrCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			apiErrCh <- serveErr
		}
	}()

	logger.Info("api listening", "addr", listener.Addr().String(), "tls", cfg.HTTP.TLS.Enabled())
	deps.OnReady(listener.Addr().String())

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err, ok := <-apiErrCh:
		if ok && err != nil {
			serveErr = oops.Code("SERVE_FAILED").With("operation", "serve api").Wrap(err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error stopping api server", "error", err)
	}
	logger.Info("shutdown complete")
	return serveErr
}

// serverTLS loads the configured certificate, issuing a development one
// first when only a dev directory is configured.
func serverTLS(cfg config.TLSConfig, addr net.Addr) (*cryptotls.Config, error) {
	certFile, keyFile := cfg.CertFile, cfg.KeyFile
	if certFile == "" {
		var hosts []string
		if host, _, err := net.SplitHostPort(addr.String()); err == nil {
			if ip := net.ParseIP(host); ip == nil || !ip.IsUnspecified() {
				hosts = append(hosts, host)
			}
		}
		var err error
		certFile, keyFile, err = tls.EnsureDevCertificates(cfg.DevDir, hosts...)
		if err != nil {
			return nil, err
		}
		slog.Info("serving development certificate",
			"ca_file", filepath.Join(cfg.DevDir, tls.CACertFile))
	}
	return tls.ServerConfig(certFile, keyFile)
}

// openAccounts builds the configured account repository. The returned
// readiness checker reports whether the backing store is reachable.
func openAccounts(ctx context.Context, cfg *config.Config, deps *Deps) (auth.AccountRepository, observability.ReadinessChecker, func(), error) {
	if cfg.Store.Kind == config.StoreMemory {
		slog.Warn("using in-memory account store; accounts are lost on exit")
		return memory.NewAccountRepository(), func() bool { return true }, func() {}, nil
	}

	if cfg.Database.AutoMigrate {
		if err := migrateUp(deps, cfg.Database.URL); err != nil {
			return nil, nil, nil, err
		}
	}

	opts := store.DefaultPoolOptions()
	opts.Attempts = cfg.Database.ConnectAttempts
	pool, err := deps.PoolFactory(ctx, cfg.Database.URL, opts)
	if err != nil {
		return nil, nil, nil, oops.Code("DB_CONNECT_FAILED").With("operation", "open account store").Wrap(errutil.Opaque(err))
	}

	ready := func() bool {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return pool.Ping(pingCtx) == nil
	}
	return postgres.NewAccountRepository(pool), ready, pool.Close, nil
}

func migrateUp(deps *Deps, url string) error {
	migrator, err := deps.MigratorFactory(url)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			slog.Warn("failed to close migrator", "error", closeErr)
		}
	}()

	if err := migrator.Up(); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "auto-migrate").Wrap(errutil.Opaque(err))
	}
	slog.Info("database migrations applied")
	return nil
}

// newService wires the auth service for cfg.
func newService(cfg *config.Config, accounts auth.AccountRepository, codec auth.CookieCodec, metrics *observability.Metrics, logger *slog.Logger, adminOnly bool) (*auth.Service, error) {
	var observe auth.HashObserver
	var record auth.OperationRecorder
	if metrics != nil {
		observe = metrics.ObserveHash
		record = metrics.RecordOperation
	}

	hasher := auth.NewBoundedHasher(auth.NewArgon2idHasher(), cfg.Hasher.MaxConcurrent, observe)
	opts := []auth.Option{
		auth.WithLogger(logger),
		auth.WithOperationRecorder(record),
	}
	if adminOnly {
		opts = append(opts, auth.WithAdminOnlyCreate())
	}
	return auth.NewService(accounts, hasher, codec, opts...)
}

func newCookieCodec(session config.SessionConfig) (auth.CookieCodec, error) {
	if session.CookieMode == config.CookiePlain {
		slog.Warn("session cookies are unsigned; any account id can be presented")
		return auth.Base64CookieCodec{}, nil
	}
	codec, err := auth.NewSignedCookieCodec([]byte(session.SigningKey), session.MaxAge)
	if err != nil {
		return nil, err
	}
	return codec, nil
}

// monitorServerErrors monitors a server's error channel and cancels the context on error.
// It exits when either an error is received, the channel is closed, or the context is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
