// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Turnstile Contributors

// Package config loads Turnstile configuration from defaults, a YAML file,
// TURNSTILE_* environment variables and command-line flags, in that order.
package config

import (
	"net/http"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/turnstile/turnstile/internal/auth"
)

// EnvPrefix is the prefix of environment overrides. Nested keys use a
// double underscore: TURNSTILE_SESSION__SIGNING_KEY sets session.signing_key.
const EnvPrefix = "TURNSTILE_"

// Store kinds.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Cookie modes.
const (
	CookieSigned = "signed"
	CookiePlain  = "plain"
)

// Config is the complete runtime configuration.
type Config struct {
	HTTP     HTTPConfig     `koanf:"http"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Log      LogConfig      `koanf:"log"`
	Database DatabaseConfig `koanf:"database"`
	Store    StoreConfig    `koanf:"store"`
	Session  SessionConfig  `koanf:"session"`
	Hasher   HasherConfig   `koanf:"hasher"`
	Accounts AccountsConfig `koanf:"accounts"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr              string        `koanf:"addr"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	TLS               TLSConfig     `koanf:"tls"`
}

// TLSConfig enables HTTPS on the API listener. Set CertFile and KeyFile
// to serve an existing certificate, or DevDir to serve a certificate
// issued by a local development CA kept in that directory.
type TLSConfig struct {
	CertFile string `koanf:"cert_file"`
	KeyFile  string `koanf:"key_file"`
	DevDir   string `koanf:"dev_dir"`
}

// Enabled reports whether the API listener serves HTTPS.
func (t TLSConfig) Enabled() bool {
	return t.CertFile != "" || t.DevDir != ""
}

// MetricsConfig configures the observability listener. An empty Addr
// disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// DatabaseConfig configures the PostgreSQL connection.
type DatabaseConfig struct {
	URL             string `koanf:"url"`
	ConnectAttempts uint64 `koanf:"connect_attempts"`
	AutoMigrate     bool   `koanf:"auto_migrate"`
}

// StoreConfig selects the account repository.
type StoreConfig struct {
	Kind string `koanf:"kind"`
}

// SessionConfig configures the session cookie.
type SessionConfig struct {
	CookieName string        `koanf:"cookie_name"`
	CookieMode string        `koanf:"cookie_mode"`
	SigningKey string        `koanf:"signing_key"`
	MaxAge     time.Duration `koanf:"max_age"`
	Secure     bool          `koanf:"secure"`
}

// HasherConfig bounds password hashing.
type HasherConfig struct {
	MaxConcurrent int64 `koanf:"max_concurrent"`
}

// AccountsConfig controls account creation.
type AccountsConfig struct {
	AdminOnlyCreate bool `koanf:"admin_only_create"`
}

// defaults are loaded before any other source.
var defaults = map[string]any{
	"http.addr":                  ":8080",
	"http.read_header_timeout":   "10s",
	"metrics.addr":               "127.0.0.1:9100",
	"log.format":                 "json",
	"log.level":                  "info",
	"database.connect_attempts":  5,
	"database.auto_migrate":      false,
	"store.kind":                 StorePostgres,
	"session.cookie_name":        "turnstile_session",
	"session.cookie_mode":        CookieSigned,
	"session.max_age":            "720h",
	"session.secure":             true,
	"hasher.max_concurrent":      4,
	"accounts.admin_only_create": false,
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"http-addr":         "http.addr",
	"metrics-addr":      "metrics.addr",
	"log-format":        "log.format",
	"log-level":         "log.level",
	"database-url":      "database.url",
	"auto-migrate":      "database.auto_migrate",
	"tls-dev-dir":       "http.tls.dev_dir",
	"store":             "store.kind",
	"cookie-mode":       "session.cookie_mode",
	"admin-only-create": "accounts.admin_only_create",
}

// RegisterFlags adds the overridable settings to fs. Flag defaults are
// informational; an unset flag never overrides the file or environment.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("http-addr", defaults["http.addr"].(string), "API listen address")
	fs.String("metrics-addr", defaults["metrics.addr"].(string), "metrics/health HTTP address (empty = disabled)")
	fs.String("log-format", defaults["log.format"].(string), "log format (json or text)")
	fs.String("log-level", defaults["log.level"].(string), "log level (debug, info, warn, error)")
	fs.String("database-url", "", "PostgreSQL connection URL")
	fs.Bool("auto-migrate", false, "apply pending migrations on startup")
	fs.String("tls-dev-dir", "", "serve HTTPS with a local development CA kept in this directory")
	fs.String("store", defaults["store.kind"].(string), "account store (postgres or memory)")
	fs.String("cookie-mode", defaults["session.cookie_mode"].(string), "session cookie encoding (signed or plain)")
	fs.Bool("admin-only-create", false, "require an administrator session to create accounts")
}

// Load builds a Config. path may be empty, in which case no file is read.
// flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("key", key).Wrap(err)
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").
				With("source", "file").
				With("path", path).
				Wrap(err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "env").Wrap(err)
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("operation", "unmarshal").Wrap(err)
	}
	return &cfg, nil
}

// envKey turns TURNSTILE_SESSION__SIGNING_KEY into session.signing_key.
func envKey(name string) string {
	name = strings.TrimPrefix(name, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(name), "__", ".")
}

// Validate checks that the configuration can start a server.
func (c *Config) Validate() error {
	invalid := func(key, format string, args ...any) error {
		return oops.Code("CONFIG_INVALID").With("key", key).Errorf(format, args...)
	}

	if c.HTTP.Addr == "" {
		return invalid("http.addr", "http.addr is required")
	}
	tls := c.HTTP.TLS
	if (tls.CertFile == "") != (tls.KeyFile == "") {
		return invalid("http.tls.cert_file", "http.tls.cert_file and http.tls.key_file must be set together")
	}
	if tls.CertFile != "" && tls.DevDir != "" {
		return invalid("http.tls.dev_dir", "http.tls.dev_dir cannot be combined with http.tls.cert_file")
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return invalid("log.format", "log.format must be 'json' or 'text', got %q", c.Log.Format)
	}

	switch c.Store.Kind {
	case StorePostgres:
		if c.Database.URL == "" {
			return invalid("database.url", "database.url is required for the postgres store")
		}
	case StoreMemory:
	default:
		return invalid("store.kind", "store.kind must be %q or %q, got %q", StorePostgres, StoreMemory, c.Store.Kind)
	}

	if !validCookieName(c.Session.CookieName) {
		return invalid("session.cookie_name", "session.cookie_name %q is not a valid cookie name", c.Session.CookieName)
	}
	switch c.Session.CookieMode {
	case CookieSigned:
		if len(c.Session.SigningKey) < auth.MinSigningKeyLen {
			return invalid("session.signing_key",
				"session.signing_key must be at least %d bytes in signed mode", auth.MinSigningKeyLen)
		}
	case CookiePlain:
	default:
		return invalid("session.cookie_mode", "session.cookie_mode must be %q or %q, got %q",
			CookieSigned, CookiePlain, c.Session.CookieMode)
	}
	if c.Session.MaxAge < 0 {
		return invalid("session.max_age", "session.max_age cannot be negative")
	}
	if c.Hasher.MaxConcurrent < 1 {
		return invalid("hasher.max_concurrent", "hasher.max_concurrent must be at least 1")
	}
	return nil
}

// validCookieName reports whether net/http would emit a cookie named name.
func validCookieName(name string) bool {
	if name == "" {
		return false
	}
	return (&http.Cookie{Name: name, Value: "v"}).Valid() == nil
}
