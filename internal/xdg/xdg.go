// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Turnstile Contributors

// Package xdg resolves XDG Base Directory paths for Turnstile.
package xdg

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

const appName = "turnstile"

// ConfigFileName is the file ConfigFile looks for inside ConfigDir.
const ConfigFileName = "config.yaml"

// ConfigDir returns the XDG config directory for turnstile.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func ConfigDir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home := os.Getenv("HOME")
		if home == "" {
			return "", oops.Code("XDG_NO_HOME").Errorf("neither XDG_CONFIG_HOME nor HOME is set")
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, appName), nil
}

// ConfigFile returns the default config file path and whether it exists.
func ConfigFile() (string, bool, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", false, err
	}
	path := filepath.Join(dir, ConfigFileName)

	info, err := os.Stat(path)
	switch {
	case err == nil:
		return path, !info.IsDir(), nil
	case os.IsNotExist(err):
		return path, false, nil
	default:
		return path, false, oops.Code("XDG_STAT_FAILED").With("path", path).Wrap(err)
	}
}
