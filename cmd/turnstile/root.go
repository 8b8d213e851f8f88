// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Turnstile Contributors

package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/turnstile/turnstile/internal/config"
	"github.com/turnstile/turnstile/internal/xdg"
	"github.com/turnstile/turnstile/pkg/errutil"
)

// NewRootCmd creates the root command for the Turnstile CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(nil)
}

func newRootCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "turnstile",
		Short: "Turnstile - account and session service",
		Long: `Turnstile stores user accounts and issues cookie-based sessions
over a small JSON API.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "config file path (default: XDG_CONFIG_HOME/turnstile/config.yaml)")

	cmd.AddCommand(newServeCmd(deps))
	cmd.AddCommand(newMigrateCmd(deps))
	cmd.AddCommand(newAccountCmd(deps))

	return cmd
}

// loadConfig resolves the config file and loads it with cmd's flags
// layered on top.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, oops.Code("CONFIG_INVALID").Wrap(err)
	}
	if path == "" {
		defaultPath, exists, err := xdg.ConfigFile()
		if err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("operation", "resolve config path").Wrap(errutil.Opaque(err))
		}
		if exists {
			path = defaultPath
		}
	}

	cfg, err := config.Load(path, cmd.Flags())
	if err != nil {
		return nil, err
	}
	return cfg, nil
}
