// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Turnstile Contributors

package main

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/turnstile/turnstile/internal/auth"
)

// newAccountCmd creates the account command for operator-side account
// management.
func newAccountCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage accounts directly in the store",
	}
	cmd.AddCommand(newAccountCreateCmd(deps))
	return cmd
}

func newAccountCreateCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an account",
		Long: `Create an account without going through the API. This works even when
account creation is restricted to administrators, which makes it the way
to bootstrap the first administrator. If --password is omitted the
password is read from the first line of stdin.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAccountCreate(cmd, deps.withDefaults())
		},
	}
	cmd.Flags().String("username", "", "account username (required)")
	cmd.Flags().String("password", "", "account password (default: read from stdin)")
	cmd.Flags().Bool("admin", false, "grant administrator rights")
	cmd.Flags().String("database-url", "", "PostgreSQL connection URL")
	cmd.Flags().String("store", "", "account store (postgres or memory)")
	_ = cmd.MarkFlagRequired("username") //nolint:errcheck // flag is defined above
	return cmd
}

func runAccountCreate(cmd *cobra.Command, deps *Deps) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	username, _ := flags.GetString("username")
	password, _ := flags.GetString("password")
	administrator, _ := flags.GetBool("admin")
	if password == "" {
		password, err = readPassword(cmd.InOrStdin())
		if err != nil {
			return err
		}
	}

	accounts, _, closeStore, err := openAccounts(cmd.Context(), cfg, deps)
	if err != nil {
		return err
	}
	defer closeStore()

	// No cookie is issued, so the codec is never exercised.
	svc, err := newService(cfg, accounts, auth.Base64CookieCodec{}, nil, slog.Default(), false)
	if err != nil {
		return err
	}

	profile, err := svc.CreateAccount(cmd.Context(), noCookies{}, auth.CreateAccountRequest{
		Username:      username,
		Password:      password,
		Administrator: administrator,
	})
	if err != nil {
		return err
	}

	role := "user"
	if profile.Administrator {
		role = "administrator"
	}
	cmd.Printf("Created %s %q (id %s)\n", role, profile.Username, profile.ID)
	return nil
}

// readPassword reads one line from r, without its line ending.
func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", oops.Code("PASSWORD_READ_FAILED").Wrap(err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// noCookies is a CookieJar for callers outside HTTP. It never holds a
// session and discards writes.
type noCookies struct{}

func (noCookies) SessionCookie() (string, bool) {
	return "", false
}

func (noCookies) SetSessionCookie(string) error {
	return nil
}

func (noCookies) ClearSessionCookie() error {
	return nil
}
