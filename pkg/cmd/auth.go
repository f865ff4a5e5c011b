// Copyright (C) 2026 the vibekit authors
// SPDX-License-Identifier: Apache-2.0
package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vibekit/vibekit/pkg/oauth"
)

func newOAuthManager(provider string) (*oauth.Manager, error) {
	ep, ok := oauth.LookupEndpoints(provider)
	if !ok {
		return nil, usagef("unknown provider %q (available: %s)", provider, strings.Join(oauth.Providers(), ", "))
	}
	storage, err := oauth.NewFileStorage(provider)
	if err != nil {
		return nil, err
	}
	return oauth.NewManager(provider, ep, storage), nil
}

func authCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage provider authentication",
	}
	cmd.AddCommand(
		authLoginCmd(),
		authLogoutCmd(),
		authStatusCmd(),
		authVerifyCmd(),
		authExportCmd(),
		authImportCmd(),
	)
	return cmd
}

func authLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login <provider>",
		Short: "Authenticate with a provider via the browser flow",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := newOAuthManager(args[0])
			if err != nil {
				return err
			}
			url, err := mgr.AuthorizeURL()
			if err != nil {
				return err
			}
			fmt.Printf("Open the following URL in your browser and authorize access:\n\n  %s\n\n", url)
			fmt.Print("Paste the code you receive (code#state): ")
			reader := bufio.NewReader(os.Stdin)
			line, err := reader.ReadString('\n')
			if err != nil {
				return err
			}
			if _, err := mgr.ExchangeCode(cmd.Context(), strings.TrimSpace(line)); err != nil {
				return err
			}
			fmt.Printf("Logged in to %s\n", args[0])
			return nil
		},
	}
}

func authLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout <provider>",
		Short: "Delete stored credentials for a provider",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := newOAuthManager(args[0])
			if err != nil {
				return err
			}
			if err := mgr.Logout(); err != nil {
				return err
			}
			fmt.Printf("Logged out of %s\n", args[0])
			return nil
		},
	}
}

func authStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [provider]",
		Short: "Show stored credential state",
		Args:  maxArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			providers := oauth.Providers()
			if len(args) == 1 {
				providers = args[:1]
			}
			for _, p := range providers {
				mgr, err := newOAuthManager(p)
				if err != nil {
					return err
				}
				token, err := mgr.Status()
				if err != nil {
					return err
				}
				switch {
				case token == nil:
					fmt.Printf("%s: not authenticated\n", p)
				case token.Expired(time.Now()):
					fmt.Printf("%s: token expired (refresh token %s)\n", p, presence(token.RefreshToken))
				default:
					fmt.Printf("%s: authenticated\n", p)
				}
			}
			return nil
		},
	}
}

func presence(s string) string {
	if s == "" {
		return "absent"
	}
	return "held"
}

func authVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <provider>",
		Short: "Verify credentials, refreshing if necessary",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := newOAuthManager(args[0])
			if err != nil {
				return err
			}
			if _, err := mgr.GetValidToken(cmd.Context()); err != nil {
				return err
			}
			fmt.Printf("%s: token valid\n", args[0])
			return nil
		},
	}
}

func authExportCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "export <provider>",
		Short: "Print stored credentials in a chosen format",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := newOAuthManager(args[0])
			if err != nil {
				return err
			}
			out, err := mgr.Export(format)
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "env", "Output format: env, json, full or refresh")
	return cmd
}

func authImportCmd() *cobra.Command {
	var (
		fromEnv bool
		token   string
		refresh string
		file    string
	)
	cmd := &cobra.Command{
		Use:   "import <provider>",
		Short: "Install credentials from a token, the environment or a file",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sources := 0
			for _, set := range []bool{fromEnv, token != "", refresh != "", file != ""} {
				if set {
					sources++
				}
			}
			if sources != 1 {
				return usagef("exactly one of --env, --token, --refresh or --file is required")
			}
			mgr, err := newOAuthManager(args[0])
			if err != nil {
				return err
			}
			if _, err := mgr.Import(cmd.Context(), oauth.ImportOptions{
				Token:    token,
				Refresh:  refresh,
				FromEnv:  fromEnv,
				FromFile: file,
			}); err != nil {
				return err
			}
			fmt.Printf("Imported credentials for %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&fromEnv, "env", false, "Read tokens from the environment")
	cmd.Flags().StringVar(&token, "token", "", "Raw access token")
	cmd.Flags().StringVar(&refresh, "refresh", "", "Refresh token (exchanged immediately)")
	cmd.Flags().StringVar(&file, "file", "", "Path to an exported full record")
	return cmd
}
