// Copyright (C) 2026 the vibekit authors
// SPDX-License-Identifier: Apache-2.0
package commands

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// usageError marks errors that should exit with status 2 (bad invocation)
// rather than 1 (operation failed).
type usageError struct {
	err error
}

func (u *usageError) Error() string { return u.err.Error() }
func (u *usageError) Unwrap() error { return u.err }

func usagef(format string, args ...interface{}) error {
	return &usageError{err: errors.Errorf(format, args...)}
}

// IsUsageError reports whether err came from bad command usage.
func IsUsageError(err error) bool {
	var u *usageError
	return errors.As(err, &u)
}

func NewRootCmd() *cobra.Command {
	var debug bool
	cmd := &cobra.Command{
		Use:   "vibekit",
		Short: "Run coding agents in local container sandboxes",
		Long: `vibekit resolves, caches and runs per-agent container images, then exposes
each running container as a scriptable sandbox: execute commands, stream
their output, and publish preview URLs for in-container servers.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if debug {
				logrus.SetLevel(logrus.DebugLevel)
			}
		},
	}
	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	cmd.AddCommand(
		authCmd(),
		localCmd(),
		setupCmd(),
		versionCmd(),
	)
	return cmd
}
