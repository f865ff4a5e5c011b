// Copyright (C) 2026 the vibekit authors
// SPDX-License-Identifier: Apache-2.0
package dockerclient

import (
	"strings"

	"github.com/docker/docker/client"
	"github.com/pkg/errors"
)

// Failure taxonomy for daemon operations. Callers branch on these with
// errors.Is; the resolver in particular swallows ErrNotFound and ErrNetwork
// when a later step in its chain might still succeed.
var (
	ErrDaemonUnavailable = errors.New("container daemon unavailable")
	ErrInvalidReference  = errors.New("invalid image reference")
	ErrNotFound          = errors.New("image not found")
	ErrNetwork           = errors.New("network error")
	ErrBuildFailed       = errors.New("image build failed")
	ErrAuthRequired      = errors.New("registry authentication required")
)

// classify maps a raw daemon error onto the taxonomy, preserving the
// original message.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case client.IsErrConnectionFailed(err):
		return errors.Wrapf(ErrDaemonUnavailable, "%s: %s", op, err)
	case client.IsErrNotFound(err),
		strings.Contains(msg, "not found"),
		strings.Contains(msg, "manifest unknown"),
		strings.Contains(msg, "repository does not exist"):
		return errors.Wrapf(ErrNotFound, "%s: %s", op, err)
	case strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "authentication required"),
		strings.Contains(msg, "denied"):
		return errors.Wrapf(ErrAuthRequired, "%s: %s", op, err)
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "temporary failure"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "i/o timeout"),
		strings.Contains(msg, "tls handshake"):
		return errors.Wrapf(ErrNetwork, "%s: %s", op, err)
	}
	return errors.Wrap(err, op)
}

// retryable reports whether a pull/push attempt is worth repeating.
func retryable(err error) bool {
	return errors.Is(err, ErrNetwork)
}
