// Copyright (C) 2026 the vibekit authors
// SPDX-License-Identifier: Apache-2.0
package sandbox

import "github.com/pkg/errors"

var (
	// ErrInvalidCommand rejects commands matching the dangerous-pattern
	// blacklist before anything is spawned.
	ErrInvalidCommand = errors.New("command rejected by policy")

	// ErrBusy is returned when a second Run is issued while one is in
	// flight; commands on a single sandbox are strictly serialized.
	ErrBusy = errors.New("a command is already running in this sandbox")

	// ErrKilled is returned by Run on a killed sandbox, and by an
	// in-flight Run interrupted by Kill.
	ErrKilled = errors.New("sandbox killed")

	// ErrTimeout marks a framework-level timeout; the command result
	// carries exit code -1.
	ErrTimeout = errors.New("command timed out")
)
