// Copyright (C) 2026 the vibekit authors
// SPDX-License-Identifier: Apache-2.0
package sandbox

import (
	"strings"

	"github.com/google/shlex"
	"github.com/pkg/errors"
)

// The blacklist is intentionally narrow: the container boundary is the
// security domain, so ordinary shell metacharacters pass through. Only
// patterns whose sole plausible purpose is destroying the sandbox (or the
// host, with a misconfigured mount) are rejected.
var bannedLiterals = []string{
	":(){ :|:& };:",
	"dd if=/dev/zero",
}

// validateCommand returns ErrInvalidCommand for blacklisted commands.
// `rm -rf` is matched on shlex tokens so extra whitespace or quoting does
// not slip a root wipe past a substring check, while `rm -rf /tmp/x`
// stays legal.
func validateCommand(command string) error {
	if strings.TrimSpace(command) == "" {
		return errors.Wrap(ErrInvalidCommand, "empty command")
	}
	for _, lit := range bannedLiterals {
		if strings.Contains(command, lit) {
			return errors.Wrapf(ErrInvalidCommand, "%q", lit)
		}
	}
	tokens, err := shlex.Split(command)
	if err != nil {
		// Unparseable quoting; let the shell inside the container deal
		// with it.
		return nil
	}
	for i, tok := range tokens {
		if tok != "rm" {
			continue
		}
		rest := tokens[i+1:]
		if hasRecursiveForce(rest) && targetsRoot(rest) {
			return errors.Wrap(ErrInvalidCommand, "rm -rf on /")
		}
	}
	return nil
}

func hasRecursiveForce(args []string) bool {
	var recursive, force bool
	for _, a := range args {
		if !strings.HasPrefix(a, "-") {
			continue
		}
		flags := strings.TrimPrefix(a, "-")
		if strings.ContainsAny(flags, "rR") {
			recursive = true
		}
		if strings.Contains(flags, "f") {
			force = true
		}
	}
	return recursive && force
}

func targetsRoot(args []string) bool {
	for _, a := range args {
		if a == "/" || a == "/*" {
			return true
		}
	}
	return false
}
