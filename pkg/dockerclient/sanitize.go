// Copyright (C) 2026 the vibekit authors
// SPDX-License-Identifier: Apache-2.0
package dockerclient

import (
	"regexp"
	"strings"

	"github.com/docker/distribution/reference"
	"github.com/pkg/errors"
)

var refPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._/:-]*$`)

// ValidateReference gates every image reference before it reaches the
// daemon. The regexp rejects shell metacharacters outright; the
// distribution parser then enforces the full grammar.
func ValidateReference(ref string) error {
	if ref == "" || !refPattern.MatchString(ref) {
		return errors.Wrapf(ErrInvalidReference, "%q", ref)
	}
	if _, err := reference.ParseNormalizedNamed(ref); err != nil {
		return errors.Wrapf(ErrInvalidReference, "%q: %s", ref, err)
	}
	return nil
}

// NormalizeReference returns the canonical familiar form of a reference,
// with :latest appended when no tag is present.
func NormalizeReference(ref string) (string, error) {
	named, err := reference.ParseNormalizedNamed(ref)
	if err != nil {
		return "", errors.Wrapf(ErrInvalidReference, "%q: %s", ref, err)
	}
	return reference.FamiliarString(reference.TagNameOnly(named)), nil
}

const pathMetachars = ";&|`$()<>"

// ValidatePath rejects paths that could smuggle shell syntax or escape the
// build tree. Dockerfile and context paths pass through here before any
// filesystem access.
func ValidatePath(p string) error {
	if p == "" {
		return errors.Errorf("empty path")
	}
	if strings.ContainsAny(p, pathMetachars) {
		return errors.Errorf("path %q contains shell metacharacters", p)
	}
	if strings.HasPrefix(p, "~") {
		return errors.Errorf("path %q must not use ~ expansion", p)
	}
	for _, seg := range strings.Split(strings.ReplaceAll(p, "\\", "/"), "/") {
		if seg == ".." {
			return errors.Errorf("path %q must not contain .. segments", p)
		}
	}
	return nil
}
