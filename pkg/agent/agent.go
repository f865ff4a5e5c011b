// Copyright (C) 2026 the vibekit authors
// SPDX-License-Identifier: Apache-2.0
package agent

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Kind identifies one of the supported coding agents. The set is closed;
// Dockerfile paths, image tags and registry repositories are all derived
// from it.
type Kind string

const (
	Claude   Kind = "claude"
	Codex    Kind = "codex"
	Gemini   Kind = "gemini"
	Grok     Kind = "grok"
	OpenCode Kind = "opencode"
)

// None means "no specific agent"; the resolver maps it to the neutral base
// image.
const None Kind = ""

var all = map[Kind]bool{
	Claude:   true,
	Codex:    true,
	Gemini:   true,
	Grok:     true,
	OpenCode: true,
}

// Kinds returns every supported agent kind in stable order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(all))
	for k := range all {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Parse validates a user-supplied agent name.
func Parse(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !all[k] {
		return None, errors.Errorf("unknown agent %q (valid: %s)", s, strings.Join(Names(), ", "))
	}
	return k, nil
}

// Names returns the agent names as plain strings, for usage messages.
func Names() []string {
	kinds := Kinds()
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

// Repository is the registry repository name for this agent's image.
func (k Kind) Repository() string {
	return "vibekit-" + string(k)
}

// LocalTag is the tag the resolver produces in the local image cache.
func (k Kind) LocalTag() string {
	return k.Repository() + ":latest"
}

// DockerfilePath returns the conventional build input path, relative to the
// assets directory.
func (k Kind) DockerfilePath(assetsDir string) string {
	return filepath.Join(assetsDir, "dockerfiles", "Dockerfile."+string(k))
}

func (k Kind) String() string {
	if k == None {
		return "default"
	}
	return string(k)
}
