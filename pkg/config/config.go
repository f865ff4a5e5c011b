// Copyright (C) 2026 the vibekit authors
// SPDX-License-Identifier: Apache-2.0

// Package config persists user-level preferences as a single JSON document
// under the vibekit home directory.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// Registry kinds. Closed set; the registry manager keys its provider map
// on these.
const (
	RegistryHub  = "dockerhub"
	RegistryGHCR = "ghcr"
	RegistryECR  = "ecr"
)

// Config is the persisted document. Boolean preferences use pointers so
// that "absent" keeps its default (true) instead of decaying to false on
// load.
type Config struct {
	Registry             string                     `json:"registry,omitempty"`
	RegistryUser         string                     `json:"registryUser,omitempty"`
	PreferRegistryImages *bool                      `json:"preferRegistryImages,omitempty"`
	PushImages           *bool                      `json:"pushImages,omitempty"`
	PrivateRegistry      string                     `json:"privateRegistry,omitempty"`
	AgentImages          map[string]string          `json:"agentImages,omitempty"`
	LastBuildAt          *time.Time                 `json:"lastBuildAt,omitempty"`
	Extensions           map[string]json.RawMessage `json:"extensions,omitempty"`
}

// PreferRegistry reports whether the resolver should try a registry pull
// before building locally. Defaults to true.
func (c *Config) PreferRegistry() bool {
	return c.PreferRegistryImages == nil || *c.PreferRegistryImages
}

// PushEnabled reports whether locally-built images should be pushed.
// Defaults to true.
func (c *Config) PushEnabled() bool {
	return c.PushImages == nil || *c.PushImages
}

// AgentImage returns the per-agent override reference, or "".
func (c *Config) AgentImage(agent string) string {
	return c.AgentImages[agent]
}

func defaultConfig() *Config {
	return &Config{Registry: RegistryHub}
}

// Home returns the vibekit state directory, honoring VIBEKIT_HOME.
func Home() (string, error) {
	if dir := os.Getenv("VIBEKIT_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "cannot determine home directory")
	}
	return filepath.Join(home, ".vibekit"), nil
}
