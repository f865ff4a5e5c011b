// Copyright (C) 2026 the vibekit authors
// SPDX-License-Identifier: Apache-2.0
package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
)

// Store reads and writes the config document. Reads tolerate a missing
// file by returning defaults; writes rewrite the whole document under a
// cross-process file lock so concurrent CLI invocations cannot interleave.
type Store struct {
	path string
}

// NewStore places the document at <home>/config.json.
func NewStore() (*Store, error) {
	home, err := Home()
	if err != nil {
		return nil, err
	}
	return NewStoreAt(filepath.Join(home, "config.json")), nil
}

// NewStoreAt uses an explicit document path. Tests use this with a temp
// directory.
func NewStoreAt(path string) *Store {
	return &Store{path: path}
}

func (s *Store) lock() *flock.Flock {
	return flock.New(s.path + ".lock")
}

// Load returns the current document, or defaults when none exists yet.
func (s *Store) Load() (*Config, error) {
	lk := s.lock()
	if err := lk.RLock(); err != nil {
		return nil, errors.Wrap(err, "failed to lock config")
	}
	defer lk.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() (*Config, error) {
	buf, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return defaultConfig(), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config")
	}
	cfg := defaultConfig()
	if err := json.Unmarshal(buf, cfg); err != nil {
		return nil, errors.Wrapf(err, "malformed config at %s", s.path)
	}
	return cfg, nil
}

// Save rewrites the whole document atomically (temp file + rename).
func (s *Store) Save(cfg *Config) error {
	lk := s.lock()
	if err := lk.Lock(); err != nil {
		return errors.Wrap(err, "failed to lock config")
	}
	defer lk.Unlock()
	return s.saveLocked(cfg)
}

func (s *Store) saveLocked(cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}
	buf, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode config")
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, append(buf, '\n'), 0o600); err != nil {
		return errors.Wrap(err, "failed to write config")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, "failed to replace config")
	}
	return nil
}

// Update applies fn to the current document and saves the result, all
// under one exclusive lock.
func (s *Store) Update(fn func(*Config)) (*Config, error) {
	lk := s.lock()
	if err := lk.Lock(); err != nil {
		return nil, errors.Wrap(err, "failed to lock config")
	}
	defer lk.Unlock()
	cfg, err := s.loadLocked()
	if err != nil {
		return nil, err
	}
	fn(cfg)
	if err := s.saveLocked(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// AgentImage returns the per-agent override reference, or "".
func (s *Store) AgentImage(agent string) (string, error) {
	cfg, err := s.Load()
	if err != nil {
		return "", err
	}
	return cfg.AgentImage(agent), nil
}

// SetAgentImage records (or, with ref == "", clears) a per-agent override.
func (s *Store) SetAgentImage(agent, ref string) error {
	_, err := s.Update(func(cfg *Config) {
		if ref == "" {
			delete(cfg.AgentImages, agent)
			return
		}
		if cfg.AgentImages == nil {
			cfg.AgentImages = map[string]string{}
		}
		cfg.AgentImages[agent] = ref
	})
	return err
}

// Delete removes the document. Missing file is not an error.
func (s *Store) Delete() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to delete config")
	}
	return nil
}
