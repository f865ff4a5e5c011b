// Copyright (C) 2026 the vibekit authors
// SPDX-License-Identifier: Apache-2.0
package oauth

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/vibekit/vibekit/pkg/config"
)

// Storage persists one token record. Load returns (nil, nil) when no
// record exists.
type Storage interface {
	Load() (*Token, error)
	Save(*Token) error
	Clear() error
}

// MemoryStorage holds the record in-process; used by tests and short-lived
// embedders.
type MemoryStorage struct {
	mu    sync.Mutex
	token *Token
}

var _ Storage = (*MemoryStorage)(nil)

func (m *MemoryStorage) Load() (*Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == nil {
		return nil, nil
	}
	cp := *m.token
	return &cp, nil
}

func (m *MemoryStorage) Save(t *Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.token = &cp
	return nil
}

func (m *MemoryStorage) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = nil
	return nil
}

// FileStorage keeps the record at <home>/auth/<provider>.json with
// user-only permissions.
type FileStorage struct {
	path string
}

var _ Storage = (*FileStorage)(nil)

// NewFileStorage places the record under the vibekit home.
func NewFileStorage(provider string) (*FileStorage, error) {
	home, err := config.Home()
	if err != nil {
		return nil, err
	}
	return &FileStorage{path: filepath.Join(home, "auth", provider+".json")}, nil
}

// NewFileStorageAt uses an explicit path.
func NewFileStorageAt(path string) *FileStorage {
	return &FileStorage{path: path}
}

func (f *FileStorage) Load() (*Token, error) {
	buf, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read token")
	}
	var t Token
	if err := json.Unmarshal(buf, &t); err != nil {
		return nil, errors.Wrapf(ErrMalformedToken, "%s: %s", f.path, err)
	}
	return &t, nil
}

func (f *FileStorage) Save(t *Token) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return errors.Wrap(err, "failed to create auth directory")
	}
	buf, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode token")
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, append(buf, '\n'), 0o600); err != nil {
		return errors.Wrap(err, "failed to write token")
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return errors.Wrap(err, "failed to replace token")
	}
	return nil
}

func (f *FileStorage) Clear() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to delete token")
	}
	return nil
}
