// Copyright (C) 2026 the vibekit authors
// SPDX-License-Identifier: Apache-2.0
package registry

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/vibekit/vibekit/pkg/agent"
	"github.com/vibekit/vibekit/pkg/config"
	"github.com/vibekit/vibekit/pkg/dockerclient"
)

// Manager holds the provider map and routes every operation to the one
// selected as default (or named explicitly via Provider).
type Manager struct {
	mu        sync.RWMutex
	providers map[string]Provider
	def       string

	// user is the configured registry namespace, forwarded to providers
	// that need one.
	user string
}

// NewManager builds a manager over the given providers. def must name one
// of them.
func NewManager(def, user string, providers ...Provider) (*Manager, error) {
	m := &Manager{providers: map[string]Provider{}, user: user}
	for _, p := range providers {
		m.providers[p.Kind()] = p
	}
	if def == "" {
		def = config.RegistryHub
	}
	if _, ok := m.providers[def]; !ok {
		return nil, errors.Errorf("unknown registry kind %q", def)
	}
	m.def = def
	return m, nil
}

// NewDefaultManager wires the three concrete providers from the user
// config.
func NewDefaultManager(docker dockerclient.Client, cfg *config.Config) (*Manager, error) {
	return NewManager(cfg.Registry, cfg.RegistryUser,
		NewHub(docker, cfg.RegistryUser),
		NewGHCR(docker, cfg.RegistryUser),
		NewECR(docker, ""),
	)
}

// Provider returns the provider for an explicit kind.
func (m *Manager) Provider(kind string) (Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.providers[kind]
	if !ok {
		return nil, errors.Errorf("unknown registry kind %q", kind)
	}
	return p, nil
}

// Default returns the currently selected provider.
func (m *Manager) Default() Provider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.providers[m.def]
}

// SetDefault switches the selected provider.
func (m *Manager) SetDefault(kind string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.providers[kind]; !ok {
		return errors.Errorf("unknown registry kind %q", kind)
	}
	m.def = kind
	return nil
}

// Kinds lists the registered provider kinds.
func (m *Manager) Kinds() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.providers))
	for k := range m.providers {
		out = append(out, k)
	}
	return out
}

// ImageName asks the default provider for the remote reference of an
// agent image, using the configured user as the namespace hint.
func (m *Manager) ImageName(ctx context.Context, kind agent.Kind) (string, error) {
	return m.Default().ImageName(ctx, kind, m.user)
}

func (m *Manager) Pull(ctx context.Context, ref string) error {
	return m.Default().Pull(ctx, ref)
}

func (m *Manager) CheckLogin(ctx context.Context) (*dockerclient.LoginStatus, error) {
	return m.Default().CheckLogin(ctx)
}

func (m *Manager) UploadImages(ctx context.Context, kinds []agent.Kind) (*UploadSummary, error) {
	return m.Default().UploadImages(ctx, m.user, kinds)
}

// SetupRegistry checks login on the default provider and uploads the
// requested agent images.
func (m *Manager) SetupRegistry(ctx context.Context, kinds []agent.Kind) (*UploadSummary, error) {
	p := m.Default()
	status, err := p.CheckLogin(ctx)
	if err != nil {
		return nil, err
	}
	if !status.LoggedIn {
		if err := p.Login(ctx, m.user); err != nil {
			return nil, err
		}
	}
	summary, err := p.UploadImages(ctx, m.user, kinds)
	if err != nil {
		return nil, err
	}
	for _, r := range summary.Results {
		if r.Err != nil {
			logrus.Warnf("upload %s: %s", r.Agent, r.Err)
		}
	}
	return summary, nil
}
