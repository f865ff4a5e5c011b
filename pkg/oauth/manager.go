// Copyright (C) 2026 the vibekit authors
// SPDX-License-Identifier: Apache-2.0
package oauth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// Endpoints names the OAuth endpoints and client identity for a provider.
type Endpoints struct {
	AuthURL     string
	TokenURL    string
	RedirectURL string
	ClientID    string
	Scopes      []string
}

// builtin provider endpoints; all values are public client constants.
var builtins = map[string]Endpoints{
	"claude": {
		AuthURL:     "https://claude.ai/oauth/authorize",
		TokenURL:    "https://console.anthropic.com/v1/oauth/token",
		RedirectURL: "https://console.anthropic.com/oauth/code/callback",
		ClientID:    "9d1c250a-e61b-44d9-88ed-5944d1962f5e",
		Scopes:      []string{"org:create_api_key", "user:profile", "user:inference"},
	},
}

// Providers lists the provider names with builtin endpoints.
func Providers() []string {
	out := make([]string, 0, len(builtins))
	for name := range builtins {
		out = append(out, name)
	}
	return out
}

// LookupEndpoints returns the builtin endpoints for a provider name.
func LookupEndpoints(provider string) (Endpoints, bool) {
	ep, ok := builtins[provider]
	return ep, ok
}

type phase int

const (
	phaseIdle phase = iota
	phaseAwaitingCode
	phaseExchanging
	phaseActive
)

// Manager drives the authorization-code-with-PKCE flow for one provider
// and keeps the resulting record fresh. It is a value type over a Storage
// handle; construct one per provider and call instance methods.
//
// Flow state machine: idle -> awaiting_code (AuthorizeURL) -> exchanging
// (ExchangeCode) -> active. A state mismatch drops back to idle.
type Manager struct {
	provider string
	cfg      oauth2.Config
	storage  Storage

	sf  singleflight.Group
	now func() time.Time

	mu       sync.Mutex
	phase    phase
	state    string
	verifier string
}

func NewManager(provider string, ep Endpoints, storage Storage) *Manager {
	return &Manager{
		provider: provider,
		cfg: oauth2.Config{
			ClientID:    ep.ClientID,
			RedirectURL: ep.RedirectURL,
			Scopes:      ep.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  ep.AuthURL,
				TokenURL: ep.TokenURL,
			},
		},
		storage: storage,
		now:     time.Now,
	}
}

func (m *Manager) Provider() string { return m.provider }

// AuthorizeURL starts the flow: a fresh PKCE verifier and state are
// generated and the URL to present to the user is returned.
func (m *Manager) AuthorizeURL() (string, error) {
	state, err := randomState()
	if err != nil {
		return "", err
	}
	verifier := oauth2.GenerateVerifier()

	m.mu.Lock()
	m.phase = phaseAwaitingCode
	m.state = state
	m.verifier = verifier
	m.mu.Unlock()

	return m.cfg.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier)), nil
}

// ExchangeCode consumes the "code#state" string the authorization page
// hands the user, verifies the state, and exchanges the code for a token
// record, which is saved.
func (m *Manager) ExchangeCode(ctx context.Context, codeAndState string) (*Token, error) {
	code, state, _ := strings.Cut(strings.TrimSpace(codeAndState), "#")
	if code == "" {
		return nil, errors.Wrap(ErrMalformedToken, "empty authorization code")
	}

	m.mu.Lock()
	if m.phase != phaseAwaitingCode {
		m.mu.Unlock()
		return nil, errors.New("no authorization in progress (call AuthorizeURL first)")
	}
	if state != m.state {
		m.phase = phaseIdle
		m.state = ""
		m.verifier = ""
		m.mu.Unlock()
		return nil, ErrStateMismatch
	}
	m.phase = phaseExchanging
	verifier := m.verifier
	m.mu.Unlock()

	tok, err := m.cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		m.setPhase(phaseIdle)
		return nil, errors.Wrap(err, "code exchange failed")
	}
	record := m.fromOAuth2(tok, "")
	if err := m.storage.Save(record); err != nil {
		return nil, err
	}
	m.setPhase(phaseActive)
	return record, nil
}

// GetValidToken returns a usable access token, refreshing first when the
// stored one is expired. Concurrent callers share a single in-flight
// refresh and all observe its result.
func (m *Manager) GetValidToken(ctx context.Context) (string, error) {
	t, err := m.storage.Load()
	if err != nil {
		return "", err
	}
	if t == nil {
		return "", errors.Wrapf(ErrNotAuthenticated, "provider %s", m.provider)
	}
	if !t.Expired(m.now()) && t.AccessToken != "" {
		return t.AccessToken, nil
	}
	if t.RefreshToken == "" {
		return "", errors.Wrapf(ErrNotAuthenticated, "provider %s token expired and no refresh token held", m.provider)
	}

	v, err, _ := m.sf.Do("refresh", func() (interface{}, error) {
		// Re-read under the flight: a previous caller may have already
		// refreshed and saved.
		cur, err := m.storage.Load()
		if err != nil {
			return nil, err
		}
		if cur != nil && !cur.Expired(m.now()) && cur.AccessToken != "" {
			return cur.AccessToken, nil
		}
		// The record can vanish between the outer load and here (a
		// concurrent Logout, or the file removed externally).
		if cur == nil || cur.RefreshToken == "" {
			return nil, errors.Wrapf(ErrNotAuthenticated, "provider %s credentials gone", m.provider)
		}
		refreshed, err := m.Refresh(ctx, cur.RefreshToken)
		if err != nil {
			return nil, err
		}
		if err := m.storage.Save(refreshed); err != nil {
			return nil, err
		}
		logrus.Debugf("refreshed %s token", m.provider)
		return refreshed.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Refresh exchanges a refresh token for a new record. The record is not
// persisted; GetValidToken and Import do that.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	if refreshToken == "" {
		return nil, errors.Wrap(ErrRefreshFailed, "empty refresh token")
	}
	src := m.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, errors.Wrapf(ErrRefreshFailed, "%s", err)
	}
	return m.fromOAuth2(tok, refreshToken), nil
}

// ImportOptions selects one import source; exactly one field should be
// set.
type ImportOptions struct {
	Token    string // raw access token
	Refresh  string // refresh token, exchanged immediately
	FromEnv  bool   // <PROVIDER>_ACCESS_TOKEN / <PROVIDER>_REFRESH_TOKEN
	FromFile string // path to an exported "full" record
}

// Import installs a token record from an external source and saves it.
func (m *Manager) Import(ctx context.Context, opts ImportOptions) (*Token, error) {
	record, err := m.importRecord(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := record.validate(); err != nil {
		return nil, err
	}
	if err := m.storage.Save(record); err != nil {
		return nil, err
	}
	m.setPhase(phaseActive)
	return record, nil
}

func (m *Manager) importRecord(ctx context.Context, opts ImportOptions) (*Token, error) {
	switch {
	case opts.Token != "":
		return &Token{AccessToken: opts.Token, TokenType: "Bearer", IssuedAt: m.now().UnixMilli()}, nil
	case opts.Refresh != "":
		return m.Refresh(ctx, opts.Refresh)
	case opts.FromFile != "":
		buf, err := os.ReadFile(opts.FromFile)
		if err != nil {
			return nil, err
		}
		var t Token
		if err := json.Unmarshal(buf, &t); err != nil {
			return nil, errors.Wrapf(ErrMalformedToken, "%s: %s", opts.FromFile, err)
		}
		return &t, nil
	case opts.FromEnv:
		access := os.Getenv(m.envKey("ACCESS_TOKEN"))
		refresh := os.Getenv(m.envKey("REFRESH_TOKEN"))
		if access == "" && refresh == "" {
			return nil, errors.Wrapf(ErrMalformedToken, "neither %s nor %s set",
				m.envKey("ACCESS_TOKEN"), m.envKey("REFRESH_TOKEN"))
		}
		if access == "" {
			return m.Refresh(ctx, refresh)
		}
		return &Token{
			AccessToken:  access,
			RefreshToken: refresh,
			TokenType:    "Bearer",
			IssuedAt:     m.now().UnixMilli(),
		}, nil
	}
	return nil, errors.New("no import source given")
}

// Export formats: env, json, full, refresh.
func (m *Manager) Export(format string) (string, error) {
	t, err := m.storage.Load()
	if err != nil {
		return "", err
	}
	if t == nil {
		return "", errors.Wrapf(ErrNotAuthenticated, "provider %s", m.provider)
	}
	switch format {
	case "env":
		var b strings.Builder
		fmt.Fprintf(&b, "export %s=%s\n", m.envKey("ACCESS_TOKEN"), t.AccessToken)
		if t.RefreshToken != "" {
			fmt.Fprintf(&b, "export %s=%s\n", m.envKey("REFRESH_TOKEN"), t.RefreshToken)
		}
		return b.String(), nil
	case "json":
		buf, err := json.MarshalIndent(map[string]interface{}{
			"access_token": t.AccessToken,
			"token_type":   t.TokenType,
			"expires_in":   t.ExpiresIn,
			"scope":        t.Scope,
		}, "", "  ")
		if err != nil {
			return "", err
		}
		return string(buf), nil
	case "full":
		buf, err := json.MarshalIndent(t, "", "  ")
		if err != nil {
			return "", err
		}
		return string(buf), nil
	case "refresh":
		if t.RefreshToken == "" {
			return "", errors.Wrap(ErrNotAuthenticated, "no refresh token held")
		}
		return t.RefreshToken, nil
	}
	return "", errors.Errorf("unknown export format %q (env|json|full|refresh)", format)
}

// Logout deletes the stored record.
func (m *Manager) Logout() error {
	m.setPhase(phaseIdle)
	return m.storage.Clear()
}

// Status returns the stored record without refreshing, or nil.
func (m *Manager) Status() (*Token, error) {
	return m.storage.Load()
}

func (m *Manager) setPhase(p phase) {
	m.mu.Lock()
	m.phase = p
	if p == phaseIdle || p == phaseActive {
		m.state = ""
		m.verifier = ""
	}
	m.mu.Unlock()
}

// fromOAuth2 converts a wire token, keeping the previous refresh token
// when the server rotates nothing.
func (m *Manager) fromOAuth2(tok *oauth2.Token, previousRefresh string) *Token {
	now := m.now()
	record := &Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		IssuedAt:     now.UnixMilli(),
	}
	if record.RefreshToken == "" {
		record.RefreshToken = previousRefresh
	}
	if !tok.Expiry.IsZero() {
		record.ExpiresIn = int64(tok.Expiry.Sub(now) / time.Second)
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		record.Scope = scope
	}
	return record
}

func (m *Manager) envKey(suffix string) string {
	return strings.ToUpper(m.provider) + "_" + suffix
}

func randomState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "failed to generate state")
	}
	return hex.EncodeToString(buf), nil
}
