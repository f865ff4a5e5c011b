// Copyright (C) 2026 the vibekit authors
// SPDX-License-Identifier: Apache-2.0
package oauth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tokenServer fakes the provider's token endpoint. Every response carries a
// counter so tests can tell responses apart.
type tokenServer struct {
	*httptest.Server
	requests int32
	delay    time.Duration

	mu       sync.Mutex
	lastForm url.Values
}

func newTokenServer(t *testing.T) *tokenServer {
	t.Helper()
	ts := &tokenServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&ts.requests, 1)
		if ts.delay > 0 {
			time.Sleep(ts.delay)
		}
		require.NoError(t, r.ParseForm())
		ts.mu.Lock()
		ts.lastForm = r.Form
		ts.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"at-%d","refresh_token":"rt-%d","token_type":"Bearer","expires_in":7200,"scope":"user:inference"}`, n, n)
	})
	ts.Server = httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func (ts *tokenServer) form(key string) string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.lastForm.Get(key)
}

func newTestManager(t *testing.T, ts *tokenServer) *Manager {
	t.Helper()
	return NewManager("claude", Endpoints{
		AuthURL:     ts.URL + "/authorize",
		TokenURL:    ts.URL + "/token",
		RedirectURL: "https://example.com/callback",
		ClientID:    "test-client",
		Scopes:      []string{"user:inference"},
	}, &MemoryStorage{})
}

func Test_AuthorizeURL(t *testing.T) {
	m := newTestManager(t, newTokenServer(t))

	authURL, err := m.AuthorizeURL()
	require.NoError(t, err)
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "test-client", q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("code_challenge"))
	assert.NotEmpty(t, q.Get("state"))

	// each flow start gets a fresh state
	second, err := m.AuthorizeURL()
	require.NoError(t, err)
	u2, _ := url.Parse(second)
	assert.NotEqual(t, q.Get("state"), u2.Query().Get("state"))
}

func Test_ExchangeCode(t *testing.T) {
	ts := newTokenServer(t)
	m := newTestManager(t, ts)

	authURL, err := m.AuthorizeURL()
	require.NoError(t, err)
	u, _ := url.Parse(authURL)
	state := u.Query().Get("state")

	record, err := m.ExchangeCode(context.Background(), "the-code#"+state)
	require.NoError(t, err)
	assert.Equal(t, "at-1", record.AccessToken)
	assert.Equal(t, "rt-1", record.RefreshToken)
	assert.Equal(t, "user:inference", record.Scope)
	assert.InDelta(t, 7200, record.ExpiresIn, 5)

	assert.Equal(t, "authorization_code", ts.form("grant_type"))
	assert.Equal(t, "the-code", ts.form("code"))
	assert.NotEmpty(t, ts.form("code_verifier"), "exchange must carry the PKCE verifier")

	stored, err := m.Status()
	require.NoError(t, err)
	assert.Equal(t, record.AccessToken, stored.AccessToken)
}

func Test_ExchangeCode_StateMismatch(t *testing.T) {
	m := newTestManager(t, newTokenServer(t))
	_, err := m.AuthorizeURL()
	require.NoError(t, err)

	_, err = m.ExchangeCode(context.Background(), "the-code#forged-state")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStateMismatch))

	// the flow is dead; a retry needs a fresh AuthorizeURL
	_, err = m.ExchangeCode(context.Background(), "the-code#forged-state")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrStateMismatch))
	assert.Contains(t, err.Error(), "no authorization in progress")
}

func Test_ExchangeCode_WithoutFlow(t *testing.T) {
	m := newTestManager(t, newTokenServer(t))
	_, err := m.ExchangeCode(context.Background(), "code#state")
	require.Error(t, err)

	_, err = m.ExchangeCode(context.Background(), "#state")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedToken))
}

func Test_GetValidToken_FreshTokenSkipsRefresh(t *testing.T) {
	ts := newTokenServer(t)
	m := newTestManager(t, ts)
	require.NoError(t, m.storage.Save(&Token{
		AccessToken: "at-stored", RefreshToken: "rt-stored",
		ExpiresIn: 28800, IssuedAt: time.Now().UnixMilli(),
	}))

	got, err := m.GetValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "at-stored", got)
	assert.Zero(t, atomic.LoadInt32(&ts.requests))
}

func Test_GetValidToken_RefreshesExpired(t *testing.T) {
	ts := newTokenServer(t)
	m := newTestManager(t, ts)
	require.NoError(t, m.storage.Save(&Token{
		AccessToken: "at-stale", RefreshToken: "rt-stored",
		ExpiresIn: 7200, IssuedAt: time.Now().Add(-3 * time.Hour).UnixMilli(),
	}))

	got, err := m.GetValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "at-1", got)
	assert.Equal(t, "refresh_token", ts.form("grant_type"))
	assert.Equal(t, "rt-stored", ts.form("refresh_token"))

	stored, err := m.Status()
	require.NoError(t, err)
	assert.Equal(t, "at-1", stored.AccessToken)
	assert.Equal(t, "rt-1", stored.RefreshToken)
	assert.False(t, stored.Expired(time.Now()))
}

func Test_GetValidToken_ConcurrentCallersShareOneRefresh(t *testing.T) {
	ts := newTokenServer(t)
	ts.delay = 50 * time.Millisecond
	m := newTestManager(t, ts)
	require.NoError(t, m.storage.Save(&Token{
		AccessToken: "at-stale", RefreshToken: "rt-stored",
		ExpiresIn: 7200, IssuedAt: time.Now().Add(-3 * time.Hour).UnixMilli(),
	}))

	const callers = 8
	tokens := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := m.GetValidToken(context.Background())
			assert.NoError(t, err)
			tokens[i] = tok
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&ts.requests), "concurrent callers must share one refresh")
	for _, tok := range tokens {
		assert.Equal(t, "at-1", tok)
	}
}

// vanishingStorage serves an expired record once and nothing afterwards,
// like a concurrent Logout landing mid-refresh.
type vanishingStorage struct {
	mu    sync.Mutex
	loads int
	token Token
}

func (s *vanishingStorage) Load() (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	if s.loads > 1 {
		return nil, nil
	}
	cp := s.token
	return &cp, nil
}

func (s *vanishingStorage) Save(*Token) error { return nil }
func (s *vanishingStorage) Clear() error      { return nil }

func Test_GetValidToken_RecordClearedDuringRefresh(t *testing.T) {
	ts := newTokenServer(t)
	m := NewManager("claude", Endpoints{
		TokenURL: ts.URL + "/token",
		ClientID: "test-client",
	}, &vanishingStorage{token: Token{
		AccessToken: "at-stale", RefreshToken: "rt-stored",
		ExpiresIn: 7200, IssuedAt: time.Now().Add(-3 * time.Hour).UnixMilli(),
	}})

	_, err := m.GetValidToken(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotAuthenticated))
	assert.Zero(t, atomic.LoadInt32(&ts.requests), "no refresh without a record to refresh")
}

func Test_GetValidToken_NotAuthenticated(t *testing.T) {
	m := newTestManager(t, newTokenServer(t))
	_, err := m.GetValidToken(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotAuthenticated))
}

func Test_GetValidToken_ExpiredWithoutRefreshToken(t *testing.T) {
	m := newTestManager(t, newTokenServer(t))
	require.NoError(t, m.storage.Save(&Token{
		AccessToken: "at-stale",
		ExpiresIn:   7200, IssuedAt: time.Now().Add(-3 * time.Hour).UnixMilli(),
	}))
	_, err := m.GetValidToken(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotAuthenticated))
}

func Test_Refresh_KeepsPreviousRefreshToken(t *testing.T) {
	ts := newTokenServer(t)
	m := newTestManager(t, ts)

	record, err := m.Refresh(context.Background(), "rt-original")
	require.NoError(t, err)
	assert.Equal(t, "at-1", record.AccessToken)
	// the fake rotates the refresh token; the new one wins
	assert.Equal(t, "rt-1", record.RefreshToken)

	_, err = m.Refresh(context.Background(), "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRefreshFailed))
}

func Test_ImportExport_RoundTrip(t *testing.T) {
	ts := newTokenServer(t)
	m := newTestManager(t, ts)
	original := &Token{
		AccessToken: "at-x", RefreshToken: "rt-x", TokenType: "Bearer",
		ExpiresIn: 7200, Scope: "user:inference", IssuedAt: time.Now().UnixMilli(),
	}
	require.NoError(t, m.storage.Save(original))

	full, err := m.Export("full")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, os.WriteFile(path, []byte(full), 0o600))

	require.NoError(t, m.Logout())
	status, err := m.Status()
	require.NoError(t, err)
	assert.Nil(t, status)

	record, err := m.Import(context.Background(), ImportOptions{FromFile: path})
	require.NoError(t, err)
	assert.Equal(t, original, record)
}

func Test_Export_Formats(t *testing.T) {
	m := newTestManager(t, newTokenServer(t))
	require.NoError(t, m.storage.Save(&Token{
		AccessToken: "at-x", RefreshToken: "rt-x", TokenType: "Bearer",
		ExpiresIn: 7200, Scope: "user:inference", IssuedAt: time.Now().UnixMilli(),
	}))

	env, err := m.Export("env")
	require.NoError(t, err)
	assert.Contains(t, env, "export CLAUDE_ACCESS_TOKEN=at-x\n")
	assert.Contains(t, env, "export CLAUDE_REFRESH_TOKEN=rt-x\n")

	jsonOut, err := m.Export("json")
	require.NoError(t, err)
	assert.Contains(t, jsonOut, `"access_token": "at-x"`)
	assert.NotContains(t, jsonOut, "rt-x", "the json format must not leak the refresh token")

	refresh, err := m.Export("refresh")
	require.NoError(t, err)
	assert.Equal(t, "rt-x", refresh)

	_, err = m.Export("yaml")
	require.Error(t, err)
}

func Test_Export_NotAuthenticated(t *testing.T) {
	m := newTestManager(t, newTokenServer(t))
	_, err := m.Export("full")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotAuthenticated))
}

func Test_Import_FromEnv(t *testing.T) {
	t.Setenv("CLAUDE_ACCESS_TOKEN", "at-env")
	t.Setenv("CLAUDE_REFRESH_TOKEN", "rt-env")
	m := newTestManager(t, newTokenServer(t))

	record, err := m.Import(context.Background(), ImportOptions{FromEnv: true})
	require.NoError(t, err)
	assert.Equal(t, "at-env", record.AccessToken)
	assert.Equal(t, "rt-env", record.RefreshToken)
}

func Test_Import_FromEnvUnset(t *testing.T) {
	t.Setenv("CLAUDE_ACCESS_TOKEN", "")
	t.Setenv("CLAUDE_REFRESH_TOKEN", "")
	m := newTestManager(t, newTokenServer(t))
	_, err := m.Import(context.Background(), ImportOptions{FromEnv: true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedToken))
}

func Test_Import_RefreshTokenOnly(t *testing.T) {
	ts := newTokenServer(t)
	m := newTestManager(t, ts)

	record, err := m.Import(context.Background(), ImportOptions{Refresh: "rt-seed"})
	require.NoError(t, err)
	assert.Equal(t, "at-1", record.AccessToken)
	assert.Equal(t, "refresh_token", ts.form("grant_type"))

	stored, err := m.Status()
	require.NoError(t, err)
	assert.Equal(t, "at-1", stored.AccessToken)
}

func Test_Import_RejectsEmptyRecord(t *testing.T) {
	m := newTestManager(t, newTokenServer(t))
	path := filepath.Join(t.TempDir(), "empty.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o600))
	_, err := m.Import(context.Background(), ImportOptions{FromFile: path})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedToken))

	_, err = m.Import(context.Background(), ImportOptions{})
	require.Error(t, err)
}

func Test_BuiltinProviders(t *testing.T) {
	t.Parallel()
	assert.Contains(t, Providers(), "claude")
	ep, ok := LookupEndpoints("claude")
	require.True(t, ok)
	assert.NotEmpty(t, ep.ClientID)
	assert.NotEmpty(t, ep.AuthURL)
	_, ok = LookupEndpoints("nonexistent")
	assert.False(t, ok)
}
