// Copyright (C) 2026 the vibekit authors
// SPDX-License-Identifier: Apache-2.0

// Package oauth manages per-provider access/refresh token pairs: the PKCE
// authorization flow, expiry-aware refresh, and import/export in the
// formats agent tooling expects.
package oauth

import (
	"time"

	"github.com/pkg/errors"
)

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrRefreshFailed    = errors.New("token refresh failed")
	ErrStateMismatch    = errors.New("authorization state mismatch")
	ErrMalformedToken   = errors.New("malformed token")
)

// RefreshBuffer is subtracted from the advertised lifetime so tokens are
// refreshed well before they actually lapse.
const RefreshBuffer = time.Hour

// Token is the persisted record for one provider.
type Token struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	TokenType    string `json:"tokenType,omitempty"`
	ExpiresIn    int64  `json:"expiresIn,omitempty"` // seconds
	Scope        string `json:"scope,omitempty"`
	IssuedAt     int64  `json:"issuedAt"` // unix millis
}

// Expired reports whether the token is past its lifetime minus the
// refresh buffer. Tokens without an advertised lifetime never expire.
func (t *Token) Expired(now time.Time) bool {
	if t.ExpiresIn <= 0 {
		return false
	}
	deadline := (t.ExpiresIn - int64(RefreshBuffer/time.Second)) * 1000
	return now.UnixMilli()-t.IssuedAt >= deadline
}

func (t *Token) validate() error {
	if t.AccessToken == "" && t.RefreshToken == "" {
		return errors.Wrap(ErrMalformedToken, "record carries neither access nor refresh token")
	}
	return nil
}
