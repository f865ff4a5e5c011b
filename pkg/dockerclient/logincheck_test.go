// Copyright (C) 2026 the vibekit authors
// SPDX-License-Identifier: Apache-2.0
package dockerclient

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDockerConfig(t *testing.T, content string) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(content), 0o600))
	t.Setenv("DOCKER_CONFIG", dir)
}

func Test_CheckLogin_InlineAuth(t *testing.T) {
	auth := base64.StdEncoding.EncodeToString([]byte("alice:hunter2"))
	writeDockerConfig(t, `{"auths":{"https://index.docker.io/v1/":{"auth":"`+auth+`"}}}`)

	d := &Docker{}
	status, err := d.CheckLogin(context.Background())
	require.NoError(t, err)
	assert.True(t, status.LoggedIn)
	assert.Equal(t, "alice", status.User)
	assert.Equal(t, "docker.io", status.Registry)
}

func Test_CheckLogin_NoCredentials(t *testing.T) {
	writeDockerConfig(t, `{"auths":{}}`)

	d := &Docker{}
	status, err := d.CheckLogin(context.Background())
	require.NoError(t, err)
	assert.False(t, status.LoggedIn)
	assert.Empty(t, status.User)
}

func Test_CheckLogin_MissingConfig(t *testing.T) {
	t.Setenv("DOCKER_CONFIG", t.TempDir())

	d := &Docker{}
	status, err := d.CheckLogin(context.Background())
	require.NoError(t, err, "a missing config means not logged in, not an error")
	assert.False(t, status.LoggedIn)
}

func Test_HubUserFrom(t *testing.T) {
	t.Parallel()
	encode := func(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

	cfg := &dockerConfig{Auths: map[string]struct {
		Auth string `json:"auth"`
	}{
		"docker.io": {Auth: encode("bob:pw")},
	}}
	assert.Equal(t, "bob", hubUserFrom(cfg))

	// malformed entries are skipped, not fatal
	cfg.Auths["docker.io"] = struct {
		Auth string `json:"auth"`
	}{Auth: "%%%not-base64%%%"}
	assert.Empty(t, hubUserFrom(cfg))

	assert.Empty(t, hubUserFrom(&dockerConfig{}))
}
