// Copyright (C) 2026 the vibekit authors
// SPDX-License-Identifier: Apache-2.0
package dockerclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// probeImage is a tiny public image pulled to confirm that hidden
// credential-store auth actually works.
const probeImage = "alpine:3.19"

// dockerConfig mirrors the parts of ~/.docker/config.json we care about.
type dockerConfig struct {
	Auths map[string]struct {
		Auth string `json:"auth"`
	} `json:"auths"`
	CredsStore  string            `json:"credsStore"`
	CredHelpers map[string]string `json:"credHelpers"`
}

// CheckLogin inspects the client config for hub credentials. When a
// credential store hides the username, a probe pull decides between
// "logged in, user unknown" and "not logged in". See LoginStatus for the
// empty-user contract.
func (d *Docker) CheckLogin(ctx context.Context) (*LoginStatus, error) {
	status := &LoginStatus{Registry: "docker.io"}

	cfg, err := readDockerConfig()
	if err != nil {
		logrus.Debugf("could not read docker config: %s", err)
		return status, nil
	}

	if user := hubUserFrom(cfg); user != "" {
		status.LoggedIn = true
		status.User = user
		return status, nil
	}

	if cfg.CredsStore == "" && len(cfg.CredHelpers) == 0 {
		return status, nil
	}

	// Credential store in play; the config cannot tell us who we are.
	// A successful authenticated pull of a known-public image at least
	// proves the daemon can reach the registry with stored credentials.
	if err := d.Pull(ctx, probeImage); err != nil {
		logrus.Debugf("login probe pull failed: %s", err)
		return status, nil
	}
	status.LoggedIn = true
	return status, nil
}

func readDockerConfig() (*dockerConfig, error) {
	dir := os.Getenv("DOCKER_CONFIG")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(home, ".docker")
	}
	buf, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		return nil, err
	}
	var cfg dockerConfig
	if err := json.Unmarshal(buf, &cfg); err != nil {
		return nil, errors.Wrap(err, "malformed docker config")
	}
	return &cfg, nil
}

// hubUserFrom extracts the hub username from an inline base64 auth entry,
// if one exists.
func hubUserFrom(cfg *dockerConfig) string {
	for _, key := range []string{"https://index.docker.io/v1/", "index.docker.io", "docker.io"} {
		entry, ok := cfg.Auths[key]
		if !ok || entry.Auth == "" {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(entry.Auth)
		if err != nil {
			continue
		}
		if user, _, found := strings.Cut(string(decoded), ":"); found && user != "" {
			return user
		}
	}
	return ""
}
