// Copyright (C) 2026 the vibekit authors
// SPDX-License-Identifier: Apache-2.0
package registry

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/vibekit/vibekit/pkg/agent"
	"github.com/vibekit/vibekit/pkg/config"
	"github.com/vibekit/vibekit/pkg/dockerclient"
)

const ghcrHost = "ghcr.io"

// GHCR is the GitHub Container Registry provider. Login needs a personal
// access token in the environment; namespaces are lowercased GitHub users.
type GHCR struct {
	docker      dockerclient.Client
	defaultUser string
}

var _ Provider = (*GHCR)(nil)

func NewGHCR(docker dockerclient.Client, defaultUser string) *GHCR {
	return &GHCR{docker: docker, defaultUser: defaultUser}
}

func (g *GHCR) Kind() string        { return config.RegistryGHCR }
func (g *GHCR) RegistryURL() string { return ghcrHost }

func ghcrToken() string {
	for _, key := range []string{"GHCR_TOKEN", "GITHUB_TOKEN"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}

func (g *GHCR) user(user string) string {
	if user == "" {
		user = g.defaultUser
	}
	if user == "" {
		for _, key := range []string{"GHCR_USER", "GITHUB_USER", "GITHUB_ACTOR"} {
			if v := os.Getenv(key); v != "" {
				user = v
				break
			}
		}
	}
	return strings.ToLower(user)
}

func (g *GHCR) CheckLogin(ctx context.Context) (*dockerclient.LoginStatus, error) {
	status := &dockerclient.LoginStatus{Registry: ghcrHost, User: g.user("")}
	status.LoggedIn = ghcrToken() != "" && status.User != ""
	return status, nil
}

func (g *GHCR) Login(ctx context.Context, user string) error {
	token := ghcrToken()
	if token == "" {
		return errors.Wrap(dockerclient.ErrAuthRequired, "set GHCR_TOKEN or GITHUB_TOKEN")
	}
	u := g.user(user)
	if u == "" {
		return errors.Wrap(ErrNoNamespace, "set GITHUB_USER or pass a user")
	}
	return g.docker.Login(ctx, u, token, ghcrHost)
}

func (g *GHCR) ImageName(ctx context.Context, kind agent.Kind, user string) (string, error) {
	u := g.user(user)
	if u == "" {
		return "", ErrNoNamespace
	}
	return fmt.Sprintf("%s/%s/%s:latest", ghcrHost, u, kind.Repository()), nil
}

func (g *GHCR) UploadImages(ctx context.Context, user string, kinds []agent.Kind) (*UploadSummary, error) {
	if err := g.Login(ctx, user); err != nil {
		return nil, err
	}
	u := g.user(user)
	return uploadAll(ctx, g.docker, kinds, func(k agent.Kind) (string, error) {
		return fmt.Sprintf("%s/%s/%s:latest", ghcrHost, u, k.Repository()), nil
	}, nil)
}

func (g *GHCR) Pull(ctx context.Context, ref string) error {
	return g.docker.Pull(ctx, ref)
}

func (g *GHCR) ImageExistsLocally(ctx context.Context, ref string) (bool, error) {
	return g.docker.ImageExists(ctx, ref)
}
