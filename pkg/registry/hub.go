// Copyright (C) 2026 the vibekit authors
// SPDX-License-Identifier: Apache-2.0
package registry

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/vibekit/vibekit/pkg/agent"
	"github.com/vibekit/vibekit/pkg/config"
	"github.com/vibekit/vibekit/pkg/dockerclient"
)

// Hub is the Docker Hub provider. The namespace is the hub username; no
// repository creation step exists, pushing creates the repository.
type Hub struct {
	docker dockerclient.Client

	// fallback namespace when CheckLogin cannot name the user
	defaultUser string
}

var _ Provider = (*Hub)(nil)

func NewHub(docker dockerclient.Client, defaultUser string) *Hub {
	return &Hub{docker: docker, defaultUser: defaultUser}
}

func (h *Hub) Kind() string        { return config.RegistryHub }
func (h *Hub) RegistryURL() string { return "" }

func (h *Hub) CheckLogin(ctx context.Context) (*dockerclient.LoginStatus, error) {
	return h.docker.CheckLogin(ctx)
}

// Login for the hub relies on `docker login` having been run; it only
// verifies the resulting state.
func (h *Hub) Login(ctx context.Context, user string) error {
	status, err := h.CheckLogin(ctx)
	if err != nil {
		return err
	}
	if !status.LoggedIn {
		return errors.Wrap(dockerclient.ErrAuthRequired, "run `docker login` first")
	}
	return nil
}

func (h *Hub) namespace(ctx context.Context, user string) (string, error) {
	if user != "" {
		return user, nil
	}
	if h.defaultUser != "" {
		return h.defaultUser, nil
	}
	status, err := h.CheckLogin(ctx)
	if err != nil {
		return "", err
	}
	if status.User == "" {
		// Logged in through a credential store, or not at all; either
		// way the caller must name the namespace.
		return "", ErrNoNamespace
	}
	return status.User, nil
}

func (h *Hub) ImageName(ctx context.Context, kind agent.Kind, user string) (string, error) {
	ns, err := h.namespace(ctx, user)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s:latest", ns, kind.Repository()), nil
}

func (h *Hub) UploadImages(ctx context.Context, user string, kinds []agent.Kind) (*UploadSummary, error) {
	ns, err := h.namespace(ctx, user)
	if err != nil {
		return nil, err
	}
	return uploadAll(ctx, h.docker, kinds, func(k agent.Kind) (string, error) {
		return fmt.Sprintf("%s/%s:latest", ns, k.Repository()), nil
	}, nil)
}

func (h *Hub) Pull(ctx context.Context, ref string) error {
	return h.docker.Pull(ctx, ref)
}

func (h *Hub) ImageExistsLocally(ctx context.Context, ref string) (bool, error) {
	return h.docker.ImageExists(ctx, ref)
}
