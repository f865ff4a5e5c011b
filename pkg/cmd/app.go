// Copyright (C) 2026 the vibekit authors
// SPDX-License-Identifier: Apache-2.0
package commands

import (
	"os"

	"github.com/vibekit/vibekit/pkg/config"
	"github.com/vibekit/vibekit/pkg/dockerclient"
	"github.com/vibekit/vibekit/pkg/registry"
	"github.com/vibekit/vibekit/pkg/resolver"
	"github.com/vibekit/vibekit/pkg/sandbox"
)

// app wires the core components once per invocation.
type app struct {
	store    *config.Store
	docker   *dockerclient.Docker
	manager  *registry.Manager
	resolver *resolver.Resolver
	sandbox  *sandbox.Provider
}

func newApp() (*app, error) {
	store, err := config.NewStore()
	if err != nil {
		return nil, err
	}
	cfg, err := store.Load()
	if err != nil {
		return nil, err
	}
	docker, err := dockerclient.New()
	if err != nil {
		return nil, err
	}
	manager, err := registry.NewDefaultManager(docker, cfg)
	if err != nil {
		return nil, err
	}
	res := resolver.New(docker, manager, store, assetsDir())
	engine, err := sandbox.NewDockerEngine()
	if err != nil {
		return nil, err
	}
	return &app{
		store:    store,
		docker:   docker,
		manager:  manager,
		resolver: res,
		sandbox:  sandbox.NewProvider(engine, res),
	}, nil
}

func assetsDir() string {
	if dir := os.Getenv("VIBEKIT_ASSETS"); dir != "" {
		return dir
	}
	return "assets"
}
