// Copyright (C) 2026 the vibekit authors
// SPDX-License-Identifier: Apache-2.0

// Package resolver maps an agent kind to a locally-runnable image tag.
//
// The strategy is layered, stopping at the first success:
//
//  1. no agent kind: the neutral base image
//  2. local cache hit on vibekit-<agent>:latest
//  3. pull from the configured registry, retag locally
//  4. build from assets/dockerfiles/Dockerfile.<agent>, optionally push
//  5. fall back to the neutral base image with a warning
package resolver

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vibekit/vibekit/pkg/agent"
	"github.com/vibekit/vibekit/pkg/config"
	"github.com/vibekit/vibekit/pkg/dockerclient"
)

// FallbackImage is the neutral OS base used when no agent kind is given or
// every other step fails.
const FallbackImage = "ubuntu:24.04"

const prebuildParallelism = 3

// Registry is the slice of the registry manager the resolver needs.
type Registry interface {
	ImageName(ctx context.Context, kind agent.Kind) (string, error)
	Pull(ctx context.Context, ref string) error
}

// Resolver implements the layered image resolution strategy.
type Resolver struct {
	docker   dockerclient.Client
	registry Registry // nil disables the pull and push steps
	store    *config.Store
	assets   string
}

func New(docker dockerclient.Client, registry Registry, store *config.Store, assetsDir string) *Resolver {
	if assetsDir == "" {
		assetsDir = "assets"
	}
	return &Resolver{docker: docker, registry: registry, store: store, assets: assetsDir}
}

// Resolve returns a locally-usable tag for the agent kind. Once a call has
// succeeded, repeat calls for the same kind short-circuit on the local
// cache check and touch neither network nor builder.
func (r *Resolver) Resolve(ctx context.Context, kind agent.Kind) (string, error) {
	if kind == agent.None {
		return FallbackImage, nil
	}

	cfg, err := r.store.Load()
	if err != nil {
		return "", err
	}

	// Per-agent override wins outright; no namespace synthesis.
	if override := cfg.AgentImage(string(kind)); override != "" {
		return r.resolveOverride(ctx, override)
	}

	local := kind.LocalTag()
	exists, err := r.docker.ImageExists(ctx, local)
	if err != nil {
		return "", err
	}
	if exists {
		logrus.Debugf("image %s found locally", local)
		return local, nil
	}

	if cfg.PreferRegistry() && r.registry != nil {
		if tag, ok := r.tryPull(ctx, kind, local); ok {
			return tag, nil
		}
	}

	if tag, err := r.tryBuild(ctx, kind, local, cfg); err != nil {
		return "", err
	} else if tag != "" {
		return tag, nil
	}

	logrus.Warnf("no image source for agent %s, falling back to %s", kind, FallbackImage)
	return FallbackImage, nil
}

func (r *Resolver) resolveOverride(ctx context.Context, ref string) (string, error) {
	exists, err := r.docker.ImageExists(ctx, ref)
	if err != nil {
		return "", err
	}
	if exists {
		return ref, nil
	}
	if err := r.docker.Pull(ctx, ref); err != nil {
		return "", errors.Wrapf(err, "configured image override %q", ref)
	}
	return ref, nil
}

// tryPull attempts the registry step. NotFound and network failures are
// swallowed here; a later step may still produce an image.
func (r *Resolver) tryPull(ctx context.Context, kind agent.Kind, local string) (string, bool) {
	remote, err := r.registry.ImageName(ctx, kind)
	if err != nil || remote == "" {
		logrus.Debugf("no registry image name for %s: %v", kind, err)
		return "", false
	}
	if err := r.registry.Pull(ctx, remote); err != nil {
		logrus.Debugf("registry pull of %s failed: %s", remote, err)
		return "", false
	}
	if err := r.docker.Tag(ctx, remote, local); err != nil {
		logrus.Warnf("failed to retag %s as %s: %s", remote, local, err)
		return "", false
	}
	logrus.Infof("pulled %s for agent %s", remote, kind)
	return local, true
}

// tryBuild attempts the local build step, returning "" when no Dockerfile
// exists for the kind. A push failure after a successful build is logged
// and otherwise ignored; the local tag is still usable.
func (r *Resolver) tryBuild(ctx context.Context, kind agent.Kind, local string, cfg *config.Config) (string, error) {
	dockerfile := kind.DockerfilePath(r.assets)
	if err := dockerclient.ValidatePath(dockerfile); err != nil {
		return "", err
	}
	if _, err := os.Stat(dockerfile); err != nil {
		logrus.Debugf("no dockerfile for %s at %s", kind, dockerfile)
		return "", nil
	}

	if err := r.docker.Build(ctx, dockerfile, local, r.assets); err != nil {
		return "", err
	}
	now := time.Now().UTC()
	if _, err := r.store.Update(func(c *config.Config) { c.LastBuildAt = &now }); err != nil {
		logrus.Warnf("failed to record build time: %s", err)
	}

	if cfg.PushEnabled() && r.registry != nil {
		r.tryPush(ctx, kind, local)
	}
	return local, nil
}

func (r *Resolver) tryPush(ctx context.Context, kind agent.Kind, local string) {
	remote, err := r.registry.ImageName(ctx, kind)
	if err != nil || remote == "" {
		logrus.Debugf("not pushing %s: no registry image name (%v)", local, err)
		return
	}
	if err := r.docker.Tag(ctx, local, remote); err != nil {
		logrus.Warnf("failed to tag %s for push: %s", local, err)
		return
	}
	if err := r.docker.Push(ctx, remote); err != nil {
		logrus.Warnf("push of %s failed (image remains usable locally): %s", remote, err)
	}
}

// PrebuildResult is the per-agent outcome of a Prebuild batch.
type PrebuildResult struct {
	Agent agent.Kind
	Tag   string
	Err   error
}

// Prebuild resolves every requested kind (all kinds when nil), bounded
// fan-out. Individual failures are reported, not fatal.
func (r *Resolver) Prebuild(ctx context.Context, kinds []agent.Kind) []PrebuildResult {
	if len(kinds) == 0 {
		kinds = agent.Kinds()
	}
	results := make([]PrebuildResult, len(kinds))
	var g errgroup.Group
	g.SetLimit(prebuildParallelism)
	var mu sync.Mutex
	for i, k := range kinds {
		i, k := i, k
		g.Go(func() error {
			tag, err := r.Resolve(ctx, k)
			mu.Lock()
			results[i] = PrebuildResult{Agent: k, Tag: tag, Err: err}
			mu.Unlock()
			return nil
		})
	}
	g.Wait() //nolint:errcheck // workers never return errors
	return results
}
