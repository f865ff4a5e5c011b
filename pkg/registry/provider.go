// Copyright (C) 2026 the vibekit authors
// SPDX-License-Identifier: Apache-2.0

// Package registry abstracts the container registries vibekit can push
// agent images to and pull them from. Three providers exist: Docker Hub,
// GitHub Container Registry and AWS ECR. A Manager routes operations to
// whichever one is selected.
package registry

import (
	"context"

	"github.com/pkg/errors"

	"github.com/vibekit/vibekit/pkg/agent"
	"github.com/vibekit/vibekit/pkg/dockerclient"
)

var ErrNoNamespace = errors.New("no registry namespace known (supply a user or log in)")

// UploadResult is the per-agent outcome of an upload batch. Error carries
// the failure message for JSON consumers; Err keeps the original for
// errors.Is callers.
type UploadResult struct {
	Agent   agent.Kind `json:"agent"`
	Success bool       `json:"success"`
	Image   string     `json:"image,omitempty"`
	Error   string     `json:"error,omitempty"`
	Err     error      `json:"-"`
}

// UploadSummary aggregates an upload batch. Success is the conjunction of
// the per-agent results.
type UploadSummary struct {
	Success bool
	Results []UploadResult
}

// Provider is the per-registry contract.
//
// Username policy: CheckLogin may legitimately report LoggedIn with an
// empty User (hub credential stores hide it). In that case ImageName
// requires an explicit user argument and returns ErrNoNamespace without
// one; providers never guess a namespace.
type Provider interface {
	// Kind is the stable identifier used as the manager's map key
	// (config.RegistryHub and friends).
	Kind() string

	// RegistryURL is the host images are addressed by, "" for the default
	// hub.
	RegistryURL() string

	CheckLogin(ctx context.Context) (*dockerclient.LoginStatus, error)

	// Login is idempotent and draws credentials from the environment
	// appropriate to the registry kind.
	Login(ctx context.Context, user string) error

	// ImageName synthesizes the canonical remote reference
	// <host?>/<namespace>/vibekit-<agent>:latest, or "" with
	// ErrNoNamespace when no namespace is known.
	ImageName(ctx context.Context, kind agent.Kind, user string) (string, error)

	// UploadImages tags and pushes the local images for the given kinds
	// (all kinds when nil), creating remote repositories where the
	// registry requires that.
	UploadImages(ctx context.Context, user string, kinds []agent.Kind) (*UploadSummary, error)

	Pull(ctx context.Context, ref string) error
	ImageExistsLocally(ctx context.Context, ref string) (bool, error)
}

// uploadAll implements the shared tag-and-push loop. ensure, when non-nil,
// runs before each push (ECR repository creation).
func uploadAll(ctx context.Context, docker dockerclient.Client, kinds []agent.Kind,
	remoteName func(agent.Kind) (string, error),
	ensure func(context.Context, agent.Kind) error) (*UploadSummary, error) {

	if len(kinds) == 0 {
		kinds = agent.Kinds()
	}
	summary := &UploadSummary{Success: true}
	for _, k := range kinds {
		res := UploadResult{Agent: k}
		res.Err = func() error {
			local := k.LocalTag()
			exists, err := docker.ImageExists(ctx, local)
			if err != nil {
				return err
			}
			if !exists {
				return errors.Errorf("image %s not built locally", local)
			}
			remote, err := remoteName(k)
			if err != nil {
				return err
			}
			if ensure != nil {
				if err := ensure(ctx, k); err != nil {
					return err
				}
			}
			if err := docker.Tag(ctx, local, remote); err != nil {
				return err
			}
			if err := docker.Push(ctx, remote); err != nil {
				return err
			}
			res.Image = remote
			return nil
		}()
		res.Success = res.Err == nil
		if !res.Success {
			res.Error = res.Err.Error()
			summary.Success = false
		}
		summary.Results = append(summary.Results, res)
	}
	return summary, nil
}
