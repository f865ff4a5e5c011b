// Copyright (C) 2026 the vibekit authors
// SPDX-License-Identifier: Apache-2.0

// Package dockerclient is the single place the orchestrator talks to the
// local container daemon from. Everything above it (registry providers, the
// image resolver, the sandbox engine) goes through the Client interface so
// it can be exercised against a fake in tests.
package dockerclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/docker/distribution/reference"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const buildTimeout = 10 * time.Minute

// LoginStatus describes the daemon's registry credential state. LoggedIn
// with an empty User means a credential store hides the username; callers
// that need a namespace must supply one themselves.
type LoginStatus struct {
	LoggedIn bool
	User     string
	Registry string
}

// Client is the narrow daemon surface the rest of the system depends on.
type Client interface {
	Ping(ctx context.Context) error
	CheckLogin(ctx context.Context) (*LoginStatus, error)
	ImageExists(ctx context.Context, ref string) (bool, error)
	Pull(ctx context.Context, ref string) error
	Build(ctx context.Context, dockerfile, tag, contextDir string) error
	Tag(ctx context.Context, source, target string) error
	Push(ctx context.Context, ref string) error
	Remove(ctx context.Context, ref string, force bool) error
	ListImages(ctx context.Context, filter string) ([]string, error)
	Login(ctx context.Context, user, password, server string) error
}

// Docker implements Client against the local docker daemon.
type Docker struct {
	api client.APIClient

	// progress streams render here when it is a TTY
	progressOut *os.File

	attempts  int
	baseDelay time.Duration

	mu    sync.Mutex
	auths map[string]string // registry host -> base64 auth config
}

var _ Client = (*Docker)(nil)

// New connects to the daemon using the standard environment (DOCKER_HOST
// and friends) and negotiates the API version.
func New() (*Docker, error) {
	api, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errors.Wrap(err, "failed to create docker client")
	}
	return &Docker{
		api:         api,
		progressOut: os.Stderr,
		attempts:    defaultAttempts,
		baseDelay:   defaultBaseDelay,
		auths:       map[string]string{},
	}, nil
}

func (d *Docker) Ping(ctx context.Context) error {
	if _, err := d.api.Ping(ctx); err != nil {
		return errors.Wrapf(ErrDaemonUnavailable, "%s", err)
	}
	return nil
}

func (d *Docker) ImageExists(ctx context.Context, ref string) (bool, error) {
	if err := ValidateReference(ref); err != nil {
		return false, err
	}
	images, err := d.api.ImageList(ctx, types.ImageListOptions{
		Filters: filters.NewArgs(filters.Arg("reference", ref)),
	})
	if err != nil {
		return false, classify(err, "image list")
	}
	return len(images) > 0, nil
}

func (d *Docker) ListImages(ctx context.Context, filter string) ([]string, error) {
	opts := types.ImageListOptions{}
	if filter != "" {
		if err := ValidateReference(filter); err != nil {
			return nil, err
		}
		opts.Filters = filters.NewArgs(filters.Arg("reference", filter))
	}
	images, err := d.api.ImageList(ctx, opts)
	if err != nil {
		return nil, classify(err, "image list")
	}
	var out []string
	for _, img := range images {
		out = append(out, img.RepoTags...)
	}
	return out, nil
}

func (d *Docker) Pull(ctx context.Context, ref string) error {
	if err := ValidateReference(ref); err != nil {
		return err
	}
	return withRetry(ctx, "pull "+ref, d.attempts, d.baseDelay, func() error {
		logrus.Debugf("pulling %s", ref)
		rc, err := d.api.ImagePull(ctx, ref, types.ImagePullOptions{RegistryAuth: d.authFor(ref)})
		if err != nil {
			return classify(err, "pull "+ref)
		}
		defer rc.Close()
		if err := renderProgress(rc, d.progressOut); err != nil {
			return classify(err, "pull "+ref)
		}
		return nil
	})
}

func (d *Docker) Push(ctx context.Context, ref string) error {
	if err := ValidateReference(ref); err != nil {
		return err
	}
	return withRetry(ctx, "push "+ref, d.attempts, d.baseDelay, func() error {
		logrus.Debugf("pushing %s", ref)
		rc, err := d.api.ImagePush(ctx, ref, types.ImagePushOptions{RegistryAuth: d.authFor(ref)})
		if err != nil {
			return classify(err, "push "+ref)
		}
		defer rc.Close()
		if err := renderProgress(rc, d.progressOut); err != nil {
			return classify(err, "push "+ref)
		}
		return nil
	})
}

// Build runs a daemon-side build of dockerfile into tag. The dockerfile
// must live inside contextDir. Builds are not retried; a failing build is
// almost always deterministic.
func (d *Docker) Build(ctx context.Context, dockerfile, tag, contextDir string) error {
	if err := ValidateReference(tag); err != nil {
		return err
	}
	if err := ValidatePath(dockerfile); err != nil {
		return err
	}
	if contextDir == "" {
		contextDir = "."
	}
	if err := ValidatePath(contextDir); err != nil {
		return err
	}
	rel, err := filepath.Rel(contextDir, dockerfile)
	if err != nil || filepath.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return errors.Errorf("dockerfile %q is outside build context %q", dockerfile, contextDir)
	}
	if _, err := os.Stat(dockerfile); err != nil {
		return errors.Wrapf(err, "dockerfile %q", dockerfile)
	}

	ctx, cancel := context.WithTimeout(ctx, buildTimeout)
	defer cancel()

	buildCtx, err := archive.TarWithOptions(contextDir, &archive.TarOptions{})
	if err != nil {
		return errors.Wrapf(err, "failed to tar build context %q", contextDir)
	}
	defer buildCtx.Close()

	logrus.Infof("building %s from %s", tag, dockerfile)
	resp, err := d.api.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:       []string{tag},
		Dockerfile: filepath.ToSlash(rel),
		Remove:     true,
	})
	if err != nil {
		return errors.Wrapf(ErrBuildFailed, "build %s: %s", tag, err)
	}
	defer resp.Body.Close()
	if err := renderProgress(resp.Body, d.progressOut); err != nil {
		return errors.Wrapf(ErrBuildFailed, "build %s: %s", tag, err)
	}
	return nil
}

func (d *Docker) Tag(ctx context.Context, source, target string) error {
	if err := ValidateReference(source); err != nil {
		return err
	}
	if err := ValidateReference(target); err != nil {
		return err
	}
	if err := d.api.ImageTag(ctx, source, target); err != nil {
		return classify(err, "tag")
	}
	return nil
}

func (d *Docker) Remove(ctx context.Context, ref string, force bool) error {
	if err := ValidateReference(ref); err != nil {
		return err
	}
	if _, err := d.api.ImageRemove(ctx, ref, types.ImageRemoveOptions{Force: force}); err != nil {
		return classify(err, "remove "+ref)
	}
	return nil
}

// Login authenticates against server and caches the encoded credentials so
// later pushes and pulls to the same host carry them.
func (d *Docker) Login(ctx context.Context, user, password, server string) error {
	auth := types.AuthConfig{Username: user, Password: password, ServerAddress: server}
	if _, err := d.api.RegistryLogin(ctx, auth); err != nil {
		return errors.Wrapf(ErrAuthRequired, "login to %s: %s", server, err)
	}
	encoded, err := encodeAuth(auth)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.auths[server] = encoded
	d.mu.Unlock()
	return nil
}

// authFor returns the cached credentials for the registry a reference
// points at, or "" when none are known (the daemon then falls back to its
// own credential store).
func (d *Docker) authFor(ref string) string {
	named, err := reference.ParseNormalizedNamed(ref)
	if err != nil {
		return ""
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.auths[reference.Domain(named)]
}

func encodeAuth(auth types.AuthConfig) (string, error) {
	buf, err := json.Marshal(auth)
	if err != nil {
		return "", errors.Wrap(err, "failed to encode registry auth")
	}
	return base64.URLEncoding.EncodeToString(buf), nil
}
