// Copyright (C) 2026 the vibekit authors
// SPDX-License-Identifier: Apache-2.0
package sandbox

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// stopGrace is how long a container gets to exit after SIGTERM before
	// SIGKILL is delivered.
	stopGrace = 5 * time.Second

	snapshotRepo = "vibekit-snapshot"
)

// DockerEngine runs sandbox commands as ephemeral containers on the local
// daemon. Buffered runs start from the previous workspace snapshot image
// and commit a new one on success; streaming and detached runs start from
// the agent image directly.
type DockerEngine struct {
	api client.APIClient
}

var _ Engine = (*DockerEngine)(nil)

func NewDockerEngine() (*DockerEngine, error) {
	api, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errors.Wrap(err, "failed to create docker client")
	}
	return &DockerEngine{api: api}, nil
}

func (e *DockerEngine) Run(ctx context.Context, spec RunSpec) (*RunResult, error) {
	image := spec.Image
	if spec.Snapshot != "" {
		image = spec.Snapshot
	}

	cfg := &container.Config{
		Image:      image,
		Cmd:        strslice.StrSlice{"/bin/sh", "-c", spec.Command},
		WorkingDir: spec.WorkDir,
		Env:        spec.Env,
		Labels:     spec.Labels,
	}
	if len(spec.Expose) > 0 {
		cfg.ExposedPorts = nat.PortSet{}
		for _, p := range spec.Expose {
			cfg.ExposedPorts[nat.Port(fmt.Sprintf("%d/tcp", p))] = struct{}{}
		}
	}
	hostCfg := &container.HostConfig{PublishAllPorts: true}

	created, err := e.api.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create container from %s", image)
	}
	id := created.ID

	if spec.Detach {
		if err := e.api.ContainerStart(ctx, id, types.ContainerStartOptions{}); err != nil {
			e.removeQuiet(id)
			return nil, errors.Wrap(err, "failed to start container")
		}
		logrus.Debugf("started detached container %s", id[:12])
		return &RunResult{Handle: id}, nil
	}
	defer e.removeQuiet(id)

	attach, err := e.api.ContainerAttach(ctx, id, types.ContainerAttachOptions{
		Stream: true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to attach to container")
	}
	defer attach.Close()

	copied := make(chan struct{})
	go func() {
		defer close(copied)
		if _, err := stdcopy.StdCopy(spec.Stdout, spec.Stderr, attach.Reader); err != nil {
			logrus.Debugf("stream copy ended: %s", err)
		}
	}()

	waitCh, waitErrCh := e.api.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	if err := e.api.ContainerStart(ctx, id, types.ContainerStartOptions{}); err != nil {
		return nil, errors.Wrap(err, "failed to start container")
	}

	var exitCode int
	select {
	case body := <-waitCh:
		exitCode = int(body.StatusCode)
	case err := <-waitErrCh:
		e.terminate(id)
		return nil, errors.Wrap(err, "failed waiting for container")
	case <-ctx.Done():
		e.terminate(id)
		<-copied
		return nil, ctx.Err()
	}
	<-copied

	result := &RunResult{ExitCode: exitCode}
	if spec.Commit && exitCode == 0 {
		snap, err := e.commitSnapshot(id)
		if err != nil {
			logrus.Warnf("failed to snapshot workspace: %s", err)
		} else {
			result.Snapshot = snap
		}
	}
	return result, nil
}

// terminate delivers SIGTERM and escalates to SIGKILL after the grace
// period. Runs on a background context; the caller's may already be dead.
func (e *DockerEngine) terminate(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), stopGrace+10*time.Second)
	defer cancel()
	grace := stopGrace
	if err := e.api.ContainerStop(ctx, id, &grace); err != nil {
		logrus.Debugf("graceful stop of %s failed, killing: %s", id[:12], err)
		if err := e.api.ContainerKill(ctx, id, "KILL"); err != nil {
			logrus.Debugf("kill of %s failed: %s", id[:12], err)
		}
	}
}

func (e *DockerEngine) removeQuiet(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.api.ContainerRemove(ctx, id, types.ContainerRemoveOptions{Force: true}); err != nil {
		logrus.Debugf("failed to remove container %s: %s", id[:12], err)
	}
}

func (e *DockerEngine) commitSnapshot(id string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	tag := digest.FromString(id + strconv.FormatInt(time.Now().UnixNano(), 10)).Encoded()[:12]
	ref := fmt.Sprintf("%s:%s", snapshotRepo, tag)
	if _, err := e.api.ContainerCommit(ctx, id, types.ContainerCommitOptions{Reference: ref}); err != nil {
		return "", err
	}
	return ref, nil
}

func (e *DockerEngine) List(ctx context.Context) ([]ContainerInfo, error) {
	containers, err := e.api.ContainerList(ctx, types.ContainerListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", LabelSandboxID)),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list sandbox containers")
	}
	out := make([]ContainerInfo, 0, len(containers))
	for _, c := range containers {
		out = append(out, ContainerInfo{
			Handle:    c.ID,
			SandboxID: c.Labels[LabelSandboxID],
			Name:      c.Labels[LabelName],
			Agent:     c.Labels[LabelAgent],
			Branch:    c.Labels[LabelBranch],
			Image:     c.Image,
			Status:    c.State,
			Created:   time.Unix(c.Created, 0),
		})
	}
	return out, nil
}

func (e *DockerEngine) Remove(ctx context.Context, handle string, force bool) error {
	if err := e.api.ContainerRemove(ctx, handle, types.ContainerRemoveOptions{Force: force}); err != nil {
		return errors.Wrapf(err, "failed to remove container %s", handle)
	}
	return nil
}

func (e *DockerEngine) Ports(ctx context.Context, handle string) (map[int]int, error) {
	inspect, err := e.api.ContainerInspect(ctx, handle)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to inspect container %s", handle)
	}
	out := map[int]int{}
	if inspect.NetworkSettings == nil {
		return out, nil
	}
	for port, bindings := range inspect.NetworkSettings.Ports {
		for _, b := range bindings {
			hostPort, err := strconv.Atoi(b.HostPort)
			if err != nil {
				continue
			}
			out[port.Int()] = hostPort
			break
		}
	}
	return out, nil
}

func (e *DockerEngine) RemoveSnapshot(ctx context.Context, snapshot string) error {
	if _, err := e.api.ImageRemove(ctx, snapshot, types.ImageRemoveOptions{Force: true}); err != nil {
		return errors.Wrapf(err, "failed to remove snapshot %s", snapshot)
	}
	return nil
}
