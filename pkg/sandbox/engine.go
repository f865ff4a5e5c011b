// Copyright (C) 2026 the vibekit authors
// SPDX-License-Identifier: Apache-2.0
package sandbox

import (
	"context"
	"io"
	"time"
)

// Container labels used to find sandbox containers again (local list /
// delete work across CLI invocations even though instances themselves are
// in-memory only).
const (
	LabelSandboxID = "vibekit.sandbox.id"
	LabelName      = "vibekit.sandbox.name"
	LabelAgent     = "vibekit.sandbox.agent"
	LabelBranch    = "vibekit.sandbox.branch"
)

// RunSpec describes a single container execution.
type RunSpec struct {
	// Image is the agent image; Snapshot, when set, is the workspace
	// snapshot image to start from instead.
	Image    string
	Snapshot string

	Command string
	WorkDir string
	Env     []string
	Labels  map[string]string

	// Output sinks; wired to both result buffers and streaming callbacks
	// by the instance.
	Stdout io.Writer
	Stderr io.Writer

	// Commit captures the container filesystem as a new snapshot image
	// after a zero exit.
	Commit bool

	// Detach starts the container and returns immediately with a handle.
	Detach bool

	// Expose lists container ports to publish onto ephemeral host ports,
	// beyond whatever the image already exposes.
	Expose []int
}

// RunResult is the engine-level outcome of one execution.
type RunResult struct {
	ExitCode int

	// Snapshot is the new workspace snapshot reference when Commit was
	// requested and the command succeeded.
	Snapshot string

	// Handle identifies a detached container.
	Handle string
}

// ContainerInfo describes a labeled sandbox container known to the engine.
type ContainerInfo struct {
	Handle    string    `json:"handle"`
	SandboxID string    `json:"sandboxId"`
	Name      string    `json:"name,omitempty"`
	Agent     string    `json:"agent,omitempty"`
	Branch    string    `json:"branch,omitempty"`
	Image     string    `json:"image"`
	Status    string    `json:"status"`
	Created   time.Time `json:"created"`
}

// Engine abstracts container execution so instances can be tested without
// a daemon. Run must honor ctx cancellation by terminating the container
// (gracefully first, then by force).
type Engine interface {
	Run(ctx context.Context, spec RunSpec) (*RunResult, error)
	List(ctx context.Context) ([]ContainerInfo, error)
	Remove(ctx context.Context, handle string, force bool) error

	// Ports maps container ports to published host ports for a detached
	// container.
	Ports(ctx context.Context, handle string) (map[int]int, error)

	// RemoveSnapshot discards a workspace snapshot image.
	RemoveSnapshot(ctx context.Context, snapshot string) error
}
