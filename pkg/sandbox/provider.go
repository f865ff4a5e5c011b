// Copyright (C) 2026 the vibekit authors
// SPDX-License-Identifier: Apache-2.0
package sandbox

import (
	"context"
	"crypto/rand"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/vibekit/vibekit/pkg/agent"
)

const idPrefix = "vibekit"

// ImageResolver is the slice of the resolver a provider needs.
type ImageResolver interface {
	Resolve(ctx context.Context, kind agent.Kind) (string, error)
}

// CreateOptions configures a new sandbox.
type CreateOptions struct {
	Agent   agent.Kind
	Env     map[string]string
	WorkDir string
	Name    string
	Branch  string
}

// Provider creates and tracks sandbox instances. Instances are in-memory
// only; the system is stateless with respect to sandboxes across process
// restarts.
type Provider struct {
	engine   Engine
	resolver ImageResolver

	mu        sync.Mutex
	instances map[string]*Instance
}

func NewProvider(engine Engine, resolver ImageResolver) *Provider {
	return &Provider{
		engine:    engine,
		resolver:  resolver,
		instances: map[string]*Instance{},
	}
}

// Create resolves the agent image and constructs a fresh instance.
// Resolution may pull or build, so this can take a while on a cold cache.
func (p *Provider) Create(ctx context.Context, opts CreateOptions) (*Instance, error) {
	image, err := p.resolver.Resolve(ctx, opts.Agent)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve image for agent %s", opts.Agent)
	}
	inst := p.newInstance(generateID(opts.Agent), image, opts)
	logrus.Debugf("created sandbox %s (image %s)", inst.id, image)
	return inst, nil
}

// Resume attaches a logical id to a sandbox. If the id is live in this
// process the existing instance is returned; otherwise a fresh instance is
// bound to the id. Containers are ephemeral, so a resumed sandbox starts
// with an empty workspace.
func (p *Provider) Resume(ctx context.Context, id string, opts CreateOptions) (*Instance, error) {
	if id == "" {
		return nil, errors.New("sandbox id required")
	}
	p.mu.Lock()
	if inst, ok := p.instances[id]; ok && inst.Running() {
		p.mu.Unlock()
		return inst, nil
	}
	p.mu.Unlock()

	if opts.Agent == agent.None {
		opts.Agent = agentFromID(id)
	}
	image, err := p.resolver.Resolve(ctx, opts.Agent)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve image for sandbox %s", id)
	}
	return p.newInstance(id, image, opts), nil
}

func (p *Provider) newInstance(id, image string, opts CreateOptions) *Instance {
	workDir := opts.WorkDir
	if workDir == "" {
		workDir = DefaultWorkDir
	}
	env := map[string]string{}
	for k, v := range opts.Env {
		env[k] = v
	}
	now := time.Now()
	inst := &Instance{
		id:         id,
		agent:      opts.Agent,
		name:       opts.Name,
		branch:     opts.Branch,
		image:      image,
		workDir:    workDir,
		env:        env,
		engine:     p.engine,
		events:     &emitter{},
		running:    true,
		createdAt:  now,
		lastUsedAt: now,
	}
	p.mu.Lock()
	p.instances[id] = inst
	p.mu.Unlock()
	return inst
}

// Get returns a live instance by id.
func (p *Provider) Get(id string) (*Instance, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	inst, ok := p.instances[id]
	return inst, ok
}

// List returns the instances known to this process.
func (p *Provider) List() []*Instance {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Instance, 0, len(p.instances))
	for _, inst := range p.instances {
		out = append(out, inst)
	}
	return out
}

// ListContainers returns labeled sandbox containers known to the engine,
// which outlive this process (detached servers in particular).
func (p *Provider) ListContainers(ctx context.Context) ([]ContainerInfo, error) {
	return p.engine.List(ctx)
}

// RemoveContainer removes a labeled sandbox container by engine handle.
func (p *Provider) RemoveContainer(ctx context.Context, handle string, force bool) error {
	return p.engine.Remove(ctx, handle, force)
}

// Delete kills an instance and forgets it.
func (p *Provider) Delete(ctx context.Context, id string) error {
	p.mu.Lock()
	inst, ok := p.instances[id]
	delete(p.instances, id)
	p.mu.Unlock()
	if !ok {
		return nil
	}
	return inst.Kill(ctx)
}

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// generateID produces <prefix>-<agent|default>-<base36 ts>-<6 base36
// random>. The timestamp component keeps ids sortable by creation time.
func generateID(kind agent.Kind) string {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 36)
	return strings.Join([]string{idPrefix, kind.String(), ts, randBase36(6)}, "-")
}

func randBase36(n int) string {
	out := make([]byte, n)
	max := big.NewInt(int64(len(base36)))
	for i := range out {
		v, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand failing is unrecoverable enough that a fixed
			// character beats aborting sandbox creation
			out[i] = '0'
			continue
		}
		out[i] = base36[v.Int64()]
	}
	return string(out)
}

// agentFromID recovers the agent component of a generated id, for Resume
// calls that do not restate it.
func agentFromID(id string) agent.Kind {
	parts := strings.Split(id, "-")
	if len(parts) < 4 || parts[0] != idPrefix {
		return agent.None
	}
	k, err := agent.Parse(parts[1])
	if err != nil {
		return agent.None
	}
	return k
}
