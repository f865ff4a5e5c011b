// Copyright (C) 2026 the vibekit authors
// SPDX-License-Identifier: Apache-2.0
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/vibekit/vibekit/pkg/agent"
)

// DefaultWorkDir is where commands run when no working directory was
// given at creation.
const DefaultWorkDir = "/vibe0"

// DefaultTimeout bounds a single command when RunOptions gives none.
const DefaultTimeout = 120 * time.Second

// RunOptions tunes a single Run call.
type RunOptions struct {
	// Timeout is the hard upper bound on execution (DefaultTimeout when
	// zero).
	Timeout time.Duration

	// Background detaches the command and returns immediately.
	Background bool

	// OnStdout/OnStderr switch Run onto the streaming path: chunks are
	// delivered as they arrive, and the command runs directly from the
	// agent image rather than the workspace snapshot.
	OnStdout func(string)
	OnStderr func(string)
}

// Result is the outcome of one command. ExitCode -1 denotes a
// framework-level failure (timeout, kill); the error return carries the
// kind.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Instance is one sandbox: a logical id plus serialized command execution
// against ephemeral containers. State machine:
//
//	ready -> running_command -> ready | killed
//
// Once killed, every operation fails cleanly except Kill, which stays
// idempotent.
type Instance struct {
	id      string
	agent   agent.Kind
	name    string
	branch  string
	image   string
	workDir string
	env     map[string]string

	engine Engine
	events *emitter

	mu        sync.Mutex
	running   bool
	busy      bool
	snapshot  string
	handle    string // most recent detached container
	cancelRun context.CancelFunc
	killed    bool // Kill fired while a command was in flight

	createdAt  time.Time
	lastUsedAt time.Time
}

func (i *Instance) ID() string         { return i.id }
func (i *Instance) Agent() agent.Kind  { return i.agent }
func (i *Instance) Image() string      { return i.image }
func (i *Instance) WorkDir() string    { return i.workDir }
func (i *Instance) CreatedAt() time.Time { return i.createdAt }

func (i *Instance) Running() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.running
}

// Events subscribes to the instance's event stream. Each Run emits
// start, zero or more stdout/stderr chunks, and exactly one end, in order.
func (i *Instance) Events() <-chan Event {
	return i.events.subscribe()
}

// chunkWriter forwards writes to the result buffer, the event stream and
// an optional streaming callback, synchronously and in arrival order.
type chunkWriter struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	callback func(string)
	emit     func(string)
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	w.buf.Write(p)
	w.mu.Unlock()
	chunk := string(p)
	w.emit(chunk)
	if w.callback != nil {
		w.callback(chunk)
	}
	return len(p), nil
}

func (w *chunkWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

// Run executes a shell command in the sandbox. Commands on one instance
// are strictly serialized; a Run issued while another is in flight fails
// with ErrBusy rather than queueing.
func (i *Instance) Run(ctx context.Context, command string, opts *RunOptions) (*Result, error) {
	if opts == nil {
		opts = &RunOptions{}
	}
	if err := validateCommand(command); err != nil {
		// Rejected at the boundary: no container, no events.
		return nil, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	i.mu.Lock()
	if !i.running {
		i.mu.Unlock()
		return nil, errors.Wrapf(ErrKilled, "sandbox %s", i.id)
	}
	if i.busy {
		i.mu.Unlock()
		return nil, errors.Wrapf(ErrBusy, "sandbox %s", i.id)
	}
	i.busy = true
	i.killed = false
	snapshot := i.snapshot
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	i.cancelRun = cancel
	i.mu.Unlock()

	defer func() {
		cancel()
		i.mu.Lock()
		i.busy = false
		i.cancelRun = nil
		i.lastUsedAt = time.Now()
		dead := !i.running
		i.mu.Unlock()
		if dead {
			i.events.close()
		}
	}()

	i.events.emit(EventStart, command, "")
	defer i.events.emit(EventEnd, command, "")

	stdout := &chunkWriter{callback: opts.OnStdout, emit: func(s string) { i.events.emit(EventStdout, command, s) }}
	stderr := &chunkWriter{callback: opts.OnStderr, emit: func(s string) { i.events.emit(EventStderr, command, s) }}

	streaming := opts.OnStdout != nil || opts.OnStderr != nil
	spec := RunSpec{
		Image:   i.image,
		Command: command,
		WorkDir: i.workDir,
		Env:     i.envSlice(),
		Labels:  i.labels(),
		Stdout:  stdout,
		Stderr:  stderr,
	}
	switch {
	case opts.Background:
		spec.Detach = true
	case streaming:
		// Streaming trades the persistent workspace for live output:
		// the command runs directly from the agent image.
	default:
		spec.Snapshot = snapshot
		spec.Commit = true
	}

	res, err := i.engine.Run(runCtx, spec)
	if err != nil {
		return i.runFailed(command, err, stdout, stderr)
	}

	if opts.Background {
		i.mu.Lock()
		i.handle = res.Handle
		i.mu.Unlock()
		msg := fmt.Sprintf("started background process (container %s)\n", shortHandle(res.Handle))
		return &Result{ExitCode: 0, Stdout: msg}, nil
	}

	if res.Snapshot != "" {
		i.mu.Lock()
		old := i.snapshot
		alive := i.running
		if alive {
			i.snapshot = res.Snapshot
		}
		i.mu.Unlock()
		if !alive {
			// Kill already ran its cleanup pass; a snapshot adopted now
			// would leak.
			i.dropSnapshot(res.Snapshot)
		} else if old != "" {
			i.dropSnapshot(old)
		}
	}
	return &Result{ExitCode: res.ExitCode, Stdout: stdout.String(), Stderr: stderr.String()}, nil
}

func (i *Instance) runFailed(command string, err error, stdout, stderr *chunkWriter) (*Result, error) {
	i.mu.Lock()
	killed := i.killed
	i.mu.Unlock()

	result := &Result{ExitCode: -1, Stdout: stdout.String(), Stderr: stderr.String()}
	var kind error
	switch {
	case killed:
		kind = errors.Wrapf(ErrKilled, "command %q interrupted", truncate(command))
	case errors.Is(err, context.DeadlineExceeded):
		kind = errors.Wrapf(ErrTimeout, "command %q", truncate(command))
	default:
		kind = errors.Wrapf(err, "command %q failed", truncate(command))
	}
	i.events.emit(EventError, command, kind.Error())
	return result, kind
}

// Kill stops the sandbox. Idempotent: repeated calls are no-ops. Any
// in-flight Run returns promptly with ErrKilled; the workspace snapshot
// and any detached container are discarded.
func (i *Instance) Kill(ctx context.Context) error {
	i.mu.Lock()
	if !i.running {
		i.mu.Unlock()
		return nil
	}
	i.running = false
	busy := i.busy
	if busy {
		i.killed = true
	}
	cancel := i.cancelRun
	snapshot := i.snapshot
	i.snapshot = ""
	handle := i.handle
	i.handle = ""
	i.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if handle != "" {
		if err := i.engine.Remove(ctx, handle, true); err != nil {
			logrus.Debugf("removing background container for %s: %s", i.id, err)
		}
	}
	if snapshot != "" {
		i.dropSnapshot(snapshot)
	}
	if !busy {
		i.events.close()
	}
	logrus.Debugf("sandbox %s killed", i.id)
	return nil
}

// Pause exists for interface compatibility with providers that support
// suspending containers; the local model has nothing to suspend.
func (i *Instance) Pause(ctx context.Context) error {
	if !i.Running() {
		return errors.Wrapf(ErrKilled, "sandbox %s", i.id)
	}
	return nil
}

// Host returns the caller-reachable URL for a port bound inside the
// sandbox. With a detached container running, the published host port is
// looked up; otherwise the port maps through unchanged.
func (i *Instance) Host(ctx context.Context, port int) (string, error) {
	if !i.Running() {
		return "", errors.Wrapf(ErrKilled, "sandbox %s", i.id)
	}
	i.mu.Lock()
	handle := i.handle
	i.mu.Unlock()
	if handle != "" {
		ports, err := i.engine.Ports(ctx, handle)
		if err != nil {
			return "", err
		}
		if mapped, ok := ports[port]; ok {
			return fmt.Sprintf("http://localhost:%d", mapped), nil
		}
	}
	return fmt.Sprintf("http://localhost:%d", port), nil
}

func (i *Instance) dropSnapshot(snapshot string) {
	ctx, cancelFn := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelFn()
	if err := i.engine.RemoveSnapshot(ctx, snapshot); err != nil {
		logrus.Debugf("removing snapshot %s: %s", snapshot, err)
	}
}

func (i *Instance) envSlice() []string {
	out := make([]string, 0, len(i.env))
	for k, v := range i.env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func (i *Instance) labels() map[string]string {
	l := map[string]string{LabelSandboxID: i.id}
	if i.name != "" {
		l[LabelName] = i.name
	}
	if i.agent != agent.None {
		l[LabelAgent] = string(i.agent)
	}
	if i.branch != "" {
		l[LabelBranch] = i.branch
	}
	return l
}

func shortHandle(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func truncate(command string) string {
	if len(command) > 40 {
		return command[:40]
	}
	return command
}
