// Copyright (C) 2026 the vibekit authors
// SPDX-License-Identifier: Apache-2.0
package sandbox

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibekit/vibekit/pkg/agent"
)

// fakeEngine scripts container executions without a daemon.
type fakeEngine struct {
	mu           sync.Mutex
	runs         []RunSpec
	exitCode     int
	stdout       string
	stderr       string
	delay        time.Duration
	runErr       error
	handle       string
	ports        map[int]int
	removed      []string
	removedSnaps []string
	snapshots    int
	containers   []ContainerInfo

	// started receives once per Run entry, for tests that need to act
	// while a command is in flight.
	started chan struct{}

	// beforeReturn runs just before a foreground Run returns its result.
	beforeReturn func()
}

var _ Engine = (*fakeEngine)(nil)

func (f *fakeEngine) Run(ctx context.Context, spec RunSpec) (*RunResult, error) {
	f.mu.Lock()
	f.runs = append(f.runs, spec)
	started := f.started
	f.mu.Unlock()
	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}

	if spec.Detach {
		h := f.handle
		if h == "" {
			h = "deadbeefcafe0123"
		}
		return &RunResult{Handle: h}, nil
	}

	if f.stdout != "" && spec.Stdout != nil {
		io.WriteString(spec.Stdout, f.stdout) //nolint:errcheck
	}
	if f.stderr != "" && spec.Stderr != nil {
		io.WriteString(spec.Stderr, f.stderr) //nolint:errcheck
	}

	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if f.runErr != nil {
		return nil, f.runErr
	}
	if f.beforeReturn != nil {
		f.beforeReturn()
	}

	res := &RunResult{ExitCode: f.exitCode}
	if spec.Commit && f.exitCode == 0 {
		f.mu.Lock()
		f.snapshots++
		res.Snapshot = fmt.Sprintf("vibekit-snapshot:%06d", f.snapshots)
		f.mu.Unlock()
	}
	return res, nil
}

func (f *fakeEngine) List(ctx context.Context) ([]ContainerInfo, error) {
	return f.containers, nil
}

func (f *fakeEngine) Remove(ctx context.Context, handle string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, handle)
	return nil
}

func (f *fakeEngine) Ports(ctx context.Context, handle string) (map[int]int, error) {
	return f.ports, nil
}

func (f *fakeEngine) RemoveSnapshot(ctx context.Context, snapshot string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removedSnaps = append(f.removedSnaps, snapshot)
	return nil
}

func (f *fakeEngine) specs() []RunSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RunSpec(nil), f.runs...)
}

type fixedResolver struct{ image string }

func (r fixedResolver) Resolve(ctx context.Context, kind agent.Kind) (string, error) {
	return r.image, nil
}

func newTestInstance(t *testing.T, eng Engine) *Instance {
	t.Helper()
	p := NewProvider(eng, fixedResolver{image: "vibekit-claude:latest"})
	inst, err := p.Create(context.Background(), CreateOptions{Agent: agent.Claude, Name: "demo"})
	require.NoError(t, err)
	return inst
}

// drain empties whatever the subscriber channel holds right now. Events
// are emitted synchronously during Run, so after Run returns everything is
// buffered.
func drain(ch <-chan Event) []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func eventTypes(events []Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func Test_Run_BuffersOutput(t *testing.T) {
	eng := &fakeEngine{stdout: "hello\n", stderr: "warn\n"}
	inst := newTestInstance(t, eng)

	res, err := inst.Run(context.Background(), "echo hello", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello\n", res.Stdout)
	assert.Equal(t, "warn\n", res.Stderr)

	specs := eng.specs()
	require.Len(t, specs, 1)
	assert.Equal(t, "vibekit-claude:latest", specs[0].Image)
	assert.Equal(t, DefaultWorkDir, specs[0].WorkDir)
	assert.True(t, specs[0].Commit)
	assert.Empty(t, specs[0].Snapshot, "first command starts from the agent image")
	assert.Equal(t, inst.ID(), specs[0].Labels[LabelSandboxID])
	assert.Equal(t, "claude", specs[0].Labels[LabelAgent])
	assert.Equal(t, "demo", specs[0].Labels[LabelName])
}

func Test_Run_SnapshotChaining(t *testing.T) {
	eng := &fakeEngine{}
	inst := newTestInstance(t, eng)

	_, err := inst.Run(context.Background(), "touch a", nil)
	require.NoError(t, err)
	_, err = inst.Run(context.Background(), "touch b", nil)
	require.NoError(t, err)

	specs := eng.specs()
	require.Len(t, specs, 2)
	assert.Equal(t, "vibekit-snapshot:000001", specs[1].Snapshot,
		"second command starts from the first command's snapshot")
	assert.Equal(t, []string{"vibekit-snapshot:000001"}, eng.removedSnaps,
		"the superseded snapshot is discarded")
}

func Test_Run_StreamingDeliversChunks(t *testing.T) {
	eng := &fakeEngine{stdout: "line1\n", stderr: "oops\n"}
	inst := newTestInstance(t, eng)
	events := inst.Events()

	var outChunks, errChunks []string
	res, err := inst.Run(context.Background(), "make test", &RunOptions{
		OnStdout: func(s string) { outChunks = append(outChunks, s) },
		OnStderr: func(s string) { errChunks = append(errChunks, s) },
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, []string{"line1\n"}, outChunks)
	assert.Equal(t, []string{"oops\n"}, errChunks)
	assert.Equal(t, "line1\n", res.Stdout, "buffered output is kept alongside streaming")

	specs := eng.specs()
	require.Len(t, specs, 1)
	assert.False(t, specs[0].Commit, "streaming runs do not snapshot")
	assert.Empty(t, specs[0].Snapshot)

	assert.Equal(t, []string{EventStart, EventStdout, EventStderr, EventEnd}, eventTypes(drain(events)))
}

func Test_Run_EventOrdering(t *testing.T) {
	eng := &fakeEngine{stdout: "a", stderr: "b"}
	inst := newTestInstance(t, eng)
	events := inst.Events()

	_, err := inst.Run(context.Background(), "echo a", nil)
	require.NoError(t, err)

	got := drain(events)
	require.NotEmpty(t, got)
	assert.Equal(t, EventStart, got[0].Type)
	assert.Equal(t, EventEnd, got[len(got)-1].Type)
	for _, ev := range got[1 : len(got)-1] {
		assert.Contains(t, []string{EventStdout, EventStderr}, ev.Type)
	}
	for _, ev := range got {
		assert.Equal(t, "echo a", ev.Command)
		assert.NotZero(t, ev.Timestamp)
	}
}

func Test_Run_RejectsBannedCommands(t *testing.T) {
	eng := &fakeEngine{}
	inst := newTestInstance(t, eng)
	events := inst.Events()

	for _, cmd := range []string{
		"",
		"rm -rf /",
		"rm -rf /*",
		":(){ :|:& };:",
		"dd if=/dev/zero of=/dev/sda",
	} {
		res, err := inst.Run(context.Background(), cmd, nil)
		require.Error(t, err, cmd)
		assert.True(t, errors.Is(err, ErrInvalidCommand), cmd)
		assert.Nil(t, res)
	}

	assert.Empty(t, eng.specs(), "rejected commands never reach the engine")
	assert.Empty(t, drain(events), "rejected commands emit no events")
}

func Test_Run_Timeout(t *testing.T) {
	eng := &fakeEngine{delay: 5 * time.Second}
	inst := newTestInstance(t, eng)
	events := inst.Events()

	res, err := inst.Run(context.Background(), "sleep 60", &RunOptions{Timeout: 50 * time.Millisecond})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
	require.NotNil(t, res)
	assert.Equal(t, -1, res.ExitCode)

	types := eventTypes(drain(events))
	assert.Equal(t, EventStart, types[0])
	assert.Contains(t, types, EventError)
	assert.Equal(t, EventEnd, types[len(types)-1], "a timed-out command still ends its event stream")
}

func Test_Run_Serialized(t *testing.T) {
	eng := &fakeEngine{delay: 500 * time.Millisecond, started: make(chan struct{}, 1)}
	inst := newTestInstance(t, eng)

	done := make(chan error, 1)
	go func() {
		_, err := inst.Run(context.Background(), "sleep 1", nil)
		done <- err
	}()
	<-eng.started

	_, err := inst.Run(context.Background(), "echo too-soon", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBusy))

	require.NoError(t, <-done)
	assert.Len(t, eng.specs(), 1)
}

func Test_Run_NonZeroExit(t *testing.T) {
	eng := &fakeEngine{exitCode: 2, stderr: "no such file\n"}
	inst := newTestInstance(t, eng)

	res, err := inst.Run(context.Background(), "ls /missing", nil)
	require.NoError(t, err, "a failing command is a result, not an error")
	assert.Equal(t, 2, res.ExitCode)
	assert.Equal(t, "no such file\n", res.Stderr)
	assert.Empty(t, eng.removedSnaps)
}

func Test_Kill_Idempotent(t *testing.T) {
	eng := &fakeEngine{}
	inst := newTestInstance(t, eng)

	require.NoError(t, inst.Kill(context.Background()))
	require.NoError(t, inst.Kill(context.Background()))
	assert.False(t, inst.Running())

	_, err := inst.Run(context.Background(), "echo hi", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrKilled))
	assert.Error(t, inst.Pause(context.Background()))
	_, err = inst.Host(context.Background(), 3000)
	assert.Error(t, err)
}

func Test_Kill_InterruptsRun(t *testing.T) {
	eng := &fakeEngine{delay: 5 * time.Second, started: make(chan struct{}, 1)}
	inst := newTestInstance(t, eng)
	events := inst.Events()

	done := make(chan error, 1)
	go func() {
		_, err := inst.Run(context.Background(), "sleep 600", nil)
		done <- err
	}()
	<-eng.started

	require.NoError(t, inst.Kill(context.Background()))

	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrKilled))
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Kill")
	}

	// The stream closes after the interrupted run finishes; the end event
	// must still be there.
	var types []string
	for ev := range events {
		types = append(types, ev.Type)
	}
	assert.Equal(t, EventEnd, types[len(types)-1])
}

func Test_Kill_CleansUpContainerAndSnapshot(t *testing.T) {
	eng := &fakeEngine{handle: "cafe0123456789ab"}
	inst := newTestInstance(t, eng)

	_, err := inst.Run(context.Background(), "touch state", nil)
	require.NoError(t, err)
	_, err = inst.Run(context.Background(), "npm start", &RunOptions{Background: true})
	require.NoError(t, err)

	require.NoError(t, inst.Kill(context.Background()))
	assert.Equal(t, []string{"cafe0123456789ab"}, eng.removed)
	assert.Contains(t, eng.removedSnaps, "vibekit-snapshot:000001")
}

func Test_Kill_DuringSnapshotCommitDropsIt(t *testing.T) {
	eng := &fakeEngine{}
	inst := newTestInstance(t, eng)
	// Kill lands after the engine finishes but before the run adopts the
	// committed snapshot.
	eng.beforeReturn = func() { require.NoError(t, inst.Kill(context.Background())) }

	_, _ = inst.Run(context.Background(), "touch state", nil)

	assert.False(t, inst.Running())
	assert.Equal(t, []string{"vibekit-snapshot:000001"}, eng.removedSnaps,
		"a snapshot committed on a dead sandbox must not outlive it")
}

func Test_Run_Background(t *testing.T) {
	eng := &fakeEngine{handle: "cafe0123456789abcdef", ports: map[int]int{3000: 49152}}
	inst := newTestInstance(t, eng)

	res, err := inst.Run(context.Background(), "npm start", &RunOptions{Background: true})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, res.Stdout, "started background process")
	assert.Contains(t, res.Stdout, "cafe01234567", "handle is shortened for display")

	specs := eng.specs()
	require.Len(t, specs, 1)
	assert.True(t, specs[0].Detach)

	host, err := inst.Host(context.Background(), 3000)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:49152", host)

	host, err = inst.Host(context.Background(), 8080)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", host, "unmapped ports pass through")
}

func Test_Run_EngineFailure(t *testing.T) {
	eng := &fakeEngine{runErr: errors.New("daemon exploded")}
	inst := newTestInstance(t, eng)
	events := inst.Events()

	res, err := inst.Run(context.Background(), "echo hi", nil)
	require.Error(t, err)
	assert.Equal(t, -1, res.ExitCode)
	assert.Contains(t, err.Error(), "daemon exploded")

	types := eventTypes(drain(events))
	assert.Contains(t, types, EventError)
	assert.Equal(t, EventEnd, types[len(types)-1])

	// the instance stays usable after a failed command
	eng.runErr = nil
	_, err = inst.Run(context.Background(), "echo hi", nil)
	require.NoError(t, err)
}
