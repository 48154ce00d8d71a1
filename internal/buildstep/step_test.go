package buildstep

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/assetbuild/internal/command"
	"git.home.luguber.info/inful/assetbuild/internal/command/commandtest"
	ferrors "git.home.luguber.info/inful/assetbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuild/internal/objectid"
)

var (
	srcA   = objectid.File("/src/a.txt")
	srcB   = objectid.File("/src/b.txt")
	outA   = objectid.Content("/out/a.bin")
	outB   = objectid.Content("/out/b.bin")
	shared = objectid.Content("/out/shared.bin")
	h1     = objectid.HashBytes([]byte("H1"))
	h2     = objectid.HashBytes([]byte("H2"))
)

func TestComputeResultStatus(t *testing.T) {
	tests := []struct {
		name string
		in   []command.ResultStatus
		want command.ResultStatus
	}{
		{"no children", nil, command.Successful},
		{"all successful", []command.ResultStatus{command.Successful, command.Successful}, command.Successful},
		{"one failed", []command.ResultStatus{command.Successful, command.Failed}, command.Failed},
		{"cancelled beats failed", []command.ResultStatus{command.Failed, command.Cancelled}, command.Cancelled},
		{"cancelled first", []command.ResultStatus{command.Cancelled, command.Failed}, command.Cancelled},
		{"cancelled with success", []command.ResultStatus{command.Successful, command.Cancelled}, command.Cancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			steps := make([]Step, 0, len(tt.in))
			for _, s := range tt.in {
				steps = append(steps, completedFunc(t, s))
			}
			assert.Equal(t, tt.want, ComputeResultStatus(steps))
		})
	}
}

func TestStepTransitions(t *testing.T) {
	s := NewFuncStep("x", func(context.Context, *BuilderContext) error { return nil })
	assert.Equal(t, StateScheduled, s.State())

	require.NoError(t, s.begin())
	assert.Equal(t, StateRunning, s.State())
	assert.Error(t, s.begin())

	require.NoError(t, s.complete(command.Successful, nil))
	assert.Equal(t, StateCompleted, s.State())
	assert.Error(t, s.complete(command.Failed, nil), "completed is terminal")
	assert.Equal(t, command.Successful, s.Status())

	select {
	case <-s.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestExecuteTwiceReportsFatal(t *testing.T) {
	env := newTestEnv(t, nil)
	s := NewFuncStep("once", func(context.Context, *BuilderContext) error { return nil })

	assert.Equal(t, command.Successful, env.sched.run(t, s))
	assert.Equal(t, command.Successful, s.Execute(context.Background(), env.sched, env.bc))
	require.Len(t, env.sched.Fatal(), 1)
	assert.True(t, ferrors.HasCategory(env.sched.Fatal()[0], ferrors.CategoryInternal))
}

func TestFuncStepStatuses(t *testing.T) {
	env := newTestEnv(t, nil)
	failing := NewFuncStep("fails", func(context.Context, *BuilderContext) error { return errors.New("nope") })
	assert.Equal(t, command.Failed, env.sched.run(t, failing))
	assert.EqualError(t, failing.Err(), "nope")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cancelled := newTestEnvContext(t, ctx, nil)
	s := NewFuncStep("never", func(context.Context, *BuilderContext) error {
		t.Error("must not run")
		return nil
	})
	assert.Equal(t, command.Cancelled, cancelled.sched.run(t, s))

	assert.Equal(t, command.Successful, env.sched.run(t, NewFuncStep("noop", nil)))
}

func TestCommandStepRunsAndCaches(t *testing.T) {
	env := newTestEnv(t, map[objectid.Location][]byte{srcA: []byte("a")})
	results := newMemoryResults()
	env.bc.Results = results

	cmd := commandtest.NewFake("build a", []objectid.Location{srcA}, map[objectid.Location][]byte{outA: []byte("A")})
	first := NewCommandStep(cmd)
	require.Equal(t, command.Successful, env.sched.run(t, first))
	assert.Equal(t, 1, cmd.Executions())
	assert.False(t, first.FromCache())
	assert.Equal(t, objectid.HashBytes([]byte("A")), first.Result().OutputObjects[outA])
	assert.Equal(t, 1, results.Len())

	clone := cmd.Clone().(*commandtest.Fake)
	second := NewCommandStep(clone)
	require.Equal(t, command.Successful, env.sched.run(t, second))
	assert.True(t, second.FromCache())
	assert.Zero(t, clone.Executions())
	assert.Equal(t, first.CacheKey(), second.CacheKey())
	assert.Equal(t, first.Result(), second.Result())
}

func TestCommandStepForceExecutionBypassesCache(t *testing.T) {
	env := newTestEnv(t, map[objectid.Location][]byte{srcA: []byte("a")})
	env.bc.Results = newMemoryResults()

	cmd := commandtest.NewFake("build a", []objectid.Location{srcA}, map[objectid.Location][]byte{outA: []byte("A")})
	require.Equal(t, command.Successful, env.sched.run(t, NewCommandStep(cmd)))

	forced := cmd.Clone().(*commandtest.Fake)
	forced.Force = true
	require.Equal(t, command.Successful, env.sched.run(t, NewCommandStep(forced)))
	assert.Equal(t, 1, forced.Executions())
}

func TestCommandStepEmptyKeyIsNotCached(t *testing.T) {
	env := newTestEnv(t, nil)
	results := newMemoryResults()
	env.bc.Results = results
	env.bc.Prepare = command.PrepareFunc(func(objectid.Location) (objectid.ContentHash, error) {
		return objectid.Empty, errors.New("unreadable")
	})

	cmd := commandtest.NewFake("build", []objectid.Location{srcA}, map[objectid.Location][]byte{outA: []byte("A")})
	cmd.Run = func(ctx context.Context, e *command.Env) (command.ResultStatus, error) {
		_, err := e.WriteOutput(ctx, outA, []byte("A"))
		return command.Successful, err
	}
	step := NewCommandStep(cmd)
	require.Equal(t, command.Successful, env.sched.run(t, step))
	assert.True(t, step.CacheKey().IsEmpty())
	assert.Zero(t, results.Len())
}

func TestCommandStepAwaitsIdenticalRunningCommand(t *testing.T) {
	env := newTestEnv(t, map[objectid.Location][]byte{srcA: []byte("a")})

	started := make(chan struct{})
	release := make(chan struct{})
	cmd := commandtest.NewFake("slow", []objectid.Location{srcA}, nil)
	cmd.Run = func(ctx context.Context, e *command.Env) (command.ResultStatus, error) {
		close(started)
		<-release
		_, err := e.WriteOutput(ctx, outA, []byte("A"))
		return command.Successful, err
	}
	dup := cmd.Clone().(*commandtest.Fake)

	first := NewCommandStep(cmd)
	env.sched.Schedule(first)
	<-started

	second := NewCommandStep(dup)
	env.sched.Schedule(second)
	require.Eventually(t, func() bool { return env.bc.Deduplicated() == 1 }, waitFor, tick)
	close(release)

	<-first.Done()
	<-second.Done()
	assert.Equal(t, command.Successful, second.Status())
	assert.True(t, second.FromCache())
	assert.Zero(t, dup.Executions())
	assert.Equal(t, first.Result(), second.Result())
	assert.Zero(t, env.bc.InProgress())
}

type fakeRemote struct {
	handled bool
	err     error
	result  *command.Result
	calls   atomic.Int32
}

func (f *fakeRemote) TryExecuteRemote(context.Context, command.Command) (*command.Result, bool, error) {
	f.calls.Add(1)
	return f.result, f.handled, f.err
}

func TestCommandStepRemoteExecution(t *testing.T) {
	env := newTestEnv(t, map[objectid.Location][]byte{srcA: []byte("a")})
	remote := &fakeRemote{handled: true, result: outputs(map[objectid.Location]objectid.ContentHash{outA: h1})}
	env.bc.Remote = remote

	cmd := commandtest.NewFake("remote", []objectid.Location{srcA}, nil)
	step := NewCommandStep(cmd)
	require.Equal(t, command.Successful, env.sched.run(t, step))
	assert.True(t, step.Remote())
	assert.Zero(t, cmd.Executions())
	assert.Equal(t, h1, step.Result().OutputObjects[outA])
}

func TestCommandStepRemoteFallback(t *testing.T) {
	env := newTestEnv(t, map[objectid.Location][]byte{srcA: []byte("a")})
	remote := &fakeRemote{err: errors.New("no responders")}
	env.bc.Remote = remote

	cmd := commandtest.NewFake("local", []objectid.Location{srcA}, map[objectid.Location][]byte{outA: []byte("A")})
	step := NewCommandStep(cmd)
	require.Equal(t, command.Successful, env.sched.run(t, step))
	assert.False(t, step.Remote())
	assert.Equal(t, 1, cmd.Executions())
	assert.Equal(t, int32(1), remote.calls.Load())
}

func TestCommandStepRemoteFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.bc.Remote = &fakeRemote{handled: true, err: errors.New("worker crashed")}

	step := NewCommandStep(commandtest.NewFake("remote", nil, nil))
	assert.Equal(t, command.Failed, env.sched.run(t, step))
	assert.Error(t, step.Err())
}

type panickingRemote struct{}

func (panickingRemote) TryExecuteRemote(context.Context, command.Command) (*command.Result, bool, error) {
	panic("transport exploded")
}

func TestCommandStepPanicCompletesStep(t *testing.T) {
	env := newTestEnv(t, nil)
	env.bc.Remote = panickingRemote{}

	step := NewCommandStep(commandtest.NewFake("remote", nil, nil))
	assert.Equal(t, command.Failed, env.sched.run(t, step))
	assert.Zero(t, env.bc.InProgress())
	require.Len(t, env.sched.Fatal(), 1)
	assert.True(t, ferrors.HasCategory(env.sched.Fatal()[0], ferrors.CategoryInternal))
}

func TestCommandStepDuplicatedInputIsFatal(t *testing.T) {
	env := newTestEnv(t, map[objectid.Location][]byte{srcA: []byte("a")})

	cmd := commandtest.NewFake("dup", []objectid.Location{srcA, srcA}, nil)
	step := NewCommandStep(cmd)
	assert.Equal(t, command.Failed, env.sched.run(t, step))
	assert.Zero(t, cmd.Executions())

	fatal := env.sched.Fatal()
	require.Len(t, fatal, 1)
	assert.True(t, ferrors.HasCategory(fatal[0], ferrors.CategoryRace))
}

func TestCommandStepFailureIsLocal(t *testing.T) {
	env := newTestEnv(t, nil)
	step := NewCommandStep(commandtest.NewFake("missing input", []objectid.Location{srcB}, nil))

	assert.Equal(t, command.Failed, env.sched.run(t, step))
	assert.Nil(t, step.Result())
	assert.Empty(t, env.sched.Fatal())
}

func TestCommandStepWithDefaultContext(t *testing.T) {
	bc := NewBuilderContext(nil)
	sched := &goScheduler{ctx: context.Background(), bc: bc, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	writer := NewCommandStep(commandtest.NewFake("write a", nil, map[objectid.Location][]byte{outA: []byte("A")}))
	var status command.ResultStatus
	require.NotPanics(t, func() { status = sched.run(t, writer) })
	assert.Equal(t, command.Failed, status)
	assert.ErrorIs(t, writer.Err(), ErrNoObjectAccess)
	assert.Zero(t, bc.InProgress())

	pure := NewCommandStep(commandtest.NewFake("no objects", nil, nil))
	assert.Equal(t, command.Successful, sched.run(t, pure))
}
