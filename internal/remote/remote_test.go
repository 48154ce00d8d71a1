package remote

import (
	"context"
	"encoding/json"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/assetbuild/internal/assetcmd"
	"git.home.luguber.info/inful/assetbuild/internal/command"
	"git.home.luguber.info/inful/assetbuild/internal/command/commandtest"
	"git.home.luguber.info/inful/assetbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuild/internal/objectid"
	"git.home.luguber.info/inful/assetbuild/internal/retry"
)

// loopback answers requests with an in-process worker, optionally failing first.
type loopback struct {
	worker   *Worker
	failWith []error
	calls    atomic.Int32
}

func (l *loopback) RequestWithContext(ctx context.Context, _ string, data []byte) (*nats.Msg, error) {
	n := int(l.calls.Add(1))
	if n <= len(l.failWith) {
		return nil, l.failWith[n-1]
	}
	return &nats.Msg{Data: l.worker.Handle(ctx, data)}, nil
}

// undeclaredRead reads a location it never declared.
type undeclaredRead struct {
	command.Base
	Path string `json:"path"`
}

func (u *undeclaredRead) CommandType() string             { return "undeclared" }
func (u *undeclaredRead) Title() string                   { return "undeclared " + u.Path }
func (u *undeclaredRead) InputFiles() []objectid.Location { return nil }
func (u *undeclaredRead) TypeHash() objectid.ContentHash  { return objectid.HashBytes([]byte("undeclared")) }
func (u *undeclaredRead) Clone() command.Command          { return &undeclaredRead{Path: u.Path} }

func (u *undeclaredRead) Execute(ctx context.Context, env *command.Env) (command.ResultStatus, error) {
	if _, err := env.ReadInput(ctx, objectid.File(u.Path)); err != nil {
		return command.Failed, err
	}
	return command.Successful, nil
}

func fastPolicy() retry.Policy {
	return retry.NewPolicy(retry.BackoffFixed, time.Millisecond, time.Millisecond, 2)
}

func TestExecutorRunsCommandOnWorker(t *testing.T) {
	src := objectid.File("/src/app.js")
	dst := objectid.Content("app.js")
	local := commandtest.NewObjects(map[objectid.Location][]byte{src: []byte("console.log(1)")})
	exec := NewExecutor(&loopback{worker: NewWorker().WithName("w1")}, local).WithPolicy(fastPolicy())

	res, handled, err := exec.TryExecuteRemote(context.Background(), assetcmd.NewCopy(src, dst))
	require.NoError(t, err)
	require.True(t, handled)

	want := objectid.HashBytes([]byte("console.log(1)"))
	assert.Equal(t, want, res.OutputObjects[dst])
	assert.Equal(t, want, res.InputDependencyVersions[src])
	assert.Equal(t, want, local.Hash(dst), "output stored locally")
}

func TestExecutorRetriesTimeouts(t *testing.T) {
	src := objectid.File("/a")
	local := commandtest.NewObjects(map[objectid.Location][]byte{src: []byte("a")})
	lb := &loopback{worker: NewWorker(), failWith: []error{nats.ErrTimeout, nats.ErrTimeout}}
	exec := NewExecutor(lb, local).WithPolicy(fastPolicy())

	_, handled, err := exec.TryExecuteRemote(context.Background(), assetcmd.NewCopy(src, objectid.Content("a")))
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, int32(3), lb.calls.Load())
}

func TestExecutorFallsBackWithoutResponders(t *testing.T) {
	src := objectid.File("/a")
	local := commandtest.NewObjects(map[objectid.Location][]byte{src: []byte("a")})
	lb := &loopback{worker: NewWorker(), failWith: []error{nats.ErrNoResponders}}
	exec := NewExecutor(lb, local).WithPolicy(fastPolicy())

	_, handled, err := exec.TryExecuteRemote(context.Background(), assetcmd.NewCopy(src, objectid.Content("a")))
	assert.False(t, handled)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(1), lb.calls.Load(), "no responders is not retried")
}

func TestExecutorReportsRemoteFailure(t *testing.T) {
	src := objectid.File("/bad.md")
	local := commandtest.NewObjects(map[objectid.Location][]byte{src: []byte("---\nunterminated\n")})
	exec := NewExecutor(&loopback{worker: NewWorker()}, local).WithPolicy(fastPolicy())

	_, handled, err := exec.TryExecuteRemote(context.Background(), assetcmd.NewMarkdown(src, objectid.Content("bad.html")))
	assert.True(t, handled)
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryRemote))
}

func TestExecutorFallsBackOnUndeclaredInput(t *testing.T) {
	reg := assetcmd.DefaultRegistry()
	reg.Register("undeclared", func() assetcmd.Typed { return &undeclaredRead{} })
	worker := NewWorker().WithRegistry(reg)
	local := commandtest.NewObjects(map[objectid.Location][]byte{objectid.File("/hidden"): []byte("x")})
	exec := NewExecutor(&loopback{worker: worker}, local).WithRegistry(reg).WithPolicy(fastPolicy())

	_, handled, err := exec.TryExecuteRemote(context.Background(), &undeclaredRead{Path: "/hidden"})
	assert.False(t, handled)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestExecutorSkipsUnencodableCommands(t *testing.T) {
	lb := &loopback{worker: NewWorker()}
	exec := NewExecutor(lb, commandtest.NewObjects(nil))

	_, handled, err := exec.TryExecuteRemote(context.Background(), commandtest.NewFake("fake", nil, nil))
	assert.NoError(t, err)
	assert.False(t, handled)
	assert.Zero(t, lb.calls.Load())
}

func TestWorkerRejectsGarbage(t *testing.T) {
	var resp Response
	require.NoError(t, json.Unmarshal(NewWorker().WithName("w").Handle(context.Background(), []byte("{")), &resp))
	assert.Equal(t, command.Failed.String(), resp.Status)
	assert.Equal(t, "w", resp.Worker)
}

func TestNATSRoundTrip(t *testing.T) {
	url := os.Getenv("ASSETBUILD_TEST_NATS_URL")
	if url == "" {
		t.Skip("ASSETBUILD_TEST_NATS_URL not set")
	}
	conn, err := nats.Connect(url)
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	subject := "assetbuild.test." + time.Now().Format("150405.000000")
	worker := NewWorker().WithSubject(subject, "")
	done := make(chan error, 1)
	go func() { done <- worker.Serve(ctx, conn) }()
	require.NoError(t, conn.Flush())
	time.Sleep(50 * time.Millisecond)

	src := objectid.File("/a.css")
	local := commandtest.NewObjects(map[objectid.Location][]byte{src: []byte("a{}")})
	exec := NewExecutor(conn, local).WithSubject(subject).WithTimeout(5 * time.Second)
	res, handled, err := exec.TryExecuteRemote(ctx, assetcmd.NewCopy(src, objectid.Content("a.css")))
	require.NoError(t, err)
	require.True(t, handled)
	assert.Len(t, res.OutputObjects, 1)

	cancel()
	require.NoError(t, <-done)
}

