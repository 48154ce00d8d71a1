package buildstep

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/assetbuild/internal/command"
	"git.home.luguber.info/inful/assetbuild/internal/command/commandtest"
	"git.home.luguber.info/inful/assetbuild/internal/objectid"
)

// goScheduler runs every scheduled step on its own goroutine.
type goScheduler struct {
	ctx    context.Context
	bc     *BuilderContext
	logger *slog.Logger

	mu    sync.Mutex
	fatal []error
}

func (s *goScheduler) Schedule(step Step) {
	go step.Execute(s.ctx, s, s.bc)
}

func (s *goScheduler) Logger() *slog.Logger { return s.logger }

func (s *goScheduler) ReportFatal(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fatal = append(s.fatal, err)
}

func (s *goScheduler) Fatal() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.fatal...)
}

// run schedules step and waits for it.
func (s *goScheduler) run(t *testing.T, step Step) command.ResultStatus {
	t.Helper()
	s.Schedule(step)
	<-step.Done()
	return step.Status()
}

type memoryResults struct {
	mu      sync.Mutex
	results map[objectid.ContentHash]*command.Result
}

func newMemoryResults() *memoryResults {
	return &memoryResults{results: make(map[objectid.ContentHash]*command.Result)}
}

func (m *memoryResults) Lookup(_ context.Context, key objectid.ContentHash) (*command.Result, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[key]
	return r, ok
}

func (m *memoryResults) Store(_ context.Context, key objectid.ContentHash, r *command.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[key] = r
	return nil
}

func (m *memoryResults) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.results)
}

type testEnv struct {
	objects *commandtest.Objects
	bc      *BuilderContext
	sched   *goScheduler
}

func newTestEnv(t *testing.T, files map[objectid.Location][]byte) *testEnv {
	t.Helper()
	return newTestEnvContext(t, context.Background(), files)
}

func newTestEnvContext(t *testing.T, ctx context.Context, files map[objectid.Location][]byte) *testEnv {
	t.Helper()
	objects := commandtest.NewObjects(files)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	bc := NewBuilderContext(nil)
	bc.Monitor.WithLogger(logger)
	bc.Prepare = objects
	bc.NewEnv = func(context.Context, command.Command) *command.Env {
		return command.NewEnv(objects, logger)
	}
	return &testEnv{
		objects: objects,
		bc:      bc,
		sched:   &goScheduler{ctx: ctx, bc: bc, logger: logger},
	}
}

// completedCommand returns a finished command step carrying res, for merge tests.
func completedCommand(t *testing.T, name string, inputs []objectid.Location, res *command.Result) *CommandStep {
	t.Helper()
	s := NewCommandStep(commandtest.NewFake(name, inputs, nil))
	require.NoError(t, s.begin())
	s.result = res
	require.NoError(t, s.complete(command.Successful, nil))
	return s
}

func completedFunc(t *testing.T, status command.ResultStatus) Step {
	t.Helper()
	s := NewFuncStep("done", nil)
	require.NoError(t, s.begin())
	require.NoError(t, s.complete(status, nil))
	return s
}

func outputs(pairs map[objectid.Location]objectid.ContentHash) *command.Result {
	r := command.NewResult()
	for k, v := range pairs {
		r.AddOutput(k, v)
	}
	return r
}

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)
