package builder

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/assetbuild/internal/assetcmd"
	"git.home.luguber.info/inful/assetbuild/internal/buildstep"
	"git.home.luguber.info/inful/assetbuild/internal/command"
	"git.home.luguber.info/inful/assetbuild/internal/contentindex"
	"git.home.luguber.info/inful/assetbuild/internal/eventstore"
	"git.home.luguber.info/inful/assetbuild/internal/fileversion"
	"git.home.luguber.info/inful/assetbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuild/internal/objectid"
	"git.home.luguber.info/inful/assetbuild/internal/storage"
)

type fixture struct {
	root    string
	store   *storage.MockStore
	index   *contentindex.MemoryIndex
	builder *Builder

	mu     sync.Mutex
	events []eventstore.Event
}

func newFixture(t *testing.T, files map[string]string) *fixture {
	t.Helper()
	f := &fixture{
		root:  t.TempDir(),
		store: storage.NewMockStore(),
		index: contentindex.NewMemoryIndex(),
	}
	for name, content := range files {
		f.writeFile(t, name, content)
	}
	f.builder = New(f.root, f.store, f.index, nil).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		WithParallelism(2).
		WithEventListener(func(ev eventstore.Event) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.events = append(f.events, ev)
		})
	return f
}

func (f *fixture) writeFile(t *testing.T, name, content string) {
	t.Helper()
	p := filepath.Join(f.root, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func (f *fixture) eventTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	types := make([]string, len(f.events))
	for i, ev := range f.events {
		types[i] = ev.Type()
	}
	return types
}

func (f *fixture) published(t *testing.T, loc objectid.Location) string {
	t.Helper()
	hash, ok, err := f.index.Lookup(t.Context(), loc)
	require.NoError(t, err)
	require.True(t, ok, "nothing published at %s", loc)
	obj, err := f.store.Get(t.Context(), hash)
	require.NoError(t, err)
	return string(obj.Data)
}

func copyTree() *buildstep.ListStep {
	return buildstep.NewListStep("site",
		buildstep.NewCommandStep(assetcmd.NewCopy(objectid.File("src/a.txt"), objectid.Content("out/a.txt"))),
		buildstep.NewCommandStep(assetcmd.NewCopy(objectid.File("src/b.txt"), objectid.Content("out/b.txt"))),
	)
}

func TestRunPublishesOutputs(t *testing.T) {
	f := newFixture(t, map[string]string{"src/a.txt": "alpha", "src/b.txt": "beta"})

	report, err := f.builder.Run(t.Context(), copyTree(), "cli")
	require.NoError(t, err)

	assert.Equal(t, command.Successful, report.Status)
	assert.NotEmpty(t, report.BuildID)
	assert.Equal(t, 2, report.Published)
	assert.Len(t, report.Outputs, 2)
	assert.Equal(t, 2, report.Executed())
	assert.Equal(t, "alpha", f.published(t, objectid.Content("out/a.txt")))
	assert.Equal(t, "beta", f.published(t, objectid.Content("out/b.txt")))

	types := f.eventTypes()
	require.NotEmpty(t, types)
	assert.Equal(t, eventstore.TypeBuildStarted, types[0])
	assert.Equal(t, eventstore.TypeBuildCompleted, types[len(types)-1])
	assert.Contains(t, types, eventstore.TypeStepCompleted)
}

func TestSecondRunReusesCachedResults(t *testing.T) {
	f := newFixture(t, map[string]string{"src/a.txt": "alpha", "src/b.txt": "beta"})

	_, err := f.builder.Run(t.Context(), copyTree(), "cli")
	require.NoError(t, err)

	report, err := f.builder.Run(t.Context(), copyTree(), "cli")
	require.NoError(t, err)
	assert.Equal(t, 2, report.CacheHits())
	assert.Equal(t, 0, report.Executed())
	assert.Equal(t, 2, report.Published)

	f.writeFile(t, "src/a.txt", "alpha, changed")
	report, err = f.builder.Run(t.Context(), copyTree(), "cli")
	require.NoError(t, err)
	assert.Equal(t, 1, report.CacheHits())
	assert.Equal(t, 1, report.Executed())
	assert.Equal(t, "alpha, changed", f.published(t, objectid.Content("out/a.txt")))
}

func TestRerunOfUnchangedTreeIsIdempotent(t *testing.T) {
	f := newFixture(t, map[string]string{"src/a.txt": "alpha", "src/b.txt": "beta"})
	versionsPath := filepath.Join(t.TempDir(), "files.txt")
	versions, err := fileversion.Open(versionsPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = versions.Close() })
	f.builder = New(f.root, f.store, f.index, versions).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))

	first, err := f.builder.Run(t.Context(), copyTree(), "cli")
	require.NoError(t, err)
	entries := f.builder.FileVersions().Entries()
	require.Len(t, entries, 2)
	onDisk, err := os.ReadFile(versionsPath)
	require.NoError(t, err)

	second, err := f.builder.Run(t.Context(), copyTree(), "cli")
	require.NoError(t, err)
	assert.Equal(t, 2, second.CacheHits())
	assert.Equal(t, first.Outputs, second.Outputs)
	assert.Equal(t, entries, f.builder.FileVersions().Entries())
	again, err := os.ReadFile(versionsPath)
	require.NoError(t, err)
	assert.Equal(t, onDisk, again)
}

func TestDisabledResultCacheAlwaysExecutes(t *testing.T) {
	f := newFixture(t, map[string]string{"src/a.txt": "alpha", "src/b.txt": "beta"})
	f.builder.WithResultCache(false)

	_, err := f.builder.Run(t.Context(), copyTree(), "cli")
	require.NoError(t, err)
	report, err := f.builder.Run(t.Context(), copyTree(), "cli")
	require.NoError(t, err)
	assert.Equal(t, 0, report.CacheHits())
	assert.Equal(t, 2, report.Executed())
}

func TestPrerequisiteOutputsAreReadable(t *testing.T) {
	f := newFixture(t, map[string]string{"src/a.txt": "alpha", "src/b.txt": "beta"})

	mid := objectid.Content("tmp/a.txt")
	out := objectid.Content("out/joined.txt")
	concat := assetcmd.NewConcat(out, mid, objectid.File("src/b.txt"))
	concat.Separator = "+"

	tree := buildstep.NewListStep("site", buildstep.NewCommandStep(concat))
	tree.AddPrerequisite(buildstep.NewCommandStep(assetcmd.NewCopy(objectid.File("src/a.txt"), mid)))

	report, err := f.builder.Run(t.Context(), tree, "cli")
	require.NoError(t, err)
	assert.Equal(t, command.Successful, report.Status)
	assert.Equal(t, "alpha+beta", f.published(t, out))
	assert.Equal(t, "alpha", f.published(t, mid))
}

func TestConflictingOutputsFailTheBuild(t *testing.T) {
	f := newFixture(t, map[string]string{"src/a.txt": "alpha", "src/b.txt": "beta"})
	dest := objectid.Content("out/x.txt")
	tree := buildstep.NewListStep("site",
		buildstep.NewCommandStep(assetcmd.NewCopy(objectid.File("src/a.txt"), dest)),
		buildstep.NewCommandStep(assetcmd.NewCopy(objectid.File("src/b.txt"), dest)),
	)

	report, err := f.builder.Run(t.Context(), tree, "cli")
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryRace))
	assert.Equal(t, command.Failed, report.Status)
	assert.Zero(t, report.Published)
	assert.NotEmpty(t, report.Errors)
	assert.Contains(t, f.eventTypes(), eventstore.TypeRaceDetected)

	exists, err := f.index.Exists(t.Context(), dest)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestFailedCommandFailsWithoutPublishing(t *testing.T) {
	f := newFixture(t, map[string]string{"src/a.txt": "alpha"})

	report, err := f.builder.Run(t.Context(), copyTree(), "cli")
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryBuild))
	assert.Equal(t, command.Failed, report.Status)
	assert.Zero(t, report.Published)

	step, ok := report.Step("copy src/b.txt -> /out/b.txt")
	require.True(t, ok)
	assert.Equal(t, command.Failed, step.Status)
	assert.NotEmpty(t, step.Error)
}

func TestCancelledRunCancelsSteps(t *testing.T) {
	f := newFixture(t, map[string]string{"src/a.txt": "alpha", "src/b.txt": "beta"})
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	report, err := f.builder.Run(ctx, copyTree(), "cli")
	require.Error(t, err)
	assert.Equal(t, command.Cancelled, report.Status)
	for _, s := range report.Steps {
		assert.Equal(t, command.Cancelled, s.Status, s.Title)
	}
	assert.Zero(t, report.Published)
}

func TestRunJournalsIntoEventStore(t *testing.T) {
	f := newFixture(t, map[string]string{"src/a.txt": "alpha", "src/b.txt": "beta"})
	events, err := eventstore.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer func() { _ = events.Close() }()
	f.builder.WithEventStore(events)

	report, err := f.builder.Run(t.Context(), copyTree(), "daemon")
	require.NoError(t, err)

	stored, err := events.GetByBuildID(t.Context(), report.BuildID)
	require.NoError(t, err)
	require.NotEmpty(t, stored)

	projection := eventstore.NewBuildHistoryProjection(events, 10)
	require.NoError(t, projection.Rebuild(t.Context()))
	summary, ok := projection.GetBuild(report.BuildID)
	require.True(t, ok)
	assert.Equal(t, "successful", summary.Status)
	assert.Equal(t, "daemon", summary.Trigger)
	assert.Equal(t, 2, summary.Published)
}

func TestObjectAccessRejectsFileWritesAndEscapes(t *testing.T) {
	f := newFixture(t, nil)
	a := &objectAccess{root: f.root, store: f.store, versions: f.builder.FileVersions()}

	_, err := a.Write(t.Context(), objectid.File("src/a.txt"), []byte("x"))
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryValidation))

	_, _, err = a.Read(t.Context(), objectid.File("../secret"))
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryValidation))

	_, _, err = a.Read(t.Context(), objectid.File("missing.txt"))
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryNotFound))
}

// loopbackRemote executes commands in-process through the run's object access.
type loopbackRemote struct {
	objects     command.ObjectAccess
	unavailable bool
	calls       *atomic.Int32
}

func (r *loopbackRemote) TryExecuteRemote(ctx context.Context, cmd command.Command) (*command.Result, bool, error) {
	r.calls.Add(1)
	if r.unavailable {
		return nil, false, errors.RemoteError("no workers").Build()
	}
	env := command.NewEnv(r.objects, nil)
	res, status, err := command.Do(ctx, cmd.Clone(), env)
	if status != command.Successful {
		return nil, true, err
	}
	return res, true, nil
}

func TestRemoteExecution(t *testing.T) {
	for _, unavailable := range []bool{false, true} {
		name := "handled"
		if unavailable {
			name = "fallback"
		}
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, map[string]string{"src/a.txt": "alpha", "src/b.txt": "beta"})
			var calls atomic.Int32
			f.builder.WithRemote(func(objects command.ObjectAccess) buildstep.RemoteExecutor {
				return &loopbackRemote{objects: objects, unavailable: unavailable, calls: &calls}
			})

			report, err := f.builder.Run(t.Context(), copyTree(), "cli")
			require.NoError(t, err)
			assert.Equal(t, int32(2), calls.Load())
			assert.Equal(t, "alpha", f.published(t, objectid.Content("out/a.txt")))

			step, ok := report.Step("copy src/a.txt -> /out/a.txt")
			require.True(t, ok)
			assert.Equal(t, !unavailable, step.Remote)
		})
	}
}
