// Package builder runs a step tree as one build: it wires the per-run transaction,
// object access, race monitor and result cache, schedules steps under a bounded
// priority scheduler and publishes the outputs of a successful run.
package builder

import (
	"context"
	stderrors "errors"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/assetbuild/internal/buildstep"
	"git.home.luguber.info/inful/assetbuild/internal/command"
	"git.home.luguber.info/inful/assetbuild/internal/contentindex"
	"git.home.luguber.info/inful/assetbuild/internal/eventstore"
	"git.home.luguber.info/inful/assetbuild/internal/fileversion"
	"git.home.luguber.info/inful/assetbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuild/internal/incremental"
	"git.home.luguber.info/inful/assetbuild/internal/logfields"
	"git.home.luguber.info/inful/assetbuild/internal/metrics"
	"git.home.luguber.info/inful/assetbuild/internal/objectid"
	"git.home.luguber.info/inful/assetbuild/internal/observability"
	"git.home.luguber.info/inful/assetbuild/internal/storage"
	"git.home.luguber.info/inful/assetbuild/internal/transaction"
)

const (
	kindCommand = "command"
	kindList    = "list"
	kindFunc    = "func"

	commitStepTitle = "commit"
)

// DefaultParallelism bounds concurrent commands when none is configured.
const DefaultParallelism = 4

// RemoteFactory creates the remote executor of one run. objects reads inputs and
// stores outputs within that run's transaction.
type RemoteFactory func(objects command.ObjectAccess) buildstep.RemoteExecutor

// Builder executes build runs against one source root, object store and content index.
// A Builder may run several builds sequentially; runs do not share transactions.
type Builder struct {
	root        string
	store       storage.ObjectStore
	index       contentindex.Index
	versions    *fileversion.Store
	remote      RemoteFactory
	events      eventstore.Store
	recorder    metrics.Recorder
	logger      *slog.Logger
	parallelism int
	cache       bool
	listeners   []func(eventstore.Event)
	newID       func() string
}

// New creates a builder reading source files below root. index and versions may be
// nil, in which case nothing is published and file hashes are not persisted.
func New(root string, store storage.ObjectStore, index contentindex.Index, versions *fileversion.Store) *Builder {
	if versions == nil {
		versions = fileversion.NewMemoryStore()
	}
	return &Builder{
		root:        root,
		store:       store,
		index:       index,
		versions:    versions,
		recorder:    metrics.NoopRecorder{},
		logger:      slog.Default(),
		parallelism: DefaultParallelism,
		cache:       true,
		newID:       uuid.NewString,
	}
}

// WithLogger sets a custom logger.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	if logger != nil {
		b.logger = logger
	}
	return b
}

// WithParallelism bounds the number of commands running at once.
func (b *Builder) WithParallelism(n int) *Builder {
	if n > 0 {
		b.parallelism = n
	}
	return b
}

// WithRemote offers every command to a remote executor before running it locally.
func (b *Builder) WithRemote(factory RemoteFactory) *Builder {
	b.remote = factory
	return b
}

// WithEventStore journals every run into store.
func (b *Builder) WithEventStore(store eventstore.Store) *Builder {
	b.events = store
	return b
}

// WithEventListener calls fn for every event emitted, whether or not it is journaled.
func (b *Builder) WithEventListener(fn func(eventstore.Event)) *Builder {
	if fn != nil {
		b.listeners = append(b.listeners, fn)
	}
	return b
}

// WithRecorder sets the metrics recorder.
func (b *Builder) WithRecorder(r metrics.Recorder) *Builder {
	if r != nil {
		b.recorder = r
	}
	return b
}

// WithResultCache enables or disables reuse of stored command results.
func (b *Builder) WithResultCache(enabled bool) *Builder {
	b.cache = enabled
	return b
}

// Root returns the source root.
func (b *Builder) Root() string { return b.root }

// FileVersions returns the file version store used to hash source files.
func (b *Builder) FileVersions() *fileversion.Store { return b.versions }

// Run executes root to completion. trigger names what started the run ("cli",
// "watch", "schedule", ...). The returned report is always non-nil; the error is non-nil
// when the run did not succeed.
func (b *Builder) Run(ctx context.Context, root *buildstep.ListStep, trigger string) (*Report, error) {
	buildID := b.newID()
	ctx = observability.WithBuildID(ctx, buildID)
	logger := b.logger.With(logfields.BuildID(buildID))
	report := &Report{BuildID: buildID, Start: time.Now()}

	tx := transaction.New(b.index).WithLogger(logger)
	objects := &objectAccess{root: b.root, store: b.store, tx: tx, versions: b.versions}
	bc := b.builderContext(logger, objects)
	registerOutputSources(tx, root)

	j := &journal{store: b.events, buildID: buildID, logger: logger, listeners: b.listeners}
	j.buildStarted(ctx, eventstore.BuildStartedData{
		Root:        b.root,
		Trigger:     trigger,
		Parallelism: b.parallelism,
		Remote:      b.remote != nil,
	})
	logger.Info("Build started",
		slog.String("trigger", trigger),
		slog.Int("parallelism", b.parallelism))

	sched := newScheduler(ctx, bc, logger, b.parallelism, func(step buildstep.Step) {
		sr := stepReport(step)
		j.stepCompleted(ctx, eventstore.StepCompletedData{
			Step:       sr.Title,
			Kind:       sr.Kind,
			Status:     sr.Status.String(),
			DurationMS: sr.Duration.Milliseconds(),
			CacheKey:   cacheKeyString(sr.CacheKey),
			FromCache:  sr.FromCache,
			Remote:     sr.Remote,
			Error:      sr.Error,
		})
	})

	sched.Schedule(root)
	<-root.Done()

	status := root.Status()
	if status == command.Successful && len(sched.Fatal()) == 0 {
		commit := buildstep.NewFuncStep(commitStepTitle, func(ctx context.Context, _ *buildstep.BuilderContext) error {
			n, err := b.commit(ctx, tx, root)
			report.Published = n
			return err
		})
		sched.Schedule(commit)
		<-commit.Done()
		status = commit.Status()
		if err := commit.Err(); err != nil {
			sched.ReportFatal(err)
		}
	}
	sched.Wait()

	fatal := sched.Fatal()
	if len(fatal) > 0 && status == command.Successful {
		status = command.Failed
	}
	report.Status = status
	report.End = time.Now()
	report.Deduplicated = bc.Deduplicated()
	report.Steps = collectStepReports(root)
	report.Outputs = make(map[objectid.Location]objectid.ContentHash)
	for loc, out := range root.OutputObjects() {
		report.Outputs[loc] = out.Hash
	}
	for _, err := range fatal {
		report.Errors = append(report.Errors, err.Error())
	}

	j.races(ctx, fatal)
	b.recorder.ObserveBuildDuration(report.Duration())
	b.recorder.IncBuildOutcome(outcomeLabel(status))

	runErr := runError(status, fatal)
	completed := eventstore.BuildCompletedData{
		Status:     status.String(),
		DurationMS: report.Duration().Milliseconds(),
		Steps:      len(report.Steps),
		Outputs:    len(report.Outputs),
		Published:  report.Published,
	}
	if runErr != nil {
		completed.Error = runErr.Error()
	}
	j.buildCompleted(ctx, completed)

	attrs := []any{
		logfields.StepStatus(status.String()),
		logfields.DurationMS(float64(report.Duration().Microseconds()) / 1000),
		slog.Int("steps", len(report.Steps)),
		slog.Int("cache_hits", report.CacheHits()),
		slog.Int("published", report.Published),
	}
	if runErr != nil {
		logger.Error("Build finished", append(attrs, logfields.Error(runErr))...)
	} else {
		logger.Info("Build finished", attrs...)
	}
	return report, runErr
}

func (b *Builder) builderContext(logger *slog.Logger, objects *objectAccess) *buildstep.BuilderContext {
	bc := buildstep.NewBuilderContext(b.versions)
	bc.Monitor.WithLogger(logger)
	bc.Prepare = objects
	bc.Metrics = b.recorder
	bc.NewEnv = func(_ context.Context, cmd command.Command) *command.Env {
		return command.NewEnv(objects, logger.With(logfields.Command(cmd.Title())))
	}
	if b.remote != nil {
		bc.Remote = b.remote(objects)
	}
	if b.cache && b.store != nil {
		bc.Results = incremental.NewResultCache(b.store).
			WithLogger(logger).
			WithInputResolver(objects.resolve)
	}
	return bc
}

// commit publishes the merged outputs of root, together with everything written
// during the run, to the content index.
func (b *Builder) commit(ctx context.Context, tx *transaction.Transaction, root *buildstep.ListStep) (int, error) {
	for loc, out := range root.OutputObjects() {
		tx.Set(loc, out.Hash)
	}
	if b.index == nil {
		return 0, nil
	}
	n, err := tx.Publish(ctx)
	if err != nil {
		return n, errors.WrapError(err, errors.CategoryBuild, "failed to publish build outputs").Build()
	}
	return n, nil
}

// registerOutputSources makes merged outputs of every list step visible to reads
// before they are published. Deeper lists are consulted first.
func registerOutputSources(tx *transaction.Transaction, list *buildstep.ListStep) {
	tx.AddOutputSource(list)
	for _, group := range [][]buildstep.Step{list.Prerequisites(), list.Children()} {
		for _, s := range group {
			if child, ok := s.(*buildstep.ListStep); ok {
				registerOutputSources(tx, child)
			}
		}
	}
}

func runError(status command.ResultStatus, fatal []error) error {
	switch {
	case len(fatal) == 1:
		return fatal[0]
	case len(fatal) > 1:
		return errors.WrapError(stderrors.Join(fatal...), errors.GetCategory(fatal[0]), "build failed").
			WithContext("errors", len(fatal)).
			Build()
	case status == command.Cancelled:
		return errors.BuildError("build cancelled").WithContext("status", status.String()).Build()
	case status != command.Successful:
		return errors.BuildError("build failed").WithContext("status", status.String()).Build()
	}
	return nil
}

func outcomeLabel(status command.ResultStatus) metrics.BuildOutcomeLabel {
	switch status {
	case command.Successful:
		return metrics.BuildOutcomeSuccess
	case command.Cancelled:
		return metrics.BuildOutcomeCanceled
	default:
		return metrics.BuildOutcomeFailed
	}
}

func cacheKeyString(h objectid.ContentHash) string {
	if h.IsEmpty() {
		return ""
	}
	return h.String()
}

// AbsRoot resolves root for use with New.
func AbsRoot(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", errors.WrapError(err, errors.CategoryConfig, "invalid source root").
			WithContext("root", root).
			Build()
	}
	return abs, nil
}
