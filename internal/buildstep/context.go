package buildstep

import (
	"context"
	"sync"

	"git.home.luguber.info/inful/assetbuild/internal/command"
	"git.home.luguber.info/inful/assetbuild/internal/fileversion"
	"git.home.luguber.info/inful/assetbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuild/internal/iorace"
	"git.home.luguber.info/inful/assetbuild/internal/metrics"
	"git.home.luguber.info/inful/assetbuild/internal/objectid"
)

// RemoteExecutor may run a command elsewhere. handled reports whether it took the
// command; when false the command runs locally.
type RemoteExecutor interface {
	TryExecuteRemote(ctx context.Context, cmd command.Command) (result *command.Result, handled bool, err error)
}

// ResultCache stores command results by cache key.
type ResultCache interface {
	Lookup(ctx context.Context, key objectid.ContentHash) (*command.Result, bool)
	Store(ctx context.Context, key objectid.ContentHash, result *command.Result) error
}

// EnvFactory creates the environment a command runs in.
type EnvFactory func(ctx context.Context, cmd command.Command) *command.Env

// ErrNoObjectAccess is returned by object reads and writes when the context was never
// given an EnvFactory.
var ErrNoObjectAccess = errors.InternalError("no object access configured").Build()

type noObjectAccess struct{}

func (noObjectAccess) Read(context.Context, objectid.Location) ([]byte, objectid.ContentHash, error) {
	return nil, objectid.Empty, ErrNoObjectAccess
}

func (noObjectAccess) Write(context.Context, objectid.Location, []byte) (objectid.ContentHash, error) {
	return objectid.Empty, ErrNoObjectAccess
}

func detachedEnv(context.Context, command.Command) *command.Env {
	return command.NewEnv(noObjectAccess{}, nil)
}

// BuilderContext is the per-run bookkeeping shared by every step of a build.
type BuilderContext struct {
	FileVersions *fileversion.Store
	Monitor      *iorace.Monitor
	Prepare      command.PrepareContext
	NewEnv       EnvFactory
	Results      ResultCache    // nil disables result caching
	Remote       RemoteExecutor // nil means local execution only
	Metrics      metrics.Recorder

	mu           sync.Mutex
	inProgress   map[objectid.ContentHash]*CommandStep
	deduplicated int
}

// NewBuilderContext returns a context whose input hashes come from fileVersions.
// Content locations hash as Empty until Prepare is replaced, and commands fail on any
// object access until NewEnv is replaced.
func NewBuilderContext(fileVersions *fileversion.Store) *BuilderContext {
	if fileVersions == nil {
		fileVersions = fileversion.NewMemoryStore()
	}
	return &BuilderContext{
		FileVersions: fileVersions,
		Monitor:      iorace.NewMonitor(),
		Prepare:      FilePrepare(fileVersions),
		NewEnv:       detachedEnv,
		Metrics:      metrics.NoopRecorder{},
		inProgress:   make(map[objectid.ContentHash]*CommandStep),
	}
}

// FilePrepare hashes file locations through store and reports Empty for anything else.
func FilePrepare(store *fileversion.Store) command.PrepareContext {
	return command.PrepareFunc(func(loc objectid.Location) (objectid.ContentHash, error) {
		if loc.Type != objectid.URLTypeFile {
			return objectid.Empty, nil
		}
		return store.HashFile(loc.Path)
	})
}

func (bc *BuilderContext) env(ctx context.Context, cmd command.Command) *command.Env {
	if bc.NewEnv == nil {
		return detachedEnv(ctx, cmd)
	}
	return bc.NewEnv(ctx, cmd)
}

// Begin registers step as executing the command with key. When another step already
// runs the same key, that step is returned and nothing is registered.
func (bc *BuilderContext) Begin(key objectid.ContentHash, step *CommandStep) *CommandStep {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	if running, ok := bc.inProgress[key]; ok && running != step {
		bc.deduplicated++
		return running
	}
	bc.inProgress[key] = step
	bc.Metrics.SetInFlightCommands(len(bc.inProgress))
	return nil
}

// End removes the registration made by Begin.
func (bc *BuilderContext) End(key objectid.ContentHash, step *CommandStep) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	if bc.inProgress[key] == step {
		delete(bc.inProgress, key)
	}
	bc.Metrics.SetInFlightCommands(len(bc.inProgress))
}

// InProgress returns the number of commands currently registered.
func (bc *BuilderContext) InProgress() int {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return len(bc.inProgress)
}

// Deduplicated returns how many steps awaited an identical running command instead of
// executing their own.
func (bc *BuilderContext) Deduplicated() int {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.deduplicated
}
