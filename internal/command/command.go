// Package command defines the unit of build work: a hashable, cancellable command with
// statically declared inputs, and the runner that drives its lifecycle hooks.
package command

import (
	"context"
	"sync"
	"sync/atomic"

	"git.home.luguber.info/inful/assetbuild/internal/objectid"
)

// Command is a single unit of build work.
//
// Implementations embed Base for default behavior and must provide an explicit Clone.
// Overrides of PreCommand and PostCommand must call through to Base; Do reports an
// internal error otherwise.
type Command interface {
	Title() string
	// OutputLocation is the primary artifact location, when one is known up front.
	OutputLocation() (objectid.Location, bool)
	// InputFiles lists the locations the command will read, without running it.
	InputFiles() []objectid.Location
	// TypeHash identifies the implementation of the command type.
	TypeHash() objectid.ContentHash
	ComputeParameterHash(d *objectid.Digest) error

	ShouldForceExecution() bool
	ShouldSpawnNewProcess() bool

	PreCommand(ctx context.Context, env *Env) error
	Execute(ctx context.Context, env *Env) (ResultStatus, error)
	PostCommand(ctx context.Context, env *Env, status ResultStatus) error

	Cancel()
	CancellationRequested() bool
	Clone() Command
	BaseCommand() *Base
}

// Base carries the default policy and the lifecycle bookkeeping shared by all commands.
// The zero value is ready to use.
type Base struct {
	mu        sync.Mutex
	cancelRun context.CancelFunc
	cancelled atomic.Bool
	preRan    atomic.Bool
	postRan   atomic.Bool
}

// BaseCommand returns b. Embedding types satisfy Command through promotion.
func (b *Base) BaseCommand() *Base { return b }

// OutputLocation reports no statically known output.
func (b *Base) OutputLocation() (objectid.Location, bool) { return objectid.Location{}, false }

// ComputeParameterHash writes nothing.
func (b *Base) ComputeParameterHash(*objectid.Digest) error { return nil }

// Defaults: results are cacheable and commands run in-process.
func (b *Base) ShouldForceExecution() bool  { return false }
func (b *Base) ShouldSpawnNewProcess() bool { return false }

// PreCommand marks the hook as called.
func (b *Base) PreCommand(context.Context, *Env) error {
	b.preRan.Store(true)
	return nil
}

// PostCommand marks the hook as called.
func (b *Base) PostCommand(context.Context, *Env, ResultStatus) error {
	b.postRan.Store(true)
	return nil
}

// Cancel requests cancellation. A running command observes it through its context.
func (b *Base) Cancel() {
	b.cancelled.Store(true)
	b.mu.Lock()
	cancel := b.cancelRun
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// CancellationRequested reports whether Cancel was called.
func (b *Base) CancellationRequested() bool { return b.cancelled.Load() }

func (b *Base) beginRun(cancel context.CancelFunc) {
	b.preRan.Store(false)
	b.postRan.Store(false)
	b.mu.Lock()
	b.cancelRun = cancel
	b.mu.Unlock()
	if b.cancelled.Load() {
		cancel()
	}
}

func (b *Base) endRun() {
	b.mu.Lock()
	b.cancelRun = nil
	b.mu.Unlock()
}

// HashImplementation derives a type hash from the source of a command implementation.
// Built-in commands pass their own file contents embedded at compile time.
func HashImplementation(name string, source []byte) objectid.ContentHash {
	d := objectid.NewDigest()
	d.WriteString(name)
	_, _ = d.Write(source)
	return d.Sum()
}
