package command

import (
	"context"
	"log/slog"
	"sync"

	"git.home.luguber.info/inful/assetbuild/internal/objectid"
)

// ObjectAccess reads and writes build objects on behalf of a running command.
type ObjectAccess interface {
	Read(ctx context.Context, loc objectid.Location) ([]byte, objectid.ContentHash, error)
	Write(ctx context.Context, loc objectid.Location, data []byte) (objectid.ContentHash, error)
}

// Env is handed to a command while it runs. ReadInput and WriteOutput record what was
// observed into Result.
type Env struct {
	Objects ObjectAccess
	Logger  *slog.Logger

	mu     sync.Mutex
	result *Result
}

// NewEnv returns an environment with an empty result.
func NewEnv(objects ObjectAccess, logger *slog.Logger) *Env {
	if logger == nil {
		logger = slog.Default()
	}
	return &Env{Objects: objects, Logger: logger, result: NewResult()}
}

// Result returns the result accumulated so far.
func (e *Env) Result() *Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.result
}

// ReadInput reads loc and records the version observed.
func (e *Env) ReadInput(ctx context.Context, loc objectid.Location) ([]byte, error) {
	data, h, err := e.Objects.Read(ctx, loc)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.result.AddInputDependency(loc, h)
	e.mu.Unlock()
	return data, nil
}

// WriteOutput stores data at loc and records the output.
func (e *Env) WriteOutput(ctx context.Context, loc objectid.Location, data []byte) (objectid.ContentHash, error) {
	h, err := e.Objects.Write(ctx, loc, data)
	if err != nil {
		return objectid.Empty, err
	}
	e.mu.Lock()
	e.result.AddOutput(loc, h)
	e.mu.Unlock()
	return h, nil
}

// Tag tags the output at loc.
func (e *Env) Tag(loc objectid.Location, name string) {
	e.mu.Lock()
	e.result.AddTag(loc, name)
	e.mu.Unlock()
}
