package buildstep

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/assetbuild/internal/command"
	"git.home.luguber.info/inful/assetbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuild/internal/iorace"
	"git.home.luguber.info/inful/assetbuild/internal/logfields"
	"git.home.luguber.info/inful/assetbuild/internal/metrics"
	"git.home.luguber.info/inful/assetbuild/internal/objectid"
	"git.home.luguber.info/inful/assetbuild/internal/observability"
)

// CommandStep runs a single command.
type CommandStep struct {
	stepBase

	cmd       command.Command
	result    *command.Result
	cacheKey  objectid.ContentHash
	fromCache bool
	remote    bool
}

// NewCommandStep wraps cmd in a schedulable step titled after it.
func NewCommandStep(cmd command.Command) *CommandStep {
	s := &CommandStep{cmd: cmd}
	s.init(cmd.Title())
	return s
}

// WithPriority sets the scheduling priority; higher runs first.
func (s *CommandStep) WithPriority(p int) *CommandStep {
	s.priority = p
	return s
}

// Command returns the wrapped command.
func (s *CommandStep) Command() command.Command { return s.cmd }

// Result returns the command result once the step completed successfully.
func (s *CommandStep) Result() *command.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// CacheKey returns the key computed during Execute.
func (s *CommandStep) CacheKey() objectid.ContentHash {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cacheKey
}

// FromCache reports whether the result came from the result cache or a duplicate run.
func (s *CommandStep) FromCache() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fromCache
}

// Remote reports whether the command ran on a remote executor.
func (s *CommandStep) Remote() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote
}

// Execute resolves the command from the result cache, an identical running command or
// a remote executor before running it locally under the race monitor.
func (s *CommandStep) Execute(ctx context.Context, ec ExecuteContext, bc *BuilderContext) (result command.ResultStatus) {
	if err := s.begin(); err != nil {
		ec.ReportFatal(errors.InternalError("step executed twice").WithCause(err).Build())
		return s.Status()
	}

	ctx = observability.WithStep(ctx, s.title)
	logger := ec.Logger().With(logfields.Step(s.title))

	key := command.ComputeCacheKey(s.cmd, bc.Prepare, logger)
	s.mu.Lock()
	s.cacheKey = key
	s.mu.Unlock()

	if !key.IsEmpty() && !s.cmd.ShouldForceExecution() && bc.Results != nil {
		if res, ok := bc.Results.Lookup(ctx, key); ok {
			bc.Metrics.IncCacheLookup(true)
			logger.Debug("Command result reused from cache", logfields.CacheKey(key.Short()))
			return s.finish(bc, command.Successful, res, nil, true)
		}
		bc.Metrics.IncCacheLookup(false)
	}

	if !key.IsEmpty() {
		if running := bc.Begin(key, s); running != nil {
			return s.await(ctx, bc, running, logger)
		}
	}
	defer func() {
		if r := recover(); r != nil {
			if !key.IsEmpty() {
				bc.End(key, s)
			}
			err := errors.InternalError("command step panicked").
				WithContext("step", s.title).
				WithContext("panic", fmt.Sprint(r)).
				Build()
			ec.ReportFatal(err)
			result = s.finish(bc, command.Failed, nil, err, false)
		}
	}()

	status, res, err := s.produce(ctx, ec, bc, logger)
	if status == command.Successful {
		s.store(ctx, bc, key, res, logger)
	}
	// Unregister before completing so a step released by Done never finds us running.
	if !key.IsEmpty() {
		bc.End(key, s)
	}
	return s.finish(bc, status, res, err, false)
}

// produce runs the command remotely when an executor takes it, locally otherwise.
func (s *CommandStep) produce(ctx context.Context, ec ExecuteContext, bc *BuilderContext, logger *slog.Logger) (command.ResultStatus, *command.Result, error) {
	if bc.Remote != nil {
		res, handled, err := bc.Remote.TryExecuteRemote(ctx, s.cmd)
		switch {
		case handled && err != nil:
			bc.Metrics.IncRemoteExecution("failed")
			return command.Failed, nil, err
		case handled:
			bc.Metrics.IncRemoteExecution("handled")
			s.mu.Lock()
			s.remote = true
			s.mu.Unlock()
			return command.Successful, res, nil
		case err != nil:
			bc.Metrics.IncRemoteExecution("fallback")
			logger.Warn("Remote execution unavailable, running locally", logfields.Error(err))
		}
	}
	return s.runLocal(ctx, ec, bc, logger)
}

func (s *CommandStep) runLocal(ctx context.Context, ec ExecuteContext, bc *BuilderContext, logger *slog.Logger) (command.ResultStatus, *command.Result, error) {
	if err := bc.Monitor.CommandStarted(s.cmd); err != nil {
		fatal := raceFailure(bc, err)
		ec.ReportFatal(fatal)
		_ = bc.Monitor.CommandEnded(s.cmd, nil)
		return command.Failed, nil, fatal
	}

	env := bc.env(ctx, s.cmd)
	start := time.Now()
	res, status, err := command.Do(ctx, s.cmd, env)
	bc.Metrics.ObserveCommandDuration(s.title, time.Since(start))

	if rerr := bc.Monitor.CommandEnded(s.cmd, res); rerr != nil {
		fatal := raceFailure(bc, rerr)
		ec.ReportFatal(fatal)
		return command.Failed, nil, fatal
	}
	if err != nil {
		logger.Warn("Command failed", logfields.Error(err))
	}
	return status, res, err
}

func (s *CommandStep) await(ctx context.Context, bc *BuilderContext, running *CommandStep, logger *slog.Logger) command.ResultStatus {
	logger.Debug("Awaiting identical running command", logfields.OtherCommand(running.Title()))
	select {
	case <-running.Done():
	case <-ctx.Done():
		return s.finish(bc, command.Cancelled, nil, nil, false)
	}
	if running.Status() != command.Successful {
		return s.finish(bc, running.Status(), nil, running.Err(), false)
	}
	return s.finish(bc, command.Successful, running.Result(), nil, true)
}

func (s *CommandStep) store(ctx context.Context, bc *BuilderContext, key objectid.ContentHash, res *command.Result, logger *slog.Logger) {
	if bc.Results == nil || key.IsEmpty() || res == nil {
		return
	}
	if err := bc.Results.Store(ctx, key, res); err != nil {
		logger.Warn("Failed to store command result", logfields.CacheKey(key.Short()), logfields.Error(err))
	}
}

func (s *CommandStep) finish(bc *BuilderContext, status command.ResultStatus, res *command.Result, err error, fromCache bool) command.ResultStatus {
	s.mu.Lock()
	if status == command.Successful {
		s.result = res
	}
	s.fromCache = fromCache
	s.mu.Unlock()

	bc.Metrics.IncStepResult("command", resultLabel(status))
	_ = s.complete(status, err)
	return status
}

func raceFailure(bc *BuilderContext, err error) error {
	var violations iorace.Violations
	if stderrors.As(err, &violations) {
		for _, v := range violations {
			bc.Metrics.IncRace(v.Kind.String())
		}
		if len(violations) == 1 {
			return violations[0].Classified()
		}
	}
	return errors.RaceError("I/O race detected").WithCause(err).Build()
}

func resultLabel(status command.ResultStatus) metrics.ResultLabel {
	switch status {
	case command.Successful:
		return metrics.ResultSuccess
	case command.Cancelled:
		return metrics.ResultCanceled
	default:
		return metrics.ResultFailed
	}
}
