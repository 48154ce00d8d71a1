package command

import (
	"context"
	stderrors "errors"
	"fmt"

	"git.home.luguber.info/inful/assetbuild/internal/foundation/errors"
)

// Do runs cmd through its lifecycle hooks. A command cancelled before it starts is not
// executed. Execution errors become a Failed status; cancellation of ctx or of the
// command becomes Cancelled.
func Do(ctx context.Context, cmd Command, env *Env) (*Result, ResultStatus, error) {
	base := cmd.BaseCommand()
	if ctx.Err() != nil || cmd.CancellationRequested() {
		return nil, Cancelled, nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	base.beginRun(cancel)
	defer base.endRun()

	if err := cmd.PreCommand(runCtx, env); err != nil {
		return nil, Failed, wrapCommandError(cmd, "pre-command hook failed", err)
	}
	if !base.preRan.Load() {
		return nil, Failed, errors.InternalError("PreCommand override did not call the base hook").
			WithContext("command", cmd.Title()).
			Build()
	}

	status, err := execute(runCtx, cmd, env)
	switch {
	case cancelledRun(runCtx, cmd, err):
		status, err = Cancelled, nil
	case err != nil:
		status = Failed
		err = wrapCommandError(cmd, "command failed", err)
	case status == NotProcessed:
		status = Successful
	}

	if perr := cmd.PostCommand(runCtx, env, status); perr != nil && err == nil {
		status = Failed
		err = wrapCommandError(cmd, "post-command hook failed", perr)
	}
	if !base.postRan.Load() {
		return nil, Failed, errors.InternalError("PostCommand override did not call the base hook").
			WithContext("command", cmd.Title()).
			Build()
	}

	if status != Successful {
		return nil, status, err
	}
	return env.Result(), Successful, nil
}

func execute(ctx context.Context, cmd Command, env *Env) (status ResultStatus, err error) {
	defer func() {
		if r := recover(); r != nil {
			status = Failed
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return cmd.Execute(ctx, env)
}

func cancelledRun(ctx context.Context, cmd Command, err error) bool {
	if cmd.CancellationRequested() {
		return true
	}
	if ctx.Err() != nil && (err == nil || stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded)) {
		return true
	}
	return false
}

func wrapCommandError(cmd Command, message string, err error) error {
	if errors.IsClassified(err) {
		return err
	}
	return errors.WrapError(err, errors.CategoryCommand, message).
		WithContext("command", cmd.Title()).
		Build()
}
