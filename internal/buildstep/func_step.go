package buildstep

import (
	"context"

	"git.home.luguber.info/inful/assetbuild/internal/command"
	"git.home.luguber.info/inful/assetbuild/internal/foundation/errors"
)

// FuncStep runs a function as a step. It reports no inputs or outputs to its parent.
type FuncStep struct {
	stepBase
	fn func(ctx context.Context, bc *BuilderContext) error
}

// NewFuncStep returns a step that calls fn. A nil fn completes successfully.
func NewFuncStep(title string, fn func(ctx context.Context, bc *BuilderContext) error) *FuncStep {
	s := &FuncStep{fn: fn}
	s.init(title)
	return s
}

// WithPriority sets the scheduling priority; higher runs first.
func (s *FuncStep) WithPriority(p int) *FuncStep {
	s.priority = p
	return s
}

// Execute runs the function; an error fails the step.
func (s *FuncStep) Execute(ctx context.Context, ec ExecuteContext, bc *BuilderContext) command.ResultStatus {
	if err := s.begin(); err != nil {
		ec.ReportFatal(errors.InternalError("step executed twice").WithCause(err).Build())
		return s.Status()
	}
	if ctx.Err() != nil {
		_ = s.complete(command.Cancelled, nil)
		return command.Cancelled
	}

	status := command.Successful
	var err error
	if s.fn != nil {
		err = s.fn(ctx, bc)
	}
	switch {
	case err != nil && ctx.Err() != nil:
		status, err = command.Cancelled, nil
	case err != nil:
		status = command.Failed
	}
	bc.Metrics.IncStepResult("func", resultLabel(status))
	_ = s.complete(status, err)
	return status
}
