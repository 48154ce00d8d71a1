package buildstep

import (
	"context"
	stderrors "errors"
	"sync"

	"git.home.luguber.info/inful/assetbuild/internal/command"
	"git.home.luguber.info/inful/assetbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuild/internal/logfields"
	"git.home.luguber.info/inful/assetbuild/internal/objectid"
	"git.home.luguber.info/inful/assetbuild/internal/util/sets"
)

// OutputObject is an artifact written by a command and merged into a list step.
type OutputObject struct {
	Location   objectid.Location
	Hash       objectid.ContentHash
	Tags       sets.Set[string]
	Generation int
	Command    command.Command
}

// InputObject records which command read a location and in which merge pass.
type InputObject struct {
	Command    command.Command
	Generation int
}

// ListStep runs its prerequisites, then its children concurrently, and merges the
// inputs and outputs they report into its own maps.
type ListStep struct {
	stepBase

	prerequisites []Step
	children      []Step

	mergeMu    sync.Mutex
	inputs     map[objectid.Location]*InputObject
	outputs    map[objectid.Location]*OutputObject
	generation int
}

// NewListStep returns a list step owning children.
func NewListStep(title string, children ...Step) *ListStep {
	l := &ListStep{
		inputs:  make(map[objectid.Location]*InputObject),
		outputs: make(map[objectid.Location]*OutputObject),
	}
	l.init(title)
	for _, c := range children {
		l.Add(c)
	}
	return l
}

// WithPriority sets the scheduling priority; higher runs first.
func (l *ListStep) WithPriority(p int) *ListStep {
	l.priority = p
	return l
}

// Add appends a child step. It panics when step already belongs to another list.
func (l *ListStep) Add(step Step) *ListStep {
	if err := step.base().setParent(l); err != nil {
		panic(err)
	}
	l.children = append(l.children, step)
	return l
}

// AddPrerequisite appends a step that must complete, and be merged, before any child
// is scheduled.
func (l *ListStep) AddPrerequisite(step Step) *ListStep {
	if err := step.base().setParent(l); err != nil {
		panic(err)
	}
	l.prerequisites = append(l.prerequisites, step)
	return l
}

// Children returns the child steps in declaration order.
func (l *ListStep) Children() []Step { return append([]Step(nil), l.children...) }

// Prerequisites returns the prerequisite steps in declaration order.
func (l *ListStep) Prerequisites() []Step { return append([]Step(nil), l.prerequisites...) }

// Generation returns the number of completed merge passes.
func (l *ListStep) Generation() int {
	l.mergeMu.Lock()
	defer l.mergeMu.Unlock()
	return l.generation
}

// InputObjects returns a copy of the merged inputs.
func (l *ListStep) InputObjects() map[objectid.Location]InputObject {
	l.mergeMu.Lock()
	defer l.mergeMu.Unlock()
	out := make(map[objectid.Location]InputObject, len(l.inputs))
	for loc, in := range l.inputs {
		out[loc] = *in
	}
	return out
}

// OutputObjects returns a copy of the merged outputs.
func (l *ListStep) OutputObjects() map[objectid.Location]OutputObject {
	l.mergeMu.Lock()
	defer l.mergeMu.Unlock()
	out := make(map[objectid.Location]OutputObject, len(l.outputs))
	for loc, o := range l.outputs {
		cp := *o
		cp.Tags = o.Tags.Clone()
		out[loc] = cp
	}
	return out
}

// TryGetOutput returns the hash merged for loc.
func (l *ListStep) TryGetOutput(loc objectid.Location) (objectid.ContentHash, bool) {
	l.mergeMu.Lock()
	defer l.mergeMu.Unlock()
	o, ok := l.outputs[loc]
	if !ok {
		return objectid.Empty, false
	}
	return o.Hash, true
}

// Execute runs prerequisites and children and merges their results. A merge conflict
// is reported to ec and fails the step.
func (l *ListStep) Execute(ctx context.Context, ec ExecuteContext, bc *BuilderContext) command.ResultStatus {
	if err := l.begin(); err != nil {
		ec.ReportFatal(errors.InternalError("step executed twice").WithCause(err).Build())
		return l.Status()
	}

	if len(l.prerequisites) > 0 {
		if err := l.runPass(ec, bc, l.prerequisites); err != nil {
			return l.finish(bc, command.Failed, err)
		}
		if status := ComputeResultStatus(l.prerequisites); status != command.Successful {
			for _, c := range l.children {
				MarkCancelled(c)
			}
			return l.finish(bc, status, nil)
		}
	}

	if ctx.Err() != nil {
		for _, c := range l.children {
			MarkCancelled(c)
		}
		return l.finish(bc, command.Cancelled, nil)
	}

	if err := l.runPass(ec, bc, l.children); err != nil {
		return l.finish(bc, command.Failed, err)
	}
	return l.finish(bc, ComputeResultStatus(l.children), nil)
}

func (l *ListStep) finish(bc *BuilderContext, status command.ResultStatus, err error) command.ResultStatus {
	bc.Metrics.IncStepResult("list", resultLabel(status))
	_ = l.complete(status, err)
	return status
}

// runPass schedules steps, waits for all of them and merges them in declaration order.
func (l *ListStep) runPass(ec ExecuteContext, bc *BuilderContext, steps []Step) error {
	for _, s := range steps {
		ec.Schedule(s)
	}
	for _, s := range steps {
		<-s.Done()
	}

	l.mergeMu.Lock()
	defer l.mergeMu.Unlock()

	for _, s := range steps {
		if err := l.mergeStep(s); err != nil {
			ec.Logger().Error("Merge conflict",
				logfields.Step(l.title),
				logfields.Error(err))
			var conflict *ConflictError
			if stderrors.As(err, &conflict) {
				bc.Metrics.IncRace("merge_" + conflict.Kind.String())
			}
			ec.ReportFatal(err)
			return err
		}
	}
	l.generation++
	return nil
}

func (l *ListStep) mergeStep(s Step) error {
	switch child := s.(type) {
	case *CommandStep:
		return l.mergeCommand(child)
	case *ListStep:
		return l.mergeList(child)
	default:
		return nil
	}
}
