package buildstep

import (
	"fmt"

	"git.home.luguber.info/inful/assetbuild/internal/command"
	"git.home.luguber.info/inful/assetbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuild/internal/iorace"
	"git.home.luguber.info/inful/assetbuild/internal/objectid"
	"git.home.luguber.info/inful/assetbuild/internal/util/sets"
)

// ConflictError is a merge-time violation: a location read and written by different
// commands, or written with different hashes, within one generation.
type ConflictError struct {
	Kind      iorace.Kind
	Location  objectid.Location
	Command   command.Command // being merged
	Other     command.Command // already merged
	Hash      objectid.ContentHash
	OtherHash objectid.ContentHash
}

func (e *ConflictError) Error() string {
	switch e.Kind {
	case iorace.ConflictingOutput:
		return fmt.Sprintf("merge conflict at %s: %q wrote %s but %q wrote %s",
			e.Location, e.Command.Title(), e.Hash.Short(), e.Other.Title(), e.OtherHash.Short())
	case iorace.ReadDuringWrite:
		return fmt.Sprintf("merge conflict at %s: %q read an output of %q from the same generation",
			e.Location, e.Command.Title(), e.Other.Title())
	default:
		return fmt.Sprintf("merge conflict at %s: %q wrote an input of %q from the same generation",
			e.Location, e.Command.Title(), e.Other.Title())
	}
}

func (e *ConflictError) classified() error {
	return errors.RaceError(e.Error()).
		WithCause(e).
		WithContext("race_kind", e.Kind.String()).
		WithContext("location", e.Location.String()).
		WithContext("command", e.Command.Title()).
		WithContext("other_command", e.Other.Title()).
		Build()
}

// stale reports whether an entry was merged in an earlier pass.
func (l *ListStep) stale(generation int) bool {
	return generation < l.generation
}

type pendingOutput struct {
	loc  objectid.Location
	hash objectid.ContentHash
	tags sets.Set[string]
	cmd  command.Command
}

type pendingInput struct {
	loc objectid.Location
	cmd command.Command
}

// mergeCommand checks everything a command step reported before committing any of it.
func (l *ListStep) mergeCommand(child *CommandStep) error {
	status := child.Status()
	if status == command.Cancelled || status == command.NotProcessed {
		return nil
	}
	cmd := child.Command()

	var inputs []pendingInput
	for _, loc := range cmd.InputFiles() {
		inputs = append(inputs, pendingInput{loc: loc, cmd: cmd})
	}
	var outputs []pendingOutput
	var tags []command.Tag
	if res := child.Result(); status == command.Successful && res != nil {
		for _, loc := range res.SortedInputDependencies() {
			inputs = append(inputs, pendingInput{loc: loc, cmd: cmd})
		}
		for _, loc := range res.SortedOutputs() {
			outputs = append(outputs, pendingOutput{loc: loc, hash: res.OutputObjects[loc], cmd: cmd})
		}
		tags = res.Tags
	}

	if err := l.check(inputs, outputs); err != nil {
		return err
	}
	l.commit(inputs, outputs)
	for _, tag := range tags {
		if o, ok := l.outputs[tag.Location]; ok {
			o.Tags.Add(tag.Name)
		}
	}
	return nil
}

// mergeList merges the already-merged maps of a child list step.
func (l *ListStep) mergeList(child *ListStep) error {
	if s := child.Status(); s == command.Cancelled || s == command.NotProcessed {
		return nil
	}

	child.mergeMu.Lock()
	inputs := make([]pendingInput, 0, len(child.inputs))
	for _, loc := range objectid.SortedLocations(child.inputs) {
		inputs = append(inputs, pendingInput{loc: loc, cmd: child.inputs[loc].Command})
	}
	outputs := make([]pendingOutput, 0, len(child.outputs))
	for _, loc := range objectid.SortedLocations(child.outputs) {
		o := child.outputs[loc]
		outputs = append(outputs, pendingOutput{loc: loc, hash: o.Hash, tags: o.Tags.Clone(), cmd: o.Command})
	}
	child.mergeMu.Unlock()

	if err := l.check(inputs, outputs); err != nil {
		return err
	}
	l.commit(inputs, outputs)
	return nil
}

func (l *ListStep) check(inputs []pendingInput, outputs []pendingOutput) error {
	for _, in := range inputs {
		if o, ok := l.outputs[in.loc]; ok && !l.stale(o.Generation) && o.Command != in.cmd {
			c := &ConflictError{Kind: iorace.ReadDuringWrite, Location: in.loc, Command: in.cmd, Other: o.Command, OtherHash: o.Hash}
			return c.classified()
		}
	}
	for _, out := range outputs {
		if in, ok := l.inputs[out.loc]; ok && !l.stale(in.Generation) && in.Command != out.cmd {
			c := &ConflictError{Kind: iorace.WriteDuringRead, Location: out.loc, Command: out.cmd, Other: in.Command, Hash: out.hash}
			return c.classified()
		}
		if o, ok := l.outputs[out.loc]; ok && !l.stale(o.Generation) && o.Hash != out.hash {
			c := &ConflictError{Kind: iorace.ConflictingOutput, Location: out.loc, Command: out.cmd, Other: o.Command, Hash: out.hash, OtherHash: o.Hash}
			return c.classified()
		}
	}
	return nil
}

func (l *ListStep) commit(inputs []pendingInput, outputs []pendingOutput) {
	for _, in := range inputs {
		l.inputs[in.loc] = &InputObject{Command: in.cmd, Generation: l.generation}
	}
	for _, out := range outputs {
		if o, ok := l.outputs[out.loc]; ok && !l.stale(o.Generation) && o.Hash == out.hash {
			o.Tags.Union(out.tags)
			continue
		}
		tags := out.tags
		if tags == nil {
			tags = sets.New[string]()
		}
		l.outputs[out.loc] = &OutputObject{
			Location:   out.loc,
			Hash:       out.hash,
			Tags:       tags,
			Generation: l.generation,
			Command:    out.cmd,
		}
	}
}
