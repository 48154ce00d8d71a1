// Package commandtest provides in-memory commands and object access for tests.
package commandtest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"git.home.luguber.info/inful/assetbuild/internal/command"
	"git.home.luguber.info/inful/assetbuild/internal/objectid"
)

var fakeTypeHash = command.HashImplementation("commandtest.Fake", []byte("fake"))

// Fake reads its inputs and writes fixed output bytes. Run, when set, replaces the
// default behavior.
type Fake struct {
	command.Base

	Name    string
	Inputs  []objectid.Location
	Outputs map[objectid.Location][]byte
	Params  string
	Force   bool
	Run     func(ctx context.Context, env *command.Env) (command.ResultStatus, error)

	executions atomic.Int32
}

// NewFake returns a command named name that writes outputs after reading inputs.
func NewFake(name string, inputs []objectid.Location, outputs map[objectid.Location][]byte) *Fake {
	return &Fake{Name: name, Inputs: inputs, Outputs: outputs}
}

// Command identity and declared files.
func (f *Fake) Title() string                   { return f.Name }
func (f *Fake) InputFiles() []objectid.Location { return f.Inputs }
func (f *Fake) TypeHash() objectid.ContentHash  { return fakeTypeHash }
func (f *Fake) ShouldForceExecution() bool      { return f.Force }
func (f *Fake) Executions() int                 { return int(f.executions.Load()) }

// ComputeParameterHash covers Params and the output bytes.
func (f *Fake) ComputeParameterHash(d *objectid.Digest) error {
	d.WriteString(f.Params)
	for _, loc := range objectid.SortedLocations(f.Outputs) {
		d.WriteLocation(loc)
		d.WriteString(string(f.Outputs[loc]))
	}
	return nil
}

// Execute runs Run when set, otherwise reads every input and writes every output.
func (f *Fake) Execute(ctx context.Context, env *command.Env) (command.ResultStatus, error) {
	f.executions.Add(1)
	if f.Run != nil {
		return f.Run(ctx, env)
	}
	for _, in := range f.Inputs {
		if _, err := env.ReadInput(ctx, in); err != nil {
			return command.Failed, err
		}
	}
	for loc, data := range f.Outputs {
		if _, err := env.WriteOutput(ctx, loc, data); err != nil {
			return command.Failed, err
		}
	}
	return command.Successful, nil
}

// Clone returns an unexecuted copy sharing Run.
func (f *Fake) Clone() command.Command {
	outputs := make(map[objectid.Location][]byte, len(f.Outputs))
	for k, v := range f.Outputs {
		outputs[k] = append([]byte(nil), v...)
	}
	return &Fake{
		Name:    f.Name,
		Inputs:  append([]objectid.Location(nil), f.Inputs...),
		Outputs: outputs,
		Params:  f.Params,
		Force:   f.Force,
		Run:     f.Run,
	}
}

// Objects is an in-memory command.ObjectAccess.
type Objects struct {
	mu   sync.Mutex
	data map[objectid.Location][]byte
}

// NewObjects returns an object access seeded with files.
func NewObjects(files map[objectid.Location][]byte) *Objects {
	o := &Objects{data: make(map[objectid.Location][]byte)}
	for k, v := range files {
		o.data[k] = v
	}
	return o
}

// Read returns the stored bytes for loc.
func (o *Objects) Read(_ context.Context, loc objectid.Location) ([]byte, objectid.ContentHash, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	data, ok := o.data[loc]
	if !ok {
		return nil, objectid.Empty, fmt.Errorf("object %s not found", loc)
	}
	return data, objectid.HashBytes(data), nil
}

// Write stores data at loc.
func (o *Objects) Write(_ context.Context, loc objectid.Location, data []byte) (objectid.ContentHash, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.data[loc] = data
	return objectid.HashBytes(data), nil
}

// Hash returns the hash of the object at loc, or Empty.
func (o *Objects) Hash(loc objectid.Location) objectid.ContentHash {
	o.mu.Lock()
	defer o.mu.Unlock()
	data, ok := o.data[loc]
	if !ok {
		return objectid.Empty
	}
	return objectid.HashBytes(data)
}

// ComputeInputHash implements command.PrepareContext.
func (o *Objects) ComputeInputHash(loc objectid.Location) (objectid.ContentHash, error) {
	return o.Hash(loc), nil
}
