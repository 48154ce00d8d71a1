package assetcmd

import (
	"context"
	_ "embed"
	"fmt"

	"git.home.luguber.info/inful/assetbuild/internal/command"
	"git.home.luguber.info/inful/assetbuild/internal/objectid"
)

const CopyType = "copy"

//go:embed copy.go
var copySource []byte

var copyTypeHash = command.HashImplementation(CopyType, copySource)

// Copy publishes Source unchanged at Dest.
type Copy struct {
	command.Base

	Source objectid.Location `json:"source"`
	Dest   objectid.Location `json:"dest"`
}

// NewCopy copies source to dest.
func NewCopy(source, dest objectid.Location) *Copy {
	return &Copy{Source: source, Dest: dest}
}

// Command identity and declared files.
func (c *Copy) CommandType() string                       { return CopyType }
func (c *Copy) Title() string                             { return "copy " + c.Source.Path + " -> " + c.Dest.Path }
func (c *Copy) TypeHash() objectid.ContentHash            { return copyTypeHash }
func (c *Copy) InputFiles() []objectid.Location           { return []objectid.Location{c.Source} }
func (c *Copy) OutputLocation() (objectid.Location, bool) { return c.Dest, true }

// Validate requires both locations.
func (c *Copy) Validate() error {
	if c.Source.IsZero() || c.Dest.IsZero() {
		return fmt.Errorf("copy requires source and dest")
	}
	return nil
}

// ComputeParameterHash covers both locations.
func (c *Copy) ComputeParameterHash(d *objectid.Digest) error {
	d.WriteLocation(c.Source)
	d.WriteLocation(c.Dest)
	return nil
}

// Execute copies the source bytes unchanged.
func (c *Copy) Execute(ctx context.Context, env *command.Env) (command.ResultStatus, error) {
	data, err := env.ReadInput(ctx, c.Source)
	if err != nil {
		return command.Failed, err
	}
	if _, err := env.WriteOutput(ctx, c.Dest, data); err != nil {
		return command.Failed, err
	}
	return command.Successful, nil
}

// Clone returns an unexecuted copy.
func (c *Copy) Clone() command.Command {
	return &Copy{Source: c.Source, Dest: c.Dest}
}
