package assetcmd

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"

	"git.home.luguber.info/inful/assetbuild/internal/command"
	"git.home.luguber.info/inful/assetbuild/internal/objectid"
)

const ConcatType = "concat"

//go:embed concat.go
var concatSource []byte

var concatTypeHash = command.HashImplementation(ConcatType, concatSource)

// Concat joins Sources in order, separated by Separator, into Dest.
type Concat struct {
	command.Base

	Sources   []objectid.Location `json:"sources"`
	Dest      objectid.Location   `json:"dest"`
	Separator string              `json:"separator,omitempty"`
	// Tags are attached to Dest.
	Tags []string `json:"tags,omitempty"`
}

// NewConcat joins sources into dest.
func NewConcat(dest objectid.Location, sources ...objectid.Location) *Concat {
	return &Concat{Sources: sources, Dest: dest}
}

// Command identity and declared files.
func (c *Concat) CommandType() string                       { return ConcatType }
func (c *Concat) Title() string                             { return "concat -> " + c.Dest.Path }
func (c *Concat) TypeHash() objectid.ContentHash            { return concatTypeHash }
func (c *Concat) InputFiles() []objectid.Location           { return c.Sources }
func (c *Concat) OutputLocation() (objectid.Location, bool) { return c.Dest, true }

// Validate requires a destination and at least one source.
func (c *Concat) Validate() error {
	if c.Dest.IsZero() || len(c.Sources) == 0 {
		return fmt.Errorf("concat requires dest and at least one source")
	}
	return nil
}

// ComputeParameterHash covers the source order, destination, separator and tags.
func (c *Concat) ComputeParameterHash(d *objectid.Digest) error {
	d.WriteUint32(uint32(len(c.Sources)))
	for _, s := range c.Sources {
		d.WriteLocation(s)
	}
	d.WriteLocation(c.Dest)
	d.WriteString(c.Separator)
	d.WriteUint32(uint32(len(c.Tags)))
	for _, t := range c.Tags {
		d.WriteString(t)
	}
	return nil
}

// Execute reads every source and writes the joined bytes to Dest.
func (c *Concat) Execute(ctx context.Context, env *command.Env) (command.ResultStatus, error) {
	var buf bytes.Buffer
	for i, src := range c.Sources {
		if err := ctx.Err(); err != nil {
			return command.Cancelled, err
		}
		data, err := env.ReadInput(ctx, src)
		if err != nil {
			return command.Failed, err
		}
		if i > 0 {
			buf.WriteString(c.Separator)
		}
		buf.Write(data)
	}
	if _, err := env.WriteOutput(ctx, c.Dest, buf.Bytes()); err != nil {
		return command.Failed, err
	}
	for _, t := range c.Tags {
		env.Tag(c.Dest, t)
	}
	return command.Successful, nil
}

// Clone returns an unexecuted copy.
func (c *Concat) Clone() command.Command {
	return &Concat{
		Sources:   append([]objectid.Location(nil), c.Sources...),
		Dest:      c.Dest,
		Separator: c.Separator,
		Tags:      append([]string(nil), c.Tags...),
	}
}
