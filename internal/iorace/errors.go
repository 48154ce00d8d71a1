package iorace

import (
	"fmt"
	"strings"

	"git.home.luguber.info/inful/assetbuild/internal/command"
	"git.home.luguber.info/inful/assetbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuild/internal/objectid"
)

// Kind classifies a detected race.
type Kind int

const (
	DuplicatedInput Kind = iota + 1
	WriteDuringRead
	ReadDuringWrite
	ConflictingOutput
)

// String returns the snake_case kind name.
func (k Kind) String() string {
	switch k {
	case DuplicatedInput:
		return "duplicated_input"
	case WriteDuringRead:
		return "write_during_read"
	case ReadDuringWrite:
		return "read_during_write"
	case ConflictingOutput:
		return "conflicting_output"
	default:
		return "unknown"
	}
}

// RaceError describes one conflicting access. Command is the writer for read/write
// races; Other is nil for duplicated inputs.
type RaceError struct {
	Kind     Kind
	Location objectid.Location
	Command  command.Command
	Other    command.Command
}

func (e *RaceError) Error() string {
	if e.Other == nil {
		return fmt.Sprintf("%s: %q at %s", e.Kind, e.Command.Title(), e.Location)
	}
	return fmt.Sprintf("%s: %q and %q at %s", e.Kind, e.Command.Title(), e.Other.Title(), e.Location)
}

// Classified converts the race into a build-fatal classified error.
func (e *RaceError) Classified() *errors.ClassifiedError {
	b := errors.RaceError(e.Error()).
		WithContext("race_kind", e.Kind.String()).
		WithContext("location", e.Location.String()).
		WithContext("command", e.Command.Title())
	if e.Other != nil {
		b = b.WithContext("other_command", e.Other.Title())
	}
	return b.Build()
}

// Violations is the set of races raised by one monitor call.
type Violations []*RaceError

func (v Violations) Error() string {
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// Unwrap exposes each violation to errors.Is and errors.As.
func (v Violations) Unwrap() []error {
	out := make([]error, len(v))
	for i, e := range v {
		out[i] = e
	}
	return out
}

// OfKind returns the violations of kind k.
func (v Violations) OfKind(k Kind) Violations {
	var out Violations
	for _, e := range v {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

func (v Violations) orNil() error {
	if len(v) == 0 {
		return nil
	}
	return v
}
