// Package assetcmd holds the built-in asset commands and the JSON codec used to ship
// them to remote executors.
package assetcmd

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"git.home.luguber.info/inful/assetbuild/internal/command"
	"git.home.luguber.info/inful/assetbuild/internal/foundation/errors"
)

// Spec is the wire form of a command.
type Spec struct {
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params"`
}

// Typed is implemented by commands that can be encoded. The command value itself is
// marshaled as its parameters.
type Typed interface {
	command.Command
	CommandType() string
}

// Factory returns a zero command of one type, ready to receive decoded params.
type Factory func() Typed

// Registry maps command type names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry holding every built-in command.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(CopyType, func() Typed { return &Copy{} })
	r.Register(MarkdownType, func() Typed { return &Markdown{} })
	r.Register(ConcatType, func() Typed { return &Concat{} })
	return r
}

// Register adds or replaces the factory for typ.
func (r *Registry) Register(typ string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[typ] = f
}

// Types lists registered type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for t := range r.factories {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Encode converts cmd to its wire form.
func (r *Registry) Encode(cmd command.Command) (Spec, error) {
	typed, ok := cmd.(Typed)
	if !ok {
		return Spec{}, errors.ValidationError(fmt.Sprintf("command %q cannot be encoded", cmd.Title())).Build()
	}
	r.mu.RLock()
	_, known := r.factories[typed.CommandType()]
	r.mu.RUnlock()
	if !known {
		return Spec{}, errors.ValidationError("unknown command type").
			WithContext("type", typed.CommandType()).
			Build()
	}
	params, err := json.Marshal(typed)
	if err != nil {
		return Spec{}, fmt.Errorf("encode %s params: %w", typed.CommandType(), err)
	}
	return Spec{Type: typed.CommandType(), Params: params}, nil
}

// Decode builds the command described by spec.
func (r *Registry) Decode(spec Spec) (command.Command, error) {
	r.mu.RLock()
	f, ok := r.factories[spec.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.ValidationError("unknown command type").
			WithContext("type", spec.Type).
			Build()
	}
	cmd := f()
	if len(spec.Params) > 0 {
		if err := json.Unmarshal(spec.Params, cmd); err != nil {
			return nil, errors.WrapError(err, errors.CategoryValidation, "invalid command params").
				WithContext("type", spec.Type).
				Build()
		}
	}
	if v, ok := cmd.(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return nil, err
		}
	}
	return cmd, nil
}
