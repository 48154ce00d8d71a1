// Package plan loads a YAML build plan and turns it into a step tree.
//
// A plan is a tree of nodes. A node with a type is a command, decoded through an
// assetcmd registry; any other node is a group whose prerequisites complete before
// its steps start.
//
//	title: site
//	prerequisites:
//	  - type: copy
//	    params: {source: "file:src/logo.svg", dest: "content:/img/logo.svg"}
//	steps:
//	  - title: pages
//	    steps:
//	      - type: markdown
//	        params: {source: "file:docs/index.md", dest: "content:/index.html"}
package plan

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/assetbuild/internal/assetcmd"
	"git.home.luguber.info/inful/assetbuild/internal/buildstep"
	"git.home.luguber.info/inful/assetbuild/internal/command"
	"git.home.luguber.info/inful/assetbuild/internal/foundation/errors"
)

// Node is a command or a group of nodes.
type Node struct {
	Title         string         `yaml:"title,omitempty"`
	Priority      int            `yaml:"priority,omitempty"`
	Type          string         `yaml:"type,omitempty"`
	Params        map[string]any `yaml:"params,omitempty"`
	Prerequisites []Node         `yaml:"prerequisites,omitempty"`
	Steps         []Node         `yaml:"steps,omitempty"`
}

// Plan is the root group of a build.
type Plan struct {
	Node `yaml:",inline"`
}

// IsCommand reports whether n describes a single command.
func (n *Node) IsCommand() bool { return n.Type != "" }

// Load reads and parses the plan at path.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryConfig, "failed to read build plan").
			WithContext("path", path).
			Build()
	}
	return Parse(data)
}

// Parse decodes a plan from YAML.
func Parse(data []byte) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, errors.WrapError(err, errors.CategoryConfig, "invalid build plan").Build()
	}
	if p.IsCommand() {
		return nil, errors.ValidationError("plan root must be a group").Build()
	}
	if p.Title == "" {
		p.Title = "build"
	}
	return &p, nil
}

// Validate checks that every command decodes.
func (p *Plan) Validate(reg *assetcmd.Registry) error {
	_, err := p.Build(reg)
	return err
}

// Build returns a fresh step tree for one run. Steps are single-use, so every build
// run needs its own tree.
func (p *Plan) Build(reg *assetcmd.Registry) (*buildstep.ListStep, error) {
	if reg == nil {
		reg = assetcmd.DefaultRegistry()
	}
	root, err := buildGroup(reg, &p.Node, p.Title)
	if err != nil {
		return nil, err
	}
	return root, nil
}

// Commands returns every command of the plan in declaration order.
func (p *Plan) Commands(reg *assetcmd.Registry) ([]command.Command, error) {
	root, err := p.Build(reg)
	if err != nil {
		return nil, err
	}
	var out []command.Command
	var walk func(l *buildstep.ListStep)
	walk = func(l *buildstep.ListStep) {
		for _, group := range [][]buildstep.Step{l.Prerequisites(), l.Children()} {
			for _, s := range group {
				switch step := s.(type) {
				case *buildstep.CommandStep:
					out = append(out, step.Command())
				case *buildstep.ListStep:
					walk(step)
				}
			}
		}
	}
	walk(root)
	return out, nil
}

func buildGroup(reg *assetcmd.Registry, n *Node, path string) (*buildstep.ListStep, error) {
	list := buildstep.NewListStep(n.Title).WithPriority(n.Priority)
	for i := range n.Prerequisites {
		step, err := buildNode(reg, &n.Prerequisites[i], fmt.Sprintf("%s.prerequisites[%d]", path, i))
		if err != nil {
			return nil, err
		}
		list.AddPrerequisite(step)
	}
	for i := range n.Steps {
		step, err := buildNode(reg, &n.Steps[i], fmt.Sprintf("%s.steps[%d]", path, i))
		if err != nil {
			return nil, err
		}
		list.Add(step)
	}
	return list, nil
}

func buildNode(reg *assetcmd.Registry, n *Node, path string) (buildstep.Step, error) {
	if !n.IsCommand() {
		if len(n.Params) > 0 {
			return nil, errors.ValidationError("params given without a command type").
				WithContext("node", path).
				Build()
		}
		if n.Title == "" {
			n.Title = path
		}
		return buildGroup(reg, n, path)
	}
	if len(n.Steps) > 0 || len(n.Prerequisites) > 0 {
		return nil, errors.ValidationError("a command node cannot have steps").
			WithContext("node", path).
			Build()
	}

	params, err := json.Marshal(n.Params)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryValidation, "invalid command params").
			WithContext("node", path).
			Build()
	}
	cmd, err := reg.Decode(assetcmd.Spec{Type: n.Type, Params: params})
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryValidation, "invalid command").
			WithContext("node", path).
			WithContext("type", n.Type).
			Build()
	}
	return buildstep.NewCommandStep(cmd).WithPriority(n.Priority), nil
}
