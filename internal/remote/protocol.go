// Package remote executes commands on workers reached over NATS request/reply.
package remote

import (
	"git.home.luguber.info/inful/assetbuild/internal/assetcmd"
	"git.home.luguber.info/inful/assetbuild/internal/command"
	"git.home.luguber.info/inful/assetbuild/internal/objectid"
)

const (
	DefaultSubject = "assetbuild.execute"
	DefaultQueue   = "assetbuild-workers"
)

// Request carries a command and the contents of its declared inputs.
type Request struct {
	Command assetcmd.Spec                `json:"command"`
	Inputs  map[objectid.Location][]byte `json:"inputs"`
	BuildID string                       `json:"build_id,omitempty"`
	Step    string                       `json:"step,omitempty"`
}

// Response reports a remote execution. Unavailable means the worker could not run the
// command (an input it read was not shipped, or the type is unknown) and the caller
// should run it locally.
type Response struct {
	Status      string                                     `json:"status"`
	Error       string                                     `json:"error,omitempty"`
	Unavailable bool                                       `json:"unavailable,omitempty"`
	Outputs     map[objectid.Location][]byte               `json:"outputs,omitempty"`
	Inputs      map[objectid.Location]objectid.ContentHash `json:"inputs,omitempty"`
	Tags        []command.Tag                              `json:"tags,omitempty"`
	Worker      string                                     `json:"worker,omitempty"`
}
