package command

import (
	"fmt"

	"git.home.luguber.info/inful/assetbuild/internal/objectid"
)

// ResultStatus is the outcome of running a command or a step.
type ResultStatus int

const (
	NotProcessed ResultStatus = iota
	Successful
	Failed
	Cancelled
)

// String returns the snake_case status name.
func (s ResultStatus) String() string {
	switch s {
	case NotProcessed:
		return "not_processed"
	case Successful:
		return "successful"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s ResultStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *ResultStatus) UnmarshalText(text []byte) error {
	for _, candidate := range []ResultStatus{NotProcessed, Successful, Failed, Cancelled} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown result status %q", text)
}

// Tag attaches a name to an output location.
type Tag struct {
	Location objectid.Location `json:"location"`
	Name     string            `json:"name"`
}

// Result is produced once per command execution.
type Result struct {
	InputDependencyVersions map[objectid.Location]objectid.ContentHash `json:"inputDependencyVersions"`
	OutputObjects           map[objectid.Location]objectid.ContentHash `json:"outputObjects"`
	Tags                    []Tag                                      `json:"tags,omitempty"`
}

// NewResult returns an empty result.
func NewResult() *Result {
	return &Result{
		InputDependencyVersions: make(map[objectid.Location]objectid.ContentHash),
		OutputObjects:           make(map[objectid.Location]objectid.ContentHash),
	}
}

// AddInputDependency records the version of loc that was read.
func (r *Result) AddInputDependency(loc objectid.Location, h objectid.ContentHash) {
	r.InputDependencyVersions[loc] = h
}

// AddOutput records an artifact written to loc.
func (r *Result) AddOutput(loc objectid.Location, h objectid.ContentHash) {
	r.OutputObjects[loc] = h
}

// AddTag tags the output at loc.
func (r *Result) AddTag(loc objectid.Location, name string) {
	r.Tags = append(r.Tags, Tag{Location: loc, Name: name})
}

// SortedOutputs returns the output locations in a stable order.
func (r *Result) SortedOutputs() []objectid.Location {
	return objectid.SortedLocations(r.OutputObjects)
}

// SortedInputDependencies returns the input dependency locations in a stable order.
func (r *Result) SortedInputDependencies() []objectid.Location {
	return objectid.SortedLocations(r.InputDependencyVersions)
}
