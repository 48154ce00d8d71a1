package builder

import (
	"time"

	"git.home.luguber.info/inful/assetbuild/internal/command"
	"git.home.luguber.info/inful/assetbuild/internal/objectid"
)

// StepReport summarizes one completed step.
type StepReport struct {
	Title     string               `json:"title"`
	Kind      string               `json:"kind"`
	Status    command.ResultStatus `json:"status"`
	Duration  time.Duration        `json:"duration"`
	CacheKey  objectid.ContentHash `json:"cache_key,omitzero"`
	FromCache bool                 `json:"from_cache,omitempty"`
	Remote    bool                 `json:"remote,omitempty"`
	Error     string               `json:"error,omitempty"`
}

// Report is the outcome of a build run.
type Report struct {
	BuildID      string                                     `json:"build_id"`
	Status       command.ResultStatus                       `json:"status"`
	Start        time.Time                                  `json:"start"`
	End          time.Time                                  `json:"end"`
	Steps        []StepReport                               `json:"steps"`
	Outputs      map[objectid.Location]objectid.ContentHash `json:"outputs,omitempty"`
	Published    int                                        `json:"published"`
	Deduplicated int                                        `json:"deduplicated"`
	Errors       []string                                   `json:"errors,omitempty"`
}

// Duration returns the wall time of the run.
func (r *Report) Duration() time.Duration { return r.End.Sub(r.Start) }

// CacheHits counts command steps resolved without running their command.
func (r *Report) CacheHits() int {
	n := 0
	for _, s := range r.Steps {
		if s.FromCache {
			n++
		}
	}
	return n
}

// Executed counts command steps that ran their command, locally or remotely.
func (r *Report) Executed() int {
	n := 0
	for _, s := range r.Steps {
		if s.Kind == kindCommand && !s.FromCache && s.Status != command.Cancelled {
			n++
		}
	}
	return n
}

// Step returns the report of the first step titled title.
func (r *Report) Step(title string) (StepReport, bool) {
	for _, s := range r.Steps {
		if s.Title == title {
			return s, true
		}
	}
	return StepReport{}, false
}
