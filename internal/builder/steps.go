package builder

import (
	"time"

	"git.home.luguber.info/inful/assetbuild/internal/buildstep"
)

type durationer interface {
	Duration() time.Duration
}

func stepReport(step buildstep.Step) StepReport {
	sr := StepReport{Title: step.Title(), Status: step.Status()}
	if d, ok := step.(durationer); ok {
		sr.Duration = d.Duration()
	}
	if err := step.Err(); err != nil {
		sr.Error = err.Error()
	}
	switch s := step.(type) {
	case *buildstep.CommandStep:
		sr.Kind = kindCommand
		sr.CacheKey = s.CacheKey()
		sr.FromCache = s.FromCache()
		sr.Remote = s.Remote()
	case *buildstep.ListStep:
		sr.Kind = kindList
	default:
		sr.Kind = kindFunc
	}
	return sr
}

// collectStepReports walks the tree depth first, prerequisites before children.
func collectStepReports(root *buildstep.ListStep) []StepReport {
	var out []StepReport
	var walk func(step buildstep.Step)
	walk = func(step buildstep.Step) {
		out = append(out, stepReport(step))
		list, ok := step.(*buildstep.ListStep)
		if !ok {
			return
		}
		for _, s := range list.Prerequisites() {
			walk(s)
		}
		for _, s := range list.Children() {
			walk(s)
		}
	}
	walk(root)
	return out
}
