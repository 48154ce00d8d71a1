package builder

import (
	"context"
	stderrors "errors"
	"log/slog"

	"git.home.luguber.info/inful/assetbuild/internal/eventstore"
	"git.home.luguber.info/inful/assetbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuild/internal/iorace"
	"git.home.luguber.info/inful/assetbuild/internal/logfields"
)

// journal records build events. A nil store disables journaling; append failures are
// logged and never fail the build.
type journal struct {
	store     eventstore.Store
	buildID   string
	logger    *slog.Logger
	listeners []func(eventstore.Event)
}

func (j *journal) emit(ctx context.Context, ev eventstore.Event, err error) {
	if err != nil {
		j.logger.Warn("Failed to create build event", logfields.Error(err))
		return
	}
	for _, l := range j.listeners {
		l(ev)
	}
	if j.store == nil {
		return
	}
	// Journal writes outlive a cancelled build.
	if err := eventstore.Append(context.WithoutCancel(ctx), j.store, ev); err != nil {
		j.logger.Warn("Failed to append build event",
			slog.String("event_type", ev.Type()),
			logfields.Error(err))
	}
}

func (j *journal) buildStarted(ctx context.Context, data eventstore.BuildStartedData) {
	ev, err := eventstore.NewBuildStarted(j.buildID, data)
	j.emit(ctx, ev, err)
}

func (j *journal) stepCompleted(ctx context.Context, data eventstore.StepCompletedData) {
	ev, err := eventstore.NewStepCompleted(j.buildID, data)
	j.emit(ctx, ev, err)
}

func (j *journal) buildCompleted(ctx context.Context, data eventstore.BuildCompletedData) {
	ev, err := eventstore.NewBuildCompleted(j.buildID, data)
	j.emit(ctx, ev, err)
}

func (j *journal) races(ctx context.Context, fatal []error) {
	for _, data := range raceEvents(fatal) {
		ev, err := eventstore.NewRaceDetected(j.buildID, data)
		j.emit(ctx, ev, err)
	}
}

// raceEvents extracts one event per race from the fatal errors of a run.
func raceEvents(fatal []error) []eventstore.RaceDetectedData {
	var out []eventstore.RaceDetectedData
	for _, err := range fatal {
		if !errors.HasCategory(err, errors.CategoryRace) {
			continue
		}
		var violations iorace.Violations
		if stderrors.As(err, &violations) {
			for _, v := range violations {
				data := eventstore.RaceDetectedData{
					Kind:     v.Kind.String(),
					Location: v.Location.String(),
					Command:  v.Command.Title(),
				}
				if v.Other != nil {
					data.Other = v.Other.Title()
				}
				out = append(out, data)
			}
			continue
		}
		ce, ok := errors.AsClassified(err)
		if !ok {
			continue
		}
		data := eventstore.RaceDetectedData{}
		data.Kind, _ = ce.Context().GetString("race_kind")
		data.Location, _ = ce.Context().GetString("location")
		data.Command, _ = ce.Context().GetString("command")
		data.Other, _ = ce.Context().GetString("other_command")
		out = append(out, data)
	}
	return out
}
