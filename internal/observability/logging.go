// Package observability carries build-scoped logging fields through context.Context so
// they survive hops such as remote execution.
package observability

import (
	"context"
	"log/slog"

	"git.home.luguber.info/inful/assetbuild/internal/logfields"
)

// LogContext holds the fields attached to a context.
type LogContext struct {
	BuildID string
	Step    string
	Command string
	Worker  string
}

type logContextKey struct{}

func with(ctx context.Context, set func(*LogContext)) context.Context {
	lc := FromContext(ctx)
	set(&lc)
	return context.WithValue(ctx, logContextKey{}, lc)
}

// WithBuildID sets the build ID.
func WithBuildID(ctx context.Context, id string) context.Context {
	return with(ctx, func(lc *LogContext) { lc.BuildID = id })
}

// WithStep sets the step title.
func WithStep(ctx context.Context, step string) context.Context {
	return with(ctx, func(lc *LogContext) { lc.Step = step })
}

// WithCommand sets the command title.
func WithCommand(ctx context.Context, cmd string) context.Context {
	return with(ctx, func(lc *LogContext) { lc.Command = cmd })
}

// WithWorker sets the remote worker name.
func WithWorker(ctx context.Context, worker string) context.Context {
	return with(ctx, func(lc *LogContext) { lc.Worker = worker })
}

// FromContext returns the fields set on ctx; unset fields are empty.
func FromContext(ctx context.Context) LogContext {
	lc, _ := ctx.Value(logContextKey{}).(LogContext)
	return lc
}

// Attrs returns the non-empty fields of ctx as log attributes.
func Attrs(ctx context.Context) []slog.Attr {
	lc := FromContext(ctx)
	var attrs []slog.Attr
	if lc.BuildID != "" {
		attrs = append(attrs, logfields.BuildID(lc.BuildID))
	}
	if lc.Step != "" {
		attrs = append(attrs, logfields.Step(lc.Step))
	}
	if lc.Command != "" {
		attrs = append(attrs, logfields.Command(lc.Command))
	}
	if lc.Worker != "" {
		attrs = append(attrs, logfields.Worker(lc.Worker))
	}
	return attrs
}

// Logger returns base annotated with the fields of ctx. A nil base means slog.Default().
func Logger(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	attrs := Attrs(ctx)
	if len(attrs) == 0 {
		return base
	}
	args := make([]any, len(attrs))
	for i, a := range attrs {
		args[i] = a
	}
	return base.With(args...)
}
