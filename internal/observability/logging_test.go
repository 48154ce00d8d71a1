package observability

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromContextAccumulates(t *testing.T) {
	ctx := WithBuildID(context.Background(), "build-1")
	ctx = WithStep(ctx, "assets")
	ctx = WithCommand(ctx, "copy src/a.txt -> /a.txt")
	ctx = WithWorker(ctx, "worker-1")

	assert.Equal(t, LogContext{
		BuildID: "build-1",
		Step:    "assets",
		Command: "copy src/a.txt -> /a.txt",
		Worker:  "worker-1",
	}, FromContext(ctx))
}

func TestDerivedContextDoesNotLeak(t *testing.T) {
	parent := WithBuildID(context.Background(), "build-1")
	child := WithStep(parent, "css")

	assert.Empty(t, FromContext(parent).Step)
	assert.Equal(t, "css", FromContext(child).Step)
	assert.Equal(t, "build-1", FromContext(child).BuildID)
}

func TestLoggerAddsFields(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	ctx := WithStep(WithBuildID(context.Background(), "b-7"), "pages")
	Logger(ctx, base).Info("hello")

	out := buf.String()
	assert.Contains(t, out, "build_id=b-7")
	assert.Contains(t, out, "step=pages")
	assert.NotContains(t, out, "worker=")
}

func TestLoggerWithoutFieldsReturnsBase(t *testing.T) {
	base := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	assert.Same(t, base, Logger(context.Background(), base))
	assert.Empty(t, Attrs(context.Background()))
}
