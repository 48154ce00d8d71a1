package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderDefaults(t *testing.T) {
	err := NewError(CategoryCache, "result unreadable").Build()
	assert.Equal(t, CategoryCache, err.Category())
	assert.Equal(t, SeverityError, err.Severity())
	assert.False(t, err.Transient())
	assert.Nil(t, err.Cause())
	assert.NotNil(t, err.Context())
	assert.Equal(t, "[cache] result unreadable", err.Error())
}

func TestWrapErrorKeepsCause(t *testing.T) {
	cause := stderrors.New("disk full")
	err := WrapError(cause, CategoryFileSystem, "failed to write object").
		WithContext("path", "/tmp/x").
		Build()

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "[filesystem] failed to write object: disk full", err.Error())
	path, ok := err.Context().GetString("path")
	assert.True(t, ok)
	assert.Equal(t, "/tmp/x", path)
}

func TestConvenienceConstructors(t *testing.T) {
	tests := []struct {
		name      string
		err       *ClassifiedError
		category  ErrorCategory
		severity  ErrorSeverity
		transient bool
	}{
		{"config", ConfigError("x").Build(), CategoryConfig, SeverityFatal, false},
		{"validation", ValidationError("x").Build(), CategoryValidation, SeverityFatal, false},
		{"not found", NotFoundError("x").Build(), CategoryNotFound, SeverityError, false},
		{"network", NetworkError("x").Build(), CategoryNetwork, SeverityError, true},
		{"remote", RemoteError("x").Build(), CategoryRemote, SeverityError, true},
		{"command", CommandError("x").Build(), CategoryCommand, SeverityError, false},
		{"race", RaceError("x").Build(), CategoryRace, SeverityFatal, false},
		{"cache", CacheError("x").Build(), CategoryCache, SeverityWarning, false},
		{"internal", InternalError("x").Build(), CategoryInternal, SeverityFatal, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.category, tt.err.Category())
			assert.Equal(t, tt.severity, tt.err.Severity())
			assert.Equal(t, tt.transient, tt.err.Transient())
		})
	}
}

func TestBuildSnapshotsBuilder(t *testing.T) {
	b := RaceError("conflict").WithContext("location", "content:/a")
	first := b.Build()
	second := b.WithContext("location", "content:/b").Build()

	loc, _ := first.Context().GetString("location")
	assert.Equal(t, "content:/a", loc)
	loc, _ = second.Context().GetString("location")
	assert.Equal(t, "content:/b", loc)
}

func TestWithContextCopies(t *testing.T) {
	base := CommandError("failed").WithContext("command", "copy").Build()
	derived := base.WithContext("location", "file:a")

	_, ok := base.Context().Get("location")
	assert.False(t, ok)
	cmd, _ := derived.Context().GetString("command")
	assert.Equal(t, "copy", cmd)
}

func TestChainHelpers(t *testing.T) {
	inner := RaceError("read during write").Build()
	wrapped := fmt.Errorf("step failed: %w", inner)

	assert.True(t, IsClassified(wrapped))
	assert.True(t, HasCategory(wrapped, CategoryRace))
	assert.False(t, HasCategory(wrapped, CategoryBuild))
	assert.Equal(t, CategoryRace, GetCategory(wrapped))

	ce, ok := AsClassified(wrapped)
	require.True(t, ok)
	assert.Same(t, inner, ce)

	plain := stderrors.New("boom")
	assert.False(t, IsClassified(plain))
	assert.Equal(t, CategoryInternal, GetCategory(plain))
	assert.False(t, IsTransient(plain))
	assert.True(t, IsTransient(fmt.Errorf("x: %w", NetworkError("timeout").Build())))
}

func TestSentinelMatching(t *testing.T) {
	sentinel := RuntimeError("a build is already running").Build()
	other := RuntimeError("a build is already running").WithContext("trigger", "http").Build()

	assert.ErrorIs(t, fmt.Errorf("wrap: %w", other), sentinel)
	assert.NotErrorIs(t, RuntimeError("different").Build(), sentinel)
}

func TestExitCodes(t *testing.T) {
	assert.Equal(t, 2, CategoryValidation.ExitCode())
	assert.Equal(t, 9, CategoryRace.ExitCode())
	assert.Equal(t, 11, CategoryCommand.ExitCode())
	assert.Equal(t, 1, CategoryNotFound.ExitCode())
}
