package contentindex

import (
	"git.home.luguber.info/inful/assetbuild/internal/foundation/errors"
)

var (
	// ErrIndexClosed is returned by every operation after Close.
	ErrIndexClosed = errors.InternalError("content index is closed").Build()

	// ErrDatabaseOpenFailed indicates the SQLite database could not be opened.
	ErrDatabaseOpenFailed = errors.NewError(errors.CategoryFileSystem, "could not open content index database").Build()

	// ErrWriteFailed indicates an asynchronous write could not be persisted.
	ErrWriteFailed = errors.NewError(errors.CategoryFileSystem, "failed to persist content index entry").Build()
)
