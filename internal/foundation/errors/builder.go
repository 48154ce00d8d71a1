package errors

// ErrorBuilder constructs ClassifiedError values.
type ErrorBuilder struct {
	err ClassifiedError
}

// NewError starts an error of the given category.
func NewError(category ErrorCategory, message string) *ErrorBuilder {
	return &ErrorBuilder{err: ClassifiedError{
		category: category,
		severity: SeverityError,
		message:  message,
	}}
}

// WrapError starts an error of the given category caused by err.
func WrapError(err error, category ErrorCategory, message string) *ErrorBuilder {
	b := NewError(category, message)
	b.err.cause = err
	return b
}

// WithSeverity overrides the default severity.
func (b *ErrorBuilder) WithSeverity(severity ErrorSeverity) *ErrorBuilder {
	b.err.severity = severity
	return b
}

// WithContext attaches a key/value pair.
func (b *ErrorBuilder) WithContext(key string, value any) *ErrorBuilder {
	b.err.context = b.err.context.Set(key, value)
	return b
}

// WithCause sets the wrapped error.
func (b *ErrorBuilder) WithCause(err error) *ErrorBuilder {
	b.err.cause = err
	return b
}

// Severity shorthands.
func (b *ErrorBuilder) Fatal() *ErrorBuilder   { return b.WithSeverity(SeverityFatal) }
func (b *ErrorBuilder) Warning() *ErrorBuilder { return b.WithSeverity(SeverityWarning) }
func (b *ErrorBuilder) Info() *ErrorBuilder    { return b.WithSeverity(SeverityInfo) }

// Transient marks the error as worth retrying.
func (b *ErrorBuilder) Transient() *ErrorBuilder {
	b.err.transient = true
	return b
}

// Build returns the error. The builder may be reused; later changes do not affect it.
func (b *ErrorBuilder) Build() *ClassifiedError {
	ce := b.err
	if ce.context == nil {
		ce.context = ErrorContext{}
	}
	return &ce
}

// ConfigError reports invalid configuration.
func ConfigError(message string) *ErrorBuilder {
	return NewError(CategoryConfig, message).Fatal()
}

// ValidationError reports invalid input.
func ValidationError(message string) *ErrorBuilder {
	return NewError(CategoryValidation, message).Fatal()
}

// NotFoundError reports a missing object, step or build.
func NotFoundError(message string) *ErrorBuilder {
	return NewError(CategoryNotFound, message)
}

// NetworkError reports a transient connectivity failure.
func NetworkError(message string) *ErrorBuilder {
	return NewError(CategoryNetwork, message).Transient()
}

// RemoteError reports a transient remote executor failure.
func RemoteError(message string) *ErrorBuilder {
	return NewError(CategoryRemote, message).Transient()
}

// BuildError reports a build that could not proceed.
func BuildError(message string) *ErrorBuilder {
	return NewError(CategoryBuild, message).Fatal()
}

// CommandError fails the owning step only.
func CommandError(message string) *ErrorBuilder {
	return NewError(CategoryCommand, message)
}

// RaceError reports an I/O race or merge conflict. These abort the build.
func RaceError(message string) *ErrorBuilder {
	return NewError(CategoryRace, message).Fatal()
}

// CacheError reports a cache failure. The step is rebuilt instead.
func CacheError(message string) *ErrorBuilder {
	return NewError(CategoryCache, message).Warning()
}

// FileSystemError reports a transient file system failure.
func FileSystemError(message string) *ErrorBuilder {
	return NewError(CategoryFileSystem, message).Transient()
}

// EventStoreError reports an event journal failure.
func EventStoreError(message string) *ErrorBuilder {
	return NewError(CategoryEventStore, message)
}

// RuntimeError reports a failure of the running process, such as a busy daemon.
func RuntimeError(message string) *ErrorBuilder {
	return NewError(CategoryRuntime, message).Fatal()
}

// InternalError reports a broken invariant.
func InternalError(message string) *ErrorBuilder {
	return NewError(CategoryInternal, message).Fatal()
}
