package errors

// ErrorCategory classifies an error for routing, exit codes and event journaling.
type ErrorCategory string

const (
	// Input and configuration.
	CategoryConfig     ErrorCategory = "config"
	CategoryValidation ErrorCategory = "validation"
	CategoryNotFound   ErrorCategory = "not_found"

	// External systems: NATS, S3 and remote workers.
	CategoryNetwork ErrorCategory = "network"
	CategoryRemote  ErrorCategory = "remote"

	// Build execution.
	CategoryBuild      ErrorCategory = "build"
	CategoryCommand    ErrorCategory = "command"
	CategoryRace       ErrorCategory = "race"
	CategoryCache      ErrorCategory = "cache"
	CategoryFileSystem ErrorCategory = "filesystem"
	CategoryEventStore ErrorCategory = "eventstore"

	// Process and programming errors.
	CategoryRuntime  ErrorCategory = "runtime"
	CategoryInternal ErrorCategory = "internal"
)

// ErrorSeverity indicates how far an error propagates.
type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"   // aborts the build
	SeverityError   ErrorSeverity = "error"   // fails the current step
	SeverityWarning ErrorSeverity = "warning" // degrades, e.g. a cache miss
	SeverityInfo    ErrorSeverity = "info"
)

// exitCodes maps categories to process exit codes. Unlisted categories exit with 1.
var exitCodes = map[ErrorCategory]int{
	CategoryValidation: 2,
	CategoryConfig:     7,
	CategoryNetwork:    8,
	CategoryRemote:     8,
	CategoryRace:       9,
	CategoryInternal:   10,
	CategoryBuild:      11,
	CategoryCommand:    11,
	CategoryCache:      11,
	CategoryFileSystem: 11,
	CategoryRuntime:    12,
	CategoryEventStore: 12,
}

// ExitCode returns the process exit code for a category.
func (c ErrorCategory) ExitCode() int {
	if code, ok := exitCodes[c]; ok {
		return code
	}
	return 1
}

// ErrorContext carries structured fields such as the location or command involved.
type ErrorContext map[string]any

// Set adds or updates a value, allocating the map when needed.
func (c ErrorContext) Set(key string, value any) ErrorContext {
	if c == nil {
		c = make(ErrorContext)
	}
	c[key] = value
	return c
}

// Get retrieves a value.
func (c ErrorContext) Get(key string) (any, bool) {
	value, ok := c[key]
	return value, ok
}

// GetString retrieves a string value.
func (c ErrorContext) GetString(key string) (string, bool) {
	s, ok := c[key].(string)
	return s, ok
}
