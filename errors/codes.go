package errors

// ErrorCategory classifies errors by where they surface in a shutdown run.
type ErrorCategory string

// Error categories define how errors propagate.
const (
	// CategoryConfiguration covers graph and settings problems detected while
	// building a coordinator. Always returned to the caller.
	CategoryConfiguration ErrorCategory = "configuration"

	// CategoryRegistration covers task registration problems.
	// Returned to the registering caller.
	CategoryRegistration ErrorCategory = "registration"

	// CategoryTask covers failures of individual tasks.
	// Logged and absorbed, never part of the run result.
	CategoryTask ErrorCategory = "task"

	// CategoryRun covers failures that end a shutdown run.
	CategoryRun ErrorCategory = "run"

	// CategoryInternal indicates unexpected errors or bugs.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// Absorbed returns true if errors in this category are handled locally and
// never propagated to the result of a run.
func (c ErrorCategory) Absorbed() bool {
	return c == CategoryTask
}

// ErrorCode identifies specific error types within categories.
type ErrorCode string

// Error codes for shutdown failures.
const (
	ErrCodeCycleDetected ErrorCode = "CYCLE_DETECTED" // Phase graph has a circular dependency
	ErrCodeConfiguration ErrorCode = "CONFIGURATION"  // Inconsistent or malformed settings
	ErrCodeUnknownPhase  ErrorCode = "UNKNOWN_PHASE"  // Phase name not declared in the graph
	ErrCodeInvalidTask   ErrorCode = "INVALID_TASK"   // Task registration without name or body
	ErrCodeTaskFailed    ErrorCode = "TASK_FAILED"    // A task returned an error
	ErrCodePanic         ErrorCode = "PANIC"          // Recovered from panic inside a task
	ErrCodeTimeout       ErrorCode = "SHUTDOWN_TIMEOUT"
	ErrCodeCanceled      ErrorCode = "CANCELED" // Caller stopped waiting
	ErrCodeInternal      ErrorCode = "INTERNAL"
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeCycleDetected, ErrCodeConfiguration:
		return CategoryConfiguration
	case ErrCodeUnknownPhase, ErrCodeInvalidTask:
		return CategoryRegistration
	case ErrCodeTaskFailed, ErrCodePanic:
		return CategoryTask
	case ErrCodeTimeout, ErrCodeCanceled:
		return CategoryRun
	default:
		return CategoryInternal
	}
}

// codeDescriptions provides human-readable descriptions for error codes.
var codeDescriptions = map[ErrorCode]string{
	ErrCodeCycleDetected: "cycle detected in phase graph",
	ErrCodeConfiguration: "invalid shutdown configuration",
	ErrCodeUnknownPhase:  "unknown phase",
	ErrCodeInvalidTask:   "invalid task",
	ErrCodeTaskFailed:    "task failed",
	ErrCodePanic:         "recovered from panic",
	ErrCodeTimeout:       "shutdown phase timed out",
	ErrCodeCanceled:      "operation canceled",
	ErrCodeInternal:      "internal error",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}
