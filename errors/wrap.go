package errors

import (
	"context"
	"errors"
	"fmt"
)

// Wrap wraps an error with additional context while preserving the error chain.
// If err is nil, Wrap returns nil.
// If err is already a ShutdownError, the wrapper keeps its code, category and phase.
// Context errors map to CANCELED; anything else becomes an internal error.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	var se *Error
	if errors.As(err, &se) {
		wrapped := &Error{
			code:      se.code,
			category:  se.category,
			message:   message,
			cause:     err,
			metadata:  se.Metadata(),
			timestamp: se.timestamp,
			phase:     se.phase,
			task:      se.task,
		}
		for _, opt := range opts {
			opt(wrapped)
		}
		return wrapped
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return New(ErrCodeCanceled, message, append(opts, WithCause(err))...)
	}

	return New(ErrCodeInternal, message, append(opts, WithCause(err))...)
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// AsShutdownError extracts a ShutdownError from an error chain.
// Returns nil if none is found.
func AsShutdownError(err error) ShutdownError {
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	return nil
}

// Is checks if any error in the chain has the given error code.
func Is(err error, code ErrorCode) bool {
	for err != nil {
		if se, ok := err.(*Error); ok && se.code == code {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// IsCategory checks if the outermost ShutdownError in the chain has the given category.
func IsCategory(err error, category ErrorCategory) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.category == category
	}
	return false
}

// IsCycle reports whether err is a cycle in the phase graph.
func IsCycle(err error) bool {
	return Is(err, ErrCodeCycleDetected)
}

// IsUnknownPhase reports whether err names an undeclared phase.
func IsUnknownPhase(err error) bool {
	return Is(err, ErrCodeUnknownPhase)
}

// IsTimeout reports whether err is a phase timeout that aborted a run.
func IsTimeout(err error) bool {
	return Is(err, ErrCodeTimeout)
}

// IsConfiguration reports whether err is a configuration error.
func IsConfiguration(err error) bool {
	return IsCategory(err, CategoryConfiguration)
}

// Code extracts the error code from an error, if available.
func Code(err error) ErrorCode {
	var se *Error
	if errors.As(err, &se) {
		return se.code
	}
	return ""
}

// PhaseOf extracts the phase name from an error, if available.
func PhaseOf(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.phase
	}
	return ""
}

// Join combines multiple errors into a single error.
// Uses errors.Join from the standard library.
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// RecoverPanic converts a recovered panic value into an Error.
func RecoverPanic(recovered interface{}) *Error {
	if recovered == nil {
		return nil
	}
	var message string
	switch v := recovered.(type) {
	case error:
		message = v.Error()
	case string:
		message = v
	default:
		message = fmt.Sprintf("%v", v)
	}
	return New(ErrCodePanic, "panic: "+message, WithMetadata("panic_value", fmt.Sprintf("%T", recovered)))
}
