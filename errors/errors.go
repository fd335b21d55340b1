package errors

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ShutdownError is the interface for all structured errors in shutdownkit.
type ShutdownError interface {
	error

	// Code returns the specific error code identifying the failure type.
	Code() ErrorCode

	// Category returns the error category used for propagation decisions.
	Category() ErrorCategory

	// Phase returns the phase the error relates to, if any.
	Phase() string

	// Metadata returns additional context as key-value pairs.
	Metadata() map[string]string

	// Unwrap returns the underlying error, if any.
	Unwrap() error
}

// Error is the concrete implementation of ShutdownError.
type Error struct {
	code      ErrorCode
	category  ErrorCategory
	message   string
	cause     error
	metadata  map[string]string
	timestamp time.Time
	phase     string
	task      string
}

var (
	_ ShutdownError    = (*Error)(nil)
	_ json.Marshaler   = (*Error)(nil)
	_ json.Unmarshaler = (*Error)(nil)
)

// Error returns the error message.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Code returns the error code.
func (e *Error) Code() ErrorCode {
	return e.code
}

// Category returns the error category.
func (e *Error) Category() ErrorCategory {
	return e.category
}

// Phase returns the related phase name.
func (e *Error) Phase() string {
	return e.phase
}

// Task returns the related task name.
func (e *Error) Task() string {
	return e.task
}

// Metadata returns a copy of the error metadata.
func (e *Error) Metadata() map[string]string {
	result := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		result[k] = v
	}
	return result
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// Timestamp returns when the error occurred.
func (e *Error) Timestamp() time.Time {
	return e.timestamp
}

// errorJSON is the JSON representation of an Error.
type errorJSON struct {
	Code      ErrorCode         `json:"code"`
	Category  ErrorCategory     `json:"category"`
	Message   string            `json:"message"`
	Cause     string            `json:"cause,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp string            `json:"timestamp,omitempty"`
	Phase     string            `json:"phase,omitempty"`
	Task      string            `json:"task,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e *Error) MarshalJSON() ([]byte, error) {
	j := errorJSON{
		Code:     e.code,
		Category: e.category,
		Message:  e.message,
		Metadata: e.metadata,
		Phase:    e.phase,
		Task:     e.task,
	}
	if e.cause != nil {
		j.Cause = e.cause.Error()
	}
	if !e.timestamp.IsZero() {
		j.Timestamp = e.timestamp.Format(time.RFC3339Nano)
	}
	return json.Marshal(j)
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Error) UnmarshalJSON(data []byte) error {
	var j errorJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	e.code = j.Code
	e.category = j.Category
	e.message = j.Message
	e.metadata = j.Metadata
	e.phase = j.Phase
	e.task = j.Task
	if j.Cause != "" {
		e.cause = fmt.Errorf("%s", j.Cause)
	}
	if j.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, j.Timestamp); err == nil {
			e.timestamp = t
		}
	}
	return nil
}

// Option is a functional option for configuring an Error.
type Option func(*Error)

// WithCategory overrides the default category.
func WithCategory(cat ErrorCategory) Option {
	return func(e *Error) {
		e.category = cat
	}
}

// WithMetadata adds a metadata key-value pair.
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithPhase sets the related phase.
func WithPhase(phase string) Option {
	return func(e *Error) {
		e.phase = phase
	}
}

// WithTask sets the related task name.
func WithTask(task string) Option {
	return func(e *Error) {
		e.task = task
	}
}

// WithCause sets the underlying cause.
func WithCause(cause error) Option {
	return func(e *Error) {
		e.cause = cause
	}
}

// New creates a new Error with the given code and message.
func New(code ErrorCode, message string, opts ...Option) *Error {
	e := &Error{
		code:      code,
		category:  code.DefaultCategory(),
		message:   message,
		timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Newf creates a new Error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// FromCode creates an error with the default description for the code.
func FromCode(code ErrorCode, opts ...Option) *Error {
	return New(code, code.Description(), opts...)
}

// CycleDetected creates an error naming the phases on a dependency cycle.
func CycleDetected(path []string) *Error {
	msg := "cycle detected in phase graph"
	if len(path) > 0 {
		msg += ": " + strings.Join(path, " -> ")
	}
	opts := []Option{WithMetadata("cycle", strings.Join(path, " -> "))}
	if len(path) > 0 {
		opts = append(opts, WithPhase(path[0]))
	}
	return New(ErrCodeCycleDetected, msg, opts...)
}

// UnknownPhase creates an error for an undeclared phase name.
func UnknownPhase(phase string) *Error {
	return New(ErrCodeUnknownPhase, fmt.Sprintf("unknown phase %q", phase), WithPhase(phase))
}

// Configuration creates a configuration error.
func Configuration(message string, opts ...Option) *Error {
	return New(ErrCodeConfiguration, message, opts...)
}

// TaskFailed wraps the failure of a single task.
func TaskFailed(phase, task string, cause error) *Error {
	return New(ErrCodeTaskFailed, fmt.Sprintf("task %q in phase %q failed", task, phase),
		WithPhase(phase), WithTask(task), WithCause(cause))
}

// ShutdownTimeout reports a non-recovering phase that exceeded its timeout.
func ShutdownTimeout(phase string, timeout time.Duration) *Error {
	return New(ErrCodeTimeout, fmt.Sprintf("phase %q timed out after %s", phase, timeout),
		WithPhase(phase), WithMetadata("timeout", timeout.String()))
}
