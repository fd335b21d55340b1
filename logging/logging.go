// Package logging provides real-time log output for shutdown runs.
// Lines use the traditional format: LEVEL TIMESTAMP [component] message key=value ...
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logger provides structured logging to stdout.
// Loggers derived with WithComponent/WithTraceID share the parent's write lock,
// so concurrent tasks can log to one writer safely.
type Logger struct {
	mu        *sync.Mutex
	output    io.Writer
	minLevel  Level
	component string
	traceID   string
}

// levelPriority maps levels to numeric priority for filtering.
var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ParseLevel converts a string such as "warn" into a Level.
// Unknown values fall back to LevelInfo.
func ParseLevel(s string) Level {
	l := Level(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := levelPriority[l]; ok {
		return l
	}
	return LevelInfo
}

// New creates a new Logger.
func New() *Logger {
	return &Logger{
		mu:       &sync.Mutex{},
		output:   os.Stdout,
		minLevel: LevelInfo,
	}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	l := New()
	l.output = io.Discard
	return l
}

// WithComponent returns a new logger with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		mu:        l.mu,
		output:    l.output,
		minLevel:  l.minLevel,
		component: component,
		traceID:   l.traceID,
	}
}

// WithTraceID returns a new logger with the given trace ID.
// The trace ID is emitted as a trace= field on every line.
func (l *Logger) WithTraceID(traceID string) *Logger {
	return &Logger{
		mu:        l.mu,
		output:    l.output,
		minLevel:  l.minLevel,
		component: l.component,
		traceID:   traceID,
	}
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.minLevel = level
}

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields...)
}

// formatFields formats a map of fields as key=value pairs in key order.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return " " + strings.Join(parts, " ")
}

func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	if levelPriority[level] < levelPriority[l.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	var fieldStr string
	if len(fields) > 0 && fields[0] != nil {
		fieldStr = formatFields(fields[0])
	}
	if l.traceID != "" {
		fieldStr += " trace=" + l.traceID
	}

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.output.Write([]byte(line))
}

// --- Shutdown event helpers ---

// RunStart logs the start of a shutdown run.
func (l *Logger) RunStart(reason string, phases int) {
	l.Info("shutdown_start", map[string]interface{}{
		"reason": reason,
		"phases": phases,
	})
}

// RunComplete logs the end of a shutdown run.
func (l *Logger) RunComplete(reason string, duration time.Duration, err error) {
	fields := map[string]interface{}{
		"reason":   reason,
		"duration": duration.String(),
	}
	if err != nil {
		fields["error"] = err.Error()
		l.Error("shutdown_failed", fields)
		return
	}
	l.Info("shutdown_complete", fields)
}

// PhaseStart logs the start of a phase.
func (l *Logger) PhaseStart(phase string, tasks int) {
	l.Debug("phase_start", map[string]interface{}{
		"phase": phase,
		"tasks": tasks,
	})
}

// PhaseComplete logs the end of a phase.
func (l *Logger) PhaseComplete(phase string, duration time.Duration, outcome string) {
	l.Debug("phase_complete", map[string]interface{}{
		"phase":    phase,
		"duration": duration.String(),
		"outcome":  outcome,
	})
}

// PhaseDisabled logs that a disabled phase was skipped.
func (l *Logger) PhaseDisabled(phase string) {
	l.Info("phase_disabled", map[string]interface{}{
		"phase": phase,
	})
}

// PhaseTimeout logs a phase that exceeded its timeout.
// Recovering phases log at WARN, aborting ones at ERROR.
func (l *Logger) PhaseTimeout(phase string, timeout time.Duration, recovered bool) {
	fields := map[string]interface{}{
		"phase":   phase,
		"timeout": timeout.String(),
	}
	if recovered {
		l.Warn("phase_timeout_recovered", fields)
		return
	}
	l.Error("phase_timeout", fields)
}

// TaskFailed logs a task that returned an error or panicked.
func (l *Logger) TaskFailed(phase, task string, err error) {
	l.Warn("task_failed", map[string]interface{}{
		"phase": phase,
		"task":  task,
		"error": err.Error(),
	})
}
