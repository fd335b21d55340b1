package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)
	logger.SetLevel(LevelInfo)

	// Debug should be filtered
	logger.Debug("debug message")
	if buf.Len() > 0 {
		t.Error("debug message should be filtered at INFO level")
	}

	logger.Info("info message")
	if buf.Len() == 0 {
		t.Error("info message should be logged")
	}

	output := buf.String()
	if !strings.Contains(output, "INFO") {
		t.Error("log should contain INFO level")
	}
	if !strings.Contains(output, "info message") {
		t.Error("log should contain the message")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":  LevelDebug,
		" WARN ": LevelWarn,
		"error":  LevelError,
		"bogus":  LevelInfo,
		"":       LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestLogger_WithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)

	logger.WithComponent("shutdown").Info("test message")

	output := buf.String()
	if !strings.Contains(output, "[shutdown]") {
		t.Errorf("expected component 'shutdown' in log, got: %s", output)
	}
}

func TestLogger_WithTraceID(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)

	logger.WithTraceID("run-123").Info("test message")

	output := buf.String()
	if !strings.Contains(output, "trace=run-123") {
		t.Errorf("expected trace field, got: %s", output)
	}
}

func TestLogger_FieldsSorted(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)

	logger.Info("fields", map[string]interface{}{"zeta": 1, "alpha": 2})

	output := buf.String()
	if strings.Index(output, "alpha=2") > strings.Index(output, "zeta=1") {
		t.Errorf("expected fields in key order, got: %s", output)
	}
}

func TestLogger_Format(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)

	logger.WithComponent("test").Info("hello world", map[string]interface{}{"key": "value"})

	output := buf.String()
	// Format: LEVEL TIMESTAMP [component] message key=value
	if !strings.HasPrefix(output, "INFO ") {
		t.Errorf("expected line to start with 'INFO ', got: %s", output)
	}
	if !strings.Contains(output, "[test]") {
		t.Errorf("expected component [test], got: %s", output)
	}
	if !strings.Contains(output, "key=value") {
		t.Errorf("expected key=value, got: %s", output)
	}
}

func TestLogger_PhaseDisabled(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)

	logger.PhaseDisabled("cluster-leave")

	output := buf.String()
	if !strings.HasPrefix(output, "INFO") {
		t.Errorf("disabled phase should log at INFO, got: %s", output)
	}
	if !strings.Contains(output, "phase=cluster-leave") {
		t.Errorf("expected phase name, got: %s", output)
	}
}

func TestLogger_PhaseTimeout(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)

	logger.PhaseTimeout("service-stop", 5*time.Second, true)
	if !strings.HasPrefix(buf.String(), "WARN") {
		t.Errorf("recovered timeout should log at WARN, got: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "timeout=5s") {
		t.Errorf("expected timeout field, got: %s", buf.String())
	}

	buf.Reset()
	logger.PhaseTimeout("service-stop", 5*time.Second, false)
	if !strings.HasPrefix(buf.String(), "ERROR") {
		t.Errorf("aborting timeout should log at ERROR, got: %s", buf.String())
	}
}

func TestLogger_TaskFailed(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)

	logger.TaskFailed("service-stop", "close-db", errors.New("conn reset"))

	output := buf.String()
	if !strings.HasPrefix(output, "WARN") {
		t.Errorf("task failure should log at WARN, got: %s", output)
	}
	if !strings.Contains(output, "task=close-db") || !strings.Contains(output, "phase=service-stop") {
		t.Errorf("expected task and phase, got: %s", output)
	}
}

func TestLogger_RunTiming(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)

	logger.RunStart("unknown", 3)
	logger.RunComplete("unknown", 10*time.Millisecond, nil)

	output := buf.String()
	if !strings.Contains(output, "shutdown_start") {
		t.Error("expected shutdown_start log")
	}
	if !strings.Contains(output, "shutdown_complete") {
		t.Error("expected shutdown_complete log")
	}
	if !strings.Contains(output, "duration=") {
		t.Error("expected duration in log")
	}

	buf.Reset()
	logger.RunComplete("unknown", time.Second, errors.New("phase timed out"))
	if !strings.HasPrefix(buf.String(), "ERROR") {
		t.Errorf("failed run should log at ERROR, got: %s", buf.String())
	}
}

func TestDiscard(t *testing.T) {
	// Should not panic or write anywhere visible
	Discard().Error("nothing")
}
