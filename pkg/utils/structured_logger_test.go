package utils

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func newTestLogger(t *testing.T, level LogLevel, format LogFormat) (*StructuredLogger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger, err := NewStructuredLogger(&StructuredLoggerConfig{
		Level:  level,
		Output: &buf,
		Format: format,
	})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	return logger, &buf
}

func TestNewStructuredLogger(t *testing.T) {
	logger, _ := newTestLogger(t, DEBUG, FormatText)
	if logger.GetLevel() != DEBUG {
		t.Errorf("Expected DEBUG level, got %v", logger.GetLevel())
	}

	if _, err := NewStructuredLogger(&StructuredLoggerConfig{Level: INFO}); err == nil {
		t.Error("Expected error for nil output")
	}
}

func TestLogLevels(t *testing.T) {
	logger, buf := newTestLogger(t, INFO, FormatText)

	// Debug should not be logged (below INFO)
	logger.Debug("debug message")
	if buf.Len() > 0 {
		t.Error("Debug message was logged when level is INFO")
	}

	for _, msg := range []string{"info message", "warn message", "error message"} {
		buf.Reset()
		switch msg {
		case "info message":
			logger.Info(msg)
		case "warn message":
			logger.Warn(msg)
		case "error message":
			logger.Error(msg)
		}
		if !strings.Contains(buf.String(), msg) {
			t.Errorf("%q not found in output %q", msg, buf.String())
		}
	}
}

func TestTextFormatSortsFields(t *testing.T) {
	logger, buf := newTestLogger(t, DEBUG, FormatText)

	logger.WithComponent("store").Info("connected", map[string]interface{}{
		"master":  "10.0.0.1:6379",
		"attempt": 1,
	})

	out := buf.String()
	if !strings.Contains(out, "[INFO] connected {attempt=1, component=store, master=10.0.0.1:6379}") {
		t.Errorf("unexpected text output: %q", out)
	}
}

func TestJSONFormat(t *testing.T) {
	logger, buf := newTestLogger(t, DEBUG, FormatJSON)

	logger.WithField("path", "/kv/foo").Warn("lookup failed", map[string]interface{}{
		"error": errors.New("redis: connection refused"),
	})

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if entry.Level != "WARN" {
		t.Errorf("Level = %q, want WARN", entry.Level)
	}
	if entry.Fields["path"] != "/kv/foo" {
		t.Errorf("path field = %v", entry.Fields["path"])
	}
	if entry.Fields["error"] != "redis: connection refused" {
		t.Errorf("error field = %v", entry.Fields["error"])
	}
}

func TestWithFieldsDoesNotMutateParent(t *testing.T) {
	logger, buf := newTestLogger(t, DEBUG, FormatText)

	_ = logger.WithField("child", true)
	logger.Info("parent")

	if strings.Contains(buf.String(), "child") {
		t.Errorf("parent logger picked up child field: %q", buf.String())
	}
}

func TestComponentLevel(t *testing.T) {
	logger, buf := newTestLogger(t, INFO, FormatText)
	logger.SetComponentLevel("dispatch", DEBUG)

	logger.WithComponent("dispatch").Debug("visible")
	logger.WithComponent("store").Debug("hidden")

	out := buf.String()
	if !strings.Contains(out, "visible") {
		t.Error("component override should enable debug output")
	}
	if strings.Contains(out, "hidden") {
		t.Error("other components should keep the global level")
	}
}

func TestNopLogger(t *testing.T) {
	logger := NewNopLogger()
	if logger.IsEnabled(FATAL) {
		t.Error("nop logger should not enable any level")
	}
	logger.Error("discarded")
}
