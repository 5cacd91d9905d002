package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nerrad567/opcua-mqtt-gateway/internal/infrastructure/config"
)

func TestNew_JSONFormat(t *testing.T) {
	logger, err := New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "1.0.0")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNew_TextFormat(t *testing.T) {
	logger, err := New(config.LoggingConfig{Level: "debug", Format: "text", Output: "stderr"}, "1.0.0")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("expected debug level to be enabled")
	}
}

func TestNew_FileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "gateway.log")

	logger, err := New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stderr",
		File:   config.FileLoggingConfig{Path: path},
	}, "test")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	logger.With("component", "supervisor").Info("gateway running", "tags", 3)
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &entry); err != nil {
		t.Fatalf("failed to parse JSON output: %v", err)
	}
	if entry["msg"] != "gateway running" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry["component"] != "supervisor" {
		t.Errorf("component = %v", entry["component"])
	}
	if entry["service"] != serviceName {
		t.Errorf("service = %v", entry["service"])
	}
}

func TestNew_FileSinkError(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := New(config.LoggingConfig{File: config.FileLoggingConfig{Path: filepath.Join(blocker, "gateway.log")}}, "test")
	if err == nil {
		t.Error("expected error when log directory cannot be created")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected slog.Level
	}{
		{name: "debug level", input: "debug", expected: slog.LevelDebug},
		{name: "info level", input: "info", expected: slog.LevelInfo},
		{name: "warn level", input: "warn", expected: slog.LevelWarn},
		{name: "warning level", input: "warning", expected: slog.LevelWarn},
		{name: "error level", input: "error", expected: slog.LevelError},
		{name: "unknown defaults to info", input: "unknown", expected: slog.LevelInfo},
		{name: "empty defaults to info", input: "", expected: slog.LevelInfo},
		{name: "case insensitive", input: "DEBUG", expected: slog.LevelDebug},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := parseLevel(tt.input)
			if result != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestLogger_With(t *testing.T) {
	logger := Default()
	childLogger := logger.With("component", "mqtt")

	if childLogger == logger {
		t.Error("expected child logger to be different from parent")
	}
}

func TestLogger_OutputContainsDefaultFields(t *testing.T) {
	var buf bytes.Buffer

	handler := newHandler(&buf, config.LoggingConfig{Level: "info", Format: "json"}, "test-version")
	logger := &Logger{Logger: slog.New(handler)}
	logger.Info("test message", "key", "value")

	output := buf.String()
	if !strings.Contains(output, serviceName) {
		t.Error("expected output to contain service field")
	}
	if !strings.Contains(output, "test-version") {
		t.Error("expected output to contain version field")
	}

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("failed to parse JSON output: %v", err)
	}
	if logEntry["msg"] != "test message" {
		t.Errorf("expected msg='test message', got %v", logEntry["msg"])
	}
	if logEntry["key"] != "value" {
		t.Errorf("expected key='value', got %v", logEntry["key"])
	}
}

func TestDiscard(t *testing.T) {
	Discard().Error("dropped")
}
