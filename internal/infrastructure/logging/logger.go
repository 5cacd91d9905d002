package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/nerrad567/opcua-mqtt-gateway/internal/infrastructure/config"
)

// serviceName is attached to every record.
const serviceName = "opcua-mqtt-gateway"

// Logger wraps slog.Logger with gateway-specific functionality.
//
// It provides structured logging with default fields, level-based
// filtering and an optional append-only file sink.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger
	file *os.File
}

// New creates a new Logger with the specified configuration.
//
// It configures:
//   - Output format (JSON for production, text for development)
//   - Log level filtering
//   - Default fields (service name, version)
//   - Output destination, plus the file sink when cfg.File.Path is set
//
// The caller must Close the logger to release the file sink.
func New(cfg config.LoggingConfig, version string) (*Logger, error) {
	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		output = os.Stderr
	default:
		output = os.Stdout
	}

	var file *os.File
	if cfg.File.Path != "" {
		f, err := openLogFile(cfg.File.Path)
		if err != nil {
			return nil, err
		}
		file = f
		output = io.MultiWriter(output, f)
	}

	return &Logger{
		Logger: slog.New(newHandler(output, cfg, version)),
		file:   file,
	}, nil
}

// newHandler builds the slog handler for the configured format and level.
func newHandler(w io.Writer, cfg config.LoggingConfig, version string) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return handler.WithAttrs([]slog.Attr{
		slog.String("service", serviceName),
		slog.String("version", version),
	})
}

// openLogFile opens path for appending, creating parent directories.
func openLogFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating log directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	return f, nil
}

// parseLevel converts a string log level to slog.Level.
//
// Supported levels: debug, info, warn, error
// Defaults to info if unrecognised.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a new Logger with additional default attributes.
// The child shares the parent's file sink.
//
// Example:
//
//	mqttLogger := logger.With("component", "mqtt")
//	mqttLogger.Info("connected") // Includes component=mqtt
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
		file:   l.file,
	}
}

// Close releases the file sink, if any. Calling Close on a child
// logger created by With closes the shared file.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	f := l.file
	l.file = nil
	return f.Close()
}

// Default creates a default logger for use before configuration is loaded.
//
// This logger outputs to stdout in JSON format at info level.
// It should only be used during early startup before config is available.
func Default() *Logger {
	return &Logger{
		Logger: slog.New(newHandler(os.Stdout, config.LoggingConfig{Level: "info", Format: "json"}, "dev")),
	}
}

// Discard returns a logger that drops every record.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}
