// Package logging provides structured logging for the gateway.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire application.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Optional append-only file sink alongside the console stream
//   - Thread-safe for concurrent use
//
// # Configuration
//
// Logging is configured via the LoggingConfig in config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//	  file:
//	    path: "logs/gateway.log"   # optional
//
// # Usage
//
//	logger, err := logging.New(cfg.Logging, "1.0.0")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//	logger.Info("starting gateway", "endpoint", cfg.OPCUA.Endpoint)
//	logger.Error("failed to connect", "error", err)
//
// # Security
//
// Never log passwords or private key material. Log the identity
// instead:
//
//	logger.Info("broker auth configured", "username", cfg.MQTT.Username)
package logging
