// Package logging provides structured logging for the purifier bridge.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire application.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Secret attributes (password, psk, session_key, ...) are masked
//   - Level-based filtering (debug, info, warn, error)
//   - Thread-safe for concurrent use
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, discard
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	manager, _ := coordinator.NewManager(reg, policy,
//	    coordinator.WithLogger(logger.Component("coordinator")))
//
// # Security
//
// Never log device secrets, PSKs, session keys or broker passwords.
package logging
