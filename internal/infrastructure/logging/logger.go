package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/purifier-bridge/internal/infrastructure/config"
)

// ServiceName is attached to every log entry.
const ServiceName = "purifier-bridge"

// redacted replaces the value of secret-looking attributes.
const redacted = "[REDACTED]"

// secretKeys are attribute keys whose values never reach the log.
var secretKeys = map[string]bool{
	"password":    true,
	"psk":         true,
	"secret":      true,
	"session_key": true,
	"token":       true,
}

// Logger is a slog.Logger tagged with service and version. It satisfies
// the Logger interfaces of the coap, device, coordinator, bridge and api
// packages.
type Logger struct {
	*slog.Logger
}

// New builds a Logger from cfg.
//
// Output is "stdout" (default), "stderr" or "discard". Format is "json"
// (default) or "text". Unknown levels fall back to info.
func New(cfg config.LoggingConfig, version string) *Logger {
	return newLogger(sink(cfg.Output), cfg, version)
}

// Default is the logger used until the configuration has been loaded.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "dev")
}

func newLogger(w io.Writer, cfg config.LoggingConfig, version string) *Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		ReplaceAttr: redact,
	}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}

	return &Logger{Logger: slog.New(h).With(
		slog.String("service", ServiceName),
		slog.String("version", version),
	)}
}

func sink(output string) io.Writer {
	switch strings.ToLower(output) {
	case "stderr":
		return os.Stderr
	case "discard":
		return io.Discard
	default:
		return os.Stdout
	}
}

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

// redact masks secret attributes at any group depth.
func redact(_ []string, a slog.Attr) slog.Attr {
	if secretKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, redacted)
	}
	return a
}

// Component returns a child logger tagged component=name.
//
//	pollLog := logger.Component("coordinator")
//	pollLog.Info("polling endpoint", "endpoint", "office")
func (l *Logger) Component(name string) *Logger {
	return &Logger{Logger: l.With("component", name)}
}
