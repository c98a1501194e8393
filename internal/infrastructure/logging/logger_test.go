package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/nerrad567/purifier-bridge/internal/coordinator"
	"github.com/nerrad567/purifier-bridge/internal/infrastructure/config"
)

// Logger must plug into the packages that accept a Logger interface.
var _ coordinator.Logger = (*Logger)(nil)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"DEBUG", slog.LevelDebug},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("failed to parse JSON output %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, config.LoggingConfig{Level: "info", Format: "json"}, "1.2.3")

	logger.Component("coordinator").Info("polling endpoint", "endpoint", "office")
	logger.Debug("hidden")

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1 (debug filtered)", len(entries))
	}
	want := map[string]string{
		"msg":       "polling endpoint",
		"service":   ServiceName,
		"version":   "1.2.3",
		"component": "coordinator",
		"endpoint":  "office",
	}
	for k, v := range want {
		if entries[0][k] != v {
			t.Errorf("%s = %v, want %q", k, entries[0][k], v)
		}
	}
}

func TestTextOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, config.LoggingConfig{Level: "debug", Format: "TEXT"}, "dev")
	logger.Debug("session established", "generation", "encrypted_v2")

	out := buf.String()
	if !strings.Contains(out, "msg=\"session established\"") || !strings.Contains(out, "generation=encrypted_v2") {
		t.Errorf("text output = %q", out)
	}
}

func TestRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, config.LoggingConfig{Level: "info"}, "dev")

	logger.Info("connecting",
		"password", "hunter2",
		"PSK", "0011",
		slog.Group("device", slog.String("session_key", "abcd"), slog.String("host", "10.0.0.5")),
	)

	out := buf.String()
	for _, secret := range []string{"hunter2", "0011", "abcd"} {
		if strings.Contains(out, secret) {
			t.Errorf("secret %q leaked: %s", secret, out)
		}
	}
	if !strings.Contains(out, "10.0.0.5") {
		t.Errorf("non-secret attribute dropped: %s", out)
	}
}

func TestSink(t *testing.T) {
	if sink("discard") == sink("stdout") {
		t.Error("discard should not write to stdout")
	}
	if sink("") != sink("stdout") {
		t.Error("empty output should default to stdout")
	}
}

func TestComponent(t *testing.T) {
	logger := Default()
	child := logger.Component("mqtt")
	if child == nil || child == logger {
		t.Error("expected a distinct child logger")
	}
}
