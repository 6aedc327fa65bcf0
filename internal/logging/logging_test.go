package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chaz8081/wearlink/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewJSONLoggerToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wearlink.log")
	logger, closer, err := New(config.LogConfig{Level: "debug", Format: "json", Output: path})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	logger.Debug("[BLE] scan initiated", "services", 2)
	if err := closer(); err != nil {
		t.Fatalf("closer() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(data))), &rec); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, data)
	}
	if rec["msg"] != "[BLE] scan initiated" {
		t.Errorf("msg = %v, want %q", rec["msg"], "[BLE] scan initiated")
	}
	if rec["level"] != "DEBUG" {
		t.Errorf("level = %v, want DEBUG", rec["level"])
	}
}

func TestNewTextLoggerFiltersLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wearlink.log")
	logger, closer, err := New(config.LogConfig{Level: "warn", Format: "text", Output: path})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown")
	_ = closer()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if strings.Contains(string(data), "hidden") {
		t.Error("info record should be filtered at warn level")
	}
	if !strings.Contains(string(data), "msg=shown") {
		t.Errorf("warn record missing from output: %q", data)
	}
}

func TestNewStdStreams(t *testing.T) {
	for _, out := range []string{"stdout", "stderr", ""} {
		logger, closer, err := New(config.LogConfig{Level: "info", Format: "text", Output: out})
		if err != nil {
			t.Fatalf("New(%q) error = %v", out, err)
		}
		if logger == nil {
			t.Fatalf("New(%q) returned nil logger", out)
		}
		if err := closer(); err != nil {
			t.Errorf("closer for %q error = %v", out, err)
		}
	}
}

func TestNewBadPath(t *testing.T) {
	_, _, err := New(config.LogConfig{Output: filepath.Join(t.TempDir(), "missing", "dir", "x.log")})
	if err == nil {
		t.Error("New() should fail for an unwritable path")
	}
}
