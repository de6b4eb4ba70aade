package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"firestige.xyz/fabric/internal/config"
)

func TestParseLevelValid(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			level, err := parseLevel(tt.input)
			if err != nil {
				t.Errorf("parseLevel(%q) returned error: %v", tt.input, err)
			}
			if level != tt.expected {
				t.Errorf("parseLevel(%q) = %v, expected %v", tt.input, level, tt.expected)
			}
		})
	}
}

func TestParseLevelInvalid(t *testing.T) {
	for _, input := range []string{"invalid", "trace", ""} {
		if _, err := parseLevel(input); err == nil {
			t.Errorf("parseLevel(%q) should return error, got nil", input)
		}
	}
}

func TestInitJSONToStdout(t *testing.T) {
	defer slog.SetDefault(slog.Default())

	var buf bytes.Buffer
	if err := initTo(&buf, config.LogConfig{Level: "warn", Format: "json"}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	slog.Info("dropped")
	slog.Warn("hub full", "hub", "h0")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 record above the level, got %d: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("record is not JSON: %v", err)
	}
	if rec["msg"] != "hub full" || rec["hub"] != "h0" {
		t.Errorf("unexpected record %v", rec)
	}
}

func TestInitWithFileOutput(t *testing.T) {
	defer slog.SetDefault(slog.Default())

	logPath := filepath.Join(t.TempDir(), "fabric.log")
	cfg := config.LogConfig{
		Level:  "debug",
		Format: "text",
		Outputs: config.LogOutputsConfig{
			File: config.FileOutputConfig{
				Enabled:  true,
				Path:     logPath,
				Rotation: config.RotationConfig{MaxSizeMB: 1, MaxBackups: 1},
			},
		},
	}
	var stdout bytes.Buffer
	if err := initTo(&stdout, cfg); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	slog.Debug("to both", "iface", "eth0")
	Flush()

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if !strings.Contains(string(data), "iface=eth0") {
		t.Errorf("log file missing record: %q", data)
	}
	if !strings.Contains(stdout.String(), "to both") {
		t.Errorf("stdout missing record: %q", stdout.String())
	}
}

func TestInitErrors(t *testing.T) {
	tests := []config.LogConfig{
		{Level: "loud", Format: "json"},
		{Level: "info", Format: "xml"},
		{Level: "info", Format: "json", Outputs: config.LogOutputsConfig{File: config.FileOutputConfig{Enabled: true}}},
	}
	for _, cfg := range tests {
		if err := initTo(&bytes.Buffer{}, cfg); err == nil {
			t.Errorf("Init(%+v) should fail", cfg)
		}
	}
}
