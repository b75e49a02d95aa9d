package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestLoadConfigFromEnvDefaults(t *testing.T) {
	t.Setenv(EnvFormat, "")
	t.Setenv(EnvLevel, "")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg.Format != "json" {
		t.Fatalf("Format = %q, want json", cfg.Format)
	}
	if cfg.Level != slog.LevelInfo {
		t.Fatalf("Level = %v, want info", cfg.Level)
	}
}

func TestLoadConfigFromEnvRejectsUnknownValues(t *testing.T) {
	t.Setenv(EnvFormat, "yaml")
	t.Setenv(EnvLevel, "")
	if _, err := LoadConfigFromEnv(); err == nil {
		t.Fatal("expected error for unknown format")
	}

	t.Setenv(EnvFormat, "json")
	t.Setenv(EnvLevel, "loud")
	if _, err := LoadConfigFromEnv(); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestLoadConfigFromEnvParsesLevels(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	t.Setenv(EnvFormat, "text")
	for raw, want := range cases {
		t.Setenv(EnvLevel, raw)
		cfg, err := LoadConfigFromEnv()
		if err != nil {
			t.Fatalf("LoadConfigFromEnv(%q): %v", raw, err)
		}
		if cfg.Level != want {
			t.Fatalf("Level(%q) = %v, want %v", raw, cfg.Level, want)
		}
	}
}

func TestNewLoggerEmitsJSONWithAppAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(DefaultConfig(), &buf, "status")
	logger.Info("hello")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if record["app"] != "complylens" {
		t.Fatalf("app = %v, want complylens", record["app"])
	}
	if record["command"] != "status" {
		t.Fatalf("command = %v, want status", record["command"])
	}
}

func TestNewLoggerTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Format: "text", Level: slog.LevelInfo}, &buf, "")
	logger.Info("hello")
	if !strings.Contains(buf.String(), "command=complylens") {
		t.Fatalf("text output missing default command attribute: %q", buf.String())
	}
}
