package util

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewLoggerLevel(t *testing.T) {
	logger := NewLogger("debug")
	if logger.GetLevel() != zerolog.DebugLevel {
		t.Fatalf("expected debug level, got %s", logger.GetLevel())
	}

	logger = NewLogger("invalid")
	if logger.GetLevel() != zerolog.InfoLevel {
		t.Fatalf("expected info fallback, got %s", logger.GetLevel())
	}

	logger = NewLogger("")
	if logger.GetLevel() != zerolog.InfoLevel {
		t.Fatalf("expected info for empty level, got %s", logger.GetLevel())
	}
}

func TestNewConsoleLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewConsoleLogger(&buf, "WARN")
	logger.Info().Msg("hidden")
	logger.Warn().Msg("visible")
	if strings.Contains(buf.String(), "hidden") {
		t.Fatalf("info line should be filtered: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "visible") {
		t.Fatalf("warn line missing: %s", buf.String())
	}
}

func TestConfigShapeNeverLeaksValues(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	cfg := map[string]string{"ALPACA_SECRET_KEY": "hunter2", "mount": "/media/x", "empty": ""}
	logger.Info().Object("config", ConfigShape(cfg)).Msg("pushed")

	out := buf.String()
	if strings.Contains(out, "hunter2") || strings.Contains(out, "/media/x") {
		t.Fatalf("config value leaked into log: %s", out)
	}
	if !strings.Contains(out, "ALPACA_SECRET_KEY") {
		t.Fatalf("expected key names in log: %s", out)
	}

	red := RedactConfig(cfg)
	if red["ALPACA_SECRET_KEY"] != "***" || red["empty"] != "" {
		t.Fatalf("unexpected redaction: %v", red)
	}
}
