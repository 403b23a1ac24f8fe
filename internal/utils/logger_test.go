package utils

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	if ParseLevel("DEBUG") != slog.LevelDebug {
		t.Fatalf("expected debug level")
	}
	if ParseLevel("warning") != slog.LevelWarn {
		t.Fatalf("expected warn level")
	}
	if ParseLevel("bogus") != slog.LevelInfo {
		t.Fatalf("expected info fallback")
	}
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "info", true)
	logger.Debug("hidden")
	logger.Info("predict", slog.String("request_id", "abc"))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug record emitted at info level: %s", out)
	}
	if !strings.Contains(out, `"request_id":"abc"`) {
		t.Fatalf("expected json attribute, got %s", out)
	}
}

func TestNewLoggerWriter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogOptions{Level: "warn", Writer: &buf})
	logger.Info("quiet")
	logger.Warn("loud")

	out := buf.String()
	if strings.Contains(out, "quiet") || !strings.Contains(out, "loud") {
		t.Fatalf("unexpected output: %s", out)
	}
}
