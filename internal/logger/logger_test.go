package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestInitEnablesLevel(t *testing.T) {
	Init("debug", "json")
	if !L.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("expected debug level to be enabled")
	}
	Info("test info message", slog.String("key", "value"))
}

func TestNewJSONWritesFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "info", "JSON")
	l.Debug("hidden")
	l.Info("shown", slog.String("k", "v"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %q", buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec["msg"] != "shown" || rec["k"] != "v" {
		t.Fatalf("unexpected record: %v", rec)
	}
}

func TestForUserCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	base := New(&buf, "info", "text")
	ctx := WithContext(context.Background(), base)

	ctx, l := ForUser(ctx, "42", "viral")
	l.Info("handled")
	FromContext(ctx).Info("again")

	out := buf.String()
	if strings.Count(out, "user_id=42") != 2 || strings.Count(out, "command=viral") != 2 {
		t.Fatalf("fields missing: %q", out)
	}
}

func TestFromContextFallsBack(t *testing.T) {
	if FromContext(context.Background()) != L {
		t.Fatal("expected global logger")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"Warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.expected {
			t.Errorf("parseLevel(%s) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}
