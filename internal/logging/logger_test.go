package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", LevelDebug},
		{" WARN ", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"info", LevelInfo},
		{"", LevelInfo},
		{"verbose", LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.expected {
			t.Errorf("ParseLevel(%q) = %v; want %v", tt.input, got, tt.expected)
		}
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelWarn)
	l.Info("hidden")
	l.Warn("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line should be filtered: %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("warn line missing: %q", out)
	}
}

func TestLogger_JSONContext(t *testing.T) {
	var buf bytes.Buffer
	l := NewJSON(&buf, LevelInfo).WithComponent("engine").WithVersion(7).WithStore("memory").WithBatch("b1")
	l.Info("applied")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v (%q)", err, buf.String())
	}
	if rec["component"] != "engine" || rec["store"] != "memory" || rec["batch"] != "b1" {
		t.Fatalf("unexpected attrs: %v", rec)
	}
	if rec["version"] != float64(7) {
		t.Fatalf("unexpected version attr: %v", rec["version"])
	}
	if l.Level() != LevelInfo {
		t.Fatalf("level not carried through With helpers")
	}
}

func TestSetDefault_IgnoresNil(t *testing.T) {
	prev := Default()
	SetDefault(nil)
	if Default() != prev {
		t.Fatal("nil must not replace default logger")
	}
}
