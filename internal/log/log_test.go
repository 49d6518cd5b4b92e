package log

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)
	defer SetLevel(LevelInfo)

	SetLevel(LevelWarn)
	Info("hidden")
	Warn("shown", "polls", 3)
	Error("failed", errors.New("boom"), "op", "sleep")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line should be filtered at warn level, got: %s", out)
	}
	if !strings.Contains(out, "[WARN] shown polls=3") {
		t.Errorf("missing warn line, got: %s", out)
	}
	if !strings.Contains(out, "[ERROR] failed err=boom op=sleep") {
		t.Errorf("missing error line, got: %s", out)
	}
}

func TestKVQuoting(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)

	Info("msg", "path", "/tmp/a b.png", 42, "dropped", "odd")

	out := buf.String()
	if !strings.Contains(out, `path="/tmp/a b.png"`) {
		t.Errorf("value with space should be quoted, got: %s", out)
	}
	if strings.Contains(out, "dropped") || strings.Contains(out, "odd") {
		t.Errorf("non-string key and odd value should be dropped, got: %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
		ok   bool
	}{
		{"", LevelInfo, true},
		{"debug", LevelDebug, true},
		{"WARN", LevelWarn, true},
		{"error", LevelError, true},
		{"verbose", LevelInfo, false},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err == nil) != tt.ok {
			t.Errorf("ParseLevel(%q) error = %v, want ok=%v", tt.in, err, tt.ok)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
