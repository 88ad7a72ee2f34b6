package log

import (
	"bytes"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStandardLogger(WithOutput(&buf), WithLevel(LevelWarn))

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Errorf("messages below the level threshold were logged: %q", out)
	}
	if !strings.Contains(out, "warn message") || !strings.Contains(out, "error message") {
		t.Errorf("messages at or above the level threshold were dropped: %q", out)
	}
}

func TestFormatting(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStandardLogger(WithOutput(&buf), WithLevel(LevelDebug))

	logger.Info("count=%d", 42)
	if !strings.Contains(buf.String(), "count=42") {
		t.Errorf("format args not applied: %q", buf.String())
	}
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	base := NewStandardLogger(WithOutput(&buf), WithLevel(LevelDebug))

	derived := base.WithField("component", "wal").WithField("attempt", 2)
	derived.Info("flushing")

	out := buf.String()
	if !strings.Contains(out, "component=wal") || !strings.Contains(out, "attempt=2") {
		t.Errorf("fields missing from output: %q", out)
	}

	// Fields are sorted, so attempt comes before component
	if strings.Index(out, "attempt=2") > strings.Index(out, "component=wal") {
		t.Errorf("fields not emitted in sorted order: %q", out)
	}

	// The base logger must not inherit fields from derived loggers
	buf.Reset()
	base.Info("plain")
	if strings.Contains(buf.String(), "component=wal") {
		t.Errorf("base logger polluted by derived fields: %q", buf.String())
	}
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStandardLogger(WithOutput(&buf))

	logger.SetLevel(LevelError)
	if logger.GetLevel() != LevelError {
		t.Fatalf("GetLevel() = %v, want %v", logger.GetLevel(), LevelError)
	}

	logger.Warn("suppressed")
	if buf.Len() != 0 {
		t.Errorf("warn logged despite error level: %q", buf.String())
	}
}

func TestLevelString(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "LEVEL(99)"},
	}
	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("Level(%d).String() = %q, want %q", tt.level, got, tt.want)
		}
	}
}
