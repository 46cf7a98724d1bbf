package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func jsonLogger(buf *bytes.Buffer, level string) *Logger {
	return NewWithWriter(&Config{Level: level, Format: "json"}, "autoflow", buf)
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("bad log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestNewWithWriter_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	l := jsonLogger(&buf, "debug").WithComponent("scheduler")
	l.Info("schedule installed", Fields(FieldTaskID, "t1", FieldTaskName, "nightly"))

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	got := lines[0]
	if got["message"] != "schedule installed" {
		t.Errorf("message = %v", got["message"])
	}
	if got[FieldComponent] != "scheduler" {
		t.Errorf("component = %v", got[FieldComponent])
	}
	if got[FieldTaskID] != "t1" || got[FieldTaskName] != "nightly" {
		t.Errorf("missing task fields: %v", got)
	}
	if got["service"] != "autoflow" {
		t.Errorf("service = %v", got["service"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := jsonLogger(&buf, "warn")
	l.Debug("hidden")
	l.Info("hidden")
	l.Warn("shown")
	lines := decodeLines(t, &buf)
	if len(lines) != 1 || lines[0]["message"] != "shown" {
		t.Fatalf("expected only warn line, got %v", lines)
	}
}

func TestInvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	l := jsonLogger(&buf, "nope")
	l.Debug("hidden")
	l.Info("shown")
	if n := len(decodeLines(t, &buf)); n != 1 {
		t.Fatalf("expected 1 line, got %d", n)
	}
}

func TestWithContext_RunFields(t *testing.T) {
	var buf bytes.Buffer
	l := jsonLogger(&buf, "info")

	ctx := ContextWithRun(context.Background(), Fields(FieldTaskID, "t1"))
	ctx = ContextWithRun(ctx, Fields(FieldLogID, 7))
	l.WithContext(ctx).Info("run started")

	got := decodeLines(t, &buf)[0]
	if got[FieldTaskID] != "t1" {
		t.Errorf("task_id = %v", got[FieldTaskID])
	}
	if got[FieldLogID] != float64(7) {
		t.Errorf("log_id = %v", got[FieldLogID])
	}
}

func TestWithContext_NoFieldsReturnsSameLogger(t *testing.T) {
	l := NewNop()
	if l.WithContext(context.Background()) != l {
		t.Error("expected same logger for bare context")
	}
}

func TestWithError(t *testing.T) {
	var buf bytes.Buffer
	jsonLogger(&buf, "info").WithError(errors.New("boom")).Error("failed")
	if got := decodeLines(t, &buf)[0]; got["error"] != "boom" {
		t.Errorf("error = %v", got["error"])
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatal("expected nop logger")
	}
	l := NewDefault("x")
	if OrNop(l) != l {
		t.Error("expected same logger")
	}
	// Must not panic.
	OrNop(nil).Info("discarded", Fields("k", "v"))
}

func TestFields(t *testing.T) {
	m := Fields("a", 1, "b", "two", 3, "skipped", "dangling")
	if len(m) != 2 {
		t.Fatalf("expected 2 fields, got %v", m)
	}
	if m["a"] != 1 || m["b"] != "two" {
		t.Errorf("unexpected fields %v", m)
	}
}

func TestDurationFields(t *testing.T) {
	m := DurationFields("run", 1500*time.Millisecond)
	if m[FieldDuration] != int64(1500) || m[FieldOperation] != "run" {
		t.Errorf("unexpected %v", m)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	cfg.Level = "loud"
	if err := cfg.Validate(); err == nil {
		t.Error("expected invalid level error")
	}
	cfg.Level = "info"
	cfg.Format = "xml"
	if err := cfg.Validate(); err == nil {
		t.Error("expected invalid format error")
	}
}
