package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"
)

func newBuffered(level string) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return New(Config{Level: level, Format: "json", Output: &buf, ServiceName: "presgen-test"}), &buf
}

func lastRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &rec); err != nil {
		t.Fatalf("log output is not JSON: %v (%s)", err, buf.String())
	}
	return rec
}

func TestRecordShape(t *testing.T) {
	log, buf := newBuffered("info")
	log.Info("assembly finished", "segments", 3)

	rec := lastRecord(t, buf)
	if rec["msg"] != "assembly finished" || rec["segments"] != float64(3) {
		t.Errorf("unexpected record %v", rec)
	}
	if rec["service"] != "presgen-test" {
		t.Errorf("expected service attribute, got %v", rec["service"])
	}
	ts, _ := rec["time"].(string)
	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		t.Fatalf("time %q is not RFC3339: %v", ts, err)
	}
	if _, offset := parsed.Zone(); offset != 0 {
		t.Errorf("expected UTC time, got %q", ts)
	}
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	New(Config{Format: "text", Output: &buf}).Info("segment composed", "segment", 1)
	if out := buf.String(); !strings.Contains(out, "msg=\"segment composed\"") || !strings.Contains(out, "segment=1") {
		t.Errorf("unexpected text output %q", out)
	}
}

func TestLevels(t *testing.T) {
	tests := []struct {
		level string
		logFn func(*Logger)
		want  bool
	}{
		{"info", func(l *Logger) { l.Info("x") }, true},
		{"info", func(l *Logger) { l.Debug("x") }, false},
		{"debug", func(l *Logger) { l.Debug("x") }, true},
		{"warn", func(l *Logger) { l.Info("x") }, false},
		{"warn", func(l *Logger) { l.Warn("x") }, true},
		{"error", func(l *Logger) { l.Warn("x") }, false},
		{"error", func(l *Logger) { l.Error("x") }, true},
	}

	for i, tt := range tests {
		t.Run(fmt.Sprintf("%d_%s", i, tt.level), func(t *testing.T) {
			log, buf := newBuffered(tt.level)
			tt.logFn(log)
			if got := buf.Len() > 0; got != tt.want {
				t.Errorf("level %s: logged=%v, want %v", tt.level, got, tt.want)
			}
		})
	}
}

func TestScopedAttributes(t *testing.T) {
	tests := []struct {
		name  string
		scope func(*Logger) *Logger
		key   string
		want  any
	}{
		{"request", func(l *Logger) *Logger { return l.WithRequestID("req-123") }, "request_id", "req-123"},
		{"job", func(l *Logger) *Logger { return l.WithJobID("job-456") }, "job_id", "job-456"},
		{"segment", func(l *Logger) *Logger { return l.WithSegment(2) }, "segment", float64(2)},
		{"component", func(l *Logger) *Logger { return l.WithComponent("pipeline") }, "component", "pipeline"},
		{"worker", func(l *Logger) *Logger { return l.WithWorkerID("host-42") }, "worker_id", "host-42"},
		{"error", func(l *Logger) *Logger { return l.WithError(context.DeadlineExceeded) }, "error", "context deadline exceeded"},
		{"fields", func(l *Logger) *Logger { return l.WithFields(map[string]any{"pages": 3}) }, "pages", float64(3)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, buf := newBuffered("info")
			tt.scope(log).Info("scoped")
			if got := lastRecord(t, buf)[tt.key]; got != tt.want {
				t.Errorf("%s = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
}

func TestWithErrorNil(t *testing.T) {
	log, _ := newBuffered("info")
	if log.WithError(nil) != log {
		t.Error("WithError(nil) should return the same logger")
	}
}

func TestFromContext(t *testing.T) {
	log, buf := newBuffered("info")

	ctx := ContextWithJobID(ContextWithRequestID(context.Background(), "req-abc"), "job-xyz")
	log.FromContext(ctx).Info("picked up")

	rec := lastRecord(t, buf)
	if rec["request_id"] != "req-abc" || rec["job_id"] != "job-xyz" {
		t.Errorf("context ids missing: %v", rec)
	}

	buf.Reset()
	log.FromContext(context.Background()).Info("bare")
	rec = lastRecord(t, buf)
	if _, ok := rec["request_id"]; ok {
		t.Errorf("no request id expected: %v", rec)
	}
}

func TestLogError(t *testing.T) {
	log, buf := newBuffered("info")

	log.LogError(context.Background(), "ignored", nil)
	if buf.Len() != 0 {
		t.Fatal("nil error must not be logged")
	}

	ctx := ContextWithJobID(context.Background(), "job-1")
	log.LogError(ctx, "could not record failure", fmt.Errorf("database is locked"), "code", "TIMEOUT")

	rec := lastRecord(t, buf)
	if rec["level"] != "ERROR" || rec["error"] != "database is locked" || rec["job_id"] != "job-1" || rec["code"] != "TIMEOUT" {
		t.Errorf("unexpected record %v", rec)
	}
	caller, _ := rec["caller"].(map[string]any)
	if file, _ := caller["file"].(string); !strings.HasSuffix(file, "logger_test.go") {
		t.Errorf("expected caller file, got %v", rec["caller"])
	}
}

func TestNewNop(t *testing.T) {
	NewNop().Error("dropped")
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]string{
		"debug":   "DEBUG",
		" DEBUG ": "DEBUG",
		"info":    "INFO",
		"warn":    "WARN",
		"warning": "WARN",
		"ERROR":   "ERROR",
		"verbose": "INFO",
		"":        "INFO",
	} {
		if got := parseLevel(in).String(); got != want {
			t.Errorf("parseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
