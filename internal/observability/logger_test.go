package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger_LevelMapping(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name         string
		level        string
		debugEnabled bool
		infoEnabled  bool
	}{
		{name: "debug", level: "debug", debugEnabled: true, infoEnabled: true},
		{name: "info", level: "info", infoEnabled: true},
		{name: "upper case warn", level: " WARN ", infoEnabled: false},
		{name: "empty defaults to info", level: "", infoEnabled: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			logger, err := NewLogger(tc.level, "")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if got := logger.Core().Enabled(zapcore.DebugLevel); got != tc.debugEnabled {
				t.Fatalf("debug enabled=%v, want=%v", got, tc.debugEnabled)
			}
			if got := logger.Core().Enabled(zapcore.InfoLevel); got != tc.infoEnabled {
				t.Fatalf("info enabled=%v, want=%v", got, tc.infoEnabled)
			}
		})
	}
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	t.Parallel()

	logger, err := NewLogger("loud", "worker")
	if err == nil {
		t.Fatal("expected error for invalid level")
	}
	if logger != nil {
		t.Fatal("expected nil logger for invalid level")
	}
}

func TestNewLogger_JSONEntry(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, err := newLogger("info", " worker ", zapcore.AddSync(&buf))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	logger.Info("batch run completed", zap.String("batchId", "b1"), zap.Duration("took", 1500*time.Millisecond))
	_ = logger.Sync()

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}

	want := map[string]any{
		"level":     "info",
		"msg":       "batch run completed",
		"component": "worker",
		"batchId":   "b1",
		"took":      float64(1500),
	}
	for key, value := range want {
		if entry[key] != value {
			t.Fatalf("%s=%v, want=%v", key, entry[key], value)
		}
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Fatal("timestamp field missing")
	}
	if _, ok := entry["caller"]; !ok {
		t.Fatal("caller field missing")
	}
}

func TestCorrelationID_ContextHelpers(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		ctx    context.Context
		wantID string
		wantOK bool
	}{
		{name: "stored id", ctx: WithCorrelationID(context.Background(), "delivery-123"), wantID: "delivery-123", wantOK: true},
		{name: "trimmed id", ctx: WithCorrelationID(context.Background(), " req-9 "), wantID: "req-9", wantOK: true},
		{name: "blank id", ctx: WithCorrelationID(context.Background(), "  "), wantOK: false},
		{name: "missing", ctx: context.Background(), wantOK: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			id, ok := CorrelationIDFromContext(tc.ctx)
			if ok != tc.wantOK || id != tc.wantID {
				t.Fatalf("CorrelationIDFromContext() = (%q, %v), want (%q, %v)", id, ok, tc.wantID, tc.wantOK)
			}
		})
	}
}

func TestWithContextLogger(t *testing.T) {
	t.Parallel()

	core, recorded := observer.New(zapcore.InfoLevel)
	base := zap.New(core)

	WithContextLogger(base, WithCorrelationID(context.Background(), "req-789")).Info("tagged")
	WithContextLogger(base, context.Background()).Info("untagged")

	entries := recorded.All()
	if len(entries) != 2 {
		t.Fatalf("entries=%d, want=2", len(entries))
	}
	if got := entries[0].ContextMap()["correlationId"]; got != "req-789" {
		t.Fatalf("correlationId=%v, want=req-789", got)
	}
	if _, ok := entries[1].ContextMap()["correlationId"]; ok {
		t.Fatal("expected correlationId field to be absent")
	}

	if got := WithContextLogger(nil, context.Background()); got != nil {
		t.Fatal("expected nil logger")
	}
}
