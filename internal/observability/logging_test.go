package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func newTestLogger(buf *bytes.Buffer) *Logger {
	return NewLogger(LogConfig{Level: "debug", Format: "json", Output: buf})
}

func TestLoggerRedactsAPIKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	logger.Info(context.Background(), "forwarding credentials",
		"detail", "api_key=sk-abcdefghijklmnopqrstuvwxyz012345678901234567")

	out := buf.String()
	if strings.Contains(out, "sk-abcdef") {
		t.Errorf("API key leaked into log: %s", out)
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Errorf("no redaction marker in log: %s", out)
	}
}

func TestLoggerRedactsBotTokens(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	logger.Warn(context.Background(), "emitter init failed",
		"error", errors.New("unauthorized: 123456789:AAFooBarBazQuuxLongBotToken1234567890-x"))

	if strings.Contains(buf.String(), "AAFooBar") {
		t.Errorf("bot token leaked: %s", buf.String())
	}
}

func TestLoggerContextFields(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	ctx := context.WithValue(context.Background(), TaskIDKey, "task-42")
	ctx = context.WithValue(ctx, UserIDKey, "user-7")
	ctx = context.WithValue(ctx, PhaseKey, "work")
	logger.Info(ctx, "iteration complete", "iteration", 3)

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("log output not JSON: %v", err)
	}
	if record["task_id"] != "task-42" || record["user_id"] != "user-7" || record["phase"] != "work" {
		t.Errorf("context fields missing: %v", record)
	}
	if record["iteration"] != float64(3) {
		t.Errorf("numeric arg mangled: %v", record["iteration"])
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "json", Output: &buf})

	logger.Debug(context.Background(), "noise")
	logger.Info(context.Background(), "more noise")
	if buf.Len() != 0 {
		t.Errorf("below-level records emitted: %s", buf.String())
	}
	logger.Error(context.Background(), "real problem")
	if !strings.Contains(buf.String(), "real problem") {
		t.Error("error record missing")
	}
}

func TestLoggerPlainTextUntouched(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)
	logger.Info(context.Background(), "compressed history", "kept", 12, "evicted", 30)
	out := buf.String()
	if strings.Contains(out, "[REDACTED]") {
		t.Errorf("innocuous text redacted: %s", out)
	}
}
