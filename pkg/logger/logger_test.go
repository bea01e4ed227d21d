package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestWithCall_NoRepeatedKeys(t *testing.T) {
	var buf bytes.Buffer
	ctx := With(context.Background(), slog.New(slog.NewJSONHandler(&buf, nil)))

	// Controller, then orchestrator, enrich the same context.
	ctx, _ = WithCall(ctx, "CA1", "", "")
	ctx, _ = WithCall(ctx, "", "s1", "t1")
	_, l := WithCall(ctx, "CA1", "s1", "t1")
	l.Info("turn completed")

	line := buf.String()
	for _, key := range []string{`"call_sid"`, `"session_id"`, `"tenant_id"`} {
		if n := strings.Count(line, key); n != 1 {
			t.Fatalf("expected %s once, got %d in %s", key, n, line)
		}
	}
}

func TestWithFields_SharesKeysWithWithCall(t *testing.T) {
	var buf bytes.Buffer
	ctx := With(context.Background(), slog.New(slog.NewJSONHandler(&buf, nil)))

	ctx, _ = WithFields(ctx, "tenant_id", "t1", "user_id", "u1", "tenant_id", "t1")
	_, l := WithCall(ctx, "", "s1", "t1")
	l.Info("x")

	if n := strings.Count(buf.String(), `"tenant_id"`); n != 1 {
		t.Fatalf("expected tenant_id once, got %d in %s", n, buf.String())
	}
	if !strings.Contains(buf.String(), `"session_id":"s1"`) {
		t.Fatalf("expected new key added, got %s", buf.String())
	}
}

func TestWithFields_NothingNewKeepsContext(t *testing.T) {
	ctx := context.Background()
	got, l := WithFields(ctx, "call_sid", "")
	if got != ctx || l != slog.Default() {
		t.Fatalf("expected unchanged context and default logger")
	}
}
