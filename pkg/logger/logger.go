package logger

import (
	"context"
	"log/slog"
	"os"
)

// New returns the JSON logger used by every binary. Local and dev default
// to debug; an explicit level ("debug", "info", "warn", "error") wins.
func New(appEnv, level string) *slog.Logger {
	lvl := slog.LevelInfo
	if appEnv == "local" || appEnv == "dev" {
		lvl = slog.LevelDebug
	}
	if level != "" {
		var parsed slog.Level
		if err := parsed.UnmarshalText([]byte(level)); err == nil {
			lvl = parsed
		}
	}

	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(h).With("service", "voice-agent-platform")
}

type ctxKey struct{}

// With stores a logger in context.
func With(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From gets a logger from context, falling back to slog.Default().
func From(ctx context.Context) *slog.Logger {
	if v := ctx.Value(ctxKey{}); v != nil {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}

type fieldsKey struct{}

// WithFields attaches key/value pairs to the context logger. Empty values and
// keys already attached through WithFields are skipped, so every layer can
// enrich the same context without repeating a key in one record.
func WithFields(ctx context.Context, kv ...string) (context.Context, *slog.Logger) {
	seen, _ := ctx.Value(fieldsKey{}).(map[string]bool)
	l := From(ctx)

	var attrs []any
	next := seen
	for i := 0; i+1 < len(kv); i += 2 {
		k, v := kv[i], kv[i+1]
		if v == "" || next[k] {
			continue
		}
		if len(attrs) == 0 {
			next = make(map[string]bool, len(seen)+len(kv)/2)
			for sk := range seen {
				next[sk] = true
			}
		}
		next[k] = true
		attrs = append(attrs, k, v)
	}
	if len(attrs) == 0 {
		return ctx, l
	}
	l = l.With(attrs...)
	return context.WithValue(With(ctx, l), fieldsKey{}, next), l
}

// WithCall attaches call identifiers. Empty values are skipped.
func WithCall(ctx context.Context, callSID, sessionID, tenantID string) (context.Context, *slog.Logger) {
	return WithFields(ctx, "call_sid", callSID, "session_id", sessionID, "tenant_id", tenantID)
}
