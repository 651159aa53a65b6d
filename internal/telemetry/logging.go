// Package telemetry wires up structured logging and the per-run trace
// log (§6.3's traces/trace-YYYY-MM-DD.jsonl), the ambient stack the
// host carries regardless of which features are in scope.
package telemetry

import (
	"context"
	"log/slog"
	"os"
	"regexp"
)

// NewLogger builds the host's default slog.Logger: a text handler
// over logPath (or stdout when logPath is empty) wrapped in a
// secret-redacting handler, mirroring the teacher's
// `slog.New(slog.NewTextHandler(...))` setup in cmd/gateway.go with
// one addition the teacher didn't need — DotClaw's attrs regularly
// carry raw API responses that can embed a leaked bearer token or API
// key, so every record passes through redactingHandler first.
func NewLogger(logPath string, verbose bool) (*slog.Logger, func() error, error) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	var w *os.File
	closer := func() error { return nil }
	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, err
		}
		w = f
		closer = f.Close
	} else {
		w = os.Stdout
	}

	base := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(&redactingHandler{next: base}), closer, nil
}

// secretPatterns catches the shapes of secret DotClaw handles: bearer
// tokens, OpenRouter/OpenAI-style API keys, and Telegram bot tokens.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)bearer\s+[a-z0-9._-]+`),
	regexp.MustCompile(`sk-[a-zA-Z0-9]{20,}`),
	regexp.MustCompile(`\d{6,10}:[A-Za-z0-9_-]{30,}`), // telegram bot token shape
}

// redactingHandler scrubs string attribute values matching
// secretPatterns before delegating to next.
type redactingHandler struct {
	next slog.Handler
}

func (h *redactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *redactingHandler) Handle(ctx context.Context, r slog.Record) error {
	redacted := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		redacted.AddAttrs(redactAttr(a))
		return true
	})
	return h.next.Handle(ctx, redacted)
}

func (h *redactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = redactAttr(a)
	}
	return &redactingHandler{next: h.next.WithAttrs(redacted)}
}

func (h *redactingHandler) WithGroup(name string) slog.Handler {
	return &redactingHandler{next: h.next.WithGroup(name)}
}

func redactAttr(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindString {
		a.Value = slog.StringValue(Redact(a.Value.String()))
	}
	return a
}

// Redact scrubs any recognizable secret substring in s, for use
// anywhere a raw upstream error or response body is logged.
func Redact(s string) string {
	for _, re := range secretPatterns {
		s = re.ReplaceAllString(s, "[redacted]")
	}
	return s
}
