package foreman

import (
	"context"
	"log/slog"
	"regexp"
)

// keyPatterns match provider credential shapes that must never reach log
// output: Anthropic (sk-ant-...), OpenAI (sk-...), and Google (AIza...).
var keyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-ant-[A-Za-z0-9_-]{8,}`),
	regexp.MustCompile(`sk-[A-Za-z0-9_-]{16,}`),
	regexp.MustCompile(`AIza[A-Za-z0-9_-]{20,}`),
}

const redacted = "[REDACTED]"

// KeyScrubHandler wraps a slog.Handler and redacts provider API keys from
// messages and string attribute values before they are emitted. BYOK means
// raw credentials pass through request handling; this is the backstop
// against them leaking into logs.
type KeyScrubHandler struct {
	inner slog.Handler
}

// NewKeyScrubHandler wraps inner with credential redaction.
func NewKeyScrubHandler(inner slog.Handler) *KeyScrubHandler {
	return &KeyScrubHandler{inner: inner}
}

func (h *KeyScrubHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *KeyScrubHandler) Handle(ctx context.Context, r slog.Record) error {
	clean := slog.NewRecord(r.Time, r.Level, scrub(r.Message), r.PC)
	r.Attrs(func(a slog.Attr) bool {
		clean.AddAttrs(scrubAttr(a))
		return true
	})
	return h.inner.Handle(ctx, clean)
}

func (h *KeyScrubHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	scrubbed := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		scrubbed[i] = scrubAttr(a)
	}
	return &KeyScrubHandler{inner: h.inner.WithAttrs(scrubbed)}
}

func (h *KeyScrubHandler) WithGroup(name string) slog.Handler {
	return &KeyScrubHandler{inner: h.inner.WithGroup(name)}
}

func scrubAttr(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindString {
		return slog.String(a.Key, scrub(a.Value.String()))
	}
	return a
}

func scrub(s string) string {
	for _, p := range keyPatterns {
		s = p.ReplaceAllString(s, redacted)
	}
	return s
}

var _ slog.Handler = (*KeyScrubHandler)(nil)
