package foreman

import (
	"context"
	"log/slog"
	"unicode/utf8"
)

const (
	// summarizeInputCap bounds what we send to the summarizer model.
	summarizeInputCap = 8000
	// summarizeMaxTokens bounds the summary response.
	summarizeMaxTokens = 1024

	truncationMarker = "\n[... truncated ...]"
)

// Summarizer compresses oversized worker output before it reaches the
// supervisor. When the model call fails the text is hard-truncated instead;
// review must proceed either way.
type Summarizer struct {
	logger *slog.Logger
}

// NewSummarizer creates a summarizer. logger may be nil.
func NewSummarizer(logger *slog.Logger) *Summarizer {
	if logger == nil {
		logger = nopLogger
	}
	return &Summarizer{logger: logger}
}

// Summarize returns text unchanged when it fits within limit; otherwise it
// asks p for a summary and falls back to hard truncation on any error or
// empty response.
func (s *Summarizer) Summarize(ctx context.Context, p Provider, text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	input := cutAtRune(text, summarizeInputCap)
	resp, err := p.Chat(ctx, ChatRequest{
		Messages:  []ChatMessage{UserMessage(SummarizerPrompt(input))},
		MaxTokens: summarizeMaxTokens,
	})
	if err != nil || resp.Content.Empty() {
		s.logger.Warn("summarization failed, hard-truncating", "provider", p.Name(), "error", err)
		return Truncate(text, limit)
	}
	return resp.Content.AsText()
}

// Truncate hard-cuts text at limit bytes and appends the truncation marker.
// The cut never splits a multi-byte rune.
func Truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	return cutAtRune(text, limit) + truncationMarker
}

// truncateStr shortens s for event previews and trace attributes.
func truncateStr(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return cutAtRune(s, n) + "..."
}

// cutAtRune returns at most n leading bytes of s, backing the cut up to the
// nearest rune boundary so the result stays valid UTF-8.
func cutAtRune(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
