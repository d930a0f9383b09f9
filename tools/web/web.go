// Package web provides the http_fetch tool: fetch a URL and extract its
// readable text content.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"

	foreman "github.com/mkarlsen/foreman"
)

const maxFetchChars = 8000

// Tool fetches URLs and extracts readable content.
type Tool struct {
	client *http.Client
}

// New creates the tool with a 15-second timeout.
func New() *Tool {
	return &Tool{
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

func (t *Tool) Definitions() []foreman.ToolDefinition {
	return []foreman.ToolDefinition{{
		Name:        "http_fetch",
		Description: "Fetch a URL and extract its readable text content. Use for reading web pages, articles, documentation.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"url":{"type":"string","description":"URL to fetch"}},"required":["url"]}`),
	}}
}

func (t *Tool) Execute(ctx context.Context, call foreman.ToolInvocation) (foreman.ToolResult, error) {
	var params struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(call.Args, &params); err != nil {
		return foreman.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}

	content, err := t.Fetch(ctx, params.URL)
	if err != nil {
		return foreman.ToolResult{Error: err.Error()}, nil
	}
	if len(content) > maxFetchChars {
		content = content[:maxFetchChars] + "\n... (truncated)"
	}
	return foreman.ToolResult{Content: content}, nil
}

// Fetch downloads a URL and extracts readable text.
func (t *Tool) Fetch(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; ForemanBot/1.0)")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("HTTP %d from %s", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1MB limit
	if err != nil {
		return "", fmt.Errorf("read error: %w", err)
	}
	html := string(body)

	parsedURL, _ := url.Parse(rawURL)
	article, err := readability.FromReader(strings.NewReader(html), parsedURL)
	if err == nil && article.TextContent != "" {
		return strings.TrimSpace(article.TextContent), nil
	}

	// Fallback: simple HTML stripping.
	return stripHTML(html), nil
}

var (
	tagRe   = regexp.MustCompile(`(?s)<(script|style)[^>]*>.*?</(script|style)>`)
	htmlRe  = regexp.MustCompile(`<[^>]+>`)
	spaceRe = regexp.MustCompile(`\s+`)
)

func stripHTML(html string) string {
	s := tagRe.ReplaceAllString(html, " ")
	s = htmlRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

var _ foreman.Tool = (*Tool)(nil)
