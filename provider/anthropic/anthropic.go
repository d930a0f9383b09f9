// Package anthropic implements foreman.Provider over the Anthropic Messages
// API. System messages map to the top-level system field; tool calls and
// results round-trip through tool_use / tool_result content blocks.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	foreman "github.com/mkarlsen/foreman"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 4096
)

// Provider implements foreman.Provider for Anthropic models.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// Option configures a Provider.
type Option func(*Provider)

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// New creates an Anthropic provider.
func New(apiKey, model string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   model,
		baseURL: defaultBaseURL,
		client:  &http.Client{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns "anthropic".
func (p *Provider) Name() string { return "anthropic" }

// --- Wire types ---

type wireRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	System    string        `json:"system,omitempty"`
	Messages  []wireMessage `json:"messages"`
	Tools     []wireTool    `json:"tools,omitempty"`
}

type wireMessage struct {
	Role    string      `json:"role"`
	Content []wireBlock `json:"content"`
}

type wireBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	// tool_use (assistant -> caller)
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result (caller -> assistant)
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

type wireTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type wireResponse struct {
	Model   string      `json:"model"`
	Content []wireBlock `json:"content"`
	Usage   struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Chat sends a messages request and normalizes the block response.
func (p *Provider) Chat(ctx context.Context, req foreman.ChatRequest) (foreman.ChatResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	system, messages := buildMessages(req.Messages)
	body := wireRequest{
		Model:     p.model,
		MaxTokens: maxTokens,
		System:    system,
		Messages:  messages,
		Tools:     buildTools(req.Tools),
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return foreman.ChatResponse{}, &foreman.ErrLLM{Provider: "anthropic", Message: fmt.Sprintf("marshal request: %v", err)}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return foreman.ChatResponse{}, &foreman.ErrLLM{Provider: "anthropic", Message: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return foreman.ChatResponse{}, &foreman.ErrLLM{Provider: "anthropic", Message: fmt.Sprintf("send request: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return foreman.ChatResponse{}, &foreman.ErrHTTP{
			Status:     resp.StatusCode,
			Body:       string(data),
			RetryAfter: foreman.ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var wire wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return foreman.ChatResponse{}, &foreman.ErrLLM{Provider: "anthropic", Message: fmt.Sprintf("decode response: %v", err)}
	}
	return parseResponse(wire), nil
}

// buildMessages splits out the system prompt and maps the conversation onto
// the Messages API shape. Tool results become user-role tool_result blocks.
func buildMessages(messages []foreman.ChatMessage) (string, []wireMessage) {
	var system string
	out := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			if system == "" {
				system = m.Content
			} else {
				system += "\n\n" + m.Content
			}
		case "assistant":
			wm := wireMessage{Role: "assistant"}
			if m.Content != "" {
				wm.Content = append(wm.Content, wireBlock{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				input := tc.Args
				if len(input) == 0 {
					input = json.RawMessage("{}")
				}
				wm.Content = append(wm.Content, wireBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: input})
			}
			out = append(out, wm)
		case "tool":
			out = append(out, wireMessage{Role: "user", Content: []wireBlock{{
				Type:      "tool_result",
				ToolUseID: m.ToolCallID,
				Content:   m.Content,
			}}})
		default:
			out = append(out, wireMessage{Role: "user", Content: []wireBlock{{Type: "text", Text: m.Content}}})
		}
	}
	return system, out
}

func buildTools(defs []foreman.ToolDefinition) []wireTool {
	if len(defs) == 0 {
		return nil
	}
	out := make([]wireTool, len(defs))
	for i, d := range defs {
		out[i] = wireTool{Name: d.Name, Description: d.Description, InputSchema: d.Parameters}
	}
	return out
}

// parseResponse normalizes the block sequence: text blocks become Content
// blocks (joined in order by Content.AsText), tool_use blocks become
// ToolCalls.
func parseResponse(wire wireResponse) foreman.ChatResponse {
	out := foreman.ChatResponse{
		Model: wire.Model,
		Usage: foreman.Usage{
			InputTokens:  wire.Usage.InputTokens,
			OutputTokens: wire.Usage.OutputTokens,
		},
	}
	var blocks []foreman.Block
	for _, b := range wire.Content {
		switch b.Type {
		case "text":
			blocks = append(blocks, foreman.Block{Type: "text", Text: b.Text})
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, foreman.ToolCall{ID: b.ID, Name: b.Name, Args: b.Input})
		}
	}
	out.Content = foreman.BlockContent(blocks...)
	return out
}

// Compile-time interface check.
var _ foreman.Provider = (*Provider)(nil)
