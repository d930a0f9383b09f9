// Package openaicompat implements foreman.Provider for any OpenAI-compatible
// chat completions API.
//
// Works with OpenAI, Groq, Together, DeepSeek, Mistral, Ollama, vLLM, and any
// other backend that implements the /chat/completions contract.
package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	foreman "github.com/mkarlsen/foreman"
)

// Provider implements foreman.Provider over an OpenAI-compatible endpoint.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	name    string
}

// Option configures a Provider.
type Option func(*Provider)

// WithName overrides the provider family name (default "openai"). Used when
// the same wire protocol serves groq, ollama, and friends.
func WithName(name string) Option {
	return func(p *Provider) { p.name = name }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// New creates a provider. baseURL is the API base (e.g.
// "https://api.openai.com/v1"); the /chat/completions path is appended.
func New(apiKey, model, baseURL string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		client:  &http.Client{},
		name:    "openai",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider family name.
func (p *Provider) Name() string { return p.name }

// --- Wire types ---

type wireRequest struct {
	Model     string        `json:"model"`
	Messages  []wireMessage `json:"messages"`
	Tools     []wireTool    `json:"tools,omitempty"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message wireMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Chat sends a non-streaming request and returns the parsed response.
func (p *Provider) Chat(ctx context.Context, req foreman.ChatRequest) (foreman.ChatResponse, error) {
	body := wireRequest{
		Model:     p.model,
		Messages:  buildMessages(req.Messages),
		Tools:     buildTools(req.Tools),
		MaxTokens: req.MaxTokens,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return foreman.ChatResponse{}, &foreman.ErrLLM{Provider: p.name, Message: fmt.Sprintf("marshal request: %v", err)}
	}

	url := p.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return foreman.ChatResponse{}, &foreman.ErrLLM{Provider: p.name, Message: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return foreman.ChatResponse{}, &foreman.ErrLLM{Provider: p.name, Message: fmt.Sprintf("send request: %v", err)}
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
		return foreman.ChatResponse{}, &foreman.ErrLLM{Provider: p.name, Message: fmt.Sprintf("decode response: %v", err)}
	}
	return parseResponse(wire, p.name)
}

// buildMessages maps engine messages onto the wire shape.
func buildMessages(messages []foreman.ChatMessage) []wireMessage {
	out := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		wm := wireMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			var wtc wireToolCall
			wtc.ID = tc.ID
			wtc.Type = "function"
			wtc.Function.Name = tc.Name
			wtc.Function.Arguments = string(tc.Args)
			wm.ToolCalls = append(wm.ToolCalls, wtc)
		}
		out = append(out, wm)
	}
	return out
}

func buildTools(defs []foreman.ToolDefinition) []wireTool {
	if len(defs) == 0 {
		return nil
	}
	out := make([]wireTool, len(defs))
	for i, d := range defs {
		out[i] = wireTool{Type: "function", Function: wireFunction{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.Parameters,
		}}
	}
	return out
}

// parseResponse converts a wire response into the engine shape.
func parseResponse(wire wireResponse, name string) (foreman.ChatResponse, error) {
	if len(wire.Choices) == 0 {
		return foreman.ChatResponse{}, &foreman.ErrLLM{Provider: name, Message: "response has no choices"}
	}
	msg := wire.Choices[0].Message

	out := foreman.ChatResponse{
		Content: foreman.TextContent(msg.Content),
		Model:   wire.Model,
		Usage: foreman.Usage{
			InputTokens:  wire.Usage.PromptTokens,
			OutputTokens: wire.Usage.CompletionTokens,
		},
	}
	for _, tc := range msg.ToolCalls {
		args := tc.Function.Arguments
		if args == "" {
			args = "{}"
		}
		out.ToolCalls = append(out.ToolCalls, foreman.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: json.RawMessage(args),
		})
	}
	return out, nil
}

// Compile-time interface check.
var _ foreman.Provider = (*Provider)(nil)
