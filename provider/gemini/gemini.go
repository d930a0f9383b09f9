// Package gemini implements foreman.Provider over the Google Gemini
// generateContent API. Roles map user/model, tool calls round-trip through
// functionCall / functionResponse parts, and the system prompt goes into
// systemInstruction.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	foreman "github.com/mkarlsen/foreman"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Provider implements foreman.Provider for Gemini models.
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

// New creates a Gemini provider.
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

// Name returns "gemini".
func (p *Provider) Name() string { return "gemini" }

// --- Wire types ---

type wireRequest struct {
	SystemInstruction *wireContent     `json:"systemInstruction,omitempty"`
	Contents          []wireContent    `json:"contents"`
	Tools             []wireToolGroup  `json:"tools,omitempty"`
	GenerationConfig  *wireGenConfig   `json:"generationConfig,omitempty"`
}

type wireGenConfig struct {
	MaxOutputTokens int `json:"maxOutputTokens,omitempty"`
}

type wireContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []wirePart `json:"parts"`
}

type wirePart struct {
	Text             string            `json:"text,omitempty"`
	FunctionCall     *wireFunctionCall `json:"functionCall,omitempty"`
	FunctionResponse *wireFunctionResp `json:"functionResponse,omitempty"`
}

type wireFunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type wireFunctionResp struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type wireToolGroup struct {
	FunctionDeclarations []wireFunctionDecl `json:"functionDeclarations"`
}

type wireFunctionDecl struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type wireResponse struct {
	Candidates []struct {
		Content wireContent `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}

// Chat sends a generateContent request and normalizes the candidate parts.
func (p *Provider) Chat(ctx context.Context, req foreman.ChatRequest) (foreman.ChatResponse, error) {
	body := buildRequest(req)
	payload, err := json.Marshal(body)
	if err != nil {
		return foreman.ChatResponse{}, &foreman.ErrLLM{Provider: "gemini", Message: fmt.Sprintf("marshal request: %v", err)}
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", p.baseURL, p.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return foreman.ChatResponse{}, &foreman.ErrLLM{Provider: "gemini", Message: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return foreman.ChatResponse{}, &foreman.ErrLLM{Provider: "gemini", Message: fmt.Sprintf("send request: %v", err)}
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
		return foreman.ChatResponse{}, &foreman.ErrLLM{Provider: "gemini", Message: fmt.Sprintf("decode response: %v", err)}
	}
	return parseResponse(wire)
}

// buildRequest maps the engine conversation onto the Gemini shape. Assistant
// messages use role "model"; tool results become functionResponse parts from
// the user role. Tool call IDs do not exist on this wire, so the function
// name carries the correlation.
func buildRequest(req foreman.ChatRequest) wireRequest {
	var out wireRequest
	if req.MaxTokens > 0 {
		out.GenerationConfig = &wireGenConfig{MaxOutputTokens: req.MaxTokens}
	}

	// ToolCallID -> function name, for functionResponse correlation.
	callNames := make(map[string]string)

	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			if out.SystemInstruction == nil {
				out.SystemInstruction = &wireContent{Parts: []wirePart{{Text: m.Content}}}
			} else {
				out.SystemInstruction.Parts = append(out.SystemInstruction.Parts, wirePart{Text: m.Content})
			}
		case "assistant":
			wc := wireContent{Role: "model"}
			if m.Content != "" {
				wc.Parts = append(wc.Parts, wirePart{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				callNames[tc.ID] = tc.Name
				args := tc.Args
				if len(args) == 0 {
					args = json.RawMessage("{}")
				}
				wc.Parts = append(wc.Parts, wirePart{FunctionCall: &wireFunctionCall{Name: tc.Name, Args: args}})
			}
			out.Contents = append(out.Contents, wc)
		case "tool":
			out.Contents = append(out.Contents, wireContent{Role: "user", Parts: []wirePart{{
				FunctionResponse: &wireFunctionResp{
					Name:     callNames[m.ToolCallID],
					Response: map[string]any{"result": m.Content},
				},
			}}})
		default:
			out.Contents = append(out.Contents, wireContent{Role: "user", Parts: []wirePart{{Text: m.Content}}})
		}
	}

	if len(req.Tools) > 0 {
		decls := make([]wireFunctionDecl, len(req.Tools))
		for i, d := range req.Tools {
			decls[i] = wireFunctionDecl{Name: d.Name, Description: d.Description, Parameters: d.Parameters}
		}
		out.Tools = []wireToolGroup{{FunctionDeclarations: decls}}
	}
	return out
}

// parseResponse flattens the first candidate. Function calls get synthetic
// IDs because the wire has none.
func parseResponse(wire wireResponse) (foreman.ChatResponse, error) {
	if len(wire.Candidates) == 0 {
		return foreman.ChatResponse{}, &foreman.ErrLLM{Provider: "gemini", Message: "response has no candidates"}
	}

	out := foreman.ChatResponse{
		Model: wire.ModelVersion,
		Usage: foreman.Usage{
			InputTokens:  wire.UsageMetadata.PromptTokenCount,
			OutputTokens: wire.UsageMetadata.CandidatesTokenCount,
		},
	}
	var blocks []foreman.Block
	for _, part := range wire.Candidates[0].Content.Parts {
		switch {
		case part.FunctionCall != nil:
			args := part.FunctionCall.Args
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			out.ToolCalls = append(out.ToolCalls, foreman.ToolCall{
				ID:   "call_" + foreman.NewID(),
				Name: part.FunctionCall.Name,
				Args: args,
			})
		case part.Text != "":
			blocks = append(blocks, foreman.Block{Type: "text", Text: part.Text})
		}
	}
	out.Content = foreman.BlockContent(blocks...)
	return out, nil
}

// Compile-time interface check.
var _ foreman.Provider = (*Provider)(nil)
