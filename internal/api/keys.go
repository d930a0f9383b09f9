package api

import (
	"net/http"

	foreman "github.com/mkarlsen/foreman"
)

// BYOK headers. Header lookup is case-insensitive per net/http.
const (
	headerOpenAIKey    = "X-OpenAI-Key"
	headerAnthropicKey = "X-Anthropic-Key"
	headerGoogleKey    = "X-Google-Key"
)

// requestKeys captures per-request provider credentials from BYOK headers.
// The result is passed explicitly into engine calls so background fan-out
// inherits the caller's keys without ambient state.
func requestKeys(r *http.Request) foreman.RequestKeys {
	return foreman.RequestKeys{
		OpenAI:    r.Header.Get(headerOpenAIKey),
		Anthropic: r.Header.Get(headerAnthropicKey),
		Google:    r.Header.Get(headerGoogleKey),
	}
}
