package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const validateTimeout = 10 * time.Second

// handleValidateKey checks a provider credential by listing models with it.
// The result is {valid, error}; transport failures count as invalid, not 5xx.
func (s *Server) handleValidateKey(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Provider string `json:"provider"`
		Key      string `json:"key"`
	}
	if !decodeBody(w, r, &in) {
		return
	}
	if in.Key == "" {
		writeJSON(w, http.StatusOK, map[string]any{"valid": false, "error": "key is required"})
		return
	}

	err := validateKey(r, in.Provider, in.Key)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"valid": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": true})
}

func validateKey(r *http.Request, provider, key string) error {
	var req *http.Request
	var err error
	switch provider {
	case "openai":
		req, err = http.NewRequestWithContext(r.Context(), http.MethodGet, "https://api.openai.com/v1/models", nil)
		if err == nil {
			req.Header.Set("Authorization", "Bearer "+key)
		}
	case "anthropic":
		req, err = http.NewRequestWithContext(r.Context(), http.MethodGet, "https://api.anthropic.com/v1/models", nil)
		if err == nil {
			req.Header.Set("x-api-key", key)
			req.Header.Set("anthropic-version", "2023-06-01")
		}
	case "google", "gemini":
		req, err = http.NewRequestWithContext(r.Context(), http.MethodGet,
			"https://generativelanguage.googleapis.com/v1beta/models?key="+url.QueryEscape(key), nil)
	default:
		return errors.New("unknown provider: " + provider)
	}
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: validateTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("provider returned HTTP %d", resp.StatusCode)
	}
	return nil
}
