package foreman

import (
	"context"
	"sync"
)

// fakeProvider replays scripted responses and records requests. Shared by the
// supervisor, summarizer, and retry tests.
type fakeProvider struct {
	name string

	mu        sync.Mutex
	responses []ChatResponse
	errs      []error
	calls     int
	requests  []ChatRequest
}

func (p *fakeProvider) Name() string {
	if p.name == "" {
		return "fake"
	}
	return p.name
}

func (p *fakeProvider) Chat(_ context.Context, req ChatRequest) (ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.calls
	p.calls++
	p.requests = append(p.requests, req)
	if i < len(p.errs) && p.errs[i] != nil {
		return ChatResponse{}, p.errs[i]
	}
	if i < len(p.responses) {
		return p.responses[i], nil
	}
	if len(p.responses) > 0 {
		return p.responses[len(p.responses)-1], nil
	}
	return ChatResponse{}, nil
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

var _ Provider = (*fakeProvider)(nil)
