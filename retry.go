package foreman

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"
)

// maxRetryDelay caps the backoff between provider retry attempts.
const maxRetryDelay = 30 * time.Second

// retryProvider wraps a Provider and automatically retries transient HTTP
// errors (429 Too Many Requests, 503 Service Unavailable, and other 5xx)
// with exponential backoff.
type retryProvider struct {
	inner       Provider
	maxAttempts int
	baseDelay   time.Duration
	logger      *slog.Logger // nil = nopLogger
}

// RetryOption configures a retryProvider.
type RetryOption func(*retryProvider)

// RetryMaxAttempts sets the maximum number of attempts (default: 3).
func RetryMaxAttempts(n int) RetryOption {
	return func(r *retryProvider) { r.maxAttempts = n }
}

// RetryBaseDelay sets the initial backoff delay before the second attempt
// (default: 1s). Each subsequent delay doubles, capped at 30s.
func RetryBaseDelay(d time.Duration) RetryOption {
	return func(r *retryProvider) { r.baseDelay = d }
}

// RetryLogger sets the structured logger for retry events. Retries log at
// WARN level; final failures after exhausting attempts log at ERROR.
func RetryLogger(l *slog.Logger) RetryOption {
	return func(r *retryProvider) { r.logger = l }
}

// WithRetry wraps p with automatic retry on transient HTTP errors. Retries
// use exponential backoff with jitter; when the error includes a Retry-After
// duration the delay is at least that long. Compose with any Provider:
//
//	llm = foreman.WithRetry(anthropic.New(apiKey, model))
//	llm = foreman.WithRetry(anthropic.New(apiKey, model), foreman.RetryMaxAttempts(5))
func WithRetry(p Provider, opts ...RetryOption) Provider {
	r := &retryProvider{
		inner:       p,
		maxAttempts: 3,
		baseDelay:   time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = nopLogger
	}
	return r
}

// Name delegates to the inner provider.
func (r *retryProvider) Name() string { return r.inner.Name() }

// Chat implements Provider with retry.
func (r *retryProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	var last error
	for i := 0; i < r.maxAttempts; i++ {
		resp, err := r.inner.Chat(ctx, req)
		if err == nil || !isTransient(err) {
			return resp, err
		}
		last = err
		r.logger.Warn("retrying transient error",
			"provider", r.inner.Name(),
			"status", statusOf(err),
			"attempt", i+1,
			"max_attempts", r.maxAttempts)
		if i < r.maxAttempts-1 {
			timer := time.NewTimer(retryDelay(r.baseDelay, i, err))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ChatResponse{}, ctx.Err()
			case <-timer.C:
			}
		}
	}
	r.logger.Error("all retry attempts exhausted",
		"provider", r.inner.Name(),
		"attempts", r.maxAttempts,
		"error", last)
	return ChatResponse{}, last
}

// isTransient reports whether err is a retryable HTTP error: 429, 503, or
// any other 5xx (connection-level failures surface before a status exists
// and are wrapped as ErrHTTP 0 by providers only when a response was read).
func isTransient(err error) bool {
	var e *ErrHTTP
	if !errors.As(err, &e) {
		return false
	}
	return e.Status == 429 || e.Status >= 500
}

// statusOf extracts the HTTP status code from an ErrHTTP, or 0.
func statusOf(err error) int {
	var e *ErrHTTP
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// retryAfterOf extracts the Retry-After duration from an ErrHTTP, or 0.
func retryAfterOf(err error) time.Duration {
	var e *ErrHTTP
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

// retryDelay computes the delay before retry attempt i, using exponential
// backoff as a floor and the server's Retry-After value (if present) as a
// minimum. The effective delay is max(backoff, retryAfter), capped at 30s.
func retryDelay(base time.Duration, i int, err error) time.Duration {
	delay := retryBackoff(base, i)
	if ra := retryAfterOf(err); ra > delay {
		delay = ra
	}
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay
}

// retryBackoff returns the delay for retry i (0-indexed).
// Exponential: base * 2^i, plus up to 50% random jitter.
func retryBackoff(base time.Duration, i int) time.Duration {
	exp := base * (1 << i)
	jitter := time.Duration(rand.Int63n(int64(exp)/2 + 1))
	return exp + jitter
}

// compile-time check
var _ Provider = (*retryProvider)(nil)
