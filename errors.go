package foreman

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrNotFound is returned by repositories when an entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrNotPendingApproval is returned when a human decision arrives for a task
// that is not waiting on one.
var ErrNotPendingApproval = errors.New("task is not pending human approval")

// ErrLLM reports a protocol-level provider failure (bad payload, decode error).
type ErrLLM struct {
	Provider string
	Message  string
}

func (e *ErrLLM) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// ErrHTTP reports a non-2xx provider response. RetryAfter carries the parsed
// Retry-After header so the retry wrapper can honor server pacing.
type ErrHTTP struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// ParseRetryAfter parses a Retry-After header value given in seconds.
// HTTP-date values and garbage yield zero.
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// AutoTaskError reports a lineage-safety violation during task creation.
// Rule names the guard that tripped; the message is safe to surface to
// callers (HTTP 400) and to agent tools (as a string result).
type AutoTaskError struct {
	Rule   string
	Detail string
}

func (e *AutoTaskError) Error() string {
	return fmt.Sprintf("auto-task policy %s: %s", e.Rule, e.Detail)
}

// IsAutoTaskError reports whether err is (or wraps) an AutoTaskError.
func IsAutoTaskError(err error) bool {
	var e *AutoTaskError
	return errors.As(err, &e)
}
