package completion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ProviderError is returned when the completion service answers with a
// non-2xx status or cannot be reached at all (StatusCode == 0).
type ProviderError struct {
	StatusCode int
	Retriable  bool
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString("completion: provider error")
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error { return e.Err }

// RateLimitError is the retriable ProviderError reported for HTTP 429.
// errors.As(err, &*ProviderError) also matches a RateLimitError.
type RateLimitError struct {
	ProviderError
	// RetryAfter is the server-advertised delay; zero when absent.
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("completion: rate limited (retry after %s): %s", e.RetryAfter, e.Message)
	}
	return "completion: rate limited: " + e.Message
}

func (e *RateLimitError) Unwrap() error { return &e.ProviderError }

// NewRateLimitError builds a RateLimitError for an HTTP 429 response.
func NewRateLimitError(message string, retryAfter time.Duration) *RateLimitError {
	return &RateLimitError{
		ProviderError: ProviderError{StatusCode: http.StatusTooManyRequests, Retriable: true, Message: message},
		RetryAfter:    retryAfter,
	}
}

// MalformedResponseError is returned when a successful response cannot be
// interpreted: an empty completion, invalid JSON, or output that does not
// satisfy the expected schema.
type MalformedResponseError struct {
	Reason string
	// Raw is the offending content, kept for debugging.
	Raw string
	Err error
}

func (e *MalformedResponseError) Error() string {
	msg := "completion: malformed response: " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Raw != "" {
		msg += fmt.Sprintf(" (raw content: %.200s)", e.Raw)
	}
	return msg
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// IsRetriable reports whether err is worth another attempt. Rate limits,
// malformed output, transport failures and per-attempt timeouts are
// retriable; non-retriable provider errors and caller cancellation are not.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return true
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retriable
	}
	return true
}

// RetryAfter returns the server-advertised delay carried by err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		return rl.RetryAfter, true
	}
	return 0, false
}

// classifyStatus maps an HTTP status onto a ProviderError. 408, 409 and all
// 5xx (including 529 overloaded) are retriable.
func classifyStatus(status int, header http.Header, message string) error {
	if status == http.StatusTooManyRequests {
		return NewRateLimitError(message, parseRetryAfter(header.Get("Retry-After"), time.Now()))
	}
	retriable := status >= 500 || status == http.StatusRequestTimeout || status == http.StatusConflict
	return &ProviderError{StatusCode: status, Retriable: retriable, Message: message}
}

// parseRetryAfter accepts both delta-seconds and HTTP-date forms.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
