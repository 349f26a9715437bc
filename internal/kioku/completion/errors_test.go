package completion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestRateLimitError_MatchesProviderError(t *testing.T) {
	var err error = fmt.Errorf("wrapped: %w", NewRateLimitError("slow down", 2*time.Second))

	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatal("expected errors.As to find *ProviderError")
	}
	if pe.StatusCode != http.StatusTooManyRequests || !pe.Retriable {
		t.Errorf("unexpected provider error: %+v", pe)
	}
	if d, ok := RetryAfter(err); !ok || d != 2*time.Second {
		t.Errorf("RetryAfter = %v, %v; want 2s, true", d, ok)
	}
}

func TestIsRetriable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limit", NewRateLimitError("", 0), true},
		{"server error", &ProviderError{StatusCode: 503, Retriable: true}, true},
		{"bad request", &ProviderError{StatusCode: 400}, false},
		{"malformed", &MalformedResponseError{Reason: "bad json"}, true},
		{"attempt timeout", context.DeadlineExceeded, true},
		{"cancelled", fmt.Errorf("x: %w", context.Canceled), false},
		{"unknown", errors.New("connection reset"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetriable(tt.err); got != tt.want {
				t.Errorf("IsRetriable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status    int
		retriable bool
	}{
		{400, false},
		{401, false},
		{404, false},
		{408, true},
		{500, true},
		{502, true},
		{529, true},
	}
	for _, tt := range tests {
		err := classifyStatus(tt.status, http.Header{}, "msg")
		var pe *ProviderError
		if !errors.As(err, &pe) {
			t.Fatalf("status %d: expected *ProviderError, got %T", tt.status, err)
		}
		if pe.Retriable != tt.retriable {
			t.Errorf("status %d: retriable = %v, want %v", tt.status, pe.Retriable, tt.retriable)
		}
	}

	h := http.Header{}
	h.Set("Retry-After", "3")
	var rl *RateLimitError
	if !errors.As(classifyStatus(429, h, "busy"), &rl) || rl.RetryAfter != 3*time.Second {
		t.Errorf("expected RateLimitError with 3s, got %+v", rl)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if got := parseRetryAfter("1.5", now); got != 1500*time.Millisecond {
		t.Errorf("seconds form: got %v", got)
	}
	if got := parseRetryAfter(now.Add(10*time.Second).Format(http.TimeFormat), now); got != 10*time.Second {
		t.Errorf("date form: got %v", got)
	}
	if got := parseRetryAfter("soon", now); got != 0 {
		t.Errorf("garbage: got %v", got)
	}
	if got := parseRetryAfter("", now); got != 0 {
		t.Errorf("empty: got %v", got)
	}
}

func TestMalformedResponseError_TruncatesRaw(t *testing.T) {
	raw := make([]byte, 500)
	for i := range raw {
		raw[i] = 'x'
	}
	msg := (&MalformedResponseError{Reason: "bad", Raw: string(raw)}).Error()
	if len(msg) > 300 {
		t.Errorf("error message not truncated: %d bytes", len(msg))
	}
}
