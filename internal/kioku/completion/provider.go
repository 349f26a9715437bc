// Package completion is the adapter layer between kioku and the language
// model completion service used for summarization.
//
// Every backend maps its failures onto the same small error vocabulary so
// callers can apply one retry and degradation policy:
//   - *ProviderError: non-2xx responses and transport failures, with a
//     Retriable classification.
//   - *RateLimitError: HTTP 429, always retriable, carries Retry-After.
//   - *MalformedResponseError: a 2xx response whose body cannot be used.
//
// Providers never retry on their own; retries belong to the caller
// (see common/retry).
package completion

import (
	"context"
)

// Role identifies the author of a prompt message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Format is a hint for the shape of the completion output.
type Format string

const (
	// FormatText asks for free-form text (the default).
	FormatText Format = ""
	// FormatJSON asks for a single JSON object. Backends without a native
	// JSON mode rely on the prompt alone.
	FormatJSON Format = "json_object"
)

// Message is a single prompt message.
type Message struct {
	Role    Role
	Content string
}

// Request is the input to a single completion call.
type Request struct {
	Messages []Message
	// ResponseFormat is a hint; see Format.
	ResponseFormat Format
	// MaxTokens caps the generated output. Zero selects the backend default.
	MaxTokens int
}

// TokenUsage carries the token counts reported by the upstream API for a
// single call.  Fields are zero-valued when the provider does not report
// usage data.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	// Model is the model name as reported by the provider.
	Model string
	// LatencyMS is the observed round-trip time in milliseconds.
	LatencyMS int64
}

// Response is the output of a completion call.
type Response struct {
	Content string
	Usage   TokenUsage
}

// Provider sends a prompt to a language model and returns its completion.
//
// Implementations must be safe for concurrent use from multiple goroutines
// and must honour ctx cancellation.
type Provider interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}
