package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bdobrica/kioku/common/version"
)

const (
	defaultOpenAIBase  = "https://api.openai.com/v1"
	defaultOpenAIModel = "gpt-4o-mini"
	defaultTimeout     = 30 * time.Second
	defaultMaxTokens   = 1024
)

// OpenAIConfig configures the OpenAI-compatible chat completions provider.
type OpenAIConfig struct {
	// APIKey is the bearer token used to authenticate against the API.
	APIKey string

	// BaseURL overrides the API endpoint.  Useful for local models (Ollama),
	// Azure OpenAI, or any other OpenAI-compatible endpoint.
	// Defaults to https://api.openai.com/v1 when empty.
	BaseURL string

	// Model is the chat model to use.  Defaults to gpt-4o-mini.
	Model string

	// Timeout is the HTTP client timeout.  Defaults to 30 s.  The caller's
	// context deadline still applies when it is shorter.
	Timeout time.Duration

	// HTTPClient replaces the default client (tests, custom transports).
	HTTPClient *http.Client
}

// OpenAI implements Provider against the OpenAI chat completions API.
type OpenAI struct {
	cfg    OpenAIConfig
	client *http.Client
}

var _ Provider = (*OpenAI)(nil)

// NewOpenAI returns a Provider backed by the OpenAI (or compatible) chat API.
// The returned provider is safe for concurrent use.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIBase
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &OpenAI{cfg: cfg, client: client}
}

// --- minimal OpenAI wire types ---

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiRequest struct {
	Model          string       `json:"model"`
	Messages       []oaiMessage `json:"messages"`
	MaxTokens      int          `json:"max_tokens,omitempty"`
	ResponseFormat *oaiFormat   `json:"response_format,omitempty"`
}

type oaiFormat struct {
	Type string `json:"type"`
}

type oaiResponse struct {
	Model   string      `json:"model"`
	Choices []oaiChoice `json:"choices"`
	Usage   *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
	Error *oaiError `json:"error,omitempty"`
}

type oaiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type oaiChoice struct {
	Message      oaiMessage `json:"message"`
	FinishReason string     `json:"finish_reason"`
}

// Complete sends the prompt to /chat/completions.
func (p *OpenAI) Complete(ctx context.Context, req Request) (*Response, error) {
	body := oaiRequest{
		Model:     p.cfg.Model,
		Messages:  make([]oaiMessage, 0, len(req.Messages)),
		MaxTokens: req.MaxTokens,
	}
	if body.MaxTokens <= 0 {
		body.MaxTokens = defaultMaxTokens
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, oaiMessage{Role: string(m.Role), Content: m.Content})
	}
	if req.ResponseFormat == FormatJSON {
		body.ResponseFormat = &oaiFormat{Type: string(FormatJSON)}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("completion: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.cfg.BaseURL+"/chat/completions",
		bytes.NewReader(data),
	)
	if err != nil {
		return nil, fmt.Errorf("completion: create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", version.UserAgent())
	if p.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("completion: http request: %w", ctx.Err())
		}
		return nil, &ProviderError{Retriable: true, Message: "http request failed", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{StatusCode: resp.StatusCode, Retriable: true, Message: "read response body", Err: err}
	}

	var oaiResp oaiResponse
	decodeErr := json.Unmarshal(respBody, &oaiResp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := http.StatusText(resp.StatusCode)
		if decodeErr == nil && oaiResp.Error != nil {
			msg = oaiResp.Error.Message
		}
		return nil, classifyStatus(resp.StatusCode, resp.Header, msg)
	}
	if decodeErr != nil {
		return nil, &MalformedResponseError{Reason: "decode API response", Raw: string(respBody), Err: decodeErr}
	}
	if oaiResp.Error != nil {
		return nil, &ProviderError{StatusCode: resp.StatusCode, Message: oaiResp.Error.Message}
	}
	if len(oaiResp.Choices) == 0 {
		return nil, &MalformedResponseError{Reason: "no choices returned", Err: errors.New("empty choices")}
	}

	out := &Response{
		Content: oaiResp.Choices[0].Message.Content,
		Usage: TokenUsage{
			Model:     oaiResp.Model,
			LatencyMS: time.Since(start).Milliseconds(),
		},
	}
	if oaiResp.Usage != nil {
		out.Usage.PromptTokens = oaiResp.Usage.PromptTokens
		out.Usage.CompletionTokens = oaiResp.Usage.CompletionTokens
		out.Usage.TotalTokens = oaiResp.Usage.TotalTokens
	}
	if strings.TrimSpace(out.Content) == "" {
		return nil, &MalformedResponseError{Reason: "empty completion"}
	}
	return out, nil
}
