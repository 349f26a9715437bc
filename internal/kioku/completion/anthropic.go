package completion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/bdobrica/kioku/common/version"
)

const defaultAnthropicModel = "claude-3-5-haiku-latest"

// AnthropicConfig configures the Anthropic Messages API provider.
type AnthropicConfig struct {
	APIKey string
	// BaseURL overrides the API endpoint (proxies, tests).
	BaseURL string
	// Model defaults to claude-3-5-haiku-latest.
	Model string
	// Timeout is the HTTP client timeout.  Defaults to 30 s.
	Timeout time.Duration
	// HTTPClient replaces the default client (tests, custom transports).
	HTTPClient *http.Client
}

// Anthropic implements Provider with the official Anthropic SDK.  The SDK's
// built-in retries are disabled so the caller's retry policy stays the only
// one in effect.
type Anthropic struct {
	client anthropic.Client
	model  string
}

var _ Provider = (*Anthropic)(nil)

// NewAnthropic returns a Provider backed by the Anthropic Messages API.
func NewAnthropic(cfg AnthropicConfig) *Anthropic {
	if cfg.Model == "" {
		cfg.Model = defaultAnthropicModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
		option.WithHeader("User-Agent", version.UserAgent()),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Anthropic{
		client: anthropic.NewClient(opts...),
		model:  cfg.Model,
	}
}

// Complete sends the prompt to the Messages API.  System messages are lifted
// into the top-level system prompt.
func (p *Anthropic) Complete(ctx context.Context, req Request) (*Response, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(req.MaxTokens),
	}
	if params.MaxTokens <= 0 {
		params.MaxTokens = defaultMaxTokens
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			params.System = append(params.System, anthropic.TextBlockParam{Text: m.Content})
		case RoleAssistant:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	start := time.Now()
	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, p.classify(ctx, err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(tb.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return nil, &MalformedResponseError{Reason: "empty completion"}
	}

	return &Response{
		Content: text.String(),
		Usage: TokenUsage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
			Model:            string(msg.Model),
			LatencyMS:        time.Since(start).Milliseconds(),
		},
	}, nil
}

func (p *Anthropic) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("completion: anthropic: %w", ctx.Err())
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		header := http.Header{}
		if apiErr.Response != nil {
			header = apiErr.Response.Header
		}
		return classifyStatus(apiErr.StatusCode, header, http.StatusText(apiErr.StatusCode))
	}
	return &ProviderError{Retriable: true, Message: "anthropic request failed", Err: err}
}
