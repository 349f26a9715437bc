package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bdobrica/kioku/internal/kioku/completion"
)

const (
	defaultSummaryMaxTokens = 1024

	summarizerSystemPrompt = `You maintain the running memory of a conversation between a user and an assistant.

Merge the previous summary (if any) with the new messages into ONE coherent narrative summary.
Preserve facts, names, numbers, open questions and decisions. Do not invent anything.

Respond ONLY with a JSON object of this exact shape, no markdown and no extra keys:
{
  "summary": "<merged narrative summary>",
  "topics_covered": ["<short topic>", ...],
  "key_questions": ["<question the user asked>", ...],
  "important_decisions": ["<decision or conclusion reached>", ...]
}`
)

// LLMSummarizerConfig configures the completion-backed summarizer.
type LLMSummarizerConfig struct {
	// MaxTokens caps the summary completion.  Defaults to 1024.
	MaxTokens int
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// LLMSummarizer implements Summarizer with a completion.Provider and strict
// JSON-schema validation of the model output.
type LLMSummarizer struct {
	provider  completion.Provider
	maxTokens int
	logger    *slog.Logger
	now       func() time.Time
}

var _ Summarizer = (*LLMSummarizer)(nil)

// NewLLMSummarizer returns a summarizer that calls provider.  The returned
// summarizer is safe for concurrent use when provider is.
func NewLLMSummarizer(provider completion.Provider, cfg LLMSummarizerConfig) *LLMSummarizer {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultSummaryMaxTokens
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &LLMSummarizer{provider: provider, maxTokens: cfg.MaxTokens, logger: cfg.Logger, now: cfg.Now}
}

// summaryPayload is the validated model output.
type summaryPayload struct {
	Summary            string   `json:"summary"`
	TopicsCovered      []string `json:"topics_covered"`
	KeyQuestions       []string `json:"key_questions"`
	ImportantDecisions []string `json:"important_decisions"`
}

// Summarize makes exactly one completion call; retries are the caller's
// concern.
func (s *LLMSummarizer) Summarize(ctx context.Context, messages []Message, prior *ConversationSummary) (*ConversationSummary, error) {
	resp, err := s.provider.Complete(ctx, completion.Request{
		Messages: []completion.Message{
			{Role: completion.RoleSystem, Content: summarizerSystemPrompt},
			{Role: completion.RoleUser, Content: buildSummaryPrompt(messages, prior)},
		},
		ResponseFormat: completion.FormatJSON,
		MaxTokens:      s.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("memory: summarize: %w", err)
	}

	payload, err := parseSummaryPayload(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("memory: summarize: %w", err)
	}

	s.logger.Debug("memory: summary generated",
		"messages", len(messages),
		"has_prior", prior != nil,
		"summary_chars", len(payload.Summary),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens)

	return Merge(prior, messages, ConversationSummary{
		Content:            payload.Summary,
		TopicsCovered:      payload.TopicsCovered,
		KeyQuestions:       payload.KeyQuestions,
		ImportantDecisions: payload.ImportantDecisions,
		GenerationMethod:   GenerationLLM,
	}, s.now()), nil
}

func buildSummaryPrompt(messages []Message, prior *ConversationSummary) string {
	var b strings.Builder
	if prior != nil && prior.Content != "" {
		b.WriteString("Previous summary:\n")
		b.WriteString(prior.Content)
		b.WriteString("\n\n")
		writeList(&b, "Topics so far", prior.TopicsCovered)
		writeList(&b, "Key questions so far", prior.KeyQuestions)
		writeList(&b, "Decisions so far", prior.ImportantDecisions)
	} else {
		b.WriteString("Previous summary: (none)\n\n")
	}
	b.WriteString("New messages:\n")
	b.WriteString(formatTranscript(messages))
	return b.String()
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString(title)
	b.WriteString(":\n")
	for _, it := range items {
		b.WriteString("- ")
		b.WriteString(it)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
}

// parseSummaryPayload strips an optional markdown fence, then validates the
// JSON against summarySchema before decoding it.
func parseSummaryPayload(raw string) (*summaryPayload, error) {
	content := stripCodeFence(raw)

	var doc any
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return nil, &completion.MalformedResponseError{Reason: "invalid JSON", Raw: raw, Err: err}
	}
	if err := summarySchema.Validate(doc); err != nil {
		return nil, &completion.MalformedResponseError{Reason: "schema validation failed", Raw: raw, Err: err}
	}

	var p summaryPayload
	if err := json.Unmarshal([]byte(content), &p); err != nil {
		return nil, &completion.MalformedResponseError{Reason: "decode summary", Raw: raw, Err: err}
	}
	if strings.TrimSpace(p.Summary) == "" {
		return nil, &completion.MalformedResponseError{Reason: "blank summary", Raw: raw}
	}
	return &p, nil
}

// stripCodeFence removes a surrounding ```json ... ``` block, if any.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
