package memory

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Summarizer compresses messages into a summary that also absorbs prior.
//
// Implementations return errors from the completion package
// (*completion.ProviderError, *completion.RateLimitError,
// *completion.MalformedResponseError); the Manager decides whether to retry.
type Summarizer interface {
	Summarize(ctx context.Context, messages []Message, prior *ConversationSummary) (*ConversationSummary, error)
}

// SummarizationError is returned by PrepareContext in strict mode when every
// attempt failed.
type SummarizationError struct {
	Attempts int
	Err      error
}

func (e *SummarizationError) Error() string {
	return fmt.Sprintf("memory: summarization failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *SummarizationError) Unwrap() error { return e.Err }

// Merge combines a freshly generated draft with the prior summary it
// replaces.  It is pure and idempotent for a given prior and messages:
//   - MessagesSummarizedCount = prior count + len(messages)
//   - metadata lists are the order-preserving, de-duplicated union of prior
//     and draft, so prior metadata is never lost
//   - TokenCount = Estimate(Content)
//
// An empty draft content keeps the prior content.
func Merge(prior *ConversationSummary, messages []Message, draft ConversationSummary, now time.Time) *ConversationSummary {
	out := draft
	base := 0
	var priorTopics, priorQuestions, priorDecisions []string
	if prior != nil {
		base = prior.MessagesSummarizedCount
		priorTopics, priorQuestions, priorDecisions = prior.TopicsCovered, prior.KeyQuestions, prior.ImportantDecisions
		if strings.TrimSpace(out.Content) == "" {
			out.Content = prior.Content
		}
	}

	out.Content = strings.TrimSpace(out.Content)
	out.MessagesSummarizedCount = base + len(messages)
	out.TopicsCovered = union(priorTopics, draft.TopicsCovered)
	out.KeyQuestions = union(priorQuestions, draft.KeyQuestions)
	out.ImportantDecisions = union(priorDecisions, draft.ImportantDecisions)
	out.TokenCount = Estimate(out.Content)
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now.UTC()
	}
	if out.GenerationMethod == "" {
		out.GenerationMethod = GenerationLLM
	}
	return &out
}

// union keeps the first occurrence of every non-empty item, comparing
// case-insensitively.  The result is never nil.
func union(lists ...[]string) []string {
	out := []string{}
	seen := make(map[string]struct{})
	for _, list := range lists {
		for _, item := range list {
			item = strings.TrimSpace(item)
			if item == "" {
				continue
			}
			key := strings.ToLower(item)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, item)
		}
	}
	return out
}

// formatTranscript renders messages as "role: content" lines.
func formatTranscript(messages []Message) string {
	var b strings.Builder
	for i, m := range messages {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: %s", m.Role, m.Content)
	}
	return b.String()
}
