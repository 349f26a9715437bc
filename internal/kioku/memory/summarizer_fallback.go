package memory

import (
	"context"
	"strings"
	"time"
)

const (
	defaultFallbackChars = 1200
	maxFallbackQuestion  = 200
)

// FallbackSummarizer builds a summary without calling a model.  It keeps the
// head of the prior summary (at most half the character budget) followed by
// the most recent transcript lines that fit in the rest.  It never fails.
type FallbackSummarizer struct {
	maxChars int
	now      func() time.Time
}

var _ Summarizer = (*FallbackSummarizer)(nil)

// NewFallbackSummarizer returns a FallbackSummarizer capped at maxChars
// characters (runes) of content.  Non-positive values select 1200.
func NewFallbackSummarizer(maxChars int) *FallbackSummarizer {
	if maxChars <= 0 {
		maxChars = defaultFallbackChars
	}
	return &FallbackSummarizer{maxChars: maxChars, now: time.Now}
}

// Summarize ignores ctx; it does no I/O.
func (f *FallbackSummarizer) Summarize(_ context.Context, messages []Message, prior *ConversationSummary) (*ConversationSummary, error) {
	var parts []string
	remaining := f.maxChars

	if prior != nil && prior.Content != "" {
		head := truncateRunes(prior.Content, f.maxChars/2)
		parts = append(parts, head)
		remaining -= runeLen(head) + 1
	}

	lines := recentLinesWithin(messages, remaining)
	if len(lines) > 0 {
		parts = append(parts, strings.Join(lines, "\n"))
	}

	return Merge(prior, messages, ConversationSummary{
		Content:          strings.Join(parts, "\n"),
		KeyQuestions:     extractQuestions(messages),
		GenerationMethod: GenerationFallback,
	}, f.now()), nil
}

// recentLinesWithin returns the newest "role: content" lines whose joined
// length fits budget, oldest first.  If not even the newest line fits, its
// head is returned.
func recentLinesWithin(messages []Message, budget int) []string {
	if budget <= 0 || len(messages) == 0 {
		return nil
	}
	var picked []string
	used := 0
	for i := len(messages) - 1; i >= 0; i-- {
		line := string(messages[i].Role) + ": " + oneLine(messages[i].Content)
		cost := runeLen(line)
		if len(picked) > 0 {
			cost++ // newline separator
		}
		if used+cost > budget {
			if len(picked) == 0 {
				picked = append(picked, truncateRunes(line, budget))
			}
			break
		}
		picked = append(picked, line)
		used += cost
	}
	for i, j := 0, len(picked)-1; i < j; i, j = i+1, j-1 {
		picked[i], picked[j] = picked[j], picked[i]
	}
	return picked
}

// extractQuestions returns user messages that end with a question mark.
func extractQuestions(messages []Message) []string {
	var out []string
	for _, m := range messages {
		if m.Role != RoleUser {
			continue
		}
		q := strings.TrimSpace(m.Content)
		if strings.HasSuffix(q, "?") {
			out = append(out, truncateRunes(oneLine(q), maxFallbackQuestion))
		}
	}
	return out
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
