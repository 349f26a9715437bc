package memory

import "unicode/utf8"

// charsPerToken is the fixed heuristic ratio.  It deliberately ignores
// provider tokenizers so that estimates are deterministic.
const charsPerToken = 4

// Estimate returns the approximate token count of text: one token per four
// characters, rounded up.  Estimate("") is 0.
func Estimate(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + charsPerToken - 1) / charsPerToken
}

// EstimateMessages sums Estimate over message contents.
func EstimateMessages(msgs []Message) int {
	total := 0
	for _, m := range msgs {
		total += Estimate(m.Content)
	}
	return total
}

// EstimateSummary returns Estimate(s.Content), or 0 for a nil summary.
func EstimateSummary(s *ConversationSummary) int {
	if s == nil {
		return 0
	}
	return Estimate(s.Content)
}

// Estimate recomputes the token estimate of the state from its contents.
func (s MemoryState) Estimate() int {
	return EstimateSummary(s.Summary) + EstimateMessages(s.RecentMessages)
}
