package memory

import (
	"strings"
	"unicode/utf8"
)

// truncationMarker is appended to content cut to fit the budget.
const truncationMarker = " …[truncated]"

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

// truncateRunes returns the first n runes of s.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if runeLen(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// truncateToTokens cuts s so that Estimate(result) ≤ maxTokens, keeping the
// head and appending the truncation marker when there is room for it.
func truncateToTokens(s string, maxTokens int) string {
	if Estimate(s) <= maxTokens {
		return s
	}
	maxRunes := maxTokens * charsPerToken
	markerLen := runeLen(truncationMarker)
	if maxRunes <= markerLen {
		return truncateRunes(s, maxRunes)
	}
	head := strings.TrimRightFunc(truncateRunes(s, maxRunes-markerLen), isSpace)
	return head + truncationMarker
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\n' || r == '\t' || r == '\r'
}

// budgetOutcome reports what enforceBudget had to do.
type budgetOutcome struct {
	dropped          int
	summaryTruncated bool
	messageTruncated bool
}

// enforceBudget makes Estimate(summary) + EstimateMessages(recent) ≤ max.
// It drops the oldest recent messages first but always keeps the newest one.
// If the newest message and the summary still do not fit, the message is
// shortened first, but never below half of max; the summary content then
// takes whatever budget is left.  Inputs are never mutated.
func enforceBudget(summary *ConversationSummary, recent []Message, max int) (*ConversationSummary, []Message, budgetOutcome) {
	var out budgetOutcome
	total := EstimateSummary(summary) + EstimateMessages(recent)
	if total <= max {
		return summary, recent, out
	}

	for total > max && len(recent) > 1 {
		total -= Estimate(recent[0].Content)
		recent = recent[1:]
		out.dropped++
	}

	if total > max && len(recent) == 1 {
		newest := recent[0]
		size := Estimate(newest.Content)
		allowed := max - EstimateSummary(summary)
		if floor := max / 2; allowed < floor {
			allowed = min(floor, size)
		}
		if size > allowed {
			newest.Content = truncateToTokens(newest.Content, allowed)
			recent = []Message{newest}
			out.messageTruncated = true
		}
		total = EstimateSummary(summary) + EstimateMessages(recent)
	}

	if total > max && summary != nil && summary.Content != "" {
		allowed := max - EstimateMessages(recent)
		if allowed < 0 {
			allowed = 0
		}
		s := summary.clone()
		s.Content = truncateToTokens(s.Content, allowed)
		s.TokenCount = Estimate(s.Content)
		summary = s
		out.summaryTruncated = true
	}

	return summary, recent, out
}
