package memory

import (
	"strings"
	"testing"
)

func TestTruncateRunes(t *testing.T) {
	if got := truncateRunes("héllo wörld", 7); got != "héllo w" {
		t.Errorf("got %q", got)
	}
	if got := truncateRunes("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}
	if got := truncateRunes("abc", 0); got != "" {
		t.Errorf("got %q", got)
	}
}

func TestTruncateToTokens(t *testing.T) {
	long := strings.Repeat("word ", 100) // 500 runes, 125 tokens
	for _, max := range []int{0, 1, 3, 4, 10, 124, 125} {
		got := truncateToTokens(long, max)
		if Estimate(got) > max {
			t.Errorf("max=%d: estimate %d", max, Estimate(got))
		}
	}
	if got := truncateToTokens(long, 20); !strings.HasSuffix(got, truncationMarker) {
		t.Errorf("expected marker, got %q", got)
	}
	if got := truncateToTokens("fits", 5); got != "fits" {
		t.Errorf("content under budget must be untouched, got %q", got)
	}
}

func TestEnforceBudget_DoesNotMutateInputs(t *testing.T) {
	summary := &ConversationSummary{Content: strings.Repeat("s", 400), MessagesSummarizedCount: 9}
	recent := []Message{{Role: RoleUser, Content: strings.Repeat("m", 400)}}

	gotSummary, gotRecent, out := enforceBudget(summary, recent, 60)
	if EstimateSummary(gotSummary)+EstimateMessages(gotRecent) > 60 {
		t.Fatal("budget not enforced")
	}
	if !out.summaryTruncated || !out.messageTruncated {
		t.Errorf("unexpected outcome %+v", out)
	}
	if runeLen(summary.Content) != 400 || runeLen(recent[0].Content) != 400 {
		t.Error("inputs were mutated")
	}
	if gotSummary.MessagesSummarizedCount != 9 || gotSummary.TokenCount != Estimate(gotSummary.Content) {
		t.Errorf("summary metadata inconsistent: %+v", gotSummary)
	}
}

func TestEnforceBudget_PrefersDroppingOldMessages(t *testing.T) {
	summary := &ConversationSummary{Content: strings.Repeat("s", 40)} // 10 tokens
	recent := conversation(4, 200)                                   // 4 × 50 tokens

	gotSummary, gotRecent, out := enforceBudget(summary, recent, 120)
	if gotSummary != summary {
		t.Error("summary should survive when dropping messages is enough")
	}
	if len(gotRecent) != 2 || out.dropped != 2 || out.summaryTruncated || out.messageTruncated {
		t.Errorf("unexpected outcome: kept=%d %+v", len(gotRecent), out)
	}
}

func TestEnforceBudget_CutsNewestBeforeSummary(t *testing.T) {
	summary := &ConversationSummary{Content: strings.Repeat("s", 160)} // 40 tokens
	recent := []Message{{Role: RoleUser, Content: strings.Repeat("word ", 160)}}

	gotSummary, gotRecent, out := enforceBudget(summary, recent, 100)
	if gotSummary != summary || out.summaryTruncated {
		t.Errorf("summary should be untouched when cutting the message is enough: %+v", out)
	}
	if !out.messageTruncated || Estimate(gotRecent[0].Content) > 60 {
		t.Errorf("message not cut to the remaining budget: %d tokens, %+v", Estimate(gotRecent[0].Content), out)
	}
}

func TestEnforceBudget_NewestKeepsHalfTheBudget(t *testing.T) {
	summary := &ConversationSummary{Content: strings.Repeat("s ", 400)} // 200 tokens
	recent := []Message{{Role: RoleUser, Content: strings.Repeat("m ", 400)}}

	gotSummary, gotRecent, out := enforceBudget(summary, recent, 100)
	msgTokens := Estimate(gotRecent[0].Content)
	if msgTokens > 50 || msgTokens < 45 {
		t.Errorf("newest message should keep about half the budget, got %d tokens", msgTokens)
	}
	if gotSummary.Content == "" || !out.summaryTruncated || !out.messageTruncated {
		t.Errorf("summary should be cut, not erased: %q %+v", gotSummary.Content, out)
	}
	if total := EstimateSummary(gotSummary) + msgTokens; total > 100 {
		t.Errorf("over budget: %d", total)
	}
}

func TestEnforceBudget_ShortNewestLeavesRestToSummary(t *testing.T) {
	summary := &ConversationSummary{Content: strings.Repeat("s", 2000)} // 500 tokens
	recent := []Message{{Role: RoleUser, Content: strings.Repeat("m", 40)}}

	gotSummary, gotRecent, out := enforceBudget(summary, recent, 100)
	if out.messageTruncated || gotRecent[0].Content != recent[0].Content {
		t.Errorf("a message under half the budget must not be cut: %+v", out)
	}
	if !out.summaryTruncated || EstimateSummary(gotSummary) > 90 {
		t.Errorf("summary should take the remaining 90 tokens, got %d", EstimateSummary(gotSummary))
	}
}
