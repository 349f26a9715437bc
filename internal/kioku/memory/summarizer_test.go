package memory

import (
	"testing"
	"time"
)

func TestMerge_CountsAndMetadata(t *testing.T) {
	prior := &ConversationSummary{
		Content:                 "old",
		MessagesSummarizedCount: 4,
		TopicsCovered:           []string{"Deploy", "cost"},
		KeyQuestions:            []string{"how much?"},
		ImportantDecisions:      []string{"use postgres"},
	}
	draft := ConversationSummary{
		Content:            "  merged narrative  ",
		TopicsCovered:      []string{"deploy", "latency", ""},
		KeyQuestions:       nil,
		ImportantDecisions: []string{"use postgres", "add cache"},
	}
	got := Merge(prior, conversation(3, 10), draft, fixedNow)

	if got.MessagesSummarizedCount != 7 {
		t.Errorf("count = %d, want 7", got.MessagesSummarizedCount)
	}
	if got.Content != "merged narrative" || got.TokenCount != Estimate("merged narrative") {
		t.Errorf("unexpected content/token count: %q %d", got.Content, got.TokenCount)
	}
	if want := []string{"Deploy", "cost", "latency"}; !equalStrings(got.TopicsCovered, want) {
		t.Errorf("topics = %v, want %v", got.TopicsCovered, want)
	}
	if want := []string{"how much?"}; !equalStrings(got.KeyQuestions, want) {
		t.Errorf("questions = %v, want %v", got.KeyQuestions, want)
	}
	if want := []string{"use postgres", "add cache"}; !equalStrings(got.ImportantDecisions, want) {
		t.Errorf("decisions = %v, want %v", got.ImportantDecisions, want)
	}
	if !got.CreatedAt.Equal(fixedNow) || got.GenerationMethod != GenerationLLM {
		t.Errorf("unexpected created_at/method: %v %s", got.CreatedAt, got.GenerationMethod)
	}
}

func TestMerge_NoPrior(t *testing.T) {
	got := Merge(nil, conversation(5, 10), ConversationSummary{Content: "first"}, fixedNow)
	if got.MessagesSummarizedCount != 5 {
		t.Errorf("count = %d, want 5", got.MessagesSummarizedCount)
	}
	if got.TopicsCovered == nil || got.KeyQuestions == nil || got.ImportantDecisions == nil {
		t.Error("metadata lists must be non-nil")
	}
}

func TestMerge_EmptyDraftKeepsPriorContent(t *testing.T) {
	prior := &ConversationSummary{Content: "still relevant", MessagesSummarizedCount: 2}
	got := Merge(prior, conversation(1, 10), ConversationSummary{}, fixedNow)
	if got.Content != "still relevant" || got.MessagesSummarizedCount != 3 {
		t.Errorf("unexpected merge %+v", got)
	}
}

func TestMerge_Idempotent(t *testing.T) {
	prior := &ConversationSummary{Content: "p", MessagesSummarizedCount: 10, TopicsCovered: []string{"a"}}
	msgs := conversation(4, 20)
	once := Merge(prior, msgs, ConversationSummary{Content: "n", TopicsCovered: []string{"b"}}, fixedNow)
	twice := Merge(prior, msgs, *once, fixedNow.Add(time.Hour))

	if twice.MessagesSummarizedCount != once.MessagesSummarizedCount {
		t.Errorf("count changed: %d vs %d", twice.MessagesSummarizedCount, once.MessagesSummarizedCount)
	}
	if !equalStrings(twice.TopicsCovered, once.TopicsCovered) {
		t.Errorf("topics changed: %v vs %v", twice.TopicsCovered, once.TopicsCovered)
	}
	if !twice.CreatedAt.Equal(once.CreatedAt) {
		t.Error("created_at must be kept when already set")
	}
}

func TestMerge_MonotonicCount(t *testing.T) {
	var prior *ConversationSummary
	total := 0
	for i, n := range []int{3, 0, 5, 1} {
		next := Merge(prior, conversation(n, 10), ConversationSummary{Content: "s"}, fixedNow)
		total += n
		if next.MessagesSummarizedCount != total {
			t.Fatalf("round %d: count = %d, want %d", i, next.MessagesSummarizedCount, total)
		}
		if prior != nil && next.MessagesSummarizedCount < prior.MessagesSummarizedCount {
			t.Fatalf("round %d: count decreased", i)
		}
		prior = next
	}
}

func TestUnsummarized(t *testing.T) {
	transcript := conversation(10, 10)
	if got := Unsummarized(transcript, nil); len(got) != 10 {
		t.Errorf("nil summary: got %d messages", len(got))
	}
	got := Unsummarized(transcript, &ConversationSummary{MessagesSummarizedCount: 7})
	if len(got) != 3 || got[0] != transcript[7] {
		t.Errorf("unexpected tail %v", got)
	}
	if got := Unsummarized(transcript, &ConversationSummary{MessagesSummarizedCount: 12}); len(got) != 0 {
		t.Errorf("over-count: got %d messages", len(got))
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
