package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

var fixedNow = time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)

// msg builds a message whose content is exactly chars characters long.
func msg(role Role, chars int, tag int) Message {
	prefix := fmt.Sprintf("[%d] ", tag)
	if chars < len(prefix) {
		return Message{Role: role, Content: strings.Repeat("x", chars)}
	}
	return Message{Role: role, Content: prefix + strings.Repeat("w", chars-len(prefix))}
}

// conversation alternates user and assistant messages of chars characters.
func conversation(n, chars int) []Message {
	out := make([]Message, n)
	for i := range out {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		out[i] = msg(role, chars, i)
	}
	return out
}

// fakeSummarizer returns errs[i] on call i, then err (if set), then a
// summary with the configured content.
type fakeSummarizer struct {
	mu       sync.Mutex
	calls    int
	errs     []error
	err      error
	content  string
	topics   []string
	block    bool
	lastSeen []Message
}

func (f *fakeSummarizer) Summarize(ctx context.Context, messages []Message, prior *ConversationSummary) (*ConversationSummary, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.lastSeen = messages
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if call <= len(f.errs) {
		return nil, f.errs[call-1]
	}
	if f.err != nil {
		return nil, f.err
	}
	content := f.content
	if content == "" {
		content = fmt.Sprintf("summary of %d messages", len(messages))
	}
	return Merge(prior, messages, ConversationSummary{Content: content, TopicsCovered: f.topics}, fixedNow), nil
}

func (f *fakeSummarizer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// sleepRecorder replaces the retry wait.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

type statsRecorder struct {
	stats []Stats
}

func (r *statsRecorder) ObservePrepare(s Stats, _ time.Duration) {
	r.stats = append(r.stats, s)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxHistoryTokens = 4000
	cfg.SummarizationTriggerRatio = 0.75
	cfg.RecentWindowSize = 6
	cfg.RetryInitialDelay = time.Millisecond
	cfg.RetryMaxDelay = time.Second
	return cfg
}

func newTestManager(cfg Config, s Summarizer, opts ...Option) (*Manager, *sleepRecorder) {
	sr := &sleepRecorder{}
	base := []Option{WithClock(func() time.Time { return fixedNow }), WithSleep(sr.Sleep)}
	m, err := NewManager(cfg, s, append(base, opts...)...)
	if err != nil {
		panic(err)
	}
	return m, sr
}
