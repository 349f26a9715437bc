package memory

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bdobrica/kioku/common/retry"
	"github.com/bdobrica/kioku/internal/kioku/completion"
)

// Observer receives per-call statistics (metrics exporters).
type Observer interface {
	ObservePrepare(stats Stats, elapsed time.Duration)
}

// Manager implements the budget, summarization and truncation policy.  It
// holds no per-conversation state and is safe for concurrent use; callers
// serialize turns of the same conversation.
type Manager struct {
	cfg        Config
	summarizer Summarizer
	fallback   Summarizer
	logger     *slog.Logger
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
	observer   Observer
}

// Option customises a Manager.
type Option func(*Manager)

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock overrides time.Now for summary timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithSleep overrides the wait between summarization attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Manager) { m.sleep = sleep }
}

// WithFallback replaces the degradation summarizer.
func WithFallback(s Summarizer) Option {
	return func(m *Manager) { m.fallback = s }
}

// WithObserver registers a statistics observer.
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observer = o }
}

// NewManager validates cfg and returns a Manager.  A nil summarizer means
// every compression uses the fallback summarizer.
func NewManager(cfg Config, summarizer Summarizer, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		cfg:        cfg,
		summarizer: summarizer,
		logger:     slog.Default(),
		now:        time.Now,
		sleep:      retry.Sleep,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.fallback == nil {
		fb := NewFallbackSummarizer(cfg.FallbackSummaryChars)
		fb.now = m.now
		m.fallback = fb
	}
	return m, nil
}

// Config returns the active configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// WithConfig returns a copy of m using cfg, validated like NewManager.  A
// FallbackSummarizer fallback is rebuilt for the new character budget.
func (m *Manager) WithConfig(cfg Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := *m
	c.cfg = cfg
	if fb, ok := m.fallback.(*FallbackSummarizer); ok && fb.maxChars != cfg.FallbackSummaryChars {
		nfb := NewFallbackSummarizer(cfg.FallbackSummaryChars)
		nfb.now = fb.now
		c.fallback = nfb
	}
	return &c, nil
}

// Unsummarized returns the part of an append-only transcript that summary
// does not cover yet: transcript[summary.MessagesSummarizedCount:].  Callers
// that keep the full transcript pass this as the history of the next turn.
func Unsummarized(transcript []Message, summary *ConversationSummary) []Message {
	if summary == nil {
		return transcript
	}
	n := summary.MessagesSummarizedCount
	if n <= 0 {
		return transcript
	}
	if n >= len(transcript) {
		return []Message{}
	}
	return transcript[n:]
}

// PrepareContext fits history and prior into the token budget.
//
// Below the trigger threshold only the recent window is applied.  Above it,
// the messages older than the window are merged into the summary; when
// summarization is disabled, or the history is no longer than the window,
// the oldest messages are dropped instead.  In all cases the result never
// exceeds MaxHistoryTokens.  Stats.Truncated reports that, above the
// threshold, messages were discarded without being summarized or content
// was cut.
//
// Over budget, the oldest recent messages go first; the newest is always
// kept.  If it still does not fit next to the summary, the newest message is
// cut (keeping at least half the budget) before the summary content is.
//
// Summarization failures degrade to the fallback summarizer unless
// Config.Strict is set, in which case a *SummarizationError is returned.
func (m *Manager) PrepareContext(ctx context.Context, history []Message, prior *ConversationSummary, question string) (*Result, error) {
	start := time.Now()
	res := &Result{CurrentQuestion: question}

	if len(history) == 0 {
		res.MemoryState = MemoryState{
			RecentMessages:      []Message{},
			Summary:             prior,
			TotalTokensEstimate: EstimateSummary(prior),
		}
		res.ContextBlocks = []Message{}
		m.observe(res.Stats, start)
		return res, nil
	}

	cfg := m.cfg
	total := EstimateSummary(prior) + EstimateMessages(history)
	stats := Stats{TotalMessages: len(history), TotalTokens: total}
	summary := prior
	var recent []Message

	over := float64(total) > cfg.Threshold()
	if m.wouldSummarize(total, len(history)) {
		split := len(history) - cfg.RecentWindowSize
		older := history[:split]
		recent = history[split:]
		next, attempts, usedFallback, err := m.summarize(ctx, older, prior)
		stats.SummarizationAttempts = attempts
		if err != nil {
			m.logger.Error("memory: summarization failed in strict mode",
				"attempts", attempts, "older_messages", len(older), "err", err)
			return nil, err
		}
		summary = next
		stats.SummarizedCount = len(older)
		stats.SummaryCreated = prior == nil
		stats.SummaryUpdated = prior != nil
		stats.FallbackUsed = usedFallback
	} else {
		recent = lastN(history, cfg.RecentWindowSize)
		if over {
			// Over budget without a summary: these messages are lost.
			stats.DroppedMessages = len(history) - len(recent)
		}
	}

	var outcome budgetOutcome
	if over {
		summary, recent, outcome = enforceBudget(summary, recent, cfg.MaxHistoryTokens)
		stats.DroppedMessages += outcome.dropped
	}
	stats.Truncated = stats.DroppedMessages > 0 || outcome.summaryTruncated || outcome.messageTruncated
	if stats.Truncated {
		m.logger.Warn("memory: history truncated",
			"dropped", stats.DroppedMessages,
			"summary_truncated", outcome.summaryTruncated,
			"message_truncated", outcome.messageTruncated,
			"max_history_tokens", cfg.MaxHistoryTokens)
	}

	recent = append([]Message(nil), recent...)
	stats.KeptRecent = len(recent)
	res.MemoryState = MemoryState{
		RecentMessages:      recent,
		Summary:             summary,
		TotalTokensEstimate: EstimateSummary(summary) + EstimateMessages(recent),
	}
	res.Stats = stats
	res.ContextBlocks = contextBlocks(summary, recent)

	m.logger.Debug("memory: context prepared",
		"messages", stats.TotalMessages,
		"tokens_before", stats.TotalTokens,
		"tokens_after", res.TotalTokensEstimate,
		"kept_recent", stats.KeptRecent,
		"summarized", stats.SummarizedCount,
		"fallback", stats.FallbackUsed,
		"truncated", stats.Truncated)

	m.observe(stats, start)
	return res, nil
}

// WillSummarize reports whether PrepareContext would call the summarizer for
// this input.  The service consults it before spending rate-limit slots.
func (m *Manager) WillSummarize(history []Message, prior *ConversationSummary) bool {
	return m.wouldSummarize(EstimateSummary(prior)+EstimateMessages(history), len(history))
}

func (m *Manager) wouldSummarize(total, messages int) bool {
	return float64(total) > m.cfg.Threshold() && m.cfg.EnableSummarization && messages > m.cfg.RecentWindowSize
}

// summarize runs the primary summarizer under the retry policy, then the
// fallback.  It only returns an error in strict mode.
func (m *Manager) summarize(ctx context.Context, older []Message, prior *ConversationSummary) (*ConversationSummary, int, bool, error) {
	if m.summarizer == nil {
		s, _ := m.fallback.Summarize(ctx, older, prior)
		return m.normalize(s, older, prior, GenerationFallback), 0, true, nil
	}

	attempts := 0
	var out *ConversationSummary
	err := retry.Do(ctx, retry.Config{
		MaxAttempts:    m.cfg.MaxSummarizationRetries + 1,
		InitialDelay:   m.cfg.RetryInitialDelay,
		MaxDelay:       m.cfg.RetryMaxDelay,
		AttemptTimeout: m.cfg.SummarizationTimeout,
		ShouldRetry:    completion.IsRetriable,
		Backoff: func(err error, delay time.Duration) time.Duration {
			if d, ok := completion.RetryAfter(err); ok {
				return d
			}
			return delay
		},
		Sleep:  m.sleep,
		Logger: m.logger,
	}, func(ctx context.Context) error {
		attempts++
		s, err := m.summarizer.Summarize(ctx, older, prior)
		if err != nil {
			return err
		}
		if s == nil {
			return &completion.MalformedResponseError{Reason: "summarizer returned no summary"}
		}
		out = s
		return nil
	})
	if err == nil {
		return m.normalize(out, older, prior, GenerationLLM), attempts, false, nil
	}

	if m.cfg.Strict {
		return nil, attempts, false, &SummarizationError{Attempts: attempts, Err: err}
	}

	var rl *completion.RateLimitError
	m.logger.Warn("memory: summarization failed, using fallback summary",
		"attempts", attempts,
		"rate_limited", errors.As(err, &rl),
		"cancelled", ctx.Err() != nil,
		"err", err)

	s, _ := m.fallback.Summarize(context.WithoutCancel(ctx), older, prior)
	return m.normalize(s, older, prior, GenerationFallback), attempts, true, nil
}

// normalize re-applies Merge so the summary invariants hold whatever the
// summarizer implementation did.
func (m *Manager) normalize(s *ConversationSummary, older []Message, prior *ConversationSummary, method GenerationMethod) *ConversationSummary {
	draft := ConversationSummary{GenerationMethod: method}
	if s != nil {
		draft = *s.clone()
		if draft.GenerationMethod == "" {
			draft.GenerationMethod = method
		}
	}
	return Merge(prior, older, draft, m.now())
}

func (m *Manager) observe(stats Stats, start time.Time) {
	if m.observer != nil {
		m.observer.ObservePrepare(stats, time.Since(start))
	}
}

// contextBlocks renders the summary as a leading system block followed by
// the recent messages.
func contextBlocks(summary *ConversationSummary, recent []Message) []Message {
	blocks := make([]Message, 0, len(recent)+1)
	if summary != nil && summary.Content != "" {
		blocks = append(blocks, Message{
			Role:    RoleSystem,
			Content: "Summary of the earlier conversation:\n" + summary.Content,
		})
	}
	return append(blocks, recent...)
}

func lastN(msgs []Message, n int) []Message {
	if len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}
