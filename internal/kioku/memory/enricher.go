package memory

import (
	"strings"
)

const (
	defaultEnrichSummaryChars  = 300
	defaultEnrichRecent        = 4
	defaultEnrichMessageChars  = 200
	defaultEnrichSectionJoiner = "\n---\n"
)

// EnricherConfig bounds the size of an enriched query.  It is independent
// of the chat-context Config: retrieval wants a short, focused query.
type EnricherConfig struct {
	// MaxSummaryChars caps the summary section.  Default 300.
	MaxSummaryChars int `yaml:"max_summary_chars"`
	// RecentMessages is how many of the newest messages to include.  Default 4.
	RecentMessages int `yaml:"recent_messages"`
	// MaxMessageChars caps each included message.  Default 200.
	MaxMessageChars int `yaml:"max_message_chars"`
	// Delimiter separates sections.  Default "\n---\n".
	Delimiter string `yaml:"delimiter"`
}

// QueryEnricher turns the current question plus conversation context into a
// retrieval query whose length does not grow with the conversation.
type QueryEnricher struct {
	cfg EnricherConfig
}

// NewQueryEnricher applies defaults to zero fields.
func NewQueryEnricher(cfg EnricherConfig) *QueryEnricher {
	if cfg.MaxSummaryChars <= 0 {
		cfg.MaxSummaryChars = defaultEnrichSummaryChars
	}
	if cfg.RecentMessages <= 0 {
		cfg.RecentMessages = defaultEnrichRecent
	}
	if cfg.MaxMessageChars <= 0 {
		cfg.MaxMessageChars = defaultEnrichMessageChars
	}
	if cfg.Delimiter == "" {
		cfg.Delimiter = defaultEnrichSectionJoiner
	}
	return &QueryEnricher{cfg: cfg}
}

// Enrich builds the query: summary head, then recent messages, then the
// question.  Empty sections are omitted.  The question is never truncated.
// maxSummaryChars ≤ 0 uses the configured cap.
func (e *QueryEnricher) Enrich(question string, summary *ConversationSummary, recent []Message, maxSummaryChars int) string {
	if maxSummaryChars <= 0 {
		maxSummaryChars = e.cfg.MaxSummaryChars
	}

	var sections []string
	if summary != nil {
		if s := strings.TrimSpace(truncateRunes(oneLine(summary.Content), maxSummaryChars)); s != "" {
			sections = append(sections, s)
		}
	}

	var lines []string
	for _, m := range lastN(recent, e.cfg.RecentMessages) {
		c := strings.TrimSpace(truncateRunes(oneLine(m.Content), e.cfg.MaxMessageChars))
		if c == "" {
			continue
		}
		lines = append(lines, string(m.Role)+": "+c)
	}
	if len(lines) > 0 {
		sections = append(sections, strings.Join(lines, "\n"))
	}

	if q := strings.TrimSpace(question); q != "" {
		sections = append(sections, q)
	}
	return strings.Join(sections, e.cfg.Delimiter)
}

// EnrichState is Enrich over a MemoryState.
func (e *QueryEnricher) EnrichState(question string, state MemoryState) string {
	return e.Enrich(question, state.Summary, state.RecentMessages, 0)
}
