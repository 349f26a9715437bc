// Package memory keeps a long conversation inside a fixed token budget.
//
// The caller owns conversation state and passes it in on every turn: the
// full (or replayed) message history plus the prior summary.  The Manager
// decides whether the history still fits, compresses older turns into a
// hierarchical ConversationSummary when it does not, and returns a new
// immutable MemoryState together with the context blocks for the next
// completion call.  Nothing in this package holds per-conversation state.
package memory

import "time"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleSystem is only used for generated context blocks (the summary);
	// it never appears in conversation history.
	RoleSystem Role = "system"
)

// Message is a single turn in a conversation.  Treat it as an immutable value.
type Message struct {
	Role    Role   `json:"role" cbor:"1,keyasint"`
	Content string `json:"content" cbor:"2,keyasint"`
}

// GenerationMethod records how a summary was produced.
type GenerationMethod string

const (
	GenerationLLM      GenerationMethod = "llm"
	GenerationFallback GenerationMethod = "fallback"
)

// ConversationSummary is the compressed form of every message that has left
// the recent window.  Each new summary merges the previous one, so
// MessagesSummarizedCount only ever grows.
type ConversationSummary struct {
	Content                 string           `json:"content" cbor:"1,keyasint"`
	CreatedAt               time.Time        `json:"created_at" cbor:"2,keyasint"`
	MessagesSummarizedCount int              `json:"messages_summarized_count" cbor:"3,keyasint"`
	TopicsCovered           []string         `json:"topics_covered" cbor:"4,keyasint"`
	KeyQuestions            []string         `json:"key_questions" cbor:"5,keyasint"`
	ImportantDecisions      []string         `json:"important_decisions" cbor:"6,keyasint"`
	TokenCount              int              `json:"token_count" cbor:"7,keyasint"`
	GenerationMethod        GenerationMethod `json:"generation_method" cbor:"8,keyasint"`
}

// clone returns a deep copy so callers' snapshots are never mutated.
func (s *ConversationSummary) clone() *ConversationSummary {
	if s == nil {
		return nil
	}
	c := *s
	c.TopicsCovered = append([]string(nil), s.TopicsCovered...)
	c.KeyQuestions = append([]string(nil), s.KeyQuestions...)
	c.ImportantDecisions = append([]string(nil), s.ImportantDecisions...)
	return &c
}

// MemoryState is the snapshot a caller persists between turns.
//
// Invariants after every PrepareContext call:
//   - len(RecentMessages) ≤ Config.RecentWindowSize
//   - TotalTokensEstimate == Estimate(Summary.Content) + EstimateMessages(RecentMessages)
type MemoryState struct {
	RecentMessages      []Message            `json:"recent_messages" cbor:"1,keyasint"`
	Summary             *ConversationSummary `json:"summary" cbor:"2,keyasint"`
	TotalTokensEstimate int                  `json:"total_tokens_estimate" cbor:"3,keyasint"`
}

// Stats describes what a single PrepareContext call did.
type Stats struct {
	TotalMessages   int  `json:"total_messages"`
	TotalTokens     int  `json:"total_tokens"`
	KeptRecent      int  `json:"kept_recent"`
	SummarizedCount int  `json:"summarized_count"`
	SummaryCreated  bool `json:"summary_created"`
	SummaryUpdated  bool `json:"summary_updated"`
	Truncated       bool `json:"truncated"`

	FallbackUsed          bool `json:"fallback_used,omitempty"`
	SummarizationAttempts int  `json:"summarization_attempts,omitempty"`
	DroppedMessages       int  `json:"dropped_messages,omitempty"`
}

// Result is returned by PrepareContext.  Its JSON form is the MemoryState
// fields plus "stats".
type Result struct {
	MemoryState
	Stats Stats `json:"stats"`
	// ContextBlocks are the messages to send ahead of the current question:
	// an optional system block carrying the summary, then the recent window.
	ContextBlocks   []Message `json:"context_blocks,omitempty"`
	CurrentQuestion string    `json:"current_question,omitempty"`
}
