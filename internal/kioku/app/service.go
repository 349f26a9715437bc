package app

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/bdobrica/kioku/internal/kioku/completion"
	"github.com/bdobrica/kioku/internal/kioku/memory"
	"github.com/bdobrica/kioku/internal/kioku/observability"
	"github.com/bdobrica/kioku/internal/kioku/retrieval"
	"github.com/bdobrica/kioku/internal/kioku/store"
)

// Gate reasons reported when summarization is skipped for a turn.
const (
	denyRateLimit   = "rate_limit"
	denyTokenBudget = "token_budget"
)

// TurnRequest appends messages to a conversation and prepares the context
// for the next model call.
type TurnRequest struct {
	// Messages are appended to the transcript before preparing.
	Messages []memory.Message `json:"messages"`
	// Question is the user's latest question; it is carried through to the
	// result and used to build the search query.
	Question string `json:"question"`
	// Search runs the enriched query against the document index.
	Search bool `json:"search"`
	// TopK overrides RetrievalConfig.TopK.
	TopK int `json:"top_k,omitempty"`
}

// TurnResponse is the prepared context of one turn.
type TurnResponse struct {
	ConversationID string `json:"conversation_id"`
	*memory.Result
	EnrichedQuery string             `json:"enriched_query,omitempty"`
	Documents     []retrieval.Result `json:"documents,omitempty"`
	// SummarizationDenied names the limit that disabled summarization for
	// this turn, if any.
	SummarizationDenied string `json:"summarization_denied,omitempty"`
}

// CreateConversation registers a conversation.  An empty id gets a
// generated one.
func (a *App) CreateConversation(ctx context.Context, id string) (*store.Conversation, error) {
	if id == "" {
		id = "conv_" + uuid.NewString()
	}
	return a.store.CreateConversation(ctx, id)
}

// Turn runs one turn for conversation id: append, prepare, enrich, search
// and save.  Turns of the same conversation are serialised.
func (a *App) Turn(ctx context.Context, id string, req TurnRequest) (*TurnResponse, error) {
	unlock := a.locks.Lock(id)
	defer unlock()

	logger := observability.WithTrace(ctx, a.logger).With("conversation_id", id)

	state, err := a.store.LoadState(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(req.Messages) > 0 {
		if _, err := a.store.AppendMessages(ctx, id, req.Messages); err != nil {
			return nil, err
		}
	}

	offset := 0
	if state.Summary != nil {
		offset = state.Summary.MessagesSummarizedCount
	}
	history, err := a.store.Messages(ctx, id, offset)
	if err != nil {
		return nil, err
	}

	mgr, denied := a.gate(id, history, state.Summary)
	if denied != "" {
		logger.Warn("summarization skipped for turn", "reason", denied)
	}

	res, err := mgr.PrepareContext(completion.WithKey(ctx, id), history, state.Summary, req.Question)
	if err != nil {
		return nil, err
	}
	if err := a.store.SaveState(ctx, id, res.MemoryState); err != nil {
		return nil, err
	}

	out := &TurnResponse{ConversationID: id, Result: res, SummarizationDenied: denied}
	if req.Question != "" {
		out.EnrichedQuery = a.enricher.EnrichState(req.Question, res.MemoryState)
	}
	if req.Search {
		docs, err := a.search(ctx, out.EnrichedQuery, req.Question, req.TopK)
		if err != nil {
			return nil, err
		}
		out.Documents = docs
	}

	logger.Info("turn prepared",
		"history_messages", len(history),
		"kept_recent", res.Stats.KeptRecent,
		"summarized", res.Stats.SummarizedCount,
		"tokens", res.TotalTokensEstimate,
		"truncated", res.Stats.Truncated,
		"documents", len(out.Documents))
	return out, nil
}

// gate returns the manager for this turn.  When summarization would run but
// the conversation is over its token budget or rate limit, the turn runs
// with summarization disabled and the budget is enforced by truncation.
func (a *App) gate(id string, history []memory.Message, prior *memory.ConversationSummary) (*memory.Manager, string) {
	if a.provider == nil || !a.manager.WillSummarize(history, prior) {
		return a.manager, ""
	}

	reason := ""
	switch {
	case !a.budget.Allow(id):
		reason = denyTokenBudget
	case !a.limiter.Allow(id):
		reason = denyRateLimit
	default:
		return a.manager, ""
	}

	a.metrics.ObserveGateDenial(reason)
	cfg := a.manager.Config()
	cfg.EnableSummarization = false
	mgr, err := a.manager.WithConfig(cfg)
	if err != nil {
		// Unreachable: only EnableSummarization changed on a valid config.
		return a.manager, ""
	}
	return mgr, reason
}

// PrepareRequest is the stateless form of a turn.
type PrepareRequest struct {
	History []memory.Message            `json:"history"`
	Summary *memory.ConversationSummary `json:"summary"`
	// Transcript marks History as the full append-only transcript; the part
	// already covered by Summary is skipped.
	Transcript bool   `json:"transcript,omitempty"`
	Question   string `json:"question"`
}

// PrepareResponse is the stateless prepared context.
type PrepareResponse struct {
	*memory.Result
	EnrichedQuery string `json:"enriched_query,omitempty"`
}

// Prepare runs the memory manager without touching the store.  Rate limits
// are not applied because there is no conversation key.
func (a *App) Prepare(ctx context.Context, req PrepareRequest) (*PrepareResponse, error) {
	history := req.History
	if req.Transcript {
		history = memory.Unsummarized(history, req.Summary)
	}
	res, err := a.manager.PrepareContext(ctx, history, req.Summary, req.Question)
	if err != nil {
		return nil, err
	}
	out := &PrepareResponse{Result: res}
	if req.Question != "" {
		out.EnrichedQuery = a.enricher.EnrichState(req.Question, res.MemoryState)
	}
	return out, nil
}

func (a *App) search(ctx context.Context, enriched, question string, topK int) ([]retrieval.Result, error) {
	if a.index == nil {
		return nil, errRetrievalDisabled
	}
	if topK <= 0 {
		topK = a.cfg.Retrieval.TopK
	}
	query := enriched
	if query == "" {
		query = question
	}
	docs, err := a.index.Search(ctx, query, topK)
	if err != nil {
		return nil, fmt.Errorf("app: search: %w", err)
	}
	return docs, nil
}
