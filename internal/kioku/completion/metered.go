package completion

import (
	"context"
)

type keyCtx struct{}

// WithKey tags ctx with the accounting key (the conversation ID) used by a
// metered provider.
func WithKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, keyCtx{}, key)
}

// KeyFromContext returns the accounting key stored by WithKey.
func KeyFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(keyCtx{}).(string); ok {
		return v
	}
	return ""
}

// Metered wraps a Provider and records the token usage of every successful
// call against a TokenBudget and an optional observer.
type Metered struct {
	next    Provider
	budget  *TokenBudget
	observe func(ctx context.Context, usage TokenUsage)
}

var _ Provider = (*Metered)(nil)

// NewMetered returns next wrapped with usage accounting.  budget and observe
// may each be nil.
func NewMetered(next Provider, budget *TokenBudget, observe func(ctx context.Context, usage TokenUsage)) *Metered {
	return &Metered{next: next, budget: budget, observe: observe}
}

// Complete delegates to the wrapped provider.
func (m *Metered) Complete(ctx context.Context, req Request) (*Response, error) {
	resp, err := m.next.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	tokens := resp.Usage.TotalTokens
	if tokens == 0 {
		tokens = resp.Usage.PromptTokens + resp.Usage.CompletionTokens
	}
	if m.budget != nil {
		if key := KeyFromContext(ctx); key != "" {
			m.budget.RecordUsage(key, tokens)
		}
	}
	if m.observe != nil {
		m.observe(ctx, resp.Usage)
	}
	return resp, nil
}
