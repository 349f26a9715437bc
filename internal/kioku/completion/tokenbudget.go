package completion

import (
	"sync"
	"time"
)

// DefaultTokenBudget is the daily per-conversation allowance of completion
// tokens spent on summarization.
const DefaultTokenBudget = 200_000

// TokenBudget enforces a per-key daily token budget, resetting at midnight
// UTC.  Callers check Allow before a call and RecordUsage afterwards (or wrap
// the provider with NewMetered).  Safe for concurrent use.
type TokenBudget struct {
	mu     sync.Mutex
	budget int
	now    func() time.Time
	usage  map[string]*dailyUsage
}

type dailyUsage struct {
	tokens  int
	resetAt time.Time
}

// NewTokenBudget returns a TokenBudget with the given daily allowance per
// key.  If dailyBudget ≤ 0 it defaults to DefaultTokenBudget.
func NewTokenBudget(dailyBudget int) *TokenBudget {
	if dailyBudget <= 0 {
		dailyBudget = DefaultTokenBudget
	}
	return &TokenBudget{
		budget: dailyBudget,
		now:    time.Now,
		usage:  make(map[string]*dailyUsage),
	}
}

// Budget returns the configured daily limit per key.
func (tb *TokenBudget) Budget() int {
	return tb.budget
}

// Allow reports whether key still has budget left today.  It does not
// consume anything.
func (tb *TokenBudget) Allow(key string) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	u := tb.current(key)
	return u == nil || u.tokens < tb.budget
}

// RecordUsage adds tokens to key's running daily total.
func (tb *TokenBudget) RecordUsage(key string, tokens int) {
	if tokens <= 0 {
		return
	}
	tb.mu.Lock()
	defer tb.mu.Unlock()

	u := tb.current(key)
	if u == nil {
		u = &dailyUsage{resetAt: nextMidnightUTC(tb.now())}
		tb.usage[key] = u
	}
	u.tokens += tokens
}

// Remaining returns the tokens key may still consume today.
func (tb *TokenBudget) Remaining(key string) int {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	u := tb.current(key)
	if u == nil {
		return tb.budget
	}
	if rem := tb.budget - u.tokens; rem > 0 {
		return rem
	}
	return 0
}

// Used returns the tokens key has consumed today.
func (tb *TokenBudget) Used(key string) int {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	if u := tb.current(key); u != nil {
		return u.tokens
	}
	return 0
}

// current drops the entry once the UTC day has rolled over.  Must be called
// with tb.mu held.
func (tb *TokenBudget) current(key string) *dailyUsage {
	u := tb.usage[key]
	if u == nil {
		return nil
	}
	if !tb.now().UTC().Before(u.resetAt) {
		delete(tb.usage, key)
		return nil
	}
	return u
}

func nextMidnightUTC(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
}
