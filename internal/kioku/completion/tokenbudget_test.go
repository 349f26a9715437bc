package completion

import (
	"testing"
	"time"
)

func TestTokenBudget_AllowAndRecord(t *testing.T) {
	tb := NewTokenBudget(100)
	if !tb.Allow("conv-a") {
		t.Fatal("fresh key should be allowed")
	}
	tb.RecordUsage("conv-a", 60)
	if got := tb.Remaining("conv-a"); got != 40 {
		t.Errorf("Remaining = %d, want 40", got)
	}
	tb.RecordUsage("conv-a", 50)
	if tb.Allow("conv-a") {
		t.Error("exhausted key should be denied")
	}
	if got := tb.Remaining("conv-a"); got != 0 {
		t.Errorf("Remaining = %d, want 0", got)
	}
	if got := tb.Used("conv-a"); got != 110 {
		t.Errorf("Used = %d, want 110", got)
	}
	if !tb.Allow("conv-b") {
		t.Error("other keys are independent")
	}
}

func TestTokenBudget_ResetsAtMidnightUTC(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 5, 1, 23, 59, 0, 0, time.UTC)}
	tb := NewTokenBudget(10)
	tb.now = clock.Now

	tb.RecordUsage("conv-a", 10)
	if tb.Allow("conv-a") {
		t.Fatal("budget should be exhausted")
	}
	clock.Advance(2 * time.Minute)
	if !tb.Allow("conv-a") {
		t.Fatal("budget should reset after midnight UTC")
	}
	if got := tb.Used("conv-a"); got != 0 {
		t.Errorf("Used after reset = %d, want 0", got)
	}
}

func TestTokenBudget_IgnoresNonPositiveUsage(t *testing.T) {
	tb := NewTokenBudget(0)
	if tb.Budget() != DefaultTokenBudget {
		t.Errorf("Budget = %d, want default", tb.Budget())
	}
	tb.RecordUsage("conv-a", 0)
	tb.RecordUsage("conv-a", -5)
	if got := tb.Used("conv-a"); got != 0 {
		t.Errorf("Used = %d, want 0", got)
	}
}
