package completion

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestRateLimiter_AllowsUpToLimit(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)
	for i := 0; i < 3; i++ {
		if !rl.Allow("conv-a") {
			t.Fatalf("Allow returned false on call %d/3", i+1)
		}
	}
	if rl.Allow("conv-a") {
		t.Error("Allow returned true after limit was exhausted")
	}
	if got := rl.Remaining("conv-a"); got != 0 {
		t.Errorf("Remaining = %d, want 0", got)
	}
}

func TestRateLimiter_IndependentPerKey(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	rl.Allow("conv-a")
	if rl.Allow("conv-a") {
		t.Error("conv-a should be limited")
	}
	if !rl.Allow("conv-b") {
		t.Error("conv-b should not be limited")
	}
}

func TestRateLimiter_WindowExpiry(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(1, time.Minute)
	rl.now = clock.Now

	if !rl.Allow("conv-a") {
		t.Fatal("first call should be allowed")
	}
	clock.Advance(30 * time.Second)
	if rl.Allow("conv-a") {
		t.Fatal("second call inside the window should be rejected")
	}
	clock.Advance(31 * time.Second)
	if !rl.Allow("conv-a") {
		t.Fatal("call after window expiry should be allowed")
	}
}

func TestRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	if rl.limit != DefaultRateLimit || rl.window != time.Minute {
		t.Errorf("unexpected defaults: limit=%d window=%v", rl.limit, rl.window)
	}
	if got := rl.Remaining("new"); got != DefaultRateLimit {
		t.Errorf("Remaining for unseen key = %d", got)
	}
}
